package roleguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oarkflow/roleguard/logger"
)

// Engine defaults.
const (
	DefaultLookupTimeout = 2 * time.Second
	DefaultBatchWorkers  = 4
)

// ============================================================================
// AUTHORIZATION ENGINE
// ============================================================================

// Engine decides whether an actor may perform an action on a module. It is
// safe for concurrent use; checks share no mutable state apart from the
// optional role cache and the audit queue.
type Engine struct {
	roles       RoleRepository
	assignments UserRoleRepository
	resources   ResourceLookup
	actors      ActorDirectory
	sessions    SessionCounter
	auditSink   AuditSink

	conditions   *ConditionEvaluator
	restrictions *RestrictionEvaluator
	audit        *AuditDispatcher
	roleCache    *CachedRoleRepository
	metrics      *Metrics

	logger        logger.Logger
	idFunc        logger.IDFunc
	clock         func() time.Time
	location      *time.Location
	lookupTimeout time.Duration
	sessionWindow time.Duration
	auditBuffer   int
	auditTimeout  time.Duration
	batchWorkers  int
	cacheConfig   *RoleCacheConfig
}

// EngineOption configures an Engine.
type EngineOption func(e *Engine) error

// WithLogger installs a Logger on the Engine
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithIDFunc installs the audit record ID generator.
func WithIDFunc(f logger.IDFunc) EngineOption {
	return func(e *Engine) error {
		if f != nil {
			e.idFunc = f
		}
		return nil
	}
}

// WithClock overrides the time source used when a request carries no Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) error {
		if now != nil {
			e.clock = now
		}
		return nil
	}
}

// WithLocation evaluates hours and weekdays in loc instead of the request
// time's own location.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) error {
		e.location = loc
		return nil
	}
}

func WithResourceLookup(r ResourceLookup) EngineOption {
	return func(e *Engine) error {
		e.resources = r
		return nil
	}
}

func WithActorDirectory(a ActorDirectory) EngineOption {
	return func(e *Engine) error {
		e.actors = a
		return nil
	}
}

func WithSessionCounter(s SessionCounter) EngineOption {
	return func(e *Engine) error {
		e.sessions = s
		return nil
	}
}

// WithAuditSink sets the sink that receives every decision.
func WithAuditSink(s AuditSink) EngineOption {
	return func(e *Engine) error {
		e.auditSink = s
		return nil
	}
}

func WithAuditQueue(buffer int, timeout time.Duration) EngineOption {
	return func(e *Engine) error {
		if buffer < 0 {
			return fmt.Errorf("audit buffer must not be negative")
		}
		e.auditBuffer = buffer
		e.auditTimeout = timeout
		return nil
	}
}

// WithLookupTimeout bounds every repository and collaborator call.
func WithLookupTimeout(d time.Duration) EngineOption {
	return func(e *Engine) error {
		if d < 0 {
			return fmt.Errorf("lookup timeout must not be negative")
		}
		e.lookupTimeout = d
		return nil
	}
}

// WithSessionWindow sets the sliding window for the session ceiling.
func WithSessionWindow(d time.Duration) EngineOption {
	return func(e *Engine) error {
		e.sessionWindow = d
		return nil
	}
}

func WithBatchWorkers(n int) EngineOption {
	return func(e *Engine) error {
		if n > 0 {
			e.batchWorkers = n
		}
		return nil
	}
}

// WithMetrics records decision counters and latencies on m.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithRoleCache puts a ristretto-backed TTL cache in front of the role
// repository.
func WithRoleCache(cfg RoleCacheConfig) EngineOption {
	return func(e *Engine) error {
		e.cacheConfig = &cfg
		return nil
	}
}

// NewEngine wires an Engine. roles and assignments are required.
func NewEngine(roles RoleRepository, assignments UserRoleRepository, opts ...EngineOption) (*Engine, error) {
	if roles == nil {
		return nil, fmt.Errorf("role repository is required")
	}
	if assignments == nil {
		return nil, fmt.Errorf("user role repository is required")
	}
	e := &Engine{
		roles:         roles,
		assignments:   assignments,
		logger:        logger.NewPhusluLogger(),
		idFunc:        uuid.NewString,
		clock:         time.Now,
		lookupTimeout: DefaultLookupTimeout,
		sessionWindow: DefaultSessionWindow,
		batchWorkers:  DefaultBatchWorkers,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.cacheConfig != nil {
		if e.cacheConfig.LoadTimeout <= 0 {
			e.cacheConfig.LoadTimeout = e.lookupTimeout
		}
		cached, err := NewCachedRoleRepository(e.roles, *e.cacheConfig)
		if err != nil {
			return nil, err
		}
		e.roleCache = cached
		e.roles = cached
	}
	e.conditions = NewConditionEvaluator(e.resources, e.actors, e.lookupTimeout, e.location, e.logger)
	e.restrictions = NewRestrictionEvaluator(e.sessions, e.sessionWindow, e.lookupTimeout, e.location, e.logger)
	e.audit = NewAuditDispatcher(e.auditSink, e.auditBuffer, e.auditTimeout, e.logger)
	e.audit.onDrop = e.metrics.auditDrop
	return e, nil
}

// Check decides req. A denial is a result with Granted=false; an error is
// returned only for invalid requests or when a repository is unavailable,
// in which case it satisfies errors.Is(err, ErrRepositoryUnavailable).
func (e *Engine) Check(ctx context.Context, req *CheckRequest) (*CheckResult, error) {
	return e.check(ctx, req, false)
}

// Explain is Check with a per-step trace in the result.
func (e *Engine) Explain(ctx context.Context, req *CheckRequest) (*CheckResult, error) {
	return e.check(ctx, req, true)
}

// BatchCheck evaluates reqs concurrently and returns results in request
// order. The first repository error aborts the batch.
func (e *Engine) BatchCheck(ctx context.Context, reqs []*CheckRequest) ([]*CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	results := make([]*CheckResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchWorkers)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := e.Check(gctx, req)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// InvalidateRole drops roleCode from the role cache, if one is configured.
// Administrative role edits should call this.
func (e *Engine) InvalidateRole(roleCode string) {
	if e.roleCache != nil {
		e.roleCache.Invalidate(roleCode)
	}
}

// InvalidateRoles clears the whole role cache.
func (e *Engine) InvalidateRoles() {
	if e.roleCache != nil {
		e.roleCache.Clear()
	}
}

// Close flushes pending audit records and releases the role cache.
func (e *Engine) Close() {
	e.audit.Close()
	if e.roleCache != nil {
		e.roleCache.Close()
	}
}

func (e *Engine) check(ctx context.Context, req *CheckRequest, explain bool) (*CheckResult, error) {
	if req == nil || req.Actor == "" || req.Module == "" || req.Action == "" {
		return nil, ErrInvalidRequest
	}
	rc := req.Context
	if rc.Now.IsZero() {
		rc.Now = e.clock()
	}
	tr := &tracer{enabled: explain}
	start := time.Now()
	res, err := e.evaluate(ctx, req, rc, tr)
	e.metrics.observeCheck(res, err, time.Since(start))
	if res != nil && explain {
		res.Trace = tr.lines
	}
	e.record(req, rc, res, err)
	return res, err
}

func (e *Engine) evaluate(ctx context.Context, req *CheckRequest, rc RequestContext, tr *tracer) (*CheckResult, error) {
	lctx, cancel := withTimeout(ctx, e.lookupTimeout)
	assignments, err := e.assignments.ListActive(lctx, req.Actor, rc.Now)
	cancel()
	if err != nil {
		return nil, &RepositoryError{Repository: "user role repository", Key: req.Actor, Err: err}
	}
	if len(assignments) == 0 {
		tr.add("actor=%s has no active assignments", req.Actor)
		return &CheckResult{Reason: ReasonNoAssignments}, nil
	}

	for _, a := range assignments {
		if !a.IsEffective(rc.Now) {
			tr.add("assignment=%s role=%s skip inactive_or_expired", a.ID, a.RoleCode)
			continue
		}
		role, err := e.role(ctx, a.RoleCode)
		if err != nil {
			return nil, err
		}
		if role == nil || !role.IsActive {
			tr.add("role=%s skip absent_or_inactive", a.RoleCode)
			continue
		}
		grant, ok := role.FindGrant(req.Module, req.Action)
		if !ok {
			tr.add("role=%s no_grant module=%s action=%s", role.RoleCode, req.Module, req.Action)
			continue
		}
		if grant.Condition != nil && !e.conditions.Evaluate(ctx, grant.Condition, req.Actor, req.ResourceID, rc) {
			tr.add("role=%s condition=%s result=false", role.RoleCode, grant.Condition.Type)
			continue
		}
		if a.Denies(req.Module, req.Action) {
			tr.add("role=%s assignment=%s denied_grant", role.RoleCode, a.ID)
			continue
		}
		if failed := e.restrictions.Evaluate(ctx, role.Restrictions, req.Actor, rc); failed != "" {
			tr.add("role=%s restriction=%s failed", role.RoleCode, failed)
			continue
		}
		tr.add("role=%s GRANT", role.RoleCode)
		return &CheckResult{Granted: true, RoleCode: role.RoleCode, Reason: ReasonGranted}, nil
	}
	tr.add("no assignment qualified")
	return &CheckResult{Reason: ReasonNoMatch}, nil
}

func (e *Engine) role(ctx context.Context, code string) (*RoleDefinition, error) {
	ctx, cancel := withTimeout(ctx, e.lookupTimeout)
	defer cancel()
	role, err := e.roles.Get(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &RepositoryError{Repository: "role repository", Key: code, Err: err}
	}
	return role, nil
}

func (e *Engine) record(req *CheckRequest, rc RequestContext, res *CheckResult, err error) {
	rec := AuditRecord{
		ID:         e.idFunc(),
		Actor:      req.Actor,
		Module:     req.Module,
		Action:     req.Action,
		ResourceID: req.ResourceID,
		Timestamp:  rc.Now,
		SourceIP:   rc.SourceIP,
		UserAgent:  rc.UserAgent,
		RequestID:  rc.RequestID,
	}
	if res != nil {
		rec.Granted = res.Granted
		rec.RoleCode = res.RoleCode
		rec.Reason = res.Reason
	}
	if err != nil {
		rec.Error = err.Error()
		e.logger.Error("permission check failed", "actor", req.Actor, "module", req.Module, "action", req.Action, "error", err)
	} else {
		e.logger.Debug("permission check", "actor", req.Actor, "module", req.Module, "action", req.Action,
			"granted", rec.Granted, "role", rec.RoleCode, "reason", rec.Reason, "request_id", rc.RequestID)
	}
	e.audit.Submit(rec)
}

type tracer struct {
	enabled bool
	lines   []string
}

func (t *tracer) add(format string, args ...any) {
	if !t.enabled {
		return
	}
	t.lines = append(t.lines, fmt.Sprintf(format, args...))
}
