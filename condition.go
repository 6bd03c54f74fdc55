package roleguard

import (
	"context"
	"errors"
	"time"

	"github.com/oarkflow/roleguard/logger"
)

// ConditionEvaluator evaluates grant conditions. Every lookup failure
// evaluates to false; only non-ErrNotFound failures are logged as errors.
type ConditionEvaluator struct {
	resources ResourceLookup
	actors    ActorDirectory
	timeout   time.Duration
	location  *time.Location
	logger    logger.Logger
}

// NewConditionEvaluator builds an evaluator. Nil collaborators make the
// conditions that need them fail closed.
func NewConditionEvaluator(resources ResourceLookup, actors ActorDirectory, timeout time.Duration, loc *time.Location, l logger.Logger) *ConditionEvaluator {
	if l == nil {
		l = logger.NewNullLogger()
	}
	return &ConditionEvaluator{resources: resources, actors: actors, timeout: timeout, location: loc, logger: l}
}

// Evaluate returns whether cond holds for actor on resourceID at rc.Now.
func (c *ConditionEvaluator) Evaluate(ctx context.Context, cond *Condition, actor, resourceID string, rc RequestContext) bool {
	if cond == nil {
		return true
	}
	switch cond.Type {
	case ConditionOwnerOnly:
		return c.ownerOnly(ctx, cond, actor, resourceID)
	case ConditionTimeOfDay:
		h := localHour(rc.Now, c.location)
		return cond.StartHour <= h && h <= cond.EndHour
	case ConditionBatchAccess:
		return c.batchAccess(ctx, cond, actor, resourceID)
	case ConditionDepartmentAccess:
		return c.departmentAccess(ctx, cond, actor)
	default:
		c.logger.Warn("unknown condition type", "type", string(cond.Type))
		return false
	}
}

func (c *ConditionEvaluator) ownerOnly(ctx context.Context, cond *Condition, actor, resourceID string) bool {
	if c.resources == nil || resourceID == "" {
		return false
	}
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	owner, err := c.resources.ResourceOwner(ctx, cond.ResourceCollection, resourceID)
	if err != nil {
		c.lookupFailed("resource owner", err, "collection", cond.ResourceCollection, "resource_id", resourceID)
		return false
	}
	return owner != "" && owner == actor
}

func (c *ConditionEvaluator) batchAccess(ctx context.Context, cond *Condition, actor, resourceID string) bool {
	if c.resources == nil || c.actors == nil || resourceID == "" {
		return false
	}
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	batches, err := c.actors.AssignedBatches(ctx, actor)
	if err != nil {
		c.lookupFailed("assigned batches", err, "actor", actor)
		return false
	}
	if len(batches) == 0 {
		return false
	}
	batch, err := c.resources.ResourceBatch(ctx, cond.ResourceCollection, resourceID)
	if err != nil {
		c.lookupFailed("resource batch", err, "collection", cond.ResourceCollection, "resource_id", resourceID)
		return false
	}
	if batch == "" {
		return false
	}
	for _, b := range batches {
		if b == batch {
			return true
		}
	}
	return false
}

func (c *ConditionEvaluator) departmentAccess(ctx context.Context, cond *Condition, actor string) bool {
	if c.actors == nil {
		return false
	}
	ctx, cancel := withTimeout(ctx, c.timeout)
	defer cancel()
	dept, err := c.actors.Department(ctx, actor)
	if err != nil {
		c.lookupFailed("department", err, "actor", actor)
		return false
	}
	if dept == "" {
		return false
	}
	for _, d := range cond.AllowedDepartments {
		if d == dept {
			return true
		}
	}
	return false
}

func (c *ConditionEvaluator) lookupFailed(what string, err error, keyvals ...any) {
	kv := append([]any{"lookup", what, "error", err}, keyvals...)
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug("condition lookup found nothing", kv...)
		return
	}
	c.logger.Error("condition lookup failed", kv...)
}

func localHour(t time.Time, loc *time.Location) int {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Hour()
}

// isoWeekday maps time.Weekday to Monday=1 ... Sunday=7.
func isoWeekday(t time.Time, loc *time.Location) int {
	if loc != nil {
		t = t.In(loc)
	}
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
