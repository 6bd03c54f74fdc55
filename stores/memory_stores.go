package stores

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oarkflow/roleguard"
)

// MemoryRoleStore keeps role definitions in-memory for testing/demo
type MemoryRoleStore struct {
	mu    sync.RWMutex
	roles map[string]*roleguard.RoleDefinition
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]*roleguard.RoleDefinition)}
}

// PutRole creates or replaces the role with r.RoleCode.
func (s *MemoryRoleStore) PutRole(ctx context.Context, r *roleguard.RoleDefinition) error {
	if r == nil || r.RoleCode == "" {
		return roleguard.ErrInvalidRequest
	}
	dup := *r
	dup.UpdatedAt = time.Now()
	s.mu.Lock()
	s.roles[r.RoleCode] = &dup
	s.mu.Unlock()
	return nil
}

func (s *MemoryRoleStore) DeleteRole(ctx context.Context, roleCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleCode]; !ok {
		return roleguard.ErrNotFound
	}
	delete(s.roles, roleCode)
	return nil
}

// Get returns the active role, or nil when it is unknown or inactive.
func (s *MemoryRoleStore) Get(ctx context.Context, roleCode string) (*roleguard.RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[roleCode]
	if !ok || !r.IsActive {
		return nil, nil
	}
	dup := *r
	return &dup, nil
}

// ListRoles returns every stored role, active or not, ordered by code.
func (s *MemoryRoleStore) ListRoles(ctx context.Context) ([]*roleguard.RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*roleguard.RoleDefinition, 0, len(s.roles))
	for _, r := range s.roles {
		dup := *r
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleCode < out[j].RoleCode })
	return out, nil
}

// MemoryAssignmentStore keeps user-role assignments in insertion order.
type MemoryAssignmentStore struct {
	mu          sync.RWMutex
	assignments []*roleguard.UserRoleAssignment
	clock       creationClock
}

func NewMemoryAssignmentStore() *MemoryAssignmentStore {
	return &MemoryAssignmentStore{}
}

// Assign stores a copy of a. A missing ID or creation time is generated and
// written back to a once the copy is stored, so a must not be read by other
// goroutines during the call. Later changes to a do not reach the store.
func (s *MemoryAssignmentStore) Assign(ctx context.Context, a *roleguard.UserRoleAssignment) error {
	if a == nil || a.Actor == "" || a.RoleCode == "" {
		return roleguard.ErrInvalidRequest
	}
	dup := *a
	if dup.ID == "" {
		dup.ID = uuid.NewString()
	}
	if dup.CreatedAt.IsZero() {
		dup.CreatedAt = s.clock.next()
	}
	s.mu.Lock()
	replaced := false
	for i, existing := range s.assignments {
		if existing.ID == dup.ID {
			s.assignments[i] = &dup
			replaced = true
			break
		}
	}
	if !replaced {
		s.assignments = append(s.assignments, &dup)
	}
	s.mu.Unlock()
	a.ID, a.CreatedAt = dup.ID, dup.CreatedAt
	return nil
}

// Deactivate soft-deletes an assignment.
func (s *MemoryAssignmentStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.assignments {
		if a.ID == id {
			a.IsActive = false
			return nil
		}
	}
	return roleguard.ErrNotFound
}

func (s *MemoryAssignmentStore) ListActive(ctx context.Context, actor string, now time.Time) ([]*roleguard.UserRoleAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*roleguard.UserRoleAssignment, 0)
	for _, a := range s.assignments {
		if a.Actor == actor && a.IsEffective(now) {
			dup := *a
			out = append(out, &dup)
		}
	}
	slices.SortStableFunc(out, func(x, y *roleguard.UserRoleAssignment) int {
		if c := x.CreatedAt.Compare(y.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(x.ID, y.ID)
	})
	return out, nil
}

// MemoryResourceStore serves owner and batch projections of resources.
type MemoryResourceStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]roleguard.ResourceRecord
}

func NewMemoryResourceStore() *MemoryResourceStore {
	return &MemoryResourceStore{collections: make(map[string]map[string]roleguard.ResourceRecord)}
}

func (s *MemoryResourceStore) PutResource(ctx context.Context, collection string, rec roleguard.ResourceRecord) error {
	if collection == "" || rec.ID == "" {
		return roleguard.ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]roleguard.ResourceRecord)
		s.collections[collection] = c
	}
	c[rec.ID] = rec
	return nil
}

func (s *MemoryResourceStore) lookup(collection, id string) (roleguard.ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.collections[collection][id]
	if !ok {
		return roleguard.ResourceRecord{}, roleguard.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryResourceStore) ResourceOwner(ctx context.Context, collection, resourceID string) (string, error) {
	rec, err := s.lookup(collection, resourceID)
	if err != nil {
		return "", err
	}
	return rec.Owner(), nil
}

func (s *MemoryResourceStore) ResourceBatch(ctx context.Context, collection, resourceID string) (string, error) {
	rec, err := s.lookup(collection, resourceID)
	if err != nil {
		return "", err
	}
	return rec.BatchNumber, nil
}

// MemoryActorStore holds actor departments and batch assignments.
type MemoryActorStore struct {
	mu          sync.RWMutex
	departments map[string]string
	batches     map[string]map[string]bool
}

func NewMemoryActorStore() *MemoryActorStore {
	return &MemoryActorStore{departments: make(map[string]string), batches: make(map[string]map[string]bool)}
}

func (s *MemoryActorStore) SetDepartment(ctx context.Context, actor, department string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departments[actor] = department
	return nil
}

func (s *MemoryActorStore) AssignBatch(ctx context.Context, actor, batchNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[actor]
	if !ok {
		b = make(map[string]bool)
		s.batches[actor] = b
	}
	b[batchNumber] = true
	return nil
}

func (s *MemoryActorStore) RevokeBatch(ctx context.Context, actor, batchNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.batches[actor]; ok {
		b[batchNumber] = false
	}
	return nil
}

func (s *MemoryActorStore) Department(ctx context.Context, actor string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.departments[actor]
	if !ok {
		return "", roleguard.ErrNotFound
	}
	return d, nil
}

func (s *MemoryActorStore) AssignedBatches(ctx context.Context, actor string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.batches[actor]))
	for b, active := range s.batches[actor] {
		if active {
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out, nil
}

// MemorySessionStore tracks last activity per actor session.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]map[string]time.Time)}
}

func (s *MemorySessionStore) TouchSession(ctx context.Context, actor, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.sessions[actor]
	if !ok {
		m = make(map[string]time.Time)
		s.sessions[actor] = m
	}
	m[sessionID] = at
	return nil
}

func (s *MemorySessionStore) EndSession(ctx context.Context, actor, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions[actor], sessionID)
	return nil
}

func (s *MemorySessionStore) CountActiveSessions(ctx context.Context, actor string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, last := range s.sessions[actor] {
		if !last.Before(since) {
			n++
		}
	}
	return n, nil
}

// MemoryAuditStore keeps audit records in-memory for tests and local runs.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []*roleguard.AuditRecord
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Record(ctx context.Context, rec *roleguard.AuditRecord) error {
	if rec == nil {
		return nil
	}
	dup := *rec
	s.mu.Lock()
	s.records = append(s.records, &dup)
	s.mu.Unlock()
	return nil
}

// List returns matching records oldest first.
func (s *MemoryAuditStore) List(ctx context.Context, filter roleguard.AuditFilter) ([]*roleguard.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*roleguard.AuditRecord, 0)
	for _, r := range s.records {
		if !filter.Match(r) {
			continue
		}
		dup := *r
		out = append(out, &dup)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryAuditStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
