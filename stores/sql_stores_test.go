package stores

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/roleguard"
	"github.com/oarkflow/roleguard/logger"
)

func newTestDB(t *testing.T) *squealx.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// a second pooled connection would see a different :memory: database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestSQLRoleStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewSQLRoleStore(newTestDB(t))
	maxSessions := 3
	role := roleguard.NewRoleBuilder("editor").
		Name("Editor").
		Grant("orders", "read", "update").
		GrantIf(roleguard.OwnerOnly("orders"), "invoices", "*").
		AllowedHours(9, 18).
		AllowedIPRanges("192.168.1.0/24").
		MaxConcurrentSessions(maxSessions).
		Build()
	if err := store.PutRole(ctx, role); err != nil {
		t.Fatalf("put role: %v", err)
	}
	got, err := store.Get(ctx, "editor")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if got == nil || got.Name != "Editor" || len(got.Grants) != 2 {
		t.Fatalf("unexpected role: %+v", got)
	}
	if got.Grants[1].Condition == nil || got.Grants[1].Condition.Type != roleguard.ConditionOwnerOnly {
		t.Fatalf("condition lost: %+v", got.Grants[1])
	}
	if got.Restrictions == nil || got.Restrictions.MaxConcurrentSessions == nil || *got.Restrictions.MaxConcurrentSessions != 3 {
		t.Fatalf("restrictions lost: %+v", got.Restrictions)
	}

	role.IsActive = false
	if err := store.PutRole(ctx, role); err != nil {
		t.Fatalf("update role: %v", err)
	}
	if got, err := store.Get(ctx, "editor"); err != nil || got != nil {
		t.Fatalf("inactive role should be absent, got %+v err %v", got, err)
	}
	if got, err := store.Get(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("unknown role should be absent, got %+v err %v", got, err)
	}
	codes, err := store.ListRoleCodes(ctx)
	if err != nil || len(codes) != 1 {
		t.Fatalf("list role codes: %v %v", codes, err)
	}
}

func TestSQLAssignmentStoreFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	store := NewSQLAssignmentStore(newTestDB(t))
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	for _, a := range []*roleguard.UserRoleAssignment{
		roleguard.NewAssignmentBuilder("u1", "expired").ExpiresAt(past).Build(),
		roleguard.NewAssignmentBuilder("u1", "first").ExpiresAt(future).Deny("orders", "delete").Build(),
		roleguard.NewAssignmentBuilder("u1", "second").Build(),
		roleguard.NewAssignmentBuilder("u2", "other").Build(),
	} {
		if err := store.Assign(ctx, a); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
	inactive := roleguard.NewAssignmentBuilder("u1", "inactive").Build()
	if err := store.Assign(ctx, inactive); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := store.Deactivate(ctx, inactive.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, err := store.ListActive(ctx, "u1", now)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(got) != 2 || got[0].RoleCode != "first" || got[1].RoleCode != "second" {
		t.Fatalf("unexpected assignments: %+v", got)
	}
	if got[0].ExpiresAt == nil || !got[0].ExpiresAt.Equal(future) {
		t.Fatalf("expires_at lost: %+v", got[0].ExpiresAt)
	}
	if !got[0].Denies("orders", "delete") || got[1].Denies("orders", "delete") {
		t.Fatalf("denied grants not preserved per assignment")
	}
}

func TestSQLAttributeStores(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	resources := NewSQLResourceStore(db)
	actors := NewSQLActorStore(db)

	if err := resources.PutResource(ctx, "orders", roleguard.ResourceRecord{ID: "o1", Creator: "u1", BatchNumber: "B7"}); err != nil {
		t.Fatalf("put resource: %v", err)
	}
	if err := resources.PutResource(ctx, "orders", roleguard.ResourceRecord{ID: "o2", OpenID: "wx-9"}); err != nil {
		t.Fatalf("put resource: %v", err)
	}
	if owner, err := resources.ResourceOwner(ctx, "orders", "o1"); err != nil || owner != "u1" {
		t.Fatalf("owner o1: %q %v", owner, err)
	}
	if owner, err := resources.ResourceOwner(ctx, "orders", "o2"); err != nil || owner != "wx-9" {
		t.Fatalf("openid fallback: %q %v", owner, err)
	}
	if batch, err := resources.ResourceBatch(ctx, "orders", "o1"); err != nil || batch != "B7" {
		t.Fatalf("batch: %q %v", batch, err)
	}
	if _, err := resources.ResourceOwner(ctx, "orders", "nope"); !errors.Is(err, roleguard.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := actors.SetDepartment(ctx, "u1", "finance"); err != nil {
		t.Fatalf("set department: %v", err)
	}
	if dept, err := actors.Department(ctx, "u1"); err != nil || dept != "finance" {
		t.Fatalf("department: %q %v", dept, err)
	}
	if _, err := actors.Department(ctx, "u2"); !errors.Is(err, roleguard.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_ = actors.AssignBatch(ctx, "u1", "B7")
	_ = actors.AssignBatch(ctx, "u1", "B3")
	_ = actors.RevokeBatch(ctx, "u1", "B3")
	batches, err := actors.AssignedBatches(ctx, "u1")
	if err != nil || len(batches) != 1 || batches[0] != "B7" {
		t.Fatalf("batches: %v %v", batches, err)
	}
}

func TestSQLAuditStoreList(t *testing.T) {
	ctx := context.Background()
	store := NewSQLAuditStore(newTestDB(t))
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, granted := range []bool{true, false, true} {
		rec := &roleguard.AuditRecord{
			ID:        "evt-" + string(rune('a'+i)),
			Actor:     "u1",
			Module:    "orders",
			Action:    "read",
			Granted:   granted,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			RequestID: "req-1",
		}
		if err := store.Record(ctx, rec); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	denied := false
	got, err := store.List(ctx, roleguard.AuditFilter{Actor: "u1", Granted: &denied})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "evt-b" || got[0].RequestID != "req-1" {
		t.Fatalf("unexpected audit rows: %+v", got)
	}
	got, err = store.List(ctx, roleguard.AuditFilter{StartTime: base.Add(time.Minute), Limit: 1})
	if err != nil || len(got) != 1 || !got[0].Timestamp.Equal(base.Add(time.Minute)) {
		t.Fatalf("time filter: %+v %v", got, err)
	}
}

var errInterrupted = errors.New("iteration interrupted")

// interruptedDB stops every result set after a fixed number of rows and
// reports errInterrupted, the way a driver does when a deadline expires
// mid-iteration.
type interruptedDB struct {
	squealx.SQLDB
	after int
}

func (d *interruptedDB) QueryContext(ctx context.Context, query string, args ...any) (squealx.SQLRows, error) {
	rows, err := d.SQLDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &interruptedRows{SQLRows: rows, left: d.after}, nil
}

type interruptedRows struct {
	squealx.SQLRows
	left int
	err  error
}

func (r *interruptedRows) Next() bool {
	if r.left == 0 {
		r.err = errInterrupted
		return false
	}
	r.left--
	return r.SQLRows.Next()
}

func (r *interruptedRows) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.SQLRows.Err()
}

func interrupted(db *squealx.DB, after int) *squealx.DB {
	return squealx.NewSQLDb(&interruptedDB{SQLDB: db.SQLDB, after: after}, "sqlite", "interrupted")
}

func TestSQLStoresSurfaceIterationErrors(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	now := time.Now()
	if err := NewSQLRoleStore(db).PutRole(ctx, roleguard.NewRoleBuilder("r").Grant("*", "*").Build()); err != nil {
		t.Fatalf("put role: %v", err)
	}
	assignments := NewSQLAssignmentStore(db)
	for range 3 {
		if err := assignments.Assign(ctx, roleguard.NewAssignmentBuilder("u1", "r").Build()); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
	resources := NewSQLResourceStore(db)
	if err := resources.PutResource(ctx, "orders", roleguard.ResourceRecord{ID: "o1", Creator: "u1"}); err != nil {
		t.Fatalf("put resource: %v", err)
	}
	actors := NewSQLActorStore(db)
	if err := actors.SetDepartment(ctx, "u1", "sales"); err != nil {
		t.Fatalf("set department: %v", err)
	}
	if err := actors.AssignBatch(ctx, "u1", "B1"); err != nil {
		t.Fatalf("assign batch: %v", err)
	}

	// a truncated assignment list must not pass for a complete one
	list, err := NewSQLAssignmentStore(interrupted(db, 1)).ListActive(ctx, "u1", now)
	if !errors.Is(err, errInterrupted) || list != nil {
		t.Fatalf("expected iteration error, got %d rows err=%v", len(list), err)
	}
	// an interrupted lookup is not an absent role
	role, err := NewSQLRoleStore(interrupted(db, 0)).Get(ctx, "r")
	if !errors.Is(err, errInterrupted) || role != nil {
		t.Fatalf("expected iteration error, got role=%v err=%v", role, err)
	}
	if _, err := NewSQLRoleStore(interrupted(db, 0)).ListRoleCodes(ctx); !errors.Is(err, errInterrupted) {
		t.Fatalf("list role codes: %v", err)
	}
	if _, err := NewSQLResourceStore(interrupted(db, 0)).ResourceOwner(ctx, "orders", "o1"); !errors.Is(err, errInterrupted) || errors.Is(err, roleguard.ErrNotFound) {
		t.Fatalf("resource owner: %v", err)
	}
	if _, err := NewSQLActorStore(interrupted(db, 0)).Department(ctx, "u1"); !errors.Is(err, errInterrupted) || errors.Is(err, roleguard.ErrNotFound) {
		t.Fatalf("department: %v", err)
	}
	if _, err := NewSQLActorStore(interrupted(db, 0)).AssignedBatches(ctx, "u1"); !errors.Is(err, errInterrupted) {
		t.Fatalf("assigned batches: %v", err)
	}
	if _, err := NewSQLAuditStore(interrupted(db, 0)).List(ctx, roleguard.AuditFilter{}); !errors.Is(err, errInterrupted) {
		t.Fatalf("audit list: %v", err)
	}

	// through the engine the outage is an error, never a denial
	engine, err := roleguard.NewEngine(NewSQLRoleStore(db), NewSQLAssignmentStore(interrupted(db, 1)),
		roleguard.WithLogger(logger.NewNullLogger()))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()
	res, err := engine.Check(ctx, &roleguard.CheckRequest{Actor: "u1", Module: "orders", Action: "read"})
	if !errors.Is(err, roleguard.ErrRepositoryUnavailable) || res != nil {
		t.Fatalf("expected repository unavailable, got %+v %v", res, err)
	}
}
