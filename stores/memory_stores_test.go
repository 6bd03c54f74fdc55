package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oarkflow/roleguard"
)

func TestMemoryRoleStoreHidesInactive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRoleStore()
	_ = s.PutRole(ctx, roleguard.NewRoleBuilder("admin").Grant("*", "*").Build())
	_ = s.PutRole(ctx, roleguard.NewRoleBuilder("old").Active(false).Grant("*", "*").Build())

	if r, _ := s.Get(ctx, "admin"); r == nil {
		t.Fatalf("expected admin role")
	}
	if r, _ := s.Get(ctx, "old"); r != nil {
		t.Fatalf("inactive role must be absent")
	}
	if err := s.DeleteRole(ctx, "nope"); !errors.Is(err, roleguard.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	roles, _ := s.ListRoles(ctx)
	if len(roles) != 2 || roles[0].RoleCode != "admin" {
		t.Fatalf("list roles: %+v", roles)
	}
}

func TestMemoryAssignmentStoreOrderAndExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAssignmentStore()
	now := time.Now()
	a1 := roleguard.NewAssignmentBuilder("u1", "r1").Build()
	a2 := roleguard.NewAssignmentBuilder("u1", "r2").ExpiresAt(now.Add(-time.Minute)).Build()
	a3 := roleguard.NewAssignmentBuilder("u1", "r3").Build()
	for _, a := range []*roleguard.UserRoleAssignment{a1, a2, a3} {
		if err := s.Assign(ctx, a); err != nil {
			t.Fatalf("assign: %v", err)
		}
	}
	got, _ := s.ListActive(ctx, "u1", now)
	if len(got) != 2 || got[0].RoleCode != "r1" || got[1].RoleCode != "r3" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if err := s.Deactivate(ctx, a1.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, _ = s.ListActive(ctx, "u1", now)
	if len(got) != 1 || got[0].RoleCode != "r3" {
		t.Fatalf("deactivated assignment still listed: %+v", got)
	}
}

func TestMemoryAssignmentStoreKeepsItsOwnCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAssignmentStore()
	a := roleguard.NewAssignmentBuilder("u1", "r1").Build()
	if err := s.Assign(ctx, a); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Fatalf("generated fields not written back: %+v", a)
	}
	a.RoleCode = "changed"
	got, _ := s.ListActive(ctx, "u1", time.Now())
	if len(got) != 1 || got[0].RoleCode != "r1" || got[0].ID != a.ID {
		t.Fatalf("caller mutation leaked into the store: %+v", got)
	}
}

func TestMemorySessionStoreWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()
	now := time.Now()
	_ = s.TouchSession(ctx, "u1", "a", now.Add(-31*time.Minute))
	_ = s.TouchSession(ctx, "u1", "b", now.Add(-30*time.Minute))
	_ = s.TouchSession(ctx, "u1", "c", now)
	n, _ := s.CountActiveSessions(ctx, "u1", now.Add(-30*time.Minute))
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}

func TestMemoryAuditStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore()
	_ = s.Record(ctx, &roleguard.AuditRecord{ID: "1", Actor: "u1", Module: "m", Action: "read", Granted: true})
	_ = s.Record(ctx, &roleguard.AuditRecord{ID: "2", Actor: "u2", Module: "m", Action: "read"})
	got, _ := s.List(ctx, roleguard.AuditFilter{Actor: "u2"})
	if len(got) != 1 || got[0].ID != "2" {
		t.Fatalf("unexpected: %+v", got)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", s.Len())
	}
}
