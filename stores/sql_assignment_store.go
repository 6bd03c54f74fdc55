package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/roleguard"
)

// SQLAssignmentStore persists user-role assignments. Rows are never deleted;
// Deactivate flips is_active.
type SQLAssignmentStore struct {
	db    *squealx.DB
	clock creationClock
}

func NewSQLAssignmentStore(db *squealx.DB) *SQLAssignmentStore {
	return &SQLAssignmentStore{db: db}
}

// Assign upserts a. A missing ID or creation time is generated and written
// back to a, so a must not be read by other goroutines during the call.
func (s *SQLAssignmentStore) Assign(ctx context.Context, a *roleguard.UserRoleAssignment) error {
	if a == nil || a.Actor == "" || a.RoleCode == "" {
		return roleguard.ErrInvalidRequest
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.clock.next()
	}
	denied := ""
	if len(a.DeniedGrants) > 0 {
		var err error
		if denied, err = marshalJSON(a.DeniedGrants); err != nil {
			return err
		}
	}
	q := `INSERT INTO user_roles(id, actor, role_code, is_active, expires_at, denied_json, created_at)
VALUES(:id, :actor, :role_code, :is_active, :expires_at, :denied_json, :created_at)
ON CONFLICT(id) DO UPDATE SET actor=excluded.actor, role_code=excluded.role_code, is_active=excluded.is_active,
expires_at=excluded.expires_at, denied_json=excluded.denied_json`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          a.ID,
		"actor":       a.Actor,
		"role_code":   a.RoleCode,
		"is_active":   boolToInt(a.IsActive),
		"expires_at":  timePtrToMillis(a.ExpiresAt),
		"denied_json": denied,
		"created_at":  toMillis(a.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("assign %s to %s: %w", a.RoleCode, a.Actor, err)
	}
	return nil
}

func (s *SQLAssignmentStore) Deactivate(ctx context.Context, id string) error {
	q := `UPDATE user_roles SET is_active = 0 WHERE id = :id`
	if _, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("deactivate assignment %s: %w", id, err)
	}
	return nil
}

func (s *SQLAssignmentStore) ListActive(ctx context.Context, actor string, now time.Time) ([]*roleguard.UserRoleAssignment, error) {
	q := `SELECT id, actor, role_code, is_active, expires_at, denied_json, created_at FROM user_roles
WHERE actor = :actor AND is_active = 1 AND (expires_at IS NULL OR expires_at > :now)
ORDER BY created_at, id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"actor": actor, "now": toMillis(now)})
	if err != nil {
		return nil, fmt.Errorf("list assignments for %s: %w", actor, err)
	}
	defer rows.Close()
	out := make([]*roleguard.UserRoleAssignment, 0)
	for rows.Next() {
		var id, act, code, deniedJSON string
		var active int
		var expiresRaw any
		var created int64
		if err := rows.Scan(&id, &act, &code, &active, &expiresRaw, &deniedJSON, &created); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		a := &roleguard.UserRoleAssignment{ID: id, Actor: act, RoleCode: code, IsActive: active != 0, CreatedAt: fromMillis(created)}
		switch v := expiresRaw.(type) {
		case int64:
			t := fromMillis(v)
			a.ExpiresAt = &t
		case float64:
			t := fromMillis(int64(v))
			a.ExpiresAt = &t
		}
		if err := unmarshalJSON(deniedJSON, &a.DeniedGrants); err != nil {
			return nil, fmt.Errorf("assignment %s denied grants: %w", id, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list assignments for %s: %w", actor, err)
	}
	return out, nil
}
