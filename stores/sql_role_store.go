package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/roleguard"
)

// SQLRoleStore persists role definitions in SQL (squealx). Grants and
// restrictions are stored as JSON columns.
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

// PutRole inserts or replaces a role definition.
func (s *SQLRoleStore) PutRole(ctx context.Context, r *roleguard.RoleDefinition) error {
	if r == nil || r.RoleCode == "" {
		return roleguard.ErrInvalidRequest
	}
	grants, err := marshalJSON(r.Grants)
	if err != nil {
		return err
	}
	var restrictions string
	if r.Restrictions != nil {
		if restrictions, err = marshalJSON(r.Restrictions); err != nil {
			return err
		}
	}
	q := `INSERT INTO roles(role_code, name, is_active, grants_json, restrictions_json, updated_at)
VALUES(:role_code, :name, :is_active, :grants_json, :restrictions_json, :updated_at)
ON CONFLICT(role_code) DO UPDATE SET name=excluded.name, is_active=excluded.is_active,
grants_json=excluded.grants_json, restrictions_json=excluded.restrictions_json, updated_at=excluded.updated_at`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"role_code":         r.RoleCode,
		"name":              r.Name,
		"is_active":         boolToInt(r.IsActive),
		"grants_json":       grants,
		"restrictions_json": restrictions,
		"updated_at":        toMillis(time.Now()),
	})
	if err != nil {
		return fmt.Errorf("put role %s: %w", r.RoleCode, err)
	}
	return nil
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, roleCode string) error {
	q := `DELETE FROM roles WHERE role_code = :role_code`
	if _, err := s.db.NamedExecContext(ctx, q, map[string]any{"role_code": roleCode}); err != nil {
		return fmt.Errorf("delete role %s: %w", roleCode, err)
	}
	return nil
}

// Get returns the active role, or nil when it is unknown or inactive.
func (s *SQLRoleStore) Get(ctx context.Context, roleCode string) (*roleguard.RoleDefinition, error) {
	q := `SELECT role_code, name, is_active, grants_json, restrictions_json, updated_at FROM roles WHERE role_code = :role_code AND is_active = 1`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role_code": roleCode})
	if err != nil {
		return nil, fmt.Errorf("get role %s: %w", roleCode, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get role %s: %w", roleCode, err)
		}
		return nil, nil
	}
	var code, name, grantsJSON, restrictionsJSON string
	var active int
	var updated int64
	if err := rows.Scan(&code, &name, &active, &grantsJSON, &restrictionsJSON, &updated); err != nil {
		return nil, fmt.Errorf("scan role %s: %w", roleCode, err)
	}
	role := &roleguard.RoleDefinition{RoleCode: code, Name: name, IsActive: active != 0, UpdatedAt: fromMillis(updated)}
	if err := unmarshalJSON(grantsJSON, &role.Grants); err != nil {
		return nil, fmt.Errorf("role %s grants: %w", roleCode, err)
	}
	if restrictionsJSON != "" {
		role.Restrictions = &roleguard.Restrictions{}
		if err := unmarshalJSON(restrictionsJSON, role.Restrictions); err != nil {
			return nil, fmt.Errorf("role %s restrictions: %w", roleCode, err)
		}
	}
	return role, nil
}

// ListRoleCodes returns every stored role code, active or not.
func (s *SQLRoleStore) ListRoleCodes(ctx context.Context) ([]string, error) {
	rows, err := s.db.NamedQueryContext(ctx, `SELECT role_code FROM roles ORDER BY role_code`, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan role code: %w", err)
		}
		out = append(out, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return out, nil
}
