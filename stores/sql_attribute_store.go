package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/roleguard"
)

// SQLResourceStore projects the creator/openid and batch_number fields of
// business resources kept in the resources table.
type SQLResourceStore struct {
	db *squealx.DB
}

func NewSQLResourceStore(db *squealx.DB) *SQLResourceStore {
	return &SQLResourceStore{db: db}
}

func (s *SQLResourceStore) PutResource(ctx context.Context, collection string, rec roleguard.ResourceRecord) error {
	q := `INSERT INTO resources(collection, id, creator, openid, batch_number)
VALUES(:collection, :id, :creator, :openid, :batch_number)
ON CONFLICT(collection, id) DO UPDATE SET creator=excluded.creator, openid=excluded.openid, batch_number=excluded.batch_number`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"collection":   collection,
		"id":           rec.ID,
		"creator":      rec.Creator,
		"openid":       rec.OpenID,
		"batch_number": rec.BatchNumber,
	})
	if err != nil {
		return fmt.Errorf("put resource %s/%s: %w", collection, rec.ID, err)
	}
	return nil
}

func (s *SQLResourceStore) get(ctx context.Context, collection, id string) (roleguard.ResourceRecord, error) {
	q := `SELECT id, creator, openid, batch_number FROM resources WHERE collection = :collection AND id = :id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"collection": collection, "id": id})
	if err != nil {
		return roleguard.ResourceRecord{}, fmt.Errorf("get resource %s/%s: %w", collection, id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return roleguard.ResourceRecord{}, fmt.Errorf("get resource %s/%s: %w", collection, id, err)
		}
		return roleguard.ResourceRecord{}, roleguard.ErrNotFound
	}
	var rec roleguard.ResourceRecord
	if err := rows.Scan(&rec.ID, &rec.Creator, &rec.OpenID, &rec.BatchNumber); err != nil {
		return roleguard.ResourceRecord{}, fmt.Errorf("scan resource %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

func (s *SQLResourceStore) ResourceOwner(ctx context.Context, collection, resourceID string) (string, error) {
	rec, err := s.get(ctx, collection, resourceID)
	if err != nil {
		return "", err
	}
	return rec.Owner(), nil
}

func (s *SQLResourceStore) ResourceBatch(ctx context.Context, collection, resourceID string) (string, error) {
	rec, err := s.get(ctx, collection, resourceID)
	if err != nil {
		return "", err
	}
	return rec.BatchNumber, nil
}

// SQLActorStore serves actor departments and batch assignments.
type SQLActorStore struct {
	db *squealx.DB
}

func NewSQLActorStore(db *squealx.DB) *SQLActorStore {
	return &SQLActorStore{db: db}
}

func (s *SQLActorStore) SetDepartment(ctx context.Context, actor, department string) error {
	q := `INSERT INTO actor_departments(actor, department) VALUES(:actor, :department)
ON CONFLICT(actor) DO UPDATE SET department=excluded.department`
	if _, err := s.db.NamedExecContext(ctx, q, map[string]any{"actor": actor, "department": department}); err != nil {
		return fmt.Errorf("set department for %s: %w", actor, err)
	}
	return nil
}

func (s *SQLActorStore) AssignBatch(ctx context.Context, actor, batchNumber string) error {
	return s.setBatch(ctx, actor, batchNumber, true)
}

func (s *SQLActorStore) RevokeBatch(ctx context.Context, actor, batchNumber string) error {
	return s.setBatch(ctx, actor, batchNumber, false)
}

func (s *SQLActorStore) setBatch(ctx context.Context, actor, batchNumber string, active bool) error {
	q := `INSERT INTO actor_batches(actor, batch_number, is_active) VALUES(:actor, :batch_number, :is_active)
ON CONFLICT(actor, batch_number) DO UPDATE SET is_active=excluded.is_active`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"actor": actor, "batch_number": batchNumber, "is_active": boolToInt(active)})
	if err != nil {
		return fmt.Errorf("set batch %s for %s: %w", batchNumber, actor, err)
	}
	return nil
}

func (s *SQLActorStore) Department(ctx context.Context, actor string) (string, error) {
	rows, err := s.db.NamedQueryContext(ctx, `SELECT department FROM actor_departments WHERE actor = :actor`, map[string]any{"actor": actor})
	if err != nil {
		return "", fmt.Errorf("get department for %s: %w", actor, err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", fmt.Errorf("get department for %s: %w", actor, err)
		}
		return "", roleguard.ErrNotFound
	}
	var dept string
	if err := rows.Scan(&dept); err != nil {
		return "", fmt.Errorf("scan department: %w", err)
	}
	return dept, nil
}

func (s *SQLActorStore) AssignedBatches(ctx context.Context, actor string) ([]string, error) {
	q := `SELECT batch_number FROM actor_batches WHERE actor = :actor AND is_active = 1 ORDER BY batch_number`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"actor": actor})
	if err != nil {
		return nil, fmt.Errorf("list batches for %s: %w", actor, err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list batches for %s: %w", actor, err)
	}
	return out, nil
}
