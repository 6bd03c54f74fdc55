package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/roleguard"
)

// SQLAuditStore persists audit records in SQL
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) Record(ctx context.Context, rec *roleguard.AuditRecord) error {
	if rec == nil {
		return nil
	}
	q := `INSERT INTO audit_log(id, ts, actor, module, action, resource_id, granted, role_code, reason, error, source_ip, user_agent, request_id)
VALUES(:id, :ts, :actor, :module, :action, :resource_id, :granted, :role_code, :reason, :error, :source_ip, :user_agent, :request_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":          rec.ID,
		"ts":          toMillis(rec.Timestamp),
		"actor":       rec.Actor,
		"module":      rec.Module,
		"action":      rec.Action,
		"resource_id": rec.ResourceID,
		"granted":     boolToInt(rec.Granted),
		"role_code":   rec.RoleCode,
		"reason":      rec.Reason,
		"error":       rec.Error,
		"source_ip":   rec.SourceIP,
		"user_agent":  rec.UserAgent,
		"request_id":  rec.RequestID,
	})
	if err != nil {
		return fmt.Errorf("record audit %s: %w", rec.ID, err)
	}
	return nil
}

// List returns matching records oldest first, 100 at most unless
// filter.Limit says otherwise.
func (s *SQLAuditStore) List(ctx context.Context, filter roleguard.AuditFilter) ([]*roleguard.AuditRecord, error) {
	q := `SELECT id, ts, actor, module, action, resource_id, granted, role_code, reason, error, source_ip, user_agent, request_id FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.Actor != "" {
		q += " AND actor = :actor"
		params["actor"] = filter.Actor
	}
	if filter.Module != "" {
		q += " AND module = :module"
		params["module"] = filter.Module
	}
	if filter.Action != "" {
		q += " AND action = :action"
		params["action"] = filter.Action
	}
	if filter.Granted != nil {
		q += " AND granted = :granted"
		params["granted"] = boolToInt(*filter.Granted)
	}
	if !filter.StartTime.IsZero() {
		q += " AND ts >= :start"
		params["start"] = toMillis(filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		q += " AND ts <= :end"
		params["end"] = toMillis(filter.EndTime)
	}
	q += " ORDER BY ts, id LIMIT :limit"
	params["limit"] = 100
	if filter.Limit > 0 {
		params["limit"] = filter.Limit
	}
	rows, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	out := make([]*roleguard.AuditRecord, 0)
	for rows.Next() {
		rec := &roleguard.AuditRecord{}
		var ts int64
		var granted int
		if err := rows.Scan(&rec.ID, &ts, &rec.Actor, &rec.Module, &rec.Action, &rec.ResourceID, &granted,
			&rec.RoleCode, &rec.Reason, &rec.Error, &rec.SourceIP, &rec.UserAgent, &rec.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		rec.Timestamp = fromMillis(ts)
		rec.Granted = granted != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return out, nil
}
