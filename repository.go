package roleguard

import (
	"context"
	"time"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// RoleRepository returns active role definitions. Unknown or inactive codes
// yield (nil, nil); a non-nil error means the store could not be read.
type RoleRepository interface {
	Get(ctx context.Context, roleCode string) (*RoleDefinition, error)
}

// UserRoleRepository lists an actor's effective assignments in a stable order
// (creation order).
type UserRoleRepository interface {
	ListActive(ctx context.Context, actor string, now time.Time) ([]*UserRoleAssignment, error)
}

// ResourceLookup projects single fields of a resource in a collection.
type ResourceLookup interface {
	// ResourceOwner returns the creator (or openid) of the resource.
	ResourceOwner(ctx context.Context, collection, resourceID string) (string, error)
	ResourceBatch(ctx context.Context, collection, resourceID string) (string, error)
}

// ActorDirectory resolves actor attributes used by conditions.
type ActorDirectory interface {
	Department(ctx context.Context, actor string) (string, error)
	AssignedBatches(ctx context.Context, actor string) ([]string, error)
}

// SessionCounter counts an actor's sessions whose last activity is at or
// after since.
type SessionCounter interface {
	CountActiveSessions(ctx context.Context, actor string, since time.Time) (int, error)
}

// SessionRecorder records activity for a session. It runs after a grant, so
// concurrent checks may briefly exceed a session ceiling.
type SessionRecorder interface {
	TouchSession(ctx context.Context, actor, sessionID string, at time.Time) error
}

// AuditRecord is submitted to the AuditSink for every decision.
type AuditRecord struct {
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Module     string    `json:"module"`
	Action     string    `json:"action"`
	ResourceID string    `json:"resource_id,omitempty"`
	Granted    bool      `json:"granted"`
	RoleCode   string    `json:"role_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	SourceIP   string    `json:"source_ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

// AuditSink persists audit records. Its failures never affect decisions.
type AuditSink interface {
	Record(ctx context.Context, rec *AuditRecord) error
}

// AuditFilter for querying audit logs
type AuditFilter struct {
	Actor     string
	Module    string
	Action    string
	Granted   *bool
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Match reports whether rec satisfies the filter.
func (f AuditFilter) Match(rec *AuditRecord) bool {
	if rec == nil {
		return false
	}
	if f.Actor != "" && rec.Actor != f.Actor {
		return false
	}
	if f.Module != "" && rec.Module != f.Module {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	if f.Granted != nil && rec.Granted != *f.Granted {
		return false
	}
	if !f.StartTime.IsZero() && rec.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && rec.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

// NoopAuditSink discards records.
type NoopAuditSink struct{}

func (NoopAuditSink) Record(context.Context, *AuditRecord) error { return nil }
