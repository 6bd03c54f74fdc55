package roleguard

import (
	"time"

	"github.com/oarkflow/roleguard/utils"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// ConditionType enumerates the closed set of grant conditions.
type ConditionType string

const (
	ConditionOwnerOnly        ConditionType = "owner_only"
	ConditionTimeOfDay        ConditionType = "time_of_day"
	ConditionBatchAccess      ConditionType = "batch_access"
	ConditionDepartmentAccess ConditionType = "department_access"
)

// Condition is a tagged variant; only the fields belonging to Type are read.
type Condition struct {
	Type               ConditionType `json:"type" yaml:"type" validate:"required,oneof=owner_only time_of_day batch_access department_access"`
	ResourceCollection string        `json:"resource_collection,omitempty" yaml:"resource_collection,omitempty"`
	StartHour          int           `json:"start_hour,omitempty" yaml:"start_hour,omitempty" validate:"min=0,max=23"`
	EndHour            int           `json:"end_hour,omitempty" yaml:"end_hour,omitempty" validate:"min=0,max=23"`
	AllowedDepartments []string      `json:"allowed_departments,omitempty" yaml:"allowed_departments,omitempty"`
}

// PermissionGrant allows Actions on Module, optionally guarded by Condition.
type PermissionGrant struct {
	Module    string     `json:"module" yaml:"module" validate:"required"`
	Actions   []string   `json:"actions" yaml:"actions" validate:"required,min=1,dive,required"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty" validate:"omitempty"`
}

// Matches reports whether the grant covers module/action, honouring wildcards.
func (g PermissionGrant) Matches(module, action string) bool {
	return utils.MatchModule(g.Module, module) && utils.ContainsAction(g.Actions, action)
}

// Restrictions are applied to a role after a grant and its condition pass.
// Nil or empty fields are unconstrained.
type Restrictions struct {
	AllowedHours          []int    `json:"allowed_hours,omitempty" yaml:"allowed_hours,omitempty" validate:"omitempty,len=2,dive,min=0,max=23"`
	AllowedDays           []int    `json:"allowed_days,omitempty" yaml:"allowed_days,omitempty" validate:"omitempty,dive,min=1,max=7"`
	AllowedIPRanges       []string `json:"allowed_ip_ranges,omitempty" yaml:"allowed_ip_ranges,omitempty"`
	MaxConcurrentSessions *int     `json:"max_concurrent_sessions,omitempty" yaml:"max_concurrent_sessions,omitempty" validate:"omitempty,min=0"`
}

// RoleDefinition is identified by RoleCode. The engine only ever sees active
// definitions.
type RoleDefinition struct {
	RoleCode     string            `json:"role_code" yaml:"role_code" validate:"required"`
	Name         string            `json:"name,omitempty" yaml:"name,omitempty"`
	IsActive     bool              `json:"is_active" yaml:"is_active"`
	Grants       []PermissionGrant `json:"grants" yaml:"grants" validate:"dive"`
	Restrictions *Restrictions     `json:"restrictions,omitempty" yaml:"restrictions,omitempty" validate:"omitempty"`
	UpdatedAt    time.Time         `json:"updated_at,omitempty" yaml:"-"`
}

// FindGrant returns the first grant covering module/action.
func (r *RoleDefinition) FindGrant(module, action string) (PermissionGrant, bool) {
	if r == nil {
		return PermissionGrant{}, false
	}
	for _, g := range r.Grants {
		if g.Matches(module, action) {
			return g, true
		}
	}
	return PermissionGrant{}, false
}

// DeniedGrant revokes Actions on Module within a single assignment.
type DeniedGrant struct {
	Module  string   `json:"module" yaml:"module" validate:"required"`
	Actions []string `json:"actions" yaml:"actions" validate:"required,min=1"`
}

// UserRoleAssignment binds a role to an actor.
type UserRoleAssignment struct {
	ID           string        `json:"id"`
	Actor        string        `json:"actor"`
	RoleCode     string        `json:"role_code"`
	IsActive     bool          `json:"is_active"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	DeniedGrants []DeniedGrant `json:"denied_grants,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// IsEffective reports whether the assignment is active and unexpired at now.
func (a *UserRoleAssignment) IsEffective(now time.Time) bool {
	if a == nil || !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// Denies reports whether the assignment's deny list revokes module/action.
func (a *UserRoleAssignment) Denies(module, action string) bool {
	for _, d := range a.DeniedGrants {
		if utils.MatchModule(d.Module, module) && utils.ContainsAction(d.Actions, action) {
			return true
		}
	}
	return false
}

// RequestContext carries the request-scoped environment of a check.
type RequestContext struct {
	Now       time.Time `json:"now"`
	SourceIP  string    `json:"source_ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// CheckRequest asks whether Actor may perform Action on Module.
type CheckRequest struct {
	Actor      string         `json:"actor"`
	Module     string         `json:"module"`
	Action     string         `json:"action"`
	ResourceID string         `json:"resource_id,omitempty"`
	Context    RequestContext `json:"context"`
}

// CheckResult is the outcome of a check. Granted is the decision; the other
// fields are diagnostic.
type CheckResult struct {
	Granted  bool     `json:"granted"`
	RoleCode string   `json:"role_code,omitempty"`
	Reason   string   `json:"reason,omitempty"`
	Trace    []string `json:"trace,omitempty"`
}

// Decision reasons.
const (
	ReasonGranted       = "granted"
	ReasonNoAssignments = "no active role assignments"
	ReasonNoMatch       = "no assignment satisfied grant, condition, deny list and restrictions"
)

// ResourceRecord is the projection of a business resource that conditions
// read. Creator takes precedence over OpenID as the owner.
type ResourceRecord struct {
	ID          string `json:"id" yaml:"id" validate:"required"`
	Creator     string `json:"creator,omitempty" yaml:"creator,omitempty"`
	OpenID      string `json:"openid,omitempty" yaml:"openid,omitempty"`
	BatchNumber string `json:"batch_number,omitempty" yaml:"batch_number,omitempty"`
}

// Owner returns Creator, falling back to OpenID.
func (r ResourceRecord) Owner() string {
	if r.Creator != "" {
		return r.Creator
	}
	return r.OpenID
}
