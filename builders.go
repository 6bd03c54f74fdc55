package roleguard

import "time"

// Builders provide a fluent API for role definitions and assignments.

// OwnerOnly requires the resource in collection to be created by the actor.
func OwnerOnly(collection string) *Condition {
	return &Condition{Type: ConditionOwnerOnly, ResourceCollection: collection}
}

// TimeOfDay requires start <= hour <= end.
func TimeOfDay(start, end int) *Condition {
	return &Condition{Type: ConditionTimeOfDay, StartHour: start, EndHour: end}
}

// BatchAccess requires the resource's batch to be assigned to the actor.
func BatchAccess(collection string) *Condition {
	return &Condition{Type: ConditionBatchAccess, ResourceCollection: collection}
}

func DepartmentAccess(departments ...string) *Condition {
	return &Condition{Type: ConditionDepartmentAccess, AllowedDepartments: departments}
}

// RoleBuilder builds a RoleDefinition
type RoleBuilder struct {
	r *RoleDefinition
}

func NewRoleBuilder(code string) *RoleBuilder {
	return &RoleBuilder{r: &RoleDefinition{RoleCode: code, IsActive: true, Grants: []PermissionGrant{}}}
}

func (b *RoleBuilder) Name(n string) *RoleBuilder       { b.r.Name = n; return b }
func (b *RoleBuilder) Active(active bool) *RoleBuilder { b.r.IsActive = active; return b }
func (b *RoleBuilder) Grant(module string, actions ...string) *RoleBuilder {
	b.r.Grants = append(b.r.Grants, PermissionGrant{Module: module, Actions: actions})
	return b
}

// GrantIf appends a grant guarded by cond.
func (b *RoleBuilder) GrantIf(cond *Condition, module string, actions ...string) *RoleBuilder {
	b.r.Grants = append(b.r.Grants, PermissionGrant{Module: module, Actions: actions, Condition: cond})
	return b
}

func (b *RoleBuilder) AllowedHours(start, end int) *RoleBuilder {
	b.restrictions().AllowedHours = []int{start, end}
	return b
}

func (b *RoleBuilder) AllowedDays(days ...int) *RoleBuilder {
	b.restrictions().AllowedDays = append(b.restrictions().AllowedDays, days...)
	return b
}

func (b *RoleBuilder) AllowedIPRanges(ranges ...string) *RoleBuilder {
	b.restrictions().AllowedIPRanges = append(b.restrictions().AllowedIPRanges, ranges...)
	return b
}

func (b *RoleBuilder) MaxConcurrentSessions(n int) *RoleBuilder {
	b.restrictions().MaxConcurrentSessions = &n
	return b
}

func (b *RoleBuilder) Build() *RoleDefinition { return b.r }

func (b *RoleBuilder) restrictions() *Restrictions {
	if b.r.Restrictions == nil {
		b.r.Restrictions = &Restrictions{}
	}
	return b.r.Restrictions
}

// AssignmentBuilder builds a UserRoleAssignment
type AssignmentBuilder struct {
	a *UserRoleAssignment
}

func NewAssignmentBuilder(actor, roleCode string) *AssignmentBuilder {
	return &AssignmentBuilder{a: &UserRoleAssignment{Actor: actor, RoleCode: roleCode, IsActive: true}}
}

func (b *AssignmentBuilder) ID(id string) *AssignmentBuilder          { b.a.ID = id; return b }
func (b *AssignmentBuilder) Active(active bool) *AssignmentBuilder    { b.a.IsActive = active; return b }
func (b *AssignmentBuilder) ExpiresAt(t time.Time) *AssignmentBuilder { b.a.ExpiresAt = &t; return b }
func (b *AssignmentBuilder) Deny(module string, actions ...string) *AssignmentBuilder {
	b.a.DeniedGrants = append(b.a.DeniedGrants, DeniedGrant{Module: module, Actions: actions})
	return b
}
func (b *AssignmentBuilder) Build() *UserRoleAssignment { return b.a }
