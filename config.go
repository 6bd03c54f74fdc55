package roleguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oarkflow/date"
	"gopkg.in/yaml.v3"
)

// Config represents a complete roleguard configuration: role definitions,
// assignments, the attribute data conditions read, and engine settings.
type Config struct {
	Version     uint16             `json:"version" yaml:"version"`
	Roles       []*RoleDefinition  `json:"roles" yaml:"roles" validate:"dive,required"`
	Assignments []AssignmentConfig `json:"assignments" yaml:"assignments" validate:"dive"`
	Departments map[string]string  `json:"departments,omitempty" yaml:"departments,omitempty"` // actor -> department
	Batches     []BatchConfig      `json:"batches,omitempty" yaml:"batches,omitempty" validate:"dive"`
	Resources   []ResourceConfig   `json:"resources,omitempty" yaml:"resources,omitempty" validate:"dive"`
	Engine      EngineConfig       `json:"engine" yaml:"engine"`
}

type AssignmentConfig struct {
	ID           string        `json:"id,omitempty" yaml:"id,omitempty"`
	Actor        string        `json:"actor" yaml:"actor" validate:"required"`
	RoleCode     string        `json:"role_code" yaml:"role_code" validate:"required"`
	Active       *bool         `json:"active,omitempty" yaml:"active,omitempty"`
	ExpiresAt    string        `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	DeniedGrants []DeniedGrant `json:"denied_grants,omitempty" yaml:"denied_grants,omitempty" validate:"dive"`
}

type BatchConfig struct {
	Actor       string `json:"actor" yaml:"actor" validate:"required"`
	BatchNumber string `json:"batch_number" yaml:"batch_number" validate:"required"`
}

type ResourceConfig struct {
	Collection     string `json:"collection" yaml:"collection" validate:"required"`
	ResourceRecord `json:",inline" yaml:",inline"`
}

type EngineConfig struct {
	LookupTimeout        int64  `json:"lookup_timeout_ms" yaml:"lookup_timeout_ms" validate:"min=0"`
	RoleCacheTTL         int64  `json:"role_cache_ttl_ms" yaml:"role_cache_ttl_ms" validate:"min=0"`
	RistrettoNumCounters int64  `json:"ristretto_num_counters" yaml:"ristretto_num_counters" validate:"min=0"`
	RistrettoMaxCost     int64  `json:"ristretto_max_cost" yaml:"ristretto_max_cost" validate:"min=0"`
	RistrettoBufferItems int64  `json:"ristretto_buffer_items" yaml:"ristretto_buffer_items" validate:"min=0"`
	AuditBuffer          int    `json:"audit_buffer" yaml:"audit_buffer" validate:"min=0"`
	AuditTimeout         int64  `json:"audit_timeout_ms" yaml:"audit_timeout_ms" validate:"min=0"`
	SessionWindow        int64  `json:"session_window_ms" yaml:"session_window_ms" validate:"min=0"`
	BatchWorkerCount     int    `json:"batch_worker_count" yaml:"batch_worker_count" validate:"min=0"`
	Timezone             string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config: %w", err)
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return cfg, nil
}

// LoadFile picks the decoder from the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

var configValidator = validator.New()

// Validate checks struct constraints and the cross-field rules the tags
// cannot express.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	var errs []error
	codes := make(map[string]bool, len(c.Roles))
	for _, r := range c.Roles {
		if codes[r.RoleCode] {
			errs = append(errs, fmt.Errorf("role %s: duplicate role_code", r.RoleCode))
		}
		codes[r.RoleCode] = true
		for i, g := range r.Grants {
			if err := validateCondition(g.Condition); err != nil {
				errs = append(errs, fmt.Errorf("role %s grant %d: %w", r.RoleCode, i, err))
			}
		}
		if rs := r.Restrictions; rs != nil && len(rs.AllowedHours) == 2 && rs.AllowedHours[0] > rs.AllowedHours[1] {
			errs = append(errs, fmt.Errorf("role %s: allowed_hours start after end", r.RoleCode))
		}
	}
	for i, a := range c.Assignments {
		if !codes[a.RoleCode] {
			errs = append(errs, fmt.Errorf("assignment %d: unknown role_code %s", i, a.RoleCode))
		}
		if a.ExpiresAt != "" {
			if _, err := date.Parse(a.ExpiresAt); err != nil {
				errs = append(errs, fmt.Errorf("assignment %d: expires_at: %w", i, err))
			}
		}
	}
	if c.Engine.Timezone != "" {
		if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("engine timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

func validateCondition(cond *Condition) error {
	if cond == nil {
		return nil
	}
	switch cond.Type {
	case ConditionOwnerOnly, ConditionBatchAccess:
		if cond.ResourceCollection == "" {
			return fmt.Errorf("%s condition requires resource_collection", cond.Type)
		}
	case ConditionTimeOfDay:
		if cond.StartHour > cond.EndHour {
			return fmt.Errorf("time_of_day start_hour %d after end_hour %d", cond.StartHour, cond.EndHour)
		}
	case ConditionDepartmentAccess:
		if len(cond.AllowedDepartments) == 0 {
			return fmt.Errorf("department_access condition requires allowed_departments")
		}
	default:
		return fmt.Errorf("unknown condition type %q", cond.Type)
	}
	return nil
}

// EngineOptions translates the engine section into options.
func (c *Config) EngineOptions() ([]EngineOption, error) {
	ec := c.Engine
	ms := func(v int64) time.Duration { return time.Duration(v) * time.Millisecond }
	opts := []EngineOption{}
	if ec.LookupTimeout > 0 {
		opts = append(opts, WithLookupTimeout(ms(ec.LookupTimeout)))
	}
	if ec.SessionWindow > 0 {
		opts = append(opts, WithSessionWindow(ms(ec.SessionWindow)))
	}
	if ec.AuditBuffer > 0 || ec.AuditTimeout > 0 {
		opts = append(opts, WithAuditQueue(ec.AuditBuffer, ms(ec.AuditTimeout)))
	}
	if ec.BatchWorkerCount > 0 {
		opts = append(opts, WithBatchWorkers(ec.BatchWorkerCount))
	}
	if ec.RoleCacheTTL > 0 {
		opts = append(opts, WithRoleCache(RoleCacheConfig{
			TTL:         ms(ec.RoleCacheTTL),
			NumCounters: ec.RistrettoNumCounters,
			MaxCost:     ec.RistrettoMaxCost,
			BufferItems: ec.RistrettoBufferItems,
		}))
	}
	if ec.Timezone != "" {
		loc, err := time.LoadLocation(ec.Timezone)
		if err != nil {
			return nil, fmt.Errorf("engine timezone: %w", err)
		}
		opts = append(opts, WithLocation(loc))
	}
	return opts, nil
}

// Assignment converts the config entry into a domain assignment.
func (a AssignmentConfig) Assignment() (*UserRoleAssignment, error) {
	out := &UserRoleAssignment{
		ID:           a.ID,
		Actor:        a.Actor,
		RoleCode:     a.RoleCode,
		IsActive:     a.Active == nil || *a.Active,
		DeniedGrants: a.DeniedGrants,
	}
	if a.ExpiresAt != "" {
		t, err := date.Parse(a.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("expires_at %q: %w", a.ExpiresAt, err)
		}
		out.ExpiresAt = &t
	}
	return out, nil
}

// Writers used to seed stores from a Config. The engine itself never writes.
type (
	RoleWriter interface {
		PutRole(ctx context.Context, r *RoleDefinition) error
	}
	AssignmentWriter interface {
		Assign(ctx context.Context, a *UserRoleAssignment) error
	}
	ActorWriter interface {
		SetDepartment(ctx context.Context, actor, department string) error
		AssignBatch(ctx context.Context, actor, batchNumber string) error
	}
	ResourceWriter interface {
		PutResource(ctx context.Context, collection string, rec ResourceRecord) error
	}
)

// SeedTargets names the stores Seed writes to. Nil targets are skipped.
type SeedTargets struct {
	Roles       RoleWriter
	Assignments AssignmentWriter
	Actors      ActorWriter
	Resources   ResourceWriter
}

// Seed writes the configuration's records into the target stores, in
// declaration order so that assignment order is preserved.
func (c *Config) Seed(ctx context.Context, t SeedTargets) error {
	if t.Roles != nil {
		for _, r := range c.Roles {
			if err := t.Roles.PutRole(ctx, r); err != nil {
				return fmt.Errorf("put role %s: %w", r.RoleCode, err)
			}
		}
	}
	if t.Assignments != nil {
		for i, ac := range c.Assignments {
			a, err := ac.Assignment()
			if err != nil {
				return fmt.Errorf("assignment %d: %w", i, err)
			}
			if err := t.Assignments.Assign(ctx, a); err != nil {
				return fmt.Errorf("assign role %s to %s: %w", a.RoleCode, a.Actor, err)
			}
		}
	}
	if t.Actors != nil {
		for actor, dept := range c.Departments {
			if err := t.Actors.SetDepartment(ctx, actor, dept); err != nil {
				return fmt.Errorf("set department for %s: %w", actor, err)
			}
		}
		for _, b := range c.Batches {
			if err := t.Actors.AssignBatch(ctx, b.Actor, b.BatchNumber); err != nil {
				return fmt.Errorf("assign batch %s to %s: %w", b.BatchNumber, b.Actor, err)
			}
		}
	}
	if t.Resources != nil {
		for _, r := range c.Resources {
			if err := t.Resources.PutResource(ctx, r.Collection, r.ResourceRecord); err != nil {
				return fmt.Errorf("put resource %s/%s: %w", r.Collection, r.ID, err)
			}
		}
	}
	return nil
}
