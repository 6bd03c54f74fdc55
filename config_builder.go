package roleguard

import "time"

// ConfigBuilder provides fluent API for building configurations
type ConfigBuilder struct {
	cfg *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:     1,
			Roles:       []*RoleDefinition{},
			Assignments: []AssignmentConfig{},
			Departments: make(map[string]string),
			Engine: EngineConfig{
				LookupTimeout:    int64(DefaultLookupTimeout / time.Millisecond),
				AuditBuffer:      DefaultAuditBuffer,
				AuditTimeout:     int64(DefaultAuditTimeout / time.Millisecond),
				SessionWindow:    int64(DefaultSessionWindow / time.Millisecond),
				BatchWorkerCount: DefaultBatchWorkers,
			},
		},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

func (b *ConfigBuilder) AddRole(r *RoleDefinition) *ConfigBuilder {
	b.cfg.Roles = append(b.cfg.Roles, r)
	return b
}

// Assign adds an active, non-expiring assignment. Use AddAssignment for the
// full form.
func (b *ConfigBuilder) Assign(actor, roleCode string) *ConfigBuilder {
	return b.AddAssignment(AssignmentConfig{Actor: actor, RoleCode: roleCode})
}

func (b *ConfigBuilder) AddAssignment(a AssignmentConfig) *ConfigBuilder {
	b.cfg.Assignments = append(b.cfg.Assignments, a)
	return b
}

func (b *ConfigBuilder) Department(actor, department string) *ConfigBuilder {
	b.cfg.Departments[actor] = department
	return b
}

func (b *ConfigBuilder) Batch(actor, batchNumber string) *ConfigBuilder {
	b.cfg.Batches = append(b.cfg.Batches, BatchConfig{Actor: actor, BatchNumber: batchNumber})
	return b
}

func (b *ConfigBuilder) AddResource(collection string, rec ResourceRecord) *ConfigBuilder {
	b.cfg.Resources = append(b.cfg.Resources, ResourceConfig{Collection: collection, ResourceRecord: rec})
	return b
}

func (b *ConfigBuilder) EngineSettings(fn func(*EngineConfig)) *ConfigBuilder {
	fn(&b.cfg.Engine)
	return b
}

func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	return b.cfg.ToYAML()
}

func (b *ConfigBuilder) ToJSON() ([]byte, error) {
	return b.cfg.ToJSON()
}
