package roleguard_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/oarkflow/roleguard"
	"github.com/oarkflow/roleguard/logger"
	"github.com/oarkflow/roleguard/stores"
)

// Generate test config with N roles, each assigned to every actor
func generateTestConfig(numRoles, numActors int) *roleguard.Config {
	b := roleguard.NewConfigBuilder()
	for i := 0; i < numRoles; i++ {
		b.AddRole(roleguard.NewRoleBuilder(fmt.Sprintf("role-%d", i)).
			Grant(fmt.Sprintf("module-%d", i), "read", "write").
			AllowedHours(0, 23).
			Build())
	}
	for a := 0; a < numActors; a++ {
		for i := 0; i < numRoles; i++ {
			b.Assign(fmt.Sprintf("user-%d", a), fmt.Sprintf("role-%d", i))
		}
	}
	return b.Build()
}

func newBenchEngine(b *testing.B, cfg *roleguard.Config, opts ...roleguard.EngineOption) *roleguard.Engine {
	b.Helper()
	roles := stores.NewMemoryRoleStore()
	assignments := stores.NewMemoryAssignmentStore()
	if err := cfg.Seed(context.Background(), roleguard.SeedTargets{Roles: roles, Assignments: assignments}); err != nil {
		b.Fatalf("seed: %v", err)
	}
	opts = append([]roleguard.EngineOption{roleguard.WithLogger(logger.NewNullLogger())}, opts...)
	e, err := roleguard.NewEngine(roles, assignments, opts...)
	if err != nil {
		b.Fatalf("engine: %v", err)
	}
	b.Cleanup(e.Close)
	return e
}

// Benchmark a check that matches on the last of 10 assignments
func BenchmarkCheckLastAssignment(b *testing.B) {
	e := newBenchEngine(b, generateTestConfig(10, 1))
	req := &roleguard.CheckRequest{Actor: "user-0", Module: "module-9", Action: "write",
		Context: roleguard.RequestContext{Now: time.Now()}}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Check(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCheckWithRoleCache(b *testing.B) {
	e := newBenchEngine(b, generateTestConfig(10, 1), roleguard.WithRoleCache(roleguard.RoleCacheConfig{TTL: time.Minute}))
	req := &roleguard.CheckRequest{Actor: "user-0", Module: "module-9", Action: "write",
		Context: roleguard.RequestContext{Now: time.Now()}}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Check(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBatchCheck(b *testing.B) {
	e := newBenchEngine(b, generateTestConfig(5, 20))
	reqs := make([]*roleguard.CheckRequest, 20)
	for i := range reqs {
		reqs[i] = &roleguard.CheckRequest{Actor: fmt.Sprintf("user-%d", i), Module: "module-4", Action: "read"}
	}
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.BatchCheck(ctx, reqs); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkYAMLLoad(b *testing.B) {
	data, err := generateTestConfig(50, 20).ToYAML()
	if err != nil {
		b.Fatal(err)
	}
	loader := roleguard.NewConfigLoader()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := loader.LoadYAML(data); err != nil {
			b.Fatal(err)
		}
	}
}
