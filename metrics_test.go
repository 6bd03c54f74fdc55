package roleguard

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestEngineMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	roles := newFakeRoles(NewRoleBuilder("r").Grant("orders", "read").Build())
	assignments := &fakeAssignments{list: []*UserRoleAssignment{NewAssignmentBuilder("u1", "r").Build()}}
	e := newTestEngine(t, roles, assignments, WithMetrics(metrics))

	mustCheck(t, e, req("u1", "orders", "read"))
	mustCheck(t, e, req("u1", "orders", "read"))
	mustCheck(t, e, req("u1", "orders", "write"))
	assignments.err = errors.New("down")
	_, _ = e.Check(context.Background(), req("u1", "orders", "read"))

	if v := counterValue(t, reg, "roleguard_decisions_total", map[string]string{"granted": "true", "reason": ReasonGranted}); v != 2 {
		t.Fatalf("expected 2 grants, got %v", v)
	}
	if v := counterValue(t, reg, "roleguard_decisions_total", map[string]string{"granted": "false", "reason": ReasonNoMatch}); v != 1 {
		t.Fatalf("expected 1 denial, got %v", v)
	}
	if v := counterValue(t, reg, "roleguard_repository_errors_total", map[string]string{"repository": "user role repository"}); v != 1 {
		t.Fatalf("expected 1 repository error, got %v", v)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.observeCheck(&CheckResult{Granted: true}, nil, 0)
	m.auditDrop()
}
