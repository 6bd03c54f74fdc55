package roleguard

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for permission checks. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	decisions    *prometheus.CounterVec
	duration     prometheus.Histogram
	repoErrors   *prometheus.CounterVec
	auditDropped prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// NewMetrics registers the engine metrics against registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roleguard_decisions_total",
			Help: "Permission decisions by outcome and reason.",
		}, []string{"granted", "reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roleguard_check_duration_seconds",
			Help:    "Time spent evaluating a permission check.",
			Buckets: prometheus.DefBuckets,
		}),
		repoErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roleguard_repository_errors_total",
			Help: "Checks aborted because a repository was unavailable.",
		}, []string{"repository"}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "roleguard_audit_dropped_total",
			Help: "Audit records dropped because the queue was full or closed.",
		}),
	}
	registerer.MustRegister(m.decisions, m.duration, m.repoErrors, m.auditDropped)
	return m
}

func (m *Metrics) observeCheck(res *CheckResult, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	if err != nil {
		var repoErr *RepositoryError
		if errors.As(err, &repoErr) {
			m.repoErrors.WithLabelValues(repoErr.Repository).Inc()
		}
		return
	}
	granted := "false"
	if res.Granted {
		granted = "true"
	}
	m.decisions.WithLabelValues(granted, res.Reason).Inc()
}

func (m *Metrics) auditDrop() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}
