package pggate

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the counters a session reports. A nil *Metrics records nothing.
type Metrics struct {
	statements    *prometheus.CounterVec
	remoteOps     *prometheus.CounterVec
	opLatency     *prometheus.HistogramVec
	rowsFetched   prometheus.Counter
	nestedLookups *prometheus.CounterVec
}

// NewMetrics creates the gate metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		statements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pglitegate",
			Name:      "statements_executed_total",
			Help:      "Statements executed, by kind.",
		}, []string{"kind"}),
		remoteOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pglitegate",
			Name:      "remote_operations_total",
			Help:      "Remote storage operations issued, by type and outcome.",
		}, []string{"op", "outcome"}),
		opLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pglitegate",
			Name:      "remote_operation_duration_seconds",
			Help:      "Latency of remote storage operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
		rowsFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: "pglitegate",
			Name:      "rows_fetched_total",
			Help:      "Rows delivered to callers.",
		}),
		nestedLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pglitegate",
			Name:      "nested_index_lookups_total",
			Help:      "Secondary index lookups resolved for outer statements, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) statementExecuted(kind string) {
	if m == nil {
		return
	}
	m.statements.WithLabelValues(kind).Inc()
}

func (m *Metrics) remoteOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.remoteOps.WithLabelValues(op, outcome).Inc()
	m.opLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) rowDelivered() {
	if m == nil {
		return
	}
	m.rowsFetched.Inc()
}

func (m *Metrics) nestedLookup(result string) {
	if m == nil {
		return
	}
	m.nestedLookups.WithLabelValues(result).Inc()
}
