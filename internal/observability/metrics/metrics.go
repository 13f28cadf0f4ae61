package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReceptionistMetrics exposes counters/histograms for call handling.
type ReceptionistMetrics struct {
	turnsTotal      *prometheus.CounterVec
	extractionTotal *prometheus.CounterVec
	commitTotal     *prometheus.CounterVec
	usageFailures   prometheus.Counter
	webhookLatency  *prometheus.HistogramVec
}

func NewReceptionistMetrics(reg prometheus.Registerer) *ReceptionistMetrics {
	m := &ReceptionistMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "session",
			Name:      "turns_total",
			Help:      "Caller turns processed, by resulting state",
		}, []string{"flow", "state"}),
		extractionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "extraction",
			Name:      "strategy_total",
			Help:      "Extraction strategies that produced entities",
		}, []string{"strategy"}),
		commitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "commit",
			Name:      "results_total",
			Help:      "Commit attempts by result kind and outcome",
		}, []string{"kind", "outcome"}),
		usageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "receptionist",
			Subsystem: "commit",
			Name:      "usage_failures_total",
			Help:      "Usage updates that failed and were queued for retry",
		}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "receptionist",
			Subsystem: "http",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of voice platform webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.extractionTotal, m.commitTotal, m.usageFailures, m.webhookLatency)
	return m
}

func (m *ReceptionistMetrics) ObserveTurn(flow, state string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(flow, state).Inc()
}

func (m *ReceptionistMetrics) ObserveExtraction(strategies []string) {
	if m == nil {
		return
	}
	for _, s := range strategies {
		m.extractionTotal.WithLabelValues(s).Inc()
	}
}

// ObserveCommit implements commit.Observer.
func (m *ReceptionistMetrics) ObserveCommit(kind, outcome string) {
	if m == nil {
		return
	}
	m.commitTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveUsageFailure implements commit.Observer.
func (m *ReceptionistMetrics) ObserveUsageFailure() {
	if m == nil {
		return
	}
	m.usageFailures.Inc()
}

func (m *ReceptionistMetrics) ObserveWebhookLatency(source string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(source).Observe(seconds)
}
