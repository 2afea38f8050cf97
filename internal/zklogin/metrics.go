package zklogin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pipeline step outcomes and tracks proving latency. A nil
// *Metrics is a no-op so library callers can skip observability entirely.
type Metrics struct {
	steps        *prometheus.CounterVec
	proofLatency prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zklogin_pipeline_steps_total",
			Help: "Pipeline step executions by step name and outcome.",
		}, []string{"step", "outcome"}),
		proofLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zklogin_proof_request_seconds",
			Help:    "Latency of proving service requests.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.steps, m.proofLatency)
	return m
}

func (m *Metrics) ObserveStep(step string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.steps.WithLabelValues(step, outcome).Inc()
}

func (m *Metrics) ObserveProofLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.proofLatency.Observe(d.Seconds())
}
