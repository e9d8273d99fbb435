package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics groups the moderation counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	verdicts          *prometheus.CounterVec
	escalations       *prometheus.CounterVec
	verifications     *prometheus.CounterVec
	platformFailures  *prometheus.CounterVec
	messageProcessing *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_verdicts_total",
				Help: "Messages removed by screening, by verdict code",
			},
			[]string{"code"},
		),
		escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_escalations_total",
				Help: "Escalation outcomes",
			},
			[]string{"outcome"},
		),
		verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_verifications_total",
				Help: "Join verification transitions",
			},
			[]string{"result"},
		),
		platformFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_platform_failures_total",
				Help: "Failed messaging platform calls",
			},
			[]string{"operation"},
		),
		messageProcessing: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_message_processing_duration_seconds",
				Help:    "Time spent screening a message",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
	}
	m.registry.MustRegister(
		m.verdicts,
		m.escalations,
		m.verifications,
		m.platformFailures,
		m.messageProcessing,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordVerdict(code string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordEscalation(outcome string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordVerification(result string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordPlatformFailure(operation string) {
	if m == nil {
		return
	}
	m.platformFailures.WithLabelValues(operation).Inc()
}

// StartMessageProcessing returns a function recording the elapsed time under the given status.
func (m *Metrics) StartMessageProcessing() func(status string) {
	started := time.Now()
	return func(status string) {
		if m == nil {
			return
		}
		m.messageProcessing.WithLabelValues(status).Observe(time.Since(started).Seconds())
	}
}
