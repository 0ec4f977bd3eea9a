package verifier

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Verifications        *prometheus.CounterVec
	VerificationDuration prometheus.Histogram
	SessionsInitiated    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mdoc_age_verifications_total",
			Help: "Total number of age verification attempts by result and failure reason",
		}, []string{"result", "reason"}),
		VerificationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mdoc_age_verification_duration_seconds",
			Help:    "Duration of age verification attempts",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		SessionsInitiated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mdoc_age_sessions_initiated_total",
			Help: "Total number of verification sessions initiated by protocol and mode",
		}, []string{"protocol", "mode"}),
	}
}

func (m *Metrics) observeVerification(res *Result, start time.Time) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(res.outcome(), res.reasonLabel()).Inc()
	m.VerificationDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeInitiation(protocol, mode string) {
	if m == nil {
		return
	}
	m.SessionsInitiated.WithLabelValues(protocol, mode).Inc()
}
