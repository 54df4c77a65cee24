package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides observability for the signing service.
// Every method is safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Transaction outcomes by final state
	TransactionOutcome *prometheus.CounterVec

	// One-time codes handed to a delivery channel, by method and result
	OTPIssued *prometheus.CounterVec

	// One-time code validations by reason ("valid" on success)
	OTPValidation *prometheus.CounterVec

	// Fallback sink writes by result
	FallbackWrites *prometheus.CounterVec

	// Post-signing notifications by method and result
	Notifications *prometheus.CounterVec

	// End-to-end SignDocument latency
	SigningLatency prometheus.Histogram
}

// New creates a Metrics instance registered on its own registry together with
// the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TransactionOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "esign_signing_transactions_total",
			Help: "Signing transactions by final state",
		}, []string{"state"}),

		OTPIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "esign_otp_issued_total",
			Help: "One-time codes issued by delivery method and delivery result",
		}, []string{"method", "result"}),

		OTPValidation: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "esign_otp_validations_total",
			Help: "One-time code validations by outcome",
		}, []string{"outcome"}),

		FallbackWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "esign_evidence_fallback_writes_total",
			Help: "Evidence records written to the fallback sink after a primary failure",
		}, []string{"result"}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "esign_notifications_total",
			Help: "Notifications dispatched by method and result",
		}, []string{"method", "result"}),

		SigningLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "esign_sign_document_duration_seconds",
			Help:    "Duration of SignDocument from validation to persistence",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncrementTransaction records a transaction ending in state
func (m *Metrics) IncrementTransaction(state string) {
	if m != nil {
		m.TransactionOutcome.WithLabelValues(state).Inc()
	}
}

// IncrementOTPIssued records a code issuance and its delivery result
func (m *Metrics) IncrementOTPIssued(method, result string) {
	if m != nil {
		m.OTPIssued.WithLabelValues(method, result).Inc()
	}
}

// IncrementOTPValidation records a validation outcome
func (m *Metrics) IncrementOTPValidation(outcome string) {
	if m != nil {
		m.OTPValidation.WithLabelValues(outcome).Inc()
	}
}

// IncrementFallbackWrite records a fallback sink write
func (m *Metrics) IncrementFallbackWrite(result string) {
	if m != nil {
		m.FallbackWrites.WithLabelValues(result).Inc()
	}
}

// IncrementNotification records a notification attempt
func (m *Metrics) IncrementNotification(method, result string) {
	if m != nil {
		m.Notifications.WithLabelValues(method, result).Inc()
	}
}

// ObserveSigningLatency records a SignDocument duration
func (m *Metrics) ObserveSigningLatency(d time.Duration) {
	if m != nil {
		m.SigningLatency.Observe(d.Seconds())
	}
}
