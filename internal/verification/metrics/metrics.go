package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the verification flow. All methods
// are nil-safe so services and clients can run without metrics in tests.
type Metrics struct {
	SessionsStarted      prometheus.Counter
	StartFailures        *prometheus.CounterVec
	PollsTotal           *prometheus.CounterVec
	WebhooksReceived     *prometheus.CounterVec
	Reconciliations      *prometheus.CounterVec
	DuplicateEffects     prometheus.Counter
	ProviderCallDuration *prometheus.HistogramVec
}

// New creates and registers verification metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "kinship_verification_sessions_started_total",
			Help: "Total number of provider verification sessions created",
		}),
		StartFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinship_verification_start_failures_total",
			Help: "Failed start_verification calls by error code",
		}, []string{"code"}),
		PollsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinship_verification_polls_total",
			Help: "Poll requests by reported status",
		}, []string{"status"}),
		WebhooksReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinship_verification_webhooks_received_total",
			Help: "Webhook deliveries by outcome (accepted, ignored, invalid_signature, malformed)",
		}, []string{"outcome"}),
		Reconciliations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kinship_verification_reconciliations_total",
			Help: "Profile reconciliations by source and resulting status",
		}, []string{"source", "status"}),
		DuplicateEffects: f.NewCounter(prometheus.CounterOpts{
			Name: "kinship_verification_duplicate_effects_suppressed_total",
			Help: "Reconciliations whose downstream side effects were already applied",
		}),
		ProviderCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kinship_verification_provider_call_duration_seconds",
			Help:    "Latency of outbound provider calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation", "outcome"}),
	}
}

func (m *Metrics) IncSessionsStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

func (m *Metrics) IncStartFailure(code string) {
	if m == nil {
		return
	}
	m.StartFailures.WithLabelValues(code).Inc()
}

func (m *Metrics) IncPoll(status string) {
	if m == nil {
		return
	}
	m.PollsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) IncWebhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhooksReceived.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncReconciliation(source, status string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(source, status).Inc()
}

func (m *Metrics) IncDuplicateEffect() {
	if m == nil {
		return
	}
	m.DuplicateEffects.Inc()
}

func (m *Metrics) ObserveProviderCall(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderCallDuration.WithLabelValues(operation, outcome).Observe(seconds)
}
