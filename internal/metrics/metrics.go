package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SketchSage.
type Metrics struct {
	// Payment metrics
	CheckoutsTotal       *prometheus.CounterVec
	PaymentsSuccessTotal *prometheus.CounterVec
	PaymentsFailedTotal  *prometheus.CounterVec
	PaymentAmountTotal   *prometheus.CounterVec

	// Webhook metrics
	WebhooksTotal         *prometheus.CounterVec
	WebhookReplaysTotal   prometheus.Counter
	WebhookDuration       *prometheus.HistogramVec
	NotifyDeliveriesTotal *prometheus.CounterVec
	NotifyRetriesTotal    prometheus.Counter

	// Credit ledger metrics
	CreditMutationsTotal *prometheus.CounterVec
	CreditsGrantedTotal  prometheus.Counter
	CreditsSpentTotal    prometheus.Counter

	// Evaluation metrics
	SubmissionsTotal         *prometheus.CounterVec
	SubmissionsRejectedTotal *prometheus.CounterVec
	FeedbackDeliveredTotal   *prometheus.CounterVec
	QuestionsAskedTotal      prometheus.Counter

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		CheckoutsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sketchsage_checkouts_total",
				Help: "Total number of checkout sessions created",
			},
			[]string{"package", "currency"},
		),
		PaymentsSuccessTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sketchsage_payments_success_total",
				Help: "Total number of reconciled payments",
			},
			[]string{"package", "currency"},
		),
		PaymentsFailedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sketchsage_payments_failed_total",
				Help: "Total number of payment reconciliation failures",
			},
			[]string{"reason"},
		),
		PaymentAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sketchsage_payment_amount_total",
				Help: "Total payment amount in minor currency units",
			},
			[]string{"currency"},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sketchsage_webhooks_total",
				Help: "Total number of gateway webhooks received",
			},
			[]string{"type", "status"},
		),
		WebhookReplaysTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sketchsage_webhook_replays_total",
				Help: "Total number of webhook deliveries skipped as already processed",
			},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sketchsage_webhook_duration_seconds",
				Help:    "Time taken to process a gateway webhook",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"type"},
		),
		NotifyDeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sketchsage_notify_deliveries_total",
				Help: "Total number of outbound notification attempts",
			},
			[]string{"event", "status"},
		),
		NotifyRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sketchsage_notify_retries_total",
				Help: "Total number of outbound notification retries",
			},
		),

		CreditMutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sketchsage_credit_mutations_total",
				Help: "Total number of credit balance mutations",
			},
			[]string{"direction", "outcome"},
		),
		CreditsGrantedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sketchsage_credits_granted_total",
				Help: "Total credits granted through purchases and welcome grants",
			},
		),
		CreditsSpentTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sketchsage_credits_spent_total",
				Help: "Total credits spent on evaluations",
			},
		),

		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sketchsage_submissions_total",
				Help: "Total number of evaluation submissions",
			},
			[]string{"media_type"},
		),
		SubmissionsRejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sketchsage_submissions_rejected_total",
				Help: "Total number of rejected evaluation submissions",
			},
			[]string{"reason"},
		),
		FeedbackDeliveredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sketchsage_feedback_delivered_total",
				Help: "Total number of completed evaluations",
			},
			[]string{"feedback_type"},
		),
		QuestionsAskedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sketchsage_questions_asked_total",
				Help: "Total number of follow-up questions asked",
			},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sketchsage_rate_limit_hits_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"limiter"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sketchsage_db_query_duration_seconds",
				Help:    "Duration of database queries",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sketchsage_db_connections_active",
				Help: "Number of active database connections",
			},
		),
	}
}

// ObserveDBQuery records a database query duration.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// SetDBConnectionsActive reports the current size of the connection pool.
func (m *Metrics) SetDBConnectionsActive(n int) {
	if m == nil {
		return
	}
	m.DBConnectionsActive.Set(float64(n))
}
