package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the application.
// It includes counters for bot traffic, ticket transitions, notification
// outcomes and cache usage, and histograms for database and report durations.
type Metrics struct {
	CommandReceived  *prometheus.CounterVec   // Counter for received commands
	SentMessages     *prometheus.CounterVec   // Counter for sent messages
	NewUsers         prometheus.Counter       // Counter for registered employees
	Transitions      *prometheus.CounterVec   // Counter for ticket transitions
	Notifications    *prometheus.CounterVec   // Counter for notification outcomes
	CacheOps         *prometheus.CounterVec   // Counter for redis cache operations
	DBQueryDuration  *prometheus.HistogramVec // Histogram for database query durations
	ReportGeneration *prometheus.HistogramVec // Histogram for report generation durations
}

// NewMetrics creates a new Metrics instance with the provided Prometheus Registerer.
//
// Parameters:
//   - reg: A Prometheus Registerer used to register the metrics.
//
// Returns:
//   - A pointer to the newly created Metrics instance.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CommandReceived: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "telegram_commands_received_total",
			Help: "Total number of used commands",
		}, []string{"command"}), // command: start, claim, history, reset
		SentMessages: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "telegram_messages_sent_total",
			Help: "Output bot activity",
		}, []string{"type"}), // type: text, document, error
		NewUsers: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "telegram_new_users_total",
			Help: "Total number of employees registered through the bot",
		}),
		Transitions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "themis_ticket_transitions_total",
			Help: "Ticket transitions by action and outcome",
		}, []string{"action", "outcome"}), // outcome: ok, rejected, error
		Notifications: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "themis_notifications_total",
			Help: "Outbound notification attempts by outcome",
		}, []string{"outcome"}), // outcome: sent, retried, unreachable, rejected, failed
		CacheOps: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "themis_cache_operations_total",
			Help: "Redis cache operations",
		}, []string{"operation", "result"}), // operation: get, set; result: hit, miss, error
		DBQueryDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telegram_db_query_duration_seconds",
			Help:    "Duration of database queries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"query_type"}), // query_type: resolve_owners, client_name, search_staff
		ReportGeneration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name: "telegram_report_generation_duration_seconds",
			Help: "Duration of report excel generation.",
		}, []string{"scope"}), // scope: own, all
	}
}

// ObserveQuery records the duration of a query of queryType that started at start.
// Use it deferred: defer m.ObserveQuery("client_name", time.Now()).
func (m *Metrics) ObserveQuery(queryType string, start time.Time) {
	m.DBQueryDuration.WithLabelValues(queryType).Observe(time.Since(start).Seconds())
}
