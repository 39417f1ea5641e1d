// Package metrics provides Prometheus metrics for the PADnext exchange.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	OrdersSubmitted       prometheus.Counter
	ReceiptsProcessed     *prometheus.CounterVec
	OrphanReceipts        prometheus.Counter
	ValidationFailures    *prometheus.CounterVec
	Violations            *prometheus.CounterVec
	ProcessingDuration    *prometheus.HistogramVec
	Deliveries            *prometheus.GaugeVec
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	DuplicateMessages     prometheus.Counter
	ConsumerLag           *prometheus.GaugeVec
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates metrics on a fresh registry that also exports the Go runtime
// and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates metrics registered with reg
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		OrdersSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "padnext_orders_submitted_total",
			Help: "Total delivery orders encoded and registered",
		}),
		ReceiptsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padnext_receipts_processed_total",
			Help: "Total receipts applied, by status code",
		}, []string{"status"}),
		OrphanReceipts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "padnext_receipts_orphaned_total",
			Help: "Total receipts for unknown transfer numbers",
		}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padnext_validation_failures_total",
			Help: "Documents rejected by validation, by root element",
		}, []string{"root"}),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "padnext_violations_total",
			Help: "Reported violations, by kind",
		}, []string{"kind"}),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "padnext_processing_duration_seconds",
			Help:    "Document processing duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		Deliveries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "padnext_deliveries",
			Help: "Tracked transfer numbers, by state",
		}, []string{"state"}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		DuplicateMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_duplicate_total",
			Help: "Consumed messages skipped as already processed",
		}),
		ConsumerLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Records not yet committed by the consumer group, by topic",
		}, []string{"topic"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.OrdersSubmitted,
		m.ReceiptsProcessed,
		m.OrphanReceipts,
		m.ValidationFailures,
		m.Violations,
		m.ProcessingDuration,
		m.Deliveries,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.DuplicateMessages,
		m.ConsumerLag,
		m.OutboxPending,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for these metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
