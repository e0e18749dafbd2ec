package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Event names the ledger core emits. The core only ever talks to the
// Emitter interface; which backend receives the events is wiring.
const (
	EventModelOperation    = "model_operation"
	EventTransactionAmount = "transaction_amount"
	EventCacheHit          = "cache_hit"
	EventCacheMiss         = "cache_miss"
	EventVendorBalance     = "vendor_balance"
)

// Emitter receives measurement events from the ledger core.
type Emitter interface {
	// Emit counts one occurrence of an event.
	Emit(event string, labels map[string]string)
	// Observe records a valued event: amounts for counters, the current
	// balance for gauges.
	Observe(event string, value float64, labels map[string]string)
}

// NopEmitter discards every event. Used in tests and when metrics are
// disabled.
type NopEmitter struct{}

func (NopEmitter) Emit(string, map[string]string)             {}
func (NopEmitter) Observe(string, float64, map[string]string) {}

// PrometheusEmitter maps ledger events onto Prometheus series.
type PrometheusEmitter struct {
	modelOperations   *prometheus.CounterVec
	transactionAmount *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	vendorBalance     *prometheus.GaugeVec
}

// NewPrometheusEmitter registers the ledger series on reg and returns the
// emitter. Pass prometheus.DefaultRegisterer in production.
func NewPrometheusEmitter(reg prometheus.Registerer) *PrometheusEmitter {
	e := &PrometheusEmitter{
		modelOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "model_operations_total",
			Help: "Total count of model operations",
		}, []string{"model", "operation"}),
		transactionAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transaction_amount_total",
			Help: "Total amount of transactions",
		}, []string{"transaction_type", "state"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total count of cache hits",
		}, []string{"cache_key"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total count of cache misses",
		}, []string{"cache_key"}),
		vendorBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vendor_balance",
			Help: "Current balance of vendors",
		}, []string{"vendor_id"}),
	}

	reg.MustRegister(
		e.modelOperations,
		e.transactionAmount,
		e.cacheHits,
		e.cacheMisses,
		e.vendorBalance,
	)
	return e
}

func (e *PrometheusEmitter) Emit(event string, labels map[string]string) {
	switch event {
	case EventModelOperation:
		e.modelOperations.With(prometheus.Labels(labels)).Inc()
	case EventCacheHit:
		e.cacheHits.With(prometheus.Labels(labels)).Inc()
	case EventCacheMiss:
		e.cacheMisses.With(prometheus.Labels(labels)).Inc()
	}
}

func (e *PrometheusEmitter) Observe(event string, value float64, labels map[string]string) {
	switch event {
	case EventTransactionAmount:
		e.transactionAmount.With(prometheus.Labels(labels)).Add(value)
	case EventVendorBalance:
		e.vendorBalance.With(prometheus.Labels(labels)).Set(value)
	}
}
