package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusEmitter(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewPrometheusEmitter(reg)

	t.Run("model operations count per model and operation", func(t *testing.T) {
		e.Emit(EventModelOperation, map[string]string{"model": "VendorTransaction", "operation": "approve"})
		e.Emit(EventModelOperation, map[string]string{"model": "VendorTransaction", "operation": "approve"})
		e.Emit(EventModelOperation, map[string]string{"model": "VendorTransaction", "operation": "reject"})

		approved := e.modelOperations.WithLabelValues("VendorTransaction", "approve")
		assert.Equal(t, float64(2), testutil.ToFloat64(approved))
	})

	t.Run("transaction amounts accumulate", func(t *testing.T) {
		e.Observe(EventTransactionAmount, 400, map[string]string{"transaction_type": "phone_number", "state": "APPROVED"})
		e.Observe(EventTransactionAmount, 100, map[string]string{"transaction_type": "phone_number", "state": "APPROVED"})

		counter := e.transactionAmount.WithLabelValues("phone_number", "APPROVED")
		assert.Equal(t, float64(500), testutil.ToFloat64(counter))
	})

	t.Run("vendor balance gauge tracks last value", func(t *testing.T) {
		e.Observe(EventVendorBalance, 1000, map[string]string{"vendor_id": "7"})
		e.Observe(EventVendorBalance, 600, map[string]string{"vendor_id": "7"})

		gauge := e.vendorBalance.WithLabelValues("7")
		assert.Equal(t, float64(600), testutil.ToFloat64(gauge))
	})

	t.Run("cache hit and miss counters", func(t *testing.T) {
		e.Emit(EventCacheHit, map[string]string{"cache_key": "vendors:detail:7"})
		e.Emit(EventCacheMiss, map[string]string{"cache_key": "vendors:detail:7"})
		e.Emit(EventCacheMiss, map[string]string{"cache_key": "vendors:detail:7"})

		assert.Equal(t, float64(1), testutil.ToFloat64(e.cacheHits.WithLabelValues("vendors:detail:7")))
		assert.Equal(t, float64(2), testutil.ToFloat64(e.cacheMisses.WithLabelValues("vendors:detail:7")))
	})

	t.Run("unknown events are ignored", func(t *testing.T) {
		e.Emit("no_such_event", nil)
		e.Observe("no_such_event", 1, nil)
	})
}

func TestNopEmitter(t *testing.T) {
	var e Emitter = NopEmitter{}
	e.Emit(EventModelOperation, map[string]string{"model": "Vendor", "operation": "create"})
	e.Observe(EventVendorBalance, 100, map[string]string{"vendor_id": "1"})
}
