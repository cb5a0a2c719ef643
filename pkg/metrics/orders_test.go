package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOrderMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewOrderMetrics(reg)
	metrics.IncCaptured("gateway")
	metrics.IncCaptured("gateway")
	metrics.IncFulfilled()
	metrics.AddExpired(3)
	metrics.AddExpired(0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "orders_captured_total", "method", "gateway"); err != nil {
		t.Fatalf("fetch captured: %v", err)
	} else if got != 2 {
		t.Fatalf("expected captured=2, got %f", got)
	}

	fulfilled := findMetricFamily(mfs, "order_items_fulfilled_total")
	if fulfilled == nil || len(fulfilled.GetMetric()) == 0 {
		t.Fatal("fulfilled counter not exported")
	}
	if got := fulfilled.GetMetric()[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected fulfilled=1, got %f", got)
	}

	expired := findMetricFamily(mfs, "orders_expired_total")
	if expired == nil || len(expired.GetMetric()) == 0 {
		t.Fatal("expired counter not exported")
	}
	if got := expired.GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("expected expired=3, got %f", got)
	}
}

func TestOrderMetricsNilSafe(t *testing.T) {
	var metrics *OrderMetrics
	metrics.IncCaptured("cash")
	metrics.IncFulfilled()
	metrics.AddExpired(1)

	empty := NewOrderMetrics(nil)
	empty.IncCaptured("cash")
	empty.IncFulfilled()
	empty.AddExpired(1)
}
