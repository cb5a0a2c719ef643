package metrics

import "github.com/prometheus/client_golang/prometheus"

// OrderMetrics records order lifecycle counters.
type OrderMetrics struct {
	captured  *prometheus.CounterVec
	fulfilled prometheus.Counter
	expired   prometheus.Counter
}

// NewOrderMetrics registers the order lifecycle metrics on the provided registerer.
func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	if reg == nil {
		return &OrderMetrics{}
	}
	captured := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_captured_total",
		Help: "Orders with a successful payment capture, by payment method.",
	}, []string{"method"})
	fulfilled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "order_items_fulfilled_total",
		Help: "Order items marked fulfilled.",
	})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orders_expired_total",
		Help: "Pending orders cancelled by the expiration sweep.",
	})
	reg.MustRegister(captured, fulfilled, expired)
	return &OrderMetrics{
		captured:  captured,
		fulfilled: fulfilled,
		expired:   expired,
	}
}

// IncCaptured increments the capture counter for the payment method.
func (o *OrderMetrics) IncCaptured(method string) {
	if o == nil || o.captured == nil {
		return
	}
	o.captured.WithLabelValues(normalizeLabel(method)).Inc()
}

// IncFulfilled increments the fulfilled item counter.
func (o *OrderMetrics) IncFulfilled() {
	if o == nil || o.fulfilled == nil {
		return
	}
	o.fulfilled.Inc()
}

// AddExpired adds the number of orders cancelled by a sweep pass.
func (o *OrderMetrics) AddExpired(n int) {
	if o == nil || o.expired == nil || n <= 0 {
		return
	}
	o.expired.Add(float64(n))
}
