package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for the booking lifecycle and its side effects.
type BookingMetrics struct {
	createTotal       *prometheus.CounterVec
	cancelTotal       *prometheus.CounterVec
	degradedTotal     prometheus.Counter
	sideEffectTotal   *prometheus.CounterVec
	availabilityTimer prometheus.Histogram
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		createTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "booking",
			Name:      "create_total",
			Help:      "Booking creation attempts by outcome",
		}, []string{"result"}),
		cancelTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "booking",
			Name:      "cancel_total",
			Help:      "Booking cancellation attempts by actor and outcome",
		}, []string{"actor", "result"}),
		degradedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "availability",
			Name:      "degraded_total",
			Help:      "Availability lookups computed without the external calendar",
		}),
		sideEffectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "practice",
			Subsystem: "booking",
			Name:      "side_effect_total",
			Help:      "Calendar and email side effects by name and outcome",
		}, []string{"effect", "result"}),
		availabilityTimer: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "practice",
			Subsystem: "availability",
			Name:      "lookup_seconds",
			Help:      "Latency of availability computation",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.createTotal, m.cancelTotal, m.degradedTotal, m.sideEffectTotal, m.availabilityTimer)
	return m
}

func (m *BookingMetrics) ObserveCreate(result string) {
	if m == nil {
		return
	}
	m.createTotal.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveCancel(actor, result string) {
	if m == nil {
		return
	}
	m.cancelTotal.WithLabelValues(actor, result).Inc()
}

func (m *BookingMetrics) ObserveDegraded() {
	if m == nil {
		return
	}
	m.degradedTotal.Inc()
}

func (m *BookingMetrics) ObserveSideEffect(effect string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.sideEffectTotal.WithLabelValues(effect, result).Inc()
}

func (m *BookingMetrics) ObserveAvailabilityLatency(seconds float64) {
	if m == nil {
		return
	}
	m.availabilityTimer.Observe(seconds)
}
