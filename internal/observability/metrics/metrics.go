package metrics

import "github.com/prometheus/client_golang/prometheus"

// SessionMetrics exposes counters/histograms for the session lifecycle.
type SessionMetrics struct {
	operationsTotal  *prometheus.CounterVec
	bookingConflicts *prometheus.CounterVec
	slotLatency      *prometheus.HistogramVec
}

func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		operationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teletherapy",
			Subsystem: "sessions",
			Name:      "operations_total",
			Help:      "Session lifecycle operations by outcome",
		}, []string{"operation", "outcome"}),
		bookingConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teletherapy",
			Subsystem: "sessions",
			Name:      "booking_rejections_total",
			Help:      "Bookings or reschedules rejected for availability reasons",
		}, []string{"reason"}),
		slotLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "teletherapy",
			Subsystem: "sessions",
			Name:      "slot_query_seconds",
			Help:      "Latency of available slot computation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cache"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.operationsTotal, m.bookingConflicts, m.slotLatency)
	return m
}

func (m *SessionMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *SessionMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.bookingConflicts.WithLabelValues(reason).Inc()
}

func (m *SessionMetrics) ObserveSlotQuery(cacheHit bool, seconds float64) {
	if m == nil {
		return
	}
	label := "miss"
	if cacheHit {
		label = "hit"
	}
	m.slotLatency.WithLabelValues(label).Observe(seconds)
}

// OutboxMetrics tracks event delivery.
type OutboxMetrics struct {
	deliveries *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	m := &OutboxMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "teletherapy",
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox event deliveries by type and status",
		}, []string{"event_type", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.deliveries)
	return m
}

func (m *OutboxMetrics) ObserveDelivery(eventType string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.deliveries.WithLabelValues(eventType, status).Inc()
}
