package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking and settlement flows.
type BookingMetrics struct {
	reservationsTotal  *prometheus.CounterVec
	settlementsTotal   *prometheus.CounterVec
	compensationsTotal *prometheus.CounterVec
	discrepanciesTotal prometheus.Counter
	gatewayLatency     *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		reservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellmind",
			Subsystem: "booking",
			Name:      "reservations_total",
			Help:      "Total slot reservation attempts",
		}, []string{"outcome"}),
		settlementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellmind",
			Subsystem: "settlement",
			Name:      "settlements_total",
			Help:      "Total settlement attempts by rail",
		}, []string{"rail", "outcome"}),
		compensationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wellmind",
			Subsystem: "settlement",
			Name:      "compensations_total",
			Help:      "Total compensating credits after a lost booking race",
		}, []string{"outcome"}),
		discrepanciesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wellmind",
			Subsystem: "settlement",
			Name:      "ledger_discrepancies_total",
			Help:      "Compensations that exhausted retries and need operator review",
		}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wellmind",
			Subsystem: "gateway",
			Name:      "request_latency_seconds",
			Help:      "Latency of checkout gateway calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservationsTotal, m.settlementsTotal, m.compensationsTotal, m.discrepanciesTotal, m.gatewayLatency)
	return m
}

func (m *BookingMetrics) ObserveReservation(outcome string) {
	if m == nil {
		return
	}
	m.reservationsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveSettlement(rail, outcome string) {
	if m == nil {
		return
	}
	m.settlementsTotal.WithLabelValues(rail, outcome).Inc()
}

func (m *BookingMetrics) ObserveCompensation(outcome string) {
	if m == nil {
		return
	}
	m.compensationsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveDiscrepancy() {
	if m == nil {
		return
	}
	m.discrepanciesTotal.Inc()
}

func (m *BookingMetrics) ObserveGatewayLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(operation).Observe(seconds)
}
