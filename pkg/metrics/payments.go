package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records checkout and reconciliation outcomes.
type PaymentMetrics struct {
	checkouts    *prometheus.CounterVec
	verification *prometheus.CounterVec
	gatewayCalls *prometheus.HistogramVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_total",
		Help: "Checkout submissions by result.",
	}, []string{"result"})
	verification := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verification_total",
		Help: "Payment verification calls by outcome.",
	}, []string{"outcome"})
	gatewayCalls := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Duration of payment gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	reg.MustRegister(checkouts, verification, gatewayCalls)
	return &PaymentMetrics{
		checkouts:    checkouts,
		verification: verification,
		gatewayCalls: gatewayCalls,
	}
}

// IncCheckout increments the checkout counter for the named result.
func (m *PaymentMetrics) IncCheckout(result string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncVerification increments the verification counter for the named outcome.
func (m *PaymentMetrics) IncVerification(outcome string) {
	if m == nil || m.verification == nil {
		return
	}
	m.verification.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// ObserveGatewayCall records the duration of a gateway operation.
func (m *PaymentMetrics) ObserveGatewayCall(operation string, duration time.Duration) {
	if m == nil || m.gatewayCalls == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
