package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	claimRequests *prometheus.CounterVec
	keysIssued    *prometheus.CounterVec
	stock         *prometheus.GaugeVec
	claimDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		claimRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyshop",
			Name:      "claim_requests_total",
			Help:      "Claim requests by outcome.",
		}, []string{"outcome"}),
		keysIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyshop",
			Name:      "keys_issued_total",
			Help:      "Keys removed from a pool and issued to a buyer.",
		}, []string{"product_id"}),
		stock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "keyshop",
			Name:      "stock_available",
			Help:      "Unclaimed keys per product at the last stock read.",
		}, []string{"product_id"}),
		claimDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "keyshop",
			Name:      "claim_duration_seconds",
			Help:      "Time spent serving claim requests.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.claimRequests, m.keysIssued, m.stock, m.claimDuration)
	return m
}

func (m *Metrics) observeClaim(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.claimRequests.WithLabelValues(outcome).Inc()
	m.claimDuration.Observe(seconds)
}

func (m *Metrics) keyIssued(productID string) {
	if m == nil {
		return
	}
	m.keysIssued.WithLabelValues(productID).Inc()
}

func (m *Metrics) setStock(stock map[string]int) {
	if m == nil {
		return
	}
	for id, n := range stock {
		m.stock.WithLabelValues(id).Set(float64(n))
	}
}
