package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics records operation outcomes and the current aggregate exposure
// for scraping.
type VaultMetrics struct {
	deposits    *prometheus.CounterVec
	withdrawals *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	exposure    prometheus.Gauge
	latency     *prometheus.HistogramVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Metrics returns the lazily-initialised vault metrics registry.
func Metrics() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultd",
				Subsystem: "ledger",
				Name:      "deposits_total",
				Help:      "Committed deposits segmented by asset.",
			}, []string{"asset"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultd",
				Subsystem: "ledger",
				Name:      "withdrawals_total",
				Help:      "Committed withdrawals segmented by asset.",
			}, []string{"asset"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vaultd",
				Subsystem: "ledger",
				Name:      "rejections_total",
				Help:      "Rejected operations segmented by reason.",
			}, []string{"reason"}),
			exposure: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "vaultd",
				Subsystem: "ledger",
				Name:      "aggregate_exposure_ref",
				Help:      "Aggregate custodial exposure in reference units.",
			}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vaultd",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for vault HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			vaultRegistry.deposits,
			vaultRegistry.withdrawals,
			vaultRegistry.rejections,
			vaultRegistry.exposure,
			vaultRegistry.latency,
		)
	})
	return vaultRegistry
}

// ObserveDeposit increments the deposit counter for the asset.
func (m *VaultMetrics) ObserveDeposit(asset string) {
	if m == nil {
		return
	}
	m.deposits.WithLabelValues(asset).Inc()
}

// ObserveWithdrawal increments the withdrawal counter for the asset.
func (m *VaultMetrics) ObserveWithdrawal(asset string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(asset).Inc()
}

// ObserveRejection increments the rejection counter for the reason.
func (m *VaultMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// SetExposure publishes the aggregate exposure. Values beyond float64
// precision are approximated; the ledger remains the source of truth.
func (m *VaultMetrics) SetExposure(exposure *big.Int) {
	if m == nil || exposure == nil {
		return
	}
	value, _ := new(big.Float).SetInt(exposure).Float64()
	m.exposure.Set(value)
}

// ObserveLatency records a handler duration in seconds.
func (m *VaultMetrics) ObserveLatency(route string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(route).Observe(seconds)
}
