package metrics

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type CrowdsaleMetrics struct {
	purchases     prometheus.Counter
	unitsMinted   prometheus.Counter
	rejections    *prometheus.CounterVec
	refunds       *prometheus.CounterVec
	refundedWei   prometheus.Counter
	finalizations *prometheus.CounterVec
	totalRaised   prometheus.Gauge
	rate          prometheus.Gauge
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	throttles     *prometheus.CounterVec
}

var (
	crowdsaleOnce     sync.Once
	crowdsaleRegistry *CrowdsaleMetrics
)

// Crowdsale returns the lazily registered crowdsale collectors.
func Crowdsale() *CrowdsaleMetrics {
	crowdsaleOnce.Do(func() {
		crowdsaleRegistry = &CrowdsaleMetrics{
			purchases: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Name:      "purchases_total",
				Help:      "Count of accepted purchases.",
			}),
			unitsMinted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Name:      "units_minted_total",
				Help:      "Token units minted to buyers.",
			}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Name:      "rejections_total",
				Help:      "Rejected ledger operations by operation and reason.",
			}, []string{"operation", "reason"}),
			refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Name:      "refunds_total",
				Help:      "Refund claims that moved value, by source vault.",
			}, []string{"vault"}),
			refundedWei: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Name:      "refunded_wei_total",
				Help:      "Wei returned to buyers.",
			}),
			finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Name:      "finalizations_total",
				Help:      "Sale finalizations by outcome.",
			}, []string{"outcome"}),
			totalRaised: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "crowdsale",
				Name:      "raised_wei",
				Help:      "Spent value escrowed in the sale vault so far.",
			}),
			rate: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "crowdsale",
				Name:      "rate_wei_per_usd_cent",
				Help:      "Current conversion rate.",
			}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "HTTP requests by route and outcome.",
			}, []string{"route", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "crowdsale",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "crowdsale",
				Subsystem: "http",
				Name:      "throttled_total",
				Help:      "Requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			crowdsaleRegistry.purchases,
			crowdsaleRegistry.unitsMinted,
			crowdsaleRegistry.rejections,
			crowdsaleRegistry.refunds,
			crowdsaleRegistry.refundedWei,
			crowdsaleRegistry.finalizations,
			crowdsaleRegistry.totalRaised,
			crowdsaleRegistry.rate,
			crowdsaleRegistry.requests,
			crowdsaleRegistry.latency,
			crowdsaleRegistry.throttles,
		)
	})
	return crowdsaleRegistry
}

func (m *CrowdsaleMetrics) ObservePurchase(units *big.Int) {
	if m == nil {
		return
	}
	m.purchases.Inc()
	m.unitsMinted.Add(bigToFloat(units))
}

// ObserveRejection records a failed operation. Reasons should be stable
// strings such as "cap_exceeded" so dashboards stay consistent.
func (m *CrowdsaleMetrics) ObserveRejection(operation, reason string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.rejections.WithLabelValues(operation, reason).Inc()
}

func (m *CrowdsaleMetrics) ObserveRefund(sale, overpayment *big.Int) {
	if m == nil {
		return
	}
	if sale != nil && sale.Sign() > 0 {
		m.refunds.WithLabelValues("sale").Inc()
		m.refundedWei.Add(bigToFloat(sale))
	}
	if overpayment != nil && overpayment.Sign() > 0 {
		m.refunds.WithLabelValues("overpayment").Inc()
		m.refundedWei.Add(bigToFloat(overpayment))
	}
}

func (m *CrowdsaleMetrics) ObserveFinalized(goalReached bool) {
	if m == nil {
		return
	}
	outcome := "goal_missed"
	if goalReached {
		outcome = "goal_reached"
	}
	m.finalizations.WithLabelValues(outcome).Inc()
}

func (m *CrowdsaleMetrics) SetRate(rate *big.Int) {
	if m == nil {
		return
	}
	m.rate.Set(bigToFloat(rate))
}

func (m *CrowdsaleMetrics) SetTotalRaised(total *big.Int) {
	if m == nil {
		return
	}
	m.totalRaised.Set(bigToFloat(total))
}

// ObserveRequest records one HTTP request against route.
func (m *CrowdsaleMetrics) ObserveRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	route = strings.TrimSpace(route)
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = fmt.Sprintf("error_%d", status)
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *CrowdsaleMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
