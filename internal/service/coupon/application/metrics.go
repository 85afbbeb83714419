// internal/service/coupon/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 汇总优惠券服务对外暴露的 Prometheus 指标。
type Metrics struct {
	Issued         *prometheus.CounterVec
	Redemptions    *prometheus.CounterVec
	RateLimited    *prometheus.CounterVec
	CodeCollisions prometheus.Counter
	Latency        *prometheus.HistogramVec
}

// NewMetrics 创建并在 reg 上注册所有指标。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coupon",
			Name:      "issuance_total",
			Help:      "Issuance requests by outcome (created, existing, rejected, error).",
		}, []string{"outcome"}),
		Redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coupon",
			Name:      "redemptions_total",
			Help:      "Validation and redemption calls by outcome.",
		}, []string{"outcome"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coupon",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"kind"}),
		CodeCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "coupon",
			Name:      "code_collisions_total",
			Help:      "Unique-constraint conflicts hit while inserting a new code.",
		}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coupon",
			Name:      "operation_duration_seconds",
			Help:      "Latency of coupon service operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	reg.MustRegister(m.Issued, m.Redemptions, m.RateLimited, m.CodeCollisions, m.Latency)
	return m
}
