// Package metrics registers the prometheus series the bot updates while
// trading:
//   - rotator_decisions_total{signal}      – scout decisions (buy|sell|hold)
//   - rotator_orders_total{side,outcome}   – orders placed by side and outcome
//   - rotator_job_failures_total{tag}      – scheduler job failures by tag
//   - rotator_gateway_errors_total{class}  – gateway errors (transient|permanent)
//   - rotator_portfolio_value              – portfolio value in the bridge asset
//
// Served in Prometheus text format at /metrics on the status API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ksred/coin-rotator/internal/types"
)

var (
	decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotator_decisions_total",
			Help: "Scout decisions taken",
		},
		[]string{"signal"},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotator_orders_total",
			Help: "Orders placed by side and outcome",
		},
		[]string{"side", "outcome"}, // outcome: filled|failed|unknown
	)

	jobFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotator_job_failures_total",
			Help: "Scheduled job failures by tag",
		},
		[]string{"tag"},
	)

	gatewayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotator_gateway_errors_total",
			Help: "Exchange gateway errors by class",
		},
		[]string{"class"}, // transient|permanent
	)

	portfolioValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rotator_portfolio_value",
			Help: "Portfolio value expressed in the bridge asset",
		},
	)
)

func init() {
	prometheus.MustRegister(decisions, orders, jobFailures, gatewayErrors, portfolioValue)
}

func IncDecision(signal types.Signal) { decisions.WithLabelValues(signal.String()).Inc() }

func IncOrder(side, outcome string) { orders.WithLabelValues(side, outcome).Inc() }

func IncJobFailure(tag string) { jobFailures.WithLabelValues(tag).Inc() }

func IncGatewayError(transient bool) {
	class := "permanent"
	if transient {
		class = "transient"
	}
	gatewayErrors.WithLabelValues(class).Inc()
}
func SetPortfolioValue(v float64) { portfolioValue.Set(v) }
