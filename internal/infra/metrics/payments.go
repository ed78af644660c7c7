package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		stkPushesTotal,
		callbacksTotal,
		gatewayCallLatency,
	)
}

var (
	stkPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_pushes_total",
			Help: "STK push initiations by outcome (accepted/rejected/unavailable/invalid).",
		},
		[]string{"outcome"},
	)

	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stk_callbacks_total",
			Help: "Gateway callbacks by result (success/failed/duplicate/malformed).",
		},
		[]string{"result"},
	)

	gatewayCallLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_call_latency_seconds",
			Help:    "Outbound Daraja call latency by operation.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
		},
		[]string{"op", "success"},
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncStkPush(outcome string) {
	stkPushesTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncCallback(result string) {
	callbacksTotal.WithLabelValues(norm(result)).Inc()
}

func ObserveGatewayCall(op string, d time.Duration, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	gatewayCallLatency.WithLabelValues(norm(op), label).Observe(d.Seconds())
}
