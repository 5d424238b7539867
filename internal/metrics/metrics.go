// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pgmcp_build_info",
		Help: "Build information of the postgres MCP server",
	}, []string{"version"})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgmcp_tool_calls_total",
		Help: "Total tool invocations by tool and outcome (ok, or the error kind).",
	}, []string{"tool", "outcome"})

	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pgmcp_tool_call_duration_seconds",
		Help:    "Tool invocation latency, including database time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	GuardRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgmcp_guard_rejections_total",
		Help: "Queries rejected by the destructive-statement guard, by matched pattern.",
	}, []string{"pattern"})

	StartupPingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pgmcp_startup_ping_failures_total",
		Help: "Failed database connectivity checks at startup.",
	})
)
