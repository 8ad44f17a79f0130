// Package metrics holds the Prometheus collectors shared across the
// service.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ConsoleDialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ae3gis_console_dials_total",
			Help: "Console connection attempts by outcome.",
		},
		[]string{"outcome"},
	)
	ConsoleCommandsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ae3gis_console_commands_total",
			Help: "Total commands sent over node consoles.",
		},
	)
	ConsoleCommandSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ae3gis_console_command_duration_seconds",
			Help:    "Wall-clock time per console command, including its read window.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		},
	)
	PlatformRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ae3gis_gns3_requests_total",
			Help: "Requests issued to the GNS3 API by method and status code.",
		},
		[]string{"method", "status"},
	)
	DHCPRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ae3gis_dhcp_runs_total",
			Help: "Two-phase DHCP assignment runs by outcome.",
		},
		[]string{"outcome"},
	)
	ScriptUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ae3gis_script_uploads_total",
			Help: "Script uploads over node consoles by outcome.",
		},
		[]string{"outcome"},
	)
	ScriptRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ae3gis_script_runs_total",
			Help: "Remote script executions by outcome.",
		},
		[]string{"outcome"},
	)
	ScenarioRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ae3gis_scenario_runs_total",
			Help: "Per-server scenario executions by outcome.",
		},
		[]string{"outcome"},
	)
	ProvisionErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ae3gis_collector_provision_errors_total",
			Help: "Errors accumulated while provisioning log collectors.",
		},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ae3gis_http_requests_total",
			Help: "Total number of HTTP requests served.",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(ConsoleDialsTotal)
	prometheus.MustRegister(ConsoleCommandsTotal)
	prometheus.MustRegister(ConsoleCommandSeconds)
	prometheus.MustRegister(PlatformRequestsTotal)
	prometheus.MustRegister(DHCPRunsTotal)
	prometheus.MustRegister(ScriptUploadsTotal)
	prometheus.MustRegister(ScriptRunsTotal)
	prometheus.MustRegister(ScenarioRunsTotal)
	prometheus.MustRegister(ProvisionErrorsTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
}
