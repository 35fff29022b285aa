// Package metrics holds the process-wide Prometheus instruments. They are
// registered on the default registry and exposed by the server's /metrics
// endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// SEMSRequests counts requests issued to the SEMS portal.
	SEMSRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solarmind_sems_requests_total",
		Help: "Requests issued to the SEMS portal by endpoint and result",
	}, []string{"endpoint", "result"})

	// SchedulerRuns counts scheduler job executions.
	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solarmind_scheduler_job_runs_total",
		Help: "Scheduler job executions by job and result",
	}, []string{"job", "result"})

	// PlugReadings counts smart plug readings collected and stored.
	PlugReadings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "solarmind_plug_readings_collected_total",
		Help: "Smart plug readings collected and stored",
	})

	// AlertsSent counts IFTTT alert deliveries.
	AlertsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "solarmind_alerts_sent_total",
		Help: "IFTTT alert events sent by event and result",
	}, []string{"event", "result"})
)

// ResultLabel maps an error to the result label value.
func ResultLabel(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
