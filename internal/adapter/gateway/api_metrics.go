package gateway

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"
)

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
// This uses the lightweight text format to avoid pulling in the full prometheus client.
func metricsHandler(deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		stats := deps.Manager.GetStats()

		// Registries.
		writeMetric(w, "agentcore_agents_registered", "gauge", "Number of registered agents.", stats.Agents.Total)
		writeMetric(w, "agentcore_agents_enabled", "gauge", "Number of enabled agents.", stats.Agents.Enabled)
		writeMetric(w, "agentcore_tools_registered", "gauge", "Number of registered tools.", stats.Tools.Total)

		// Scheduler.
		sched := stats.Scheduler
		writeMetric(w, "agentcore_queue_length", "gauge", "Tasks waiting in the queue.", sched.QueueLength)
		writeMetric(w, "agentcore_active_tasks", "gauge", "Tasks currently executing.", sched.ActiveTasks)
		writeMetric(w, "agentcore_max_concurrent", "gauge", "Concurrency bound of the scheduler.", sched.MaxConcurrent)
		writeMetric(w, "agentcore_scheduler_completed_total", "counter", "Scheduled tasks that finished successfully.", sched.CompletedTasks)
		writeMetric(w, "agentcore_scheduler_failed_total", "counter", "Scheduled tasks that finished unsuccessfully.", sched.FailedTasks)
		writeMetric(w, "agentcore_average_wait_ms", "gauge", "Average queue wait of finished tasks.", sched.AverageWaitTime)
		writeMetric(w, "agentcore_average_execution_ms", "gauge", "Average execution time of finished tasks.", sched.AverageExecutionTime)

		// Event counters.
		writeMetric(w, "agentcore_tasks_queued_total", "counter", "Total task:queued events.", metrics.TasksQueued.Load())
		writeMetric(w, "agentcore_tasks_cancelled_total", "counter", "Total task:cancelled events.", metrics.TasksCancelled.Load())
		writeMetric(w, "agentcore_recurring_fired_total", "counter", "Total recurring submissions.", metrics.RecurringFired.Load())

		writeMetric(w, "agentcore_uptime_seconds", "gauge", "Seconds since the service started.", int64(time.Since(startTime).Seconds()))

		// Go runtime metrics.
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		writeMetric(w, "go_goroutines", "gauge", "Number of goroutines.", runtime.NumGoroutine())
		writeMetric(w, "go_memstats_alloc_bytes", "gauge", "Bytes of allocated heap objects.", mem.Alloc)
		writeMetric(w, "go_memstats_sys_bytes", "gauge", "Total bytes of memory obtained from the OS.", mem.Sys)
	}
}

func writeMetric(w io.Writer, name, kind, help string, value any) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	switch v := value.(type) {
	case float64:
		fmt.Fprintf(w, "%s %g\n", name, v)
	default:
		fmt.Fprintf(w, "%s %d\n", name, v)
	}
}
