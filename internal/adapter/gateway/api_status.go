package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"agentcore/internal/domain"
	"agentcore/internal/usecase/orchestrator"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service     ServiceStatus      `json:"service"`
	Initialized bool               `json:"initialized"`
	Stats       orchestrator.Stats `json:"stats"`
	Tasks       TaskCounters       `json:"tasks"`
}

// ServiceStatus holds service overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// TaskCounters are the event-derived totals since start.
type TaskCounters struct {
	Queued    int64 `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	TasksQueued    atomic.Int64
	TasksCompleted atomic.Int64
	TasksFailed    atomic.Int64
	TasksCancelled atomic.Int64
	RecurringFired atomic.Int64
}

func (m *Metrics) snapshot() TaskCounters {
	return TaskCounters{
		Queued:    m.TasksQueued.Load(),
		Completed: m.TasksCompleted.Load(),
		Failed:    m.TasksFailed.Load(),
		Cancelled: m.TasksCancelled.Load(),
	}
}

// RegisterRESTHandlers registers GET /api/v1/status and GET /metrics on the
// gateway server. The returned Metrics are fed from deps.Bus.
func RegisterRESTHandlers(s *Server, deps HandlerDeps, version string) *Metrics {
	startTime := time.Now()
	metrics := &Metrics{}

	if deps.Bus != nil {
		counters := map[domain.EventType]*atomic.Int64{
			domain.EventTaskQueued:     &metrics.TasksQueued,
			domain.EventTaskCompleted:  &metrics.TasksCompleted,
			domain.EventTaskFailed:     &metrics.TasksFailed,
			domain.EventTaskCancelled:  &metrics.TasksCancelled,
			domain.EventRecurringFired: &metrics.RecurringFired,
		}
		for kind, counter := range counters {
			deps.Bus.Subscribe(kind, func(context.Context, domain.Event) {
				counter.Add(1)
			})
		}
	}

	s.RegisterHTTPRoute("/api/v1/status", statusHandler(deps, version, startTime, metrics))
	s.RegisterHTTPRoute("/metrics", metricsHandler(deps, startTime, metrics))
	return metrics
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps HandlerDeps, version string, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		resp := StatusResponse{
			Service: ServiceStatus{
				Name:          "agentcore",
				Version:       version,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Initialized: deps.Manager.Initialized(),
			Stats:       deps.Manager.GetStats(),
			Tasks:       metrics.snapshot(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
