package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/sales-copilot/internal/agent"
	"github.com/Rrens/sales-copilot/internal/api/response"
)

// Pinger is a dependency the server needs before it takes traffic
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck returns a simple health check response
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}

// ReadyCheck returns readiness status for every named dependency
func ReadyCheck(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := make(map[string]string, len(deps))
		ready := true
		for name, dep := range deps {
			if err := dep.Ping(r.Context()); err != nil {
				status[name] = err.Error()
				ready = false
				continue
			}
			status[name] = "ok"
		}

		if !ready {
			response.ServiceUnavailable(w, status)
			return
		}

		response.OK(w, map[string]any{
			"status": "ready",
			"checks": status,
		})
	}
}

// ListAgents returns the agent modes that have an endpoint
func ListAgents(router *agent.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		modes := router.Modes()
		names := make([]string, 0, len(modes))
		for _, m := range modes {
			names = append(names, string(m))
		}

		response.OK(w, map[string]any{
			"agents": names,
		})
	}
}
