// Package api wires the HTTP handlers onto a ServeMux.
package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/api/handlers"
	"github.com/promptgate/promptgate/gateway"
)

// Router owns the gateway's HTTP surface.
type Router struct {
	chat    *handlers.ChatHandler
	prompts *handlers.PromptHandler
	evals   *handlers.EvalHandler
	traces  *handlers.TraceHandler
	health  *handlers.HealthHandler
}

// NewRouter builds the handler set over the gateway service. deps are the
// readiness-checked dependencies (database, redis).
func NewRouter(svc *gateway.Service, deps map[string]handlers.Pinger, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		chat:    handlers.NewChatHandler(svc, logger),
		prompts: handlers.NewPromptHandler(svc, logger),
		evals:   handlers.NewEvalHandler(svc, logger),
		traces:  handlers.NewTraceHandler(svc, logger),
		health:  handlers.NewHealthHandler(deps, logger),
	}
}

// Register mounts every route on mux.
func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/prompts", rt.prompts.HandleCreate)
	mux.HandleFunc("GET /v1/prompts", rt.prompts.HandleList)
	mux.HandleFunc("GET /v1/prompts/{id}", rt.prompts.HandleGet)
	mux.HandleFunc("PUT /v1/prompts/{id}", rt.prompts.HandleUpdate)
	mux.HandleFunc("DELETE /v1/prompts/{id}", rt.prompts.HandleDelete)
	mux.HandleFunc("GET /v1/prompts/{id}/versions", rt.prompts.HandleVersions)

	mux.HandleFunc("POST /v1/prompts/{id}/completions", rt.chat.HandleCompletion)

	mux.HandleFunc("POST /v1/prompts/{id}/eval-inputs", rt.evals.HandleCreateInput)
	mux.HandleFunc("GET /v1/prompts/{id}/eval-inputs", rt.evals.HandleListInputs)
	mux.HandleFunc("POST /v1/prompts/{id}/eval-runs", rt.evals.HandleExecuteRun)
	mux.HandleFunc("GET /v1/eval-runs/{run_id}", rt.evals.HandleListRuns)
	mux.HandleFunc("POST /v1/eval-runs/rows/{id}/score", rt.evals.HandleScore)

	mux.HandleFunc("GET /v1/traces/{id}", rt.traces.HandleGet)

	mux.HandleFunc("GET /healthz", rt.health.HandleLiveness)
	mux.HandleFunc("GET /readyz", rt.health.HandleReadiness)
}
