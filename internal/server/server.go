package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/flowline-dev/flowline/internal/engine"
	"github.com/flowline-dev/flowline/internal/store"
	"github.com/flowline-dev/flowline/internal/streaming"
)

// FlowEngine is the engine surface the API server drives.
type FlowEngine interface {
	Start(ctx context.Context, req engine.StartFlowExecutionRequest) (*engine.StartFlowExecutionResponse, error)
	Cancel(executionID string) bool
}

// Deps holds the dependencies for the API server.
type Deps struct {
	Store  store.Store
	Engine FlowEngine
	Hub    streaming.Hub
	Logger *slog.Logger
}

// Server exposes the flow engine over HTTP: JSON API plus SSE streams.
type Server struct {
	deps Deps
}

// NewServer creates a new API server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps}
}

// Handler returns the HTTP handler for all API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Flows.
	mux.HandleFunc("POST /api/flows", s.handleCreateFlow)
	mux.HandleFunc("GET /api/flows", s.handleListFlows)
	mux.HandleFunc("GET /api/flows/{id}", s.handleGetFlow)
	mux.HandleFunc("DELETE /api/flows/{id}", s.handleDeleteFlow)
	mux.HandleFunc("GET /api/flows/{id}/stats", s.handleFlowStats)
	mux.HandleFunc("POST /api/flows/{id}/start", s.handleStartFlow)

	// Executions.
	mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	mux.HandleFunc("POST /api/executions/{id}/cancel", s.handleCancelExecution)

	// Schedules.
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)

	// SSE streams.
	mux.HandleFunc("GET /sse/executions/{id}", s.handleSSEExecution)
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)

	return mux
}
