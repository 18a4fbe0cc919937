// Package server exposes the engine over HTTP: graph CRUD, run
// submission and polling, node discovery, and cron schedules.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/corvid-labs/graphrun/engine"
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Engine     *engine.Engine
	Schedules  ScheduleStore
	CORSOrigin string
	MaxBody    int64
	Logger     *slog.Logger
}

// Server is the graphrun HTTP API server.
type Server struct {
	engine     *engine.Engine
	schedules  ScheduleStore
	corsOrigin string
	maxBody    int64
	logger     *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	schedules := cfg.Schedules
	if schedules == nil {
		schedules = NewMemScheduleStore()
	}
	return &Server{
		engine:     cfg.Engine,
		schedules:  schedules,
		corsOrigin: corsOrigin,
		maxBody:    maxBody,
		logger:     logger,
	}
}

// Schedules returns the server's schedule store, shared with the
// background scheduler.
func (s *Server) Schedules() ScheduleStore {
	return s.schedules
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/nodes", s.handleListNodes)
	mux.HandleFunc("GET /api/graphs", s.handleListGraphs)
	mux.HandleFunc("POST /api/graphs", s.handleCreateGraph)
	mux.HandleFunc("GET /api/graphs/{id}", s.handleGetGraph)
	mux.HandleFunc("POST /api/graphs/{id}/runs", s.handleSubmitRun)
	mux.HandleFunc("GET /api/runs/{run_id}", s.handleGetRun)

	mux.HandleFunc("GET /api/schedules", s.handleListAllSchedules)
	mux.HandleFunc("GET /api/graphs/{id}/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/graphs/{id}/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /api/graphs/{id}/schedules/{schedule_id}", s.handleGetSchedule)
	mux.HandleFunc("DELETE /api/graphs/{id}/schedules/{schedule_id}", s.handleDeleteSchedule)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}
