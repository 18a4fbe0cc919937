package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/graphrun/core"
	"github.com/corvid-labs/graphrun/engine"
	"github.com/corvid-labs/graphrun/graph"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"graphs": stats.Graphs,
		"runs":   stats.Runs,
		"nodes":  stats.Nodes,
	})
}

func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes": s.engine.Registry().Names(),
	})
}

func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.engine.ListGraphs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if recs == nil {
		recs = []engine.GraphRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"graphs": recs})
}

func (s *Server) handleCreateGraph(w http.ResponseWriter, r *http.Request) {
	var def graph.Definition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	rec, err := s.engine.CreateGraph(r.Context(), def)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.GetGraph(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, engine.ErrGraphNotFound) {
			writeError(w, http.StatusNotFound, "GRAPH_NOT_FOUND", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RunRequest is the body of POST /api/graphs/{id}/runs.
type RunRequest struct {
	InitialState core.State `json:"initial_state"`
}

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	graphID := r.PathValue("id")

	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
			return
		}
	}

	snap, err := s.engine.SubmitRun(r.Context(), graphID, req.InitialState)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrGraphNotFound):
			writeError(w, http.StatusNotFound, "GRAPH_NOT_FOUND", err.Error())
		case errors.Is(err, engine.ErrEngineClosed):
			writeError(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.GetRun(r.Context(), r.PathValue("run_id"))
	if err != nil {
		if errors.Is(err, engine.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- Schedules ---

// ScheduleRequest is the body of POST /api/graphs/{id}/schedules.
type ScheduleRequest struct {
	Cron         string     `json:"cron"`
	Enabled      *bool      `json:"enabled,omitempty"`
	InitialState core.State `json:"initial_state,omitempty"`
}

func (s *Server) handleListAllSchedules(w http.ResponseWriter, r *http.Request) {
	items, err := s.schedules.ListAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if items == nil {
		items = []Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": items})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	graphID := r.PathValue("id")
	if _, err := s.engine.GetGraph(r.Context(), graphID); err != nil {
		writeError(w, http.StatusNotFound, "GRAPH_NOT_FOUND", err.Error())
		return
	}

	items, err := s.schedules.List(r.Context(), graphID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if items == nil {
		items = []Schedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": items})
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	graphID := r.PathValue("id")
	if _, err := s.engine.GetGraph(r.Context(), graphID); err != nil {
		writeError(w, http.StatusNotFound, "GRAPH_NOT_FOUND", err.Error())
		return
	}

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}

	now := time.Now().UTC()
	next, err := nextCronRunUTC(req.Cron, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_CRON", err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	sched := Schedule{
		ID:           uuid.NewString(),
		GraphID:      graphID,
		Cron:         req.Cron,
		Enabled:      enabled,
		InitialState: req.InitialState.Clone(),
		NextRunAt:    next,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.schedules.Create(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	s.logger.Info("schedule created", "schedule_id", sched.ID, "graph_id", graphID, "cron", sched.Cron)
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, ok, err := s.schedules.Get(r.Context(), r.PathValue("id"), r.PathValue("schedule_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "SCHEDULE_NOT_FOUND", "schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.schedules.Delete(r.Context(), r.PathValue("id"), r.PathValue("schedule_id")); err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "SCHEDULE_NOT_FOUND", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
