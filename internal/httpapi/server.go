// Package httpapi exposes the run API: starting research runs, fetching
// their terminal snapshots, and streaming live events over SSE/WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quillworks/quill/internal/checkpoint"
	"github.com/quillworks/quill/internal/streaming"
)

// RunStarter launches a research run and returns its id. The Temporal
// client implements this in production.
type RunStarter interface {
	StartRun(ctx context.Context, topic, citationStyle string) (string, error)
}

// RunReader serves persisted run snapshots.
type RunReader interface {
	Get(ctx context.Context, runID string) (*checkpoint.RunRecord, error)
	List(ctx context.Context, limit int) ([]checkpoint.RunRecord, error)
}

// Server wires the HTTP surface.
type Server struct {
	starter RunStarter
	runs    RunReader
	hub     *streaming.Hub
	logger  *zap.Logger
}

// NewServer builds the API server. runs may be nil when no checkpoint store
// is configured; the snapshot endpoints then return 503.
func NewServer(starter RunStarter, runs RunReader, hub *streaming.Hub, logger *zap.Logger) *Server {
	return &Server{starter: starter, runs: runs, hub: hub, logger: logger}
}

// RegisterRoutes registers all endpoints on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/runs", s.handleStartRun)
	mux.HandleFunc("GET /api/v1/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /stream/sse", s.handleSSE)
	mux.HandleFunc("GET /stream/ws", s.handleWS)
}

// maxListLimit caps a caller-supplied page size.
const maxListLimit = 500

type startRunRequest struct {
	Topic         string `json:"topic"`
	CitationStyle string `json:"citation_style,omitempty"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	runID, err := s.starter.StartRun(r.Context(), strings.TrimSpace(req.Topic), req.CitationStyle)
	if err != nil {
		s.logger.Error("start run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}
	writeJSON(w, http.StatusAccepted, startRunResponse{RunID: runID})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}
	rec, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}
	recs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
