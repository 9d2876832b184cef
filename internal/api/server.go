package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"deepresearch/internal/config"
	"deepresearch/internal/models"
	"deepresearch/internal/research"
	"deepresearch/internal/storage"
	"deepresearch/internal/workflows"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunReader serves persisted runs once a session workflow is gone.
// *storage.RunRepo satisfies it.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (models.ResearchRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.ResearchRun, error)
}

type Deps struct {
	Sessions Sessions
	Stock    research.Snapshotter
	Runs     RunReader
	// LLMProviders is how many LLM providers the worker fails over across.
	LLMProviders int
	Log          *zap.Logger
}

type Server struct {
	cfg      config.Config
	sessions Sessions
	stock    research.Snapshotter
	runs     RunReader
	llmCount int
	log      *zap.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		sessions: d.Sessions,
		stock:    d.Stock,
		runs:     d.Runs,
		llmCount: d.LLMProviders,
		log:      log,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/research", s.handleResearch)
	mux.HandleFunc("/research/", s.handleResearchScoped)
	mux.HandleFunc("/stock", s.handleStock)
	mux.HandleFunc("/watchlist", s.handleWatchlist)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.runs == nil {
			writeJSON(w, http.StatusOK, map[string]any{"runs": []models.ResearchRun{}})
			return
		}
		runs, err := s.runs.ListRuns(r.Context(), 50)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
	case http.MethodPost:
		var req struct {
			Query       string `json:"query"`
			AutoConfirm bool   `json:"auto_confirm"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		req.Query = strings.TrimSpace(req.Query)
		if req.Query == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("query is required"))
			return
		}
		runID := uuid.NewString()
		workflowID, err := s.sessions.Start(r.Context(), workflows.ResearchSessionInput{
			RunID:           runID,
			Query:           req.Query,
			AutoConfirm:     req.AutoConfirm,
			LLMProviders:    s.llmCount,
			CooldownSeconds: 900,
		})
		if err != nil {
			writeErr(w, startStatus(err), err)
			return
		}
		s.log.Info("research session started", zap.String("run_id", runID), zap.String("query", req.Query))
		writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID, "workflow_id": workflowID})
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) handleResearchScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/research/"), "/"), "/")
	runID := parts[0]
	if runID == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.writeStatus(w, r, runID)
		return
	}
	switch parts[1] {
	case "confirm":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		var req struct {
			Proceed *bool `json:"proceed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		if req.Proceed == nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("proceed is required"))
			return
		}
		if err := s.sessions.Confirm(r.Context(), runID, *req.Proceed); err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				writeErr(w, http.StatusNotFound, err)
				return
			}
			writeErr(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID, "proceed": *req.Proceed})
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

// writeStatus prefers the live workflow and falls back to the stored run.
func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, runID string) {
	st, err := s.sessions.Status(r.Context(), runID)
	if err == nil {
		writeJSON(w, http.StatusOK, st)
		return
	}
	if s.runs != nil {
		run, rerr := s.runs.GetRun(r.Context(), runID)
		if rerr == nil {
			writeJSON(w, http.StatusOK, run)
			return
		}
		if !errors.Is(rerr, storage.ErrRunNotFound) {
			writeErr(w, http.StatusInternalServerError, rerr)
			return
		}
	}
	if errors.Is(err, ErrSessionNotFound) {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeErr(w, http.StatusBadGateway, err)
}

func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("q is required"))
		return
	}
	text, ok := s.stock.Snapshot(r.Context(), q)
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "available": ok, "snapshot": text})
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p, err := s.sessions.WatchlistProgress(r.Context())
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				writeErr(w, http.StatusNotFound, err)
				return
			}
			writeErr(w, http.StatusBadGateway, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPost:
		in := workflows.WatchlistInput{
			Queries:         s.cfg.Watchlist,
			IntervalSeconds: int(s.cfg.WatchInterval.Seconds()),
		}
		runID, err := s.sessions.StartWatchlist(r.Context(), in)
		if err != nil {
			writeErr(w, startStatus(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": watchlistWorkflowID, "run_id": runID, "queries": in.Queries})
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

// startStatus reports 409 for a duplicate workflow and 502 for anything the
// workflow service failed on.
func startStatus(err error) int {
	if errors.Is(err, ErrSessionExists) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "DR-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusBadGateway:
		return apiError{Code: "DR-API-5020", Message: "Workflow service unavailable. Retry shortly."}
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "DR-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "DR-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "DR-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "DR-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "DR-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "DR-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "DR-API-4005"
		msg = "This endpoint does not support the requested method."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		switch {
		case strings.Contains(raw, "query is required"), strings.Contains(raw, "q is required"):
			msg = "A research query is required."
		case strings.Contains(raw, "proceed is required"):
			msg = "Confirmation must set proceed to true or false."
		case strings.Contains(raw, "invalid json"):
			msg = "Malformed JSON request body."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
