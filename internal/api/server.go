// Package api exposes the orchestrator over HTTP: media registration,
// pipeline submission, job inspection, and queue control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"media-pipeline-orchestrator/internal/models"
	"media-pipeline-orchestrator/internal/ratelimit"
	"media-pipeline-orchestrator/internal/scheduler"
	"media-pipeline-orchestrator/internal/store"
	"media-pipeline-orchestrator/internal/telemetry"
)

// DefaultTier is used when a submission carries no X-Tier header.
const DefaultTier = "standard"

// MediaStore is the slice of the persistence layer the API needs.
type MediaStore interface {
	CreateMediaItem(ctx context.Context, p store.CreateMediaParams) (models.MediaItem, error)
	GetMediaItem(ctx context.Context, id string) (models.MediaItem, error)
	ListMediaItems(ctx context.Context, limit int) ([]models.MediaItem, error)
}

// Admission gates submissions against a named quota tier. Both the tiered
// in-memory limiter and the Redis window satisfy it.
type Admission interface {
	Check(ctx context.Context, tier string) (ratelimit.Decision, error)
}

// Server wires the HTTP handlers.
type Server struct {
	baseCtx   context.Context
	store     MediaStore
	sched     *scheduler.Scheduler
	admission Admission
	logger    *slog.Logger
}

// New constructs the API server. baseCtx bounds work the server starts on
// behalf of requests that outlive them, such as the dispatch coordinator.
func New(baseCtx context.Context, st MediaStore, sched *scheduler.Scheduler, admission Admission, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		baseCtx:   baseCtx,
		store:     st,
		sched:     sched,
		admission: admission,
		logger:    logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/media", s.handleCreateMedia)
	r.Get("/media", s.handleListMedia)
	r.Get("/media/{id}", s.handleGetMedia)
	r.Post("/media/{id}/process", s.handleSubmit)

	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/jobs/{id}/cancel", s.handleCancel)

	r.Get("/queue/stats", s.handleQueueStats)
	r.Post("/queue/start", s.handleQueueStart)
	r.Post("/queue/stop", s.handleQueueStop)
	r.Post("/queue/clear", s.handleQueueClear)
	return r
}

type createMediaRequest struct {
	Title     string `json:"title"`
	SourceURL string `json:"source_url"`
}

func (s *Server) handleCreateMedia(w http.ResponseWriter, r *http.Request) {
	var req createMediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.SourceURL == "" {
		http.Error(w, "title and source_url are required", http.StatusBadRequest)
		return
	}
	item, err := s.store.CreateMediaItem(r.Context(), store.CreateMediaParams{
		Title:     req.Title,
		SourceURL: req.SourceURL,
	})
	if err != nil {
		s.logger.Error("create media item", "error", err)
		http.Error(w, "create media item failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleListMedia(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	items, err := s.store.ListMediaItems(r.Context(), limit)
	if err != nil {
		s.logger.Error("list media items", "error", err)
		http.Error(w, "list media items failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := s.store.GetMediaItem(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "media item not found", http.StatusNotFound)
			return
		}
		s.logger.Error("get media item", "media_id", id, "error", err)
		http.Error(w, "get media item failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type submitRequest struct {
	Priority    int                `json:"priority"`
	MaxAttempts int                `json:"max_attempts"`
	Stages      submitStageFlags   `json:"stages"`
	Params      models.StageParams `json:"params"`
}

// submitStageFlags uses pointers so an absent flag means enabled.
type submitStageFlags struct {
	Extract      *bool `json:"extract"`
	Analyze      *bool `json:"analyze"`
	Intelligence *bool `json:"intelligence"`
}

func (f submitStageFlags) toModel() models.StageFlags {
	disabled := func(p *bool) bool { return p != nil && !*p }
	return models.StageFlags{
		SkipExtract:      disabled(f.Extract),
		SkipAnalyze:      disabled(f.Analyze),
		SkipIntelligence: disabled(f.Intelligence),
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	mediaID := chi.URLParam(r, "id")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	tier := r.Header.Get("X-Tier")
	if tier == "" {
		tier = DefaultTier
	}
	if s.admission != nil {
		decision, err := s.admission.Check(r.Context(), tier)
		if err != nil {
			if errors.Is(err, ratelimit.ErrUnknownTier) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.logger.Error("admission check", "tier", tier, "error", err)
			http.Error(w, "admission check failed", http.StatusInternalServerError)
			return
		}
		if !decision.Allowed {
			telemetry.RateLimitRejects.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	opts := models.SubmitOptions{
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		Stages:      req.Stages.toModel(),
		Params:      req.Params,
	}
	job, err := s.sched.Submit(r.Context(), mediaID, opts)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrMediaNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, scheduler.ErrNoStagesEnabled):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error("submit", "media_id", mediaID, "error", err)
			http.Error(w, "submit failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.sched.Jobs()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := s.sched.Job(id)
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sched.Cancel(id) {
		http.Error(w, "job is not pending", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sched.Stats())
}

func (s *Server) handleQueueStart(w http.ResponseWriter, _ *http.Request) {
	s.sched.Start(s.baseCtx)
	writeJSON(w, http.StatusOK, s.sched.Stats())
}

func (s *Server) handleQueueStop(w http.ResponseWriter, _ *http.Request) {
	s.sched.Stop()
	writeJSON(w, http.StatusOK, s.sched.Stats())
}

func (s *Server) handleQueueClear(w http.ResponseWriter, _ *http.Request) {
	removed := s.sched.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
