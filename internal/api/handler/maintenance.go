package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hszk-dev/vidmaint/internal/domain/model"
	"github.com/hszk-dev/vidmaint/internal/domain/repository"
	"github.com/hszk-dev/vidmaint/internal/usecase"
)

// Request/Response types

type ProcessRequest struct {
	Video        string `json:"video"`
	DryRun       bool   `json:"dry_run"`
	DeleteOldKey *bool  `json:"delete_old_key,omitempty"`
}

type ProcessResponse struct {
	Key    string `json:"key"`
	Status string `json:"status"`
}

type RunRequest struct {
	Videos       []string `json:"videos"`
	DryRun       bool     `json:"dry_run"`
	DeleteOldKey bool     `json:"delete_old_key"`
}

type AuditResponse struct {
	Records []*model.Result `json:"records"`
}

// MaintenanceHandler handles the maintenance admin endpoints.
type MaintenanceHandler struct {
	svc                usecase.MaintenanceService
	deleteOldByDefault bool
}

// NewMaintenanceHandler creates a new MaintenanceHandler. deleteOldByDefault
// applies to single-key requests that omit delete_old_key.
func NewMaintenanceHandler(svc usecase.MaintenanceService, deleteOldByDefault bool) *MaintenanceHandler {
	return &MaintenanceHandler{svc: svc, deleteOldByDefault: deleteOldByDefault}
}

// Routes mounts the handler under a router.
func (h *MaintenanceHandler) Routes(r chi.Router) {
	r.Post("/videos/process", h.Process)
	r.Post("/runs", h.SubmitRun)
	r.Get("/runs/{id}", h.GetRun)
	r.Get("/audit", h.Audit)
}

// Process handles POST /v1/videos/process
func (h *MaintenanceHandler) Process(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Video) == "" {
		Error(w, http.StatusBadRequest, "invalid_video", "Video key or URL is required")
		return
	}

	deleteOld := h.deleteOldByDefault
	if req.DeleteOldKey != nil {
		deleteOld = *req.DeleteOldKey
	}

	key, err := h.svc.EnqueueProcess(r.Context(), usecase.ProcessInput{
		Video:        req.Video,
		DryRun:       req.DryRun,
		DeleteOldKey: deleteOld,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	JSON(w, http.StatusAccepted, ProcessResponse{Key: key, Status: "queued"})
}

// SubmitRun handles POST /v1/runs
func (h *MaintenanceHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	progress, err := h.svc.SubmitRun(r.Context(), usecase.RunInput{
		Videos:       req.Videos,
		DryRun:       req.DryRun,
		DeleteOldKey: req.DeleteOldKey,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/v1/runs/"+progress.RunID)
	JSON(w, http.StatusAccepted, progress)
}

// GetRun handles GET /v1/runs/{id}
func (h *MaintenanceHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	progress, err := h.svc.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	JSON(w, http.StatusOK, progress)
}

// Audit handles GET /v1/audit?limit=N
func (h *MaintenanceHandler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid_limit", "Limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.svc.RecentAudit(r.Context(), limit)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	JSON(w, http.StatusOK, AuditResponse{Records: records})
}

func (h *MaintenanceHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrRunNotFound):
		Error(w, http.StatusNotFound, "run_not_found", "Run not found")
	case errors.Is(err, usecase.ErrNoVideos):
		Error(w, http.StatusBadRequest, "invalid_videos", "At least one video is required")
	case errors.Is(err, usecase.ErrTooManyVideos):
		Error(w, http.StatusBadRequest, "too_many_videos", err.Error())
	case errors.Is(err, usecase.ErrInvalidVideoRef):
		Error(w, http.StatusBadRequest, "invalid_video", err.Error())
	default:
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}
