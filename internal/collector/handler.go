package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/models"
)

// StateStore lists and resets persisted cursor state.
type StateStore interface {
	List(ctx context.Context) ([]models.CursorState, error)
	Reset(ctx context.Context, channel string) error
}

// Handler handles HTTP requests for collector service
type Handler struct {
	manager *RunManager
	state   StateStore
	base    config.RunConfig
}

// NewHandler creates a new handler. base holds the run defaults applied to requests.
func NewHandler(manager *RunManager, state StateStore, base config.RunConfig) *Handler {
	return &Handler{
		manager: manager,
		state:   state,
		base:    base,
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// StartRun handles POST /api/v1/runs
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.manager.Start(r.Context(), req.Options(h.base))
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, RunResponse{
		RunID:     job.ID,
		Status:    "running",
		Channels:  job.Options.Channels,
		StartedAt: job.StartedAt,
	})
}

// StopRun handles DELETE /api/v1/runs/current
func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	h.manager.Stop()
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "run stop requested",
	})
}

// Status handles GET /api/v1/runs/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:         "idle",
		TelegramStatus: h.manager.GetTelegramStatus(),
	}
	if current := h.manager.Current(); current != nil {
		resp.Status = "running"
		resp.RunID = current.ID.String()
		resp.StartedAt = &current.StartedAt
		resp.Channels = current.Options.Channels
	}
	respondJSON(w, http.StatusOK, resp)
}

// LastRun handles GET /api/v1/runs/last
func (h *Handler) LastRun(w http.ResponseWriter, r *http.Request) {
	snap, err := h.manager.Last()
	if err != nil {
		if errors.Is(err, ErrNoRun) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// ListState handles GET /api/v1/state
func (h *Handler) ListState(w http.ResponseWriter, r *http.Request) {
	if h.state == nil {
		respondJSON(w, http.StatusOK, []models.CursorState{})
		return
	}
	states, err := h.state.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, states)
}

// ResetState handles DELETE /api/v1/state/{channel}
func (h *Handler) ResetState(w http.ResponseWriter, r *http.Request) {
	channel := channelKey(chi.URLParam(r, "channel"))
	if channel == "" {
		respondError(w, http.StatusBadRequest, ErrChannelRequired.Error())
		return
	}
	if h.manager.Current() != nil {
		respondError(w, http.StatusConflict, ErrAlreadyRunning.Error())
		return
	}
	if h.state != nil {
		if err := h.state.Reset(r.Context(), channel); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
