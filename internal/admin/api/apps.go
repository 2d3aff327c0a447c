package api

import (
	"net/http"
	"time"

	"github.com/goodtune/appwarden/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// AppsHandler handles per-app records and session commands.
type AppsHandler struct {
	engine Engine
	logger zerolog.Logger
}

// NewAppsHandler creates a new apps handler.
func NewAppsHandler(engine Engine, logger zerolog.Logger) *AppsHandler {
	return &AppsHandler{
		engine: engine,
		logger: logger.With().Str("handler", "apps").Logger(),
	}
}

// RegisterAppRequest is the body of POST /api/v1/apps.
type RegisterAppRequest struct {
	AppID        string `json:"app_id"`
	DisplayName  string `json:"display_name"`
	LimitEnabled bool   `json:"limit_enabled"`
}

// StartSessionRequest is the body of POST /api/v1/apps/{id}/session.
type StartSessionRequest struct {
	DurationMs int64 `json:"duration_ms"`
}

// ExtendRequest is the body of POST /api/v1/apps/{id}/extend.
type ExtendRequest struct {
	Minutes int `json:"minutes"`
}

// StateRequest is the body of PUT /api/v1/apps/{id}/state.
type StateRequest struct {
	State string `json:"state"`
}

// LimitRequest is the body of PUT /api/v1/apps/{id}/limit.
type LimitRequest struct {
	Enabled bool `json:"enabled"`
}

// List returns every known app.
func (h *AppsHandler) List(w http.ResponseWriter, r *http.Request) {
	apps, err := h.engine.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list apps")
		WriteError(w, http.StatusInternalServerError, "Failed to retrieve apps")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"apps":  apps,
		"count": len(apps),
	})
}

// Get returns one app record.
func (h *AppsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	app, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err, id, "Failed to retrieve app")
		return
	}

	WriteJSON(w, http.StatusOK, app)
}

// Register creates an app record if it does not exist yet.
func (h *AppsHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterAppRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AppID == "" {
		WriteError(w, http.StatusBadRequest, "app_id is required")
		return
	}

	created, err := h.engine.RegisterApp(r.Context(), req.AppID, req.DisplayName, req.LimitEnabled)
	if err != nil {
		h.fail(w, err, req.AppID, "Failed to register app")
		return
	}

	app, err := h.engine.Get(r.Context(), req.AppID)
	if err != nil {
		h.fail(w, err, req.AppID, "Failed to retrieve app")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info().Str("app_id", req.AppID).Msg("App registered")
	}
	WriteJSON(w, status, app)
}

// Snapshot returns the live session view.
func (h *AppsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	view, err := h.engine.Snapshot(r.Context(), id)
	if err != nil {
		h.fail(w, err, id, "Failed to retrieve session")
		return
	}

	WriteJSON(w, http.StatusOK, view)
}

// StartSession starts a session budget.
func (h *AppsHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.engine.StartSession(r.Context(), id, time.Duration(req.DurationMs)*time.Millisecond)
	h.respond(w, r, id, err, "Failed to start session")
}

// Extend grants extra minutes.
func (h *AppsHandler) Extend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ExtendRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.engine.GrantExtension(r.Context(), id, req.Minutes)
	h.respond(w, r, id, err, "Failed to grant extension")
}

// End ends the session.
func (h *AppsHandler) End(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.respond(w, r, id, h.engine.EndSession(r.Context(), id), "Failed to end session")
}

// Pause pauses an active session.
func (h *AppsHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.respond(w, r, id, h.engine.PauseSession(r.Context(), id), "Failed to pause session")
}

// Resume resumes a paused session.
func (h *AppsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.respond(w, r, id, h.engine.ResumeSession(r.Context(), id), "Failed to resume session")
}

// Sync refreshes daily usage from the event log.
func (h *AppsHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.respond(w, r, id, h.engine.SyncDailyUsage(r.Context(), id), "Failed to sync usage")
}

// SetState forces a session state.
func (h *AppsHandler) SetState(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req StateRequest
	if err := decodeJSON(r, &req); err != nil || req.State == "" {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	state, err := storage.ParseSessionState(req.State)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respond(w, r, id, h.engine.SetSessionState(r.Context(), id, state), "Failed to set state")
}

// SetLimit enables or disables the limit.
func (h *AppsHandler) SetLimit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req LimitRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	h.respond(w, r, id, h.engine.ToggleLimit(r.Context(), id, req.Enabled), "Failed to set limit")
}

// respond writes the session view after a successful command.
func (h *AppsHandler) respond(w http.ResponseWriter, r *http.Request, id string, err error, message string) {
	if err != nil {
		h.fail(w, err, id, message)
		return
	}

	view, err := h.engine.Snapshot(r.Context(), id)
	if err != nil {
		h.fail(w, err, id, "Failed to retrieve session")
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func (h *AppsHandler) fail(w http.ResponseWriter, err error, id, message string) {
	status := engineStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("app_id", id).Msg(message)
		WriteError(w, status, message)
		return
	}
	WriteError(w, status, err.Error())
}
