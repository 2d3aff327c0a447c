package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// PolicyReloader reloads the exemption policy.
type PolicyReloader interface {
	Reload() error
}

// SystemHandler handles daemon-wide API requests.
type SystemHandler struct {
	engine    Engine
	policy    PolicyReloader
	startTime time.Time
	logger    zerolog.Logger
}

// NewSystemHandler creates a new system handler. policy may be nil.
func NewSystemHandler(engine Engine, policy PolicyReloader, logger zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		engine:    engine,
		policy:    policy,
		startTime: time.Now(),
		logger:    logger.With().Str("handler", "system").Logger(),
	}
}

// ReloadPolicy reloads the exemption policy from disk.
func (h *SystemHandler) ReloadPolicy(w http.ResponseWriter, r *http.Request) {
	if h.policy == nil {
		WriteError(w, http.StatusServiceUnavailable, "Exemption policy is not enabled")
		return
	}

	h.logger.Info().Msg("Manual policy reload requested")

	if err := h.policy.Reload(); err != nil {
		h.logger.Error().Err(err).Msg("Failed to reload policy engine")
		WriteError(w, http.StatusInternalServerError, "Failed to reload policy: "+err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Policy engine reloaded successfully",
		"timestamp": time.Now(),
	})
}

// Reset runs the daily reset now.
func (h *SystemHandler) Reset(w http.ResponseWriter, r *http.Request) {
	count, err := h.engine.ResetDailyUsage(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to reset daily usage")
		WriteError(w, http.StatusInternalServerError, "Failed to reset daily usage")
		return
	}

	h.logger.Info().Int("records", count).Msg("Daily usage reset via API")
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Daily usage reset",
		"records": count,
	})
}

// SyncAll refreshes daily usage of every app.
func (h *SystemHandler) SyncAll(w http.ResponseWriter, r *http.Request) {
	count, err := h.engine.SyncAllDailyUsage(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to sync daily usage")
		WriteError(w, http.StatusInternalServerError, "Failed to sync daily usage")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": count,
	})
}

// DismissPrompt clears the presenting flag.
func (h *SystemHandler) DismissPrompt(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DismissPrompt(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to dismiss prompt")
		WriteError(w, http.StatusInternalServerError, "Failed to dismiss prompt")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Prompt dismissed",
	})
}

// Pipeline returns the persisted pipeline state.
func (h *SystemHandler) Pipeline(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.PipelineState(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to load pipeline state")
		WriteError(w, http.StatusInternalServerError, "Failed to load pipeline state")
		return
	}

	WriteJSON(w, http.StatusOK, state)
}

// GetHealth returns the health status of the daemon.
func (h *SystemHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(uptime.Seconds()),
		"uptime_human":   uptime.String(),
		"timestamp":      time.Now(),
		"memory": map[string]interface{}{
			"alloc_mb": memStats.Alloc / 1024 / 1024,
			"sys_mb":   memStats.Sys / 1024 / 1024,
			"num_gc":   memStats.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	})
}
