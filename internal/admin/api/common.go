// Package api implements the JSON command API handlers.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/goodtune/appwarden/internal/storage"
	"github.com/goodtune/appwarden/internal/usage"
)

// Engine is the session engine surface the API drives.
type Engine interface {
	List(ctx context.Context) ([]storage.AppRecord, error)
	Get(ctx context.Context, appID string) (*storage.AppRecord, error)
	RegisterApp(ctx context.Context, appID, displayName string, limitEnabled bool) (bool, error)
	Snapshot(ctx context.Context, appID string) (usage.SessionView, error)

	StartSession(ctx context.Context, appID string, d time.Duration) error
	GrantExtension(ctx context.Context, appID string, minutes int) error
	EndSession(ctx context.Context, appID string) error
	PauseSession(ctx context.Context, appID string) error
	ResumeSession(ctx context.Context, appID string) error
	SetSessionState(ctx context.Context, appID string, state storage.SessionState) error
	ToggleLimit(ctx context.Context, appID string, enabled bool) error
	SyncDailyUsage(ctx context.Context, appID string) error

	SyncAllDailyUsage(ctx context.Context) (int, error)
	ResetDailyUsage(ctx context.Context) (int, error)
	DismissPrompt(ctx context.Context) error
	PipelineState(ctx context.Context) (storage.PipelineState, error)
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// engineStatus maps engine errors to HTTP status codes.
func engineStatus(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, usage.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, usage.ErrInvalidTransition),
		errors.Is(err, usage.ErrNoSession),
		errors.Is(err, usage.ErrCorruptSession):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
