package api

import (
	"fmt"
	"net/http"

	"github.com/goodtune/appwarden/internal/foreground"
	"github.com/rs/zerolog"
)

// maxEventBatch bounds one ingestion request.
const maxEventBatch = 1000

// EventsHandler accepts foreground transitions pushed by an OS agent. It
// only records them; the poller evaluates on its next tick.
type EventsHandler struct {
	recorder foreground.Recorder
	logger   zerolog.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(recorder foreground.Recorder, logger zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		recorder: recorder,
		logger:   logger.With().Str("handler", "events").Logger(),
	}
}

// EventsRequest is the body of POST /api/v1/events.
type EventsRequest struct {
	Events []foreground.Event `json:"events"`
}

// Ingest records a batch of events.
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req EventsRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Events) == 0 {
		WriteError(w, http.StatusBadRequest, "No events")
		return
	}
	if len(req.Events) > maxEventBatch {
		WriteError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("At most %d events per request", maxEventBatch))
		return
	}

	for i, ev := range req.Events {
		if err := ev.Validate(); err != nil {
			WriteError(w, http.StatusBadRequest, fmt.Sprintf("event %d: %v", i, err))
			return
		}
	}

	if err := h.recorder.Record(r.Context(), req.Events...); err != nil {
		h.logger.Error().Err(err).Msg("Failed to record events")
		WriteError(w, http.StatusInternalServerError, "Failed to record events")
		return
	}

	h.logger.Debug().Int("count", len(req.Events)).Msg("Recorded events")
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"recorded": len(req.Events),
	})
}
