// Package foreground derives the foreground application from a log of
// foreground/background transition events.
package foreground

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType is the kind of transition recorded in the event log.
type EventType string

const (
	MoveToForeground EventType = "MOVE_TO_FOREGROUND"
	MoveToBackground EventType = "MOVE_TO_BACKGROUND"
)

// Event is one transition of an application.
type Event struct {
	AppID     string    `json:"app_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalJSON normalizes the event type to uppercase. Unknown types are
// kept so that sources can carry them; the resolver ignores them.
func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = EventType(strings.ToUpper(s))
	return nil
}

// Transition reports whether the event is a foreground or background move.
func (e Event) Transition() bool {
	return e.Type == MoveToForeground || e.Type == MoveToBackground
}

// Validate checks that an ingested event is usable.
func (e Event) Validate() error {
	if e.AppID == "" {
		return fmt.Errorf("event app_id is required")
	}
	if !e.Transition() {
		return fmt.Errorf("unsupported event type %q", e.Type)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp is required")
	}
	return nil
}

// EventSource is the OS-provided log of transitions, queryable by time range.
// Events are returned ordered by timestamp.
type EventSource interface {
	QueryEvents(ctx context.Context, from, to time.Time) ([]Event, error)
}

// Recorder accepts events pushed by an OS agent.
type Recorder interface {
	Record(ctx context.Context, events ...Event) error
}
