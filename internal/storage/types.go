package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SessionState is the lifecycle state of an app session.
type SessionState string

const (
	StateIdle    SessionState = "IDLE"
	StateActive  SessionState = "ACTIVE"
	StatePaused  SessionState = "PAUSED"
	StateBlocked SessionState = "BLOCKED"
)

// ParseSessionState parses a state name case-insensitively.
// An empty string is treated as IDLE.
func ParseSessionState(s string) (SessionState, error) {
	if s == "" {
		return StateIdle, nil
	}
	normalized := SessionState(strings.ToUpper(s))
	switch normalized {
	case StateIdle, StateActive, StatePaused, StateBlocked:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid session state: %s (must be IDLE, ACTIVE, PAUSED, or BLOCKED)", s)
	}
}

// UnmarshalJSON implements json.Unmarshaler to normalize state to uppercase.
func (s *SessionState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	state, err := ParseSessionState(raw)
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// AppRecord is the durable per-application row.
type AppRecord struct {
	AppID                     string       `json:"app_id"`
	DisplayName               string       `json:"display_name"`
	DailyUsageMs              int64        `json:"daily_usage_ms"`
	LimitEnabled              bool         `json:"limit_enabled"`
	SessionState              SessionState `json:"session_state"`
	SessionStartTime          time.Time    `json:"session_start_time"`
	SelectedSessionDurationMs int64        `json:"selected_session_duration_ms"`
	RemainingSessionTimeMs    int64        `json:"remaining_session_time_ms"`
	LastInteractTime          time.Time    `json:"last_interact_time"`
	LastPausedTime            time.Time    `json:"last_paused_time"`
}

// Name returns the display name, falling back to the app id.
func (r *AppRecord) Name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.AppID
}

// Selected returns the selected session duration.
func (r *AppRecord) Selected() time.Duration {
	return time.Duration(r.SelectedSessionDurationMs) * time.Millisecond
}

// Remaining returns the persisted remaining session time.
func (r *AppRecord) Remaining() time.Duration {
	return time.Duration(r.RemainingSessionTimeMs) * time.Millisecond
}

// DailyUsage returns the synced daily usage.
func (r *AppRecord) DailyUsage() time.Duration {
	return time.Duration(r.DailyUsageMs) * time.Millisecond
}

// SessionUpdate carries the fields written on pause, resume, end and block.
type SessionUpdate struct {
	State          SessionState
	RemainingMs    int64
	LastPausedTime time.Time
}

// PipelineState is the durable state of the poll pipeline.
type PipelineState struct {
	LastForegroundApp string    `json:"last_foreground_app"`
	Presenting        bool      `json:"presenting"`
	PresentingApp     string    `json:"presenting_app,omitempty"`
	PresentingKind    string    `json:"presenting_kind,omitempty"`
	PresentingID      string    `json:"presenting_id,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ClearPresenting resets the presenting flag and its details.
func (p *PipelineState) ClearPresenting() {
	p.Presenting = false
	p.PresentingApp = ""
	p.PresentingKind = ""
	p.PresentingID = ""
}

// ApplyDailyReset clears the usage and session fields of a record.
func (r *AppRecord) ApplyDailyReset() {
	r.DailyUsageMs = 0
	r.SessionState = StateIdle
	r.SessionStartTime = time.Time{}
	r.SelectedSessionDurationMs = 0
	r.RemainingSessionTimeMs = 0
	r.LastPausedTime = time.Time{}
}
