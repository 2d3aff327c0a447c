package usage

import (
	"errors"
	"time"

	"github.com/goodtune/appwarden/internal/storage"
)

var (
	// ErrNoSession is returned when a command needs a started session.
	ErrNoSession = errors.New("usage: no session in progress")

	// ErrInvalidTransition is returned when a command is not valid in the
	// record's current session state.
	ErrInvalidTransition = errors.New("usage: invalid session transition")

	// ErrCorruptSession is returned when a persisted session violates its
	// invariants. The record has been reset to IDLE.
	ErrCorruptSession = errors.New("usage: corrupt session reset to idle")

	// ErrInvalidDuration is returned for non-positive budgets and extensions.
	ErrInvalidDuration = errors.New("usage: duration must be positive")
)

// Observation is one poll sample fed into Engine.Observe.
type Observation struct {
	// AppID is the resolved foreground app, empty for none.
	AppID string
	// Interactive is false while the screen is locked or the system sleeps.
	Interactive bool
	// At is the sample time. Zero means the engine clock's now.
	At time.Time
}

// Snapshot is the in-memory counter set of a running session.
type Snapshot struct {
	AppID        string
	SessionStart time.Time
	Total        time.Duration // elapsed within the current budget
	Extensions   time.Duration
	LastChecked  time.Time
}

// rebuildSnapshot reconstructs counters from a persisted record.
func rebuildSnapshot(rec *storage.AppRecord, now time.Time) Snapshot {
	selected := rec.Selected()
	remaining := rec.Remaining()
	return Snapshot{
		AppID:        rec.AppID,
		SessionStart: rec.SessionStartTime,
		Total:        max(0, selected-remaining),
		Extensions:   max(0, remaining-selected),
		LastChecked:  now,
	}
}

// PromptKind identifies the intervention shown by a Presenter.
type PromptKind string

const (
	PromptAskTime PromptKind = "ASK_TIME"
	PromptTimeUp  PromptKind = "TIME_UP"
	PromptBlocked PromptKind = "BLOCKED"
)

// Prompt is the data handed to the enforcement presenter.
type Prompt struct {
	ID         string        `json:"id"`
	Kind       PromptKind    `json:"kind"`
	AppID      string        `json:"app_id"`
	AppName    string        `json:"app_name"`
	DailyUsage time.Duration `json:"daily_usage"`
}

// Notification is the status payload for the current limited app.
type Notification struct {
	AppID   string
	AppName string
	Title   string
	Body    string
	// MaxSeconds is the allowed session time, ElapsedSeconds the used part.
	MaxSeconds     int64
	ElapsedSeconds int64
}

// SessionView is a read-only summary of an app's session for UIs.
type SessionView struct {
	AppID        string               `json:"app_id"`
	AppName      string               `json:"app_name"`
	State        storage.SessionState `json:"state"`
	LimitEnabled bool                 `json:"limit_enabled"`
	SelectedMs   int64                `json:"selected_ms"`
	RemainingMs  int64                `json:"remaining_ms"`
	UsedMs       int64                `json:"used_ms"`
	ExtensionsMs int64                `json:"extensions_ms"`
	DailyUsageMs int64                `json:"daily_usage_ms"`
	InMemory     bool                 `json:"in_memory"`
}
