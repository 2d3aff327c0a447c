package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Apps() AppStore
	Pipeline() PipelineStore
}

// AppStore manages per-application records. Every write touches a single
// record keyed by app id and returns ErrNotFound when it does not exist.
type AppStore interface {
	Get(ctx context.Context, appID string) (*AppRecord, error)
	List(ctx context.Context) ([]AppRecord, error)
	// Create inserts the record if no record exists for its app id and
	// reports whether it was inserted.
	Create(ctx context.Context, record AppRecord) (bool, error)
	StartSession(ctx context.Context, appID string, start time.Time, durationMs int64) error
	UpdateRemaining(ctx context.Context, appID string, remainingMs int64, at time.Time) error
	UpdateSession(ctx context.Context, appID string, update SessionUpdate) error
	UpdateUsage(ctx context.Context, appID string, usageMs int64, at time.Time) error
	SetLimit(ctx context.Context, appID string, enabled bool) error
	// ResetDaily clears usage and session fields of every record and
	// returns how many records were touched.
	ResetDaily(ctx context.Context) (int, error)
}

// PipelineStore persists the single pipeline state document.
// Load returns a zero state when nothing has been saved yet.
type PipelineStore interface {
	Load(ctx context.Context) (PipelineState, error)
	Save(ctx context.Context, state PipelineState) error
}
