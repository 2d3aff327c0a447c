package foreground

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultRecentWindow is the narrow window queried first
	DefaultRecentWindow = 2 * time.Second

	// DefaultFallbackWindow is the wide window queried on a miss
	DefaultFallbackWindow = 2 * time.Hour

	// DefaultRetention bounds how long recorded events are kept
	DefaultRetention = 48 * time.Hour
)

// Result is the outcome of resolving a single window.
type Result struct {
	// AppID is the foreground app, empty when none is visible.
	AppID string
	// Seen reports whether the window contained any transition at all.
	Seen bool
	// At is the timestamp of the deciding event.
	At time.Time
}

// Resolver derives the foreground app from an EventSource.
type Resolver struct {
	source         EventSource
	recentWindow   time.Duration
	fallbackWindow time.Duration
}

// Config holds resolver configuration
type Config struct {
	RecentWindow   time.Duration
	FallbackWindow time.Duration
}

// NewResolver creates a resolver over source.
func NewResolver(source EventSource, cfg Config) *Resolver {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	if cfg.FallbackWindow <= 0 {
		cfg.FallbackWindow = DefaultFallbackWindow
	}
	return &Resolver{
		source:         source,
		recentWindow:   cfg.RecentWindow,
		fallbackWindow: cfg.FallbackWindow,
	}
}

// Current returns the foreground app at now, or "" for none. The narrow
// window is tried first and the wide window only when the narrow one holds
// no transitions at all.
func (r *Resolver) Current(ctx context.Context, now time.Time) (string, error) {
	recent, err := r.ResolveWindow(ctx, now.Add(-r.recentWindow), now)
	if err != nil {
		return "", err
	}
	if recent.Seen {
		return recent.AppID, nil
	}

	wide, err := r.ResolveWindow(ctx, now.Add(-r.fallbackWindow), now)
	if err != nil {
		return "", err
	}
	return wide.AppID, nil
}

// Source returns the underlying event source.
func (r *Resolver) Source() EventSource {
	return r.source
}

// ResolveWindow resolves the foreground app for [from, to].
func (r *Resolver) ResolveWindow(ctx context.Context, from, to time.Time) (Result, error) {
	events, err := r.source.QueryEvents(ctx, from, to)
	if err != nil {
		return Result{}, fmt.Errorf("failed to query events: %w", err)
	}
	return Resolve(events), nil
}

// Resolve scans events once and keeps the last transition. The most recent
// foreground move wins; a trailing background move means no app is visible.
// On equal timestamps a foreground move beats a background move, and events
// older than the current pick are ignored.
func Resolve(events []Event) Result {
	var (
		last     Event
		haveLast bool
	)
	for _, ev := range events {
		if !ev.Transition() {
			continue
		}
		if haveLast {
			if ev.Timestamp.Before(last.Timestamp) {
				continue
			}
			if ev.Timestamp.Equal(last.Timestamp) && last.Type == MoveToForeground && ev.Type == MoveToBackground {
				continue
			}
		}
		last = ev
		haveLast = true
	}

	if !haveLast {
		return Result{}
	}
	result := Result{Seen: true, At: last.Timestamp}
	if last.Type == MoveToForeground {
		result.AppID = last.AppID
	}
	return result
}
