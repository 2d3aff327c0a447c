// Package ticker renders a per-second countdown of the current session
// between poll ticks. It only mirrors engine state and never enforces.
package ticker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/appwarden/internal/usage"
	"github.com/rs/zerolog"
)

const (
	// DefaultInterval is the countdown step
	DefaultInterval = time.Second

	// HomeTitle and HomeBody are shown when no limited app is counting down
	HomeTitle = "appwarden is active"
	HomeBody  = "Monitoring usage..."
)

// Frame is one rendered countdown state.
type Frame struct {
	AppID   string
	Title   string
	Body    string
	Max     int64
	Current int64
}

// HomeFrame is rendered when nothing is counting down.
var HomeFrame = Frame{Title: HomeTitle, Body: HomeBody}

// Display shows frames to the user.
type Display interface {
	Render(ctx context.Context, frame Frame)
}

// Probe re-checks the device between polls.
type Probe interface {
	// Interactive reports whether the screen is unlocked.
	Interactive(ctx context.Context) bool
	// Foreground returns the app seen in a short recent window. seen is
	// false when the window holds no transitions.
	Foreground(ctx context.Context) (appID string, seen bool)
}

// Config holds ticker configuration
type Config struct {
	Interval time.Duration
	Display  Display
	Probe    Probe
}

// Ticker owns at most one countdown loop at a time.
type Ticker struct {
	display  Display
	probe    Probe
	interval time.Duration
	logger   zerolog.Logger

	// kickMu is separate from mu: a loop requests a poll while Sync may
	// hold mu waiting for that loop to exit.
	kickMu sync.Mutex
	kick   func()

	mu      sync.Mutex
	current *countdown
}

type countdown struct {
	appID  string
	max    int64
	cancel context.CancelFunc
	done   chan struct{}
}

func (c *countdown) running() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// New creates a ticker.
func New(cfg Config, logger zerolog.Logger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Ticker{
		display:  cfg.Display,
		probe:    cfg.Probe,
		interval: cfg.Interval,
		logger:   logger.With().Str("component", "ticker").Logger(),
	}
}

// SetKick sets the callback used to request an immediate poll when the
// countdown no longer matches the device.
func (t *Ticker) SetKick(kick func()) {
	t.kickMu.Lock()
	t.kick = kick
	t.kickMu.Unlock()
}

// Update implements usage.Notifier.
func (t *Ticker) Update(ctx context.Context, n usage.Notification) {
	t.Sync(ctx, n)
}

// Clear implements usage.Notifier.
func (t *Ticker) Clear(ctx context.Context) {
	t.Cancel()
	t.display.Render(ctx, HomeFrame)
}

// Sync applies a fresh engine snapshot. A countdown already running for
// the same app and budget keeps going untouched.
func (t *Ticker) Sync(ctx context.Context, n usage.Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c := t.current; c != nil && c.running() && c.appID == n.AppID && c.max == n.MaxSeconds {
		return
	}
	t.stopLocked()

	if n.MaxSeconds <= 0 {
		t.display.Render(ctx, Frame{
			AppID: n.AppID,
			Title: fmt.Sprintf("%s is active", n.AppName),
			Body:  n.Body,
		})
		return
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c := &countdown{
		appID:  n.AppID,
		max:    n.MaxSeconds,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.current = c

	t.logger.Debug().
		Str("app_id", n.AppID).
		Int64("elapsed", n.ElapsedSeconds).
		Int64("max", n.MaxSeconds).
		Msg("Starting countdown")

	go t.run(loopCtx, c, n)
}

// Cancel stops the running countdown and waits for it to exit.
func (t *Ticker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Running reports the app currently counting down, if any.
func (t *Ticker) Running() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil || !t.current.running() {
		return "", false
	}
	return t.current.appID, true
}

func (t *Ticker) stopLocked() {
	if t.current == nil {
		return
	}
	t.current.cancel()
	<-t.current.done
	t.current = nil
}

func (t *Ticker) run(ctx context.Context, c *countdown, n usage.Notification) {
	defer close(c.done)

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	step := max(1, int64(t.interval/time.Second))
	current := max(0, n.ElapsedSeconds)

	for current < c.max {
		if !t.matches(ctx, c.appID) {
			if ctx.Err() != nil {
				return
			}
			t.logger.Debug().Str("app_id", c.appID).Msg("Countdown no longer matches device, requesting poll")
			t.display.Render(ctx, HomeFrame)
			t.requestPoll()
			return
		}

		if ctx.Err() != nil {
			return
		}
		t.display.Render(ctx, Frame{
			AppID:   c.appID,
			Title:   fmt.Sprintf("%s: %s left", n.AppName, formatClock(c.max-current)),
			Body:    n.Body,
			Max:     c.max,
			Current: current,
		})

		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}
		current += step
	}
}

func (t *Ticker) matches(ctx context.Context, appID string) bool {
	if t.probe == nil {
		return true
	}
	if !t.probe.Interactive(ctx) {
		return false
	}
	app, seen := t.probe.Foreground(ctx)
	return !seen || app == appID
}

func (t *Ticker) requestPoll() {
	t.kickMu.Lock()
	kick := t.kick
	t.kickMu.Unlock()
	if kick != nil {
		kick()
	}
}

// formatClock renders seconds as mm:ss.
func formatClock(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
