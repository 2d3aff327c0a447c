// Package monitor drives the session engine from a periodic foreground poll
// and keeps that poll alive with a watchdog.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/appwarden/internal/clock"
	"github.com/goodtune/appwarden/internal/metrics"
	"github.com/goodtune/appwarden/internal/usage"
	"github.com/rs/zerolog"
)

const (
	// DefaultPollInterval is the cadence of foreground evaluation
	DefaultPollInterval = 2 * time.Second

	// DefaultUsageSyncInterval is how often daily usage is refreshed for the
	// foreground app
	DefaultUsageSyncInterval = time.Minute
)

// ForegroundResolver returns the foreground app at now, "" for none.
type ForegroundResolver interface {
	Current(ctx context.Context, now time.Time) (string, error)
}

// Observer receives poll samples.
type Observer interface {
	Observe(ctx context.Context, obs usage.Observation) error
	SyncDailyUsage(ctx context.Context, appID string) error
}

// PollerConfig holds poller configuration
type PollerConfig struct {
	Interval          time.Duration
	UsageSyncInterval time.Duration
	Clock             clock.Clock
}

// Poller samples the foreground app and feeds the engine. Ticks never
// overlap.
type Poller struct {
	resolver  ForegroundResolver
	checker   InteractivityChecker
	observer  Observer
	interval  time.Duration
	syncEvery time.Duration
	clock     clock.Clock
	logger    zerolog.Logger

	kick      chan struct{}
	heartbeat atomic.Int64

	tickMu   sync.Mutex
	lastSync time.Time
	lastApp  string
}

// NewPoller creates a poller. A nil checker treats the device as always
// interactive.
func NewPoller(resolver ForegroundResolver, checker InteractivityChecker, observer Observer, cfg PollerConfig, logger zerolog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.UsageSyncInterval <= 0 {
		cfg.UsageSyncInterval = DefaultUsageSyncInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if checker == nil {
		checker = AlwaysInteractive{}
	}
	return &Poller{
		resolver:  resolver,
		checker:   checker,
		observer:  observer,
		interval:  cfg.Interval,
		syncEvery: cfg.UsageSyncInterval,
		clock:     cfg.Clock,
		logger:    logger.With().Str("component", "poller").Logger(),
		kick:      make(chan struct{}, 1),
	}
}

// Run ticks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info().Dur("interval", p.interval).Msg("Poll loop started")

	_ = p.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("Poll loop stopped")
			return nil
		case <-ticker.C:
			_ = p.Tick(ctx)
		case <-p.kick:
			p.logger.Debug().Msg("Immediate poll requested")
			_ = p.Tick(ctx)
		}
	}
}

// Kick requests an immediate tick. It never blocks.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Heartbeat returns the time the last tick finished.
func (p *Poller) Heartbeat() time.Time {
	ns := p.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Tick runs one evaluation. Panics are recovered and reported as errors.
func (p *Poller) Tick(ctx context.Context) (err error) {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll tick panicked: %v", r)
		}
		result := "ok"
		if err != nil {
			result = "error"
			p.logger.Error().Err(err).Msg("Poll tick failed")
		}
		metrics.PollTicksTotal.WithLabelValues(result).Inc()
		metrics.PollTickDuration.Observe(time.Since(start).Seconds())
		p.heartbeat.Store(p.clock.Now().UnixNano())
	}()

	now := p.clock.Now()

	interactive, ierr := p.checker.IsInteractive(ctx)
	if ierr != nil {
		p.logger.Warn().Err(ierr).Msg("Interactivity check failed, assuming interactive")
		interactive = true
	}

	appID, err := p.resolver.Current(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to resolve foreground app: %w", err)
	}

	if err := p.observer.Observe(ctx, usage.Observation{
		AppID:       appID,
		Interactive: interactive,
		At:          now,
	}); err != nil {
		return err
	}

	if appID != "" && interactive && (appID != p.lastApp || now.Sub(p.lastSync) >= p.syncEvery) {
		// A failed sync waits for the next interval like a successful one.
		p.lastSync = now
		p.lastApp = appID
		if err := p.observer.SyncDailyUsage(ctx, appID); err != nil {
			p.logger.Warn().Err(err).Str("app_id", appID).Msg("Failed to sync daily usage")
		}
	}
	return nil
}
