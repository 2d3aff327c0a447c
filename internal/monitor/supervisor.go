package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/appwarden/internal/clock"
	"github.com/goodtune/appwarden/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultWatchdogInterval is how often the supervisor checks the poller
	DefaultWatchdogInterval = time.Minute

	// DefaultHeartbeatTimeout is the longest a healthy poller goes without
	// finishing a tick
	DefaultHeartbeatTimeout = 30 * time.Second
)

// Runner is a long-running task reporting liveness through a heartbeat.
type Runner interface {
	Run(ctx context.Context) error
	Heartbeat() time.Time
}

// SupervisorConfig holds supervisor configuration
type SupervisorConfig struct {
	Interval         time.Duration
	HeartbeatTimeout time.Duration
	// Notify is called after every healthy check, e.g. the systemd watchdog.
	Notify func() error
	Clock  clock.Clock
}

// Supervisor owns the poller goroutine and restarts it when it exits or
// stops ticking.
type Supervisor struct {
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	notify   func() error
	clock    clock.Clock
	logger   zerolog.Logger

	mu        sync.Mutex
	parent    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time

	stopWatch context.CancelFunc
	watchDone chan struct{}
}

// NewSupervisor creates a supervisor for runner.
func NewSupervisor(runner Runner, cfg SupervisorConfig, logger zerolog.Logger) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchdogInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	return &Supervisor{
		runner:   runner,
		interval: cfg.Interval,
		timeout:  cfg.HeartbeatTimeout,
		notify:   cfg.Notify,
		clock:    cfg.Clock,
		logger:   logger.With().Str("component", "watchdog").Logger(),
	}
}

// Start launches the runner and the watchdog loop.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.parent = ctx
	s.startLocked()
	s.mu.Unlock()

	watchCtx, cancel := context.WithCancel(ctx)
	s.stopWatch = cancel
	s.watchDone = make(chan struct{})
	go s.watch(watchCtx)

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("heartbeat_timeout", s.timeout).
		Msg("Watchdog started")
}

// Stop cancels the runner and the watchdog and waits for both to exit.
func (s *Supervisor) Stop() {
	if s.stopWatch != nil {
		s.stopWatch()
		<-s.watchDone
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	s.logger.Info().Msg("Watchdog stopped")
}

func (s *Supervisor) watch(ctx context.Context) {
	defer close(s.watchDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.check() && s.notify != nil {
				if err := s.notify(); err != nil {
					s.logger.Warn().Err(err).Msg("Failed to notify watchdog")
				}
			}
		}
	}
}

// check restarts the runner when it has exited or its heartbeat is stale,
// and reports whether it was healthy.
func (s *Supervisor) check() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	alive := s.done != nil && !closed(s.done)

	last := s.runner.Heartbeat()
	if last.Before(s.startedAt) {
		// No tick yet from this run; measure from its start.
		last = s.startedAt
	}
	fresh := now.Sub(last) <= s.timeout

	if alive && fresh {
		return true
	}

	s.logger.Warn().
		Bool("alive", alive).
		Time("last_heartbeat", last).
		Msg("Poll loop unhealthy, restarting")
	metrics.WatchdogRestarts.Inc()

	if s.cancel != nil {
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(s.timeout):
			// A wedged tick keeps running; the engine still serializes it.
			s.logger.Error().Msg("Previous poll loop did not exit in time")
		}
	}
	s.startLocked()
	return false
}

func (s *Supervisor) startLocked() {
	ctx, cancel := context.WithCancel(s.parent)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.startedAt = s.clock.Now()

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Msg("Poll loop crashed")
			}
		}()
		if err := s.runner.Run(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Poll loop exited")
		}
	}()
}

func closed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
