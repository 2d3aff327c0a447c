package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodtune/appwarden/internal/clock"
	"github.com/goodtune/appwarden/internal/foreground"
	"github.com/goodtune/appwarden/internal/storage"
	"github.com/goodtune/appwarden/internal/storage/bolt"
	"github.com/goodtune/appwarden/internal/usage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu    sync.Mutex
	app   string
	err   error
	panic bool
}

func (f *fakeResolver) Current(context.Context, time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		panic("resolver exploded")
	}
	return f.app, f.err
}

type fakeChecker struct {
	interactive bool
	err         error
}

func (f fakeChecker) IsInteractive(context.Context) (bool, error) {
	return f.interactive, f.err
}

type fakeObserver struct {
	mu      sync.Mutex
	obs     []usage.Observation
	syncs   []string
	syncErr error
}

func (f *fakeObserver) Observe(_ context.Context, obs usage.Observation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.obs = append(f.obs, obs)
	return nil
}

func (f *fakeObserver) SyncDailyUsage(_ context.Context, appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs = append(f.syncs, appID)
	return f.syncErr
}

func (f *fakeObserver) observations() []usage.Observation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]usage.Observation(nil), f.obs...)
}

var start = time.Date(2024, 6, 3, 10, 0, 0, 0, time.Local)

func newTestPoller(res *fakeResolver, checker InteractivityChecker, obs *fakeObserver, clk clock.Clock) *Poller {
	return NewPoller(res, checker, obs, PollerConfig{
		Interval:          time.Hour,
		UsageSyncInterval: time.Minute,
		Clock:             clk,
	}, zerolog.Nop())
}

func TestPollerTickObserves(t *testing.T) {
	clk := clock.NewManual(start)
	res := &fakeResolver{app: "com.example.game"}
	obs := &fakeObserver{}
	p := newTestPoller(res, fakeChecker{interactive: true}, obs, clk)

	require.NoError(t, p.Tick(context.Background()))

	got := obs.observations()
	require.Len(t, got, 1)
	assert.Equal(t, "com.example.game", got[0].AppID)
	assert.True(t, got[0].Interactive)
	assert.Equal(t, start, got[0].At)
	assert.Equal(t, start, p.Heartbeat())
}

func TestPollerInteractivityErrorFailsOpen(t *testing.T) {
	clk := clock.NewManual(start)
	obs := &fakeObserver{}
	p := newTestPoller(&fakeResolver{app: "a"}, fakeChecker{err: errors.New("no bus")}, obs, clk)

	require.NoError(t, p.Tick(context.Background()))
	assert.True(t, obs.observations()[0].Interactive)
}

func TestPollerLockedScreen(t *testing.T) {
	clk := clock.NewManual(start)
	obs := &fakeObserver{}
	p := newTestPoller(&fakeResolver{app: "a"}, fakeChecker{interactive: false}, obs, clk)

	require.NoError(t, p.Tick(context.Background()))
	assert.False(t, obs.observations()[0].Interactive)
	assert.Empty(t, obs.syncs)
}

func TestPollerResolverErrorSkipsObservation(t *testing.T) {
	clk := clock.NewManual(start)
	obs := &fakeObserver{}
	p := newTestPoller(&fakeResolver{err: errors.New("source down")}, nil, obs, clk)

	err := p.Tick(context.Background())
	require.Error(t, err)
	assert.Empty(t, obs.observations())
	assert.Equal(t, start, p.Heartbeat(), "a failed tick still counts as alive")
}

func TestPollerRecoversPanic(t *testing.T) {
	clk := clock.NewManual(start)
	obs := &fakeObserver{}
	p := newTestPoller(&fakeResolver{panic: true}, nil, obs, clk)

	err := p.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.False(t, p.Heartbeat().IsZero())
}

func TestPollerUsageSyncCadence(t *testing.T) {
	clk := clock.NewManual(start)
	res := &fakeResolver{app: "a"}
	obs := &fakeObserver{}
	p := newTestPoller(res, nil, obs, clk)
	ctx := context.Background()

	require.NoError(t, p.Tick(ctx))
	clk.Advance(2 * time.Second)
	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, []string{"a"}, obs.syncs)

	// Switching apps syncs immediately.
	res.mu.Lock()
	res.app = "b"
	res.mu.Unlock()
	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, []string{"a", "b"}, obs.syncs)

	clk.Advance(time.Minute)
	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, []string{"a", "b", "b"}, obs.syncs)
}

func TestPollerFailedSyncKeepsCadence(t *testing.T) {
	clk := clock.NewManual(start)
	obs := &fakeObserver{syncErr: errors.New("store down")}
	p := newTestPoller(&fakeResolver{app: "a"}, nil, obs, clk)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Tick(ctx))
		clk.Advance(2 * time.Second)
	}
	assert.Equal(t, []string{"a"}, obs.syncs)

	clk.Advance(time.Minute)
	require.NoError(t, p.Tick(ctx))
	assert.Equal(t, []string{"a", "a"}, obs.syncs)
}

type exemptSet map[string]bool

func (s exemptSet) Exempt(_ context.Context, appID string) (bool, error) {
	return s[appID], nil
}

// countingEngine counts daily usage syncs made against a real engine.
type countingEngine struct {
	*usage.Engine
	syncs  int
	failed int
}

func (c *countingEngine) SyncDailyUsage(ctx context.Context, appID string) error {
	c.syncs++
	err := c.Engine.SyncDailyUsage(ctx, appID)
	if err != nil {
		c.failed++
	}
	return err
}

func TestPollerExemptForegroundApp(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(start)

	store, err := bolt.Open(filepath.Join(t.TempDir(), "appwarden.bolt"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	events := foreground.NewMemorySource(0)
	require.NoError(t, events.Record(ctx, foreground.Event{
		AppID:     "org.gnome.Shell",
		Type:      foreground.MoveToForeground,
		Timestamp: start.Add(-time.Hour),
	}))

	engine, err := usage.NewEngine(usage.Config{
		Store:    store,
		Events:   events,
		Exemptor: exemptSet{"org.gnome.Shell": true},
		Clock:    clk,
	}, zerolog.Nop())
	require.NoError(t, err)

	obs := &countingEngine{Engine: engine}
	p := NewPoller(&fakeResolver{app: "org.gnome.Shell"}, fakeChecker{interactive: true}, obs, PollerConfig{
		Interval:          time.Hour,
		UsageSyncInterval: time.Minute,
		Clock:             clk,
	}, zerolog.Nop())

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Tick(ctx))
		clk.Advance(2 * time.Second)
	}

	assert.Equal(t, 1, obs.syncs)
	assert.Zero(t, obs.failed)

	_, err = engine.Get(ctx, "org.gnome.Shell")
	assert.ErrorIs(t, err, storage.ErrNotFound, "exempt apps never get a record")
}

func TestPollerKickTriggersTick(t *testing.T) {
	obs := &fakeObserver{}
	p := newTestPoller(&fakeResolver{app: "a"}, nil, obs, clock.Real{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(obs.observations()) == 1 }, time.Second, 5*time.Millisecond)

	p.Kick()
	p.Kick()
	require.Eventually(t, func() bool { return len(obs.observations()) >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

type fakeRunner struct {
	runs      atomic.Int32
	exitEarly bool
	heartbeat atomic.Int64
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.runs.Add(1)
	if f.exitEarly {
		return errors.New("gave up")
	}
	<-ctx.Done()
	return nil
}

func (f *fakeRunner) Heartbeat() time.Time {
	ns := f.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func newTestSupervisor(r Runner, clk clock.Clock, notify func() error) *Supervisor {
	return NewSupervisor(r, SupervisorConfig{
		Interval:         time.Hour,
		HeartbeatTimeout: 30 * time.Second,
		Notify:           notify,
		Clock:            clk,
	}, zerolog.Nop())
}

func TestSupervisorHealthyRunner(t *testing.T) {
	clk := clock.NewManual(start)
	r := &fakeRunner{}
	s := newTestSupervisor(r, clk, nil)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return r.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	clk.Advance(10 * time.Second)
	r.heartbeat.Store(clk.Now().UnixNano())
	assert.True(t, s.check())
	assert.Equal(t, int32(1), r.runs.Load())
}

func TestSupervisorRestartsStaleRunner(t *testing.T) {
	clk := clock.NewManual(start)
	r := &fakeRunner{}
	s := newTestSupervisor(r, clk, nil)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return r.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	r.heartbeat.Store(clk.Now().UnixNano())
	clk.Advance(31 * time.Second)
	assert.False(t, s.check())
	require.Eventually(t, func() bool { return r.runs.Load() == 2 }, time.Second, 5*time.Millisecond)

	// The restarted runner gets a fresh grace period.
	clk.Advance(5 * time.Second)
	assert.True(t, s.check())
}

func TestSupervisorRestartsExitedRunner(t *testing.T) {
	clk := clock.NewManual(start)
	r := &fakeRunner{exitEarly: true}
	s := newTestSupervisor(r, clk, nil)
	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return closed(s.done)
	}, time.Second, 5*time.Millisecond)

	assert.False(t, s.check())
	require.Eventually(t, func() bool { return r.runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSupervisorNotifiesWhenHealthy(t *testing.T) {
	r := &fakeRunner{}
	var notified atomic.Int32
	s := NewSupervisor(r, SupervisorConfig{
		Interval:         10 * time.Millisecond,
		HeartbeatTimeout: time.Hour,
		Notify: func() error {
			notified.Add(1)
			return nil
		},
	}, zerolog.Nop())
	s.Start(context.Background())

	require.Eventually(t, func() bool { return notified.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	n := notified.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, notified.Load(), "no notifications after Stop")
	assert.Equal(t, int32(1), r.runs.Load())
}
