package ticker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodtune/appwarden/internal/clock"
	"github.com/goodtune/appwarden/internal/foreground"
	"github.com/goodtune/appwarden/internal/usage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDisplay struct {
	mu     sync.Mutex
	frames []Frame
}

func (d *recordingDisplay) Render(_ context.Context, frame Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frames = append(d.frames, frame)
}

func (d *recordingDisplay) all() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Frame(nil), d.frames...)
}

func (d *recordingDisplay) last() Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.frames) == 0 {
		return Frame{}
	}
	return d.frames[len(d.frames)-1]
}

type fakeProbe struct {
	interactive atomic.Bool
	mu          sync.Mutex
	app         string
	seen        bool
}

func newFakeProbe(app string) *fakeProbe {
	p := &fakeProbe{app: app, seen: true}
	p.interactive.Store(true)
	return p
}

func (p *fakeProbe) Interactive(context.Context) bool { return p.interactive.Load() }

func (p *fakeProbe) Foreground(context.Context) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.app, p.seen
}

func (p *fakeProbe) set(app string, seen bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.app, p.seen = app, seen
}

func notification(maxSeconds, elapsed int64) usage.Notification {
	return usage.Notification{
		AppID:          "game",
		AppName:        "Game",
		Body:           "Session time left: 5m",
		MaxSeconds:     maxSeconds,
		ElapsedSeconds: elapsed,
	}
}

func TestTickerCountsDown(t *testing.T) {
	display := &recordingDisplay{}
	tk := New(Config{Interval: 5 * time.Millisecond, Display: display, Probe: newFakeProbe("game")}, zerolog.Nop())

	tk.Sync(context.Background(), notification(3, 0))

	require.Eventually(t, func() bool {
		_, running := tk.Running()
		return !running
	}, time.Second, 5*time.Millisecond)

	frames := display.all()
	require.Len(t, frames, 3)
	assert.Equal(t, "Game: 00:03 left", frames[0].Title)
	assert.Equal(t, "Game: 00:01 left", frames[2].Title)
	assert.EqualValues(t, 2, frames[2].Current)
	assert.EqualValues(t, 3, frames[2].Max)
}

func TestTickerIgnoresSnapshotsForRunningApp(t *testing.T) {
	display := &recordingDisplay{}
	tk := New(Config{Interval: time.Hour, Display: display, Probe: newFakeProbe("game")}, zerolog.Nop())
	defer tk.Cancel()

	tk.Sync(context.Background(), notification(600, 0))
	require.Eventually(t, func() bool { return len(display.all()) == 1 }, time.Second, time.Millisecond)

	tk.Sync(context.Background(), notification(600, 120))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, display.all(), 1, "steady-state snapshot must not restart the countdown")

	tk.Sync(context.Background(), notification(900, 120))
	require.Eventually(t, func() bool { return len(display.all()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, "Game: 13:00 left", display.last().Title)
}

func TestTickerMismatchRequestsPoll(t *testing.T) {
	display := &recordingDisplay{}
	probe := newFakeProbe("game")
	tk := New(Config{Interval: 5 * time.Millisecond, Display: display, Probe: probe}, zerolog.Nop())

	kicked := make(chan struct{}, 1)
	tk.SetKick(func() {
		select {
		case kicked <- struct{}{}:
		default:
		}
	})

	tk.Sync(context.Background(), notification(600, 0))
	probe.set("browser", true)

	select {
	case <-kicked:
	case <-time.After(time.Second):
		t.Fatal("expected a poll request after the foreground app changed")
	}
	require.Eventually(t, func() bool {
		_, running := tk.Running()
		return !running
	}, time.Second, time.Millisecond)
	assert.Equal(t, HomeFrame, display.last())
}

func TestTickerStopsWhenScreenLocks(t *testing.T) {
	display := &recordingDisplay{}
	probe := newFakeProbe("game")
	tk := New(Config{Interval: 5 * time.Millisecond, Display: display, Probe: probe}, zerolog.Nop())

	var kicks atomic.Int32
	tk.SetKick(func() { kicks.Add(1) })

	probe.interactive.Store(false)
	tk.Sync(context.Background(), notification(600, 0))

	require.Eventually(t, func() bool { return kicks.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, HomeFrame, display.last())
}

func TestTickerUnknownForegroundKeepsCounting(t *testing.T) {
	display := &recordingDisplay{}
	probe := newFakeProbe("")
	probe.set("", false)
	tk := New(Config{Interval: 5 * time.Millisecond, Display: display, Probe: probe}, zerolog.Nop())
	defer tk.Cancel()

	tk.Sync(context.Background(), notification(600, 0))
	require.Eventually(t, func() bool { return len(display.all()) >= 3 }, time.Second, time.Millisecond)
	_, running := tk.Running()
	assert.True(t, running)
}

func TestTickerIdleFrame(t *testing.T) {
	display := &recordingDisplay{}
	tk := New(Config{Display: display, Probe: newFakeProbe("game")}, zerolog.Nop())

	tk.Sync(context.Background(), notification(0, 0))

	assert.Equal(t, "Game is active", display.last().Title)
	_, running := tk.Running()
	assert.False(t, running)
}

func TestTickerClearCancelsLoop(t *testing.T) {
	display := &recordingDisplay{}
	tk := New(Config{Interval: 5 * time.Millisecond, Display: display, Probe: newFakeProbe("game")}, zerolog.Nop())

	tk.Update(context.Background(), notification(600, 0))
	require.Eventually(t, func() bool { return len(display.all()) >= 2 }, time.Second, time.Millisecond)

	tk.Clear(context.Background())
	rendered := len(display.all())
	assert.Equal(t, HomeFrame, display.last())

	time.Sleep(30 * time.Millisecond)
	assert.Len(t, display.all(), rendered, "a cancelled countdown must not render")
}

func TestFormatClock(t *testing.T) {
	assert.Equal(t, "00:00", formatClock(-3))
	assert.Equal(t, "00:59", formatClock(59))
	assert.Equal(t, "05:00", formatClock(300))
	assert.Equal(t, "61:01", formatClock(3661))
}

type fakeChecker struct {
	interactive bool
	err         error
}

func (c fakeChecker) IsInteractive(context.Context) (bool, error) {
	return c.interactive, c.err
}

func TestDeviceProbe(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	src := foreground.NewMemorySource(0)
	require.NoError(t, src.Record(ctx, foreground.Event{
		AppID:     "game",
		Type:      foreground.MoveToForeground,
		Timestamp: clk.Now().Add(-time.Second),
	}))
	resolver := foreground.NewResolver(src, foreground.Config{})

	probe := NewDeviceProbe(fakeChecker{err: errors.New("bus gone")}, resolver, 0, clk)
	assert.True(t, probe.Interactive(ctx), "checker errors fail open")

	app, seen := probe.Foreground(ctx)
	assert.True(t, seen)
	assert.Equal(t, "game", app)

	clk.Advance(time.Minute)
	_, seen = probe.Foreground(ctx)
	assert.False(t, seen)

	probe = NewDeviceProbe(fakeChecker{interactive: false}, resolver, 0, clk)
	assert.False(t, probe.Interactive(ctx))
}
