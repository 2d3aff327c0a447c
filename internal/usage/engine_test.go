package usage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/appwarden/internal/clock"
	"github.com/goodtune/appwarden/internal/foreground"
	"github.com/goodtune/appwarden/internal/storage"
	"github.com/goodtune/appwarden/internal/storage/bolt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPresenter struct {
	mu      sync.Mutex
	prompts []Prompt
	err     error
}

func (p *recordingPresenter) Present(_ context.Context, prompt Prompt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	return p.err
}

func (p *recordingPresenter) count(kind PromptKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, prompt := range p.prompts {
		if prompt.Kind == kind {
			n++
		}
	}
	return n
}

func (p *recordingPresenter) total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

type recordingNotifier struct {
	mu      sync.Mutex
	last    *Notification
	updates int
	clears  int
}

func (n *recordingNotifier) Update(_ context.Context, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = &notification
	n.updates++
}

func (n *recordingNotifier) Clear(context.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = nil
	n.clears++
}

type staticExemptor struct {
	exempt map[string]bool
	err    error
}

func (s staticExemptor) Exempt(_ context.Context, appID string) (bool, error) {
	return s.exempt[appID], s.err
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	engine    *Engine
	store     storage.Store
	clock     *clock.Manual
	presenter *recordingPresenter
	notifier  *recordingNotifier
	events    *foreground.MemorySource
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "appwarden.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		clock:     clock.NewManual(time.Date(2024, 6, 3, 10, 0, 0, 0, time.Local)),
		presenter: &recordingPresenter{},
		notifier:  &recordingNotifier{},
		events:    foreground.NewMemorySource(0),
	}
	h.engine = h.newEngine(nil)
	return h
}

func (h *harness) newEngine(exemptor Exemptor) *Engine {
	h.t.Helper()
	engine, err := NewEngine(Config{
		Store:     h.store,
		Events:    h.events,
		Presenter: h.presenter,
		Notifier:  h.notifier,
		Exemptor:  exemptor,
		Clock:     h.clock,
	}, zerolog.Nop())
	require.NoError(h.t, err)
	return engine
}

func (h *harness) observe(appID string) {
	h.t.Helper()
	require.NoError(h.t, h.engine.Observe(h.ctx, Observation{AppID: appID, Interactive: true}))
}

func (h *harness) register(appID string) {
	h.t.Helper()
	_, err := h.engine.RegisterApp(h.ctx, appID, "", true)
	require.NoError(h.t, err)
}

func (h *harness) record(appID string) *storage.AppRecord {
	h.t.Helper()
	rec, err := h.engine.Get(h.ctx, appID)
	require.NoError(h.t, err)
	return rec
}

func (h *harness) presenting() bool {
	h.t.Helper()
	state, err := h.engine.PipelineState(h.ctx)
	require.NoError(h.t, err)
	return state.Presenting
}

func TestExhaustedBudgetBlocksOnce(t *testing.T) {
	h := newHarness(t)
	h.register("game")

	h.observe("game")
	assert.Equal(t, 1, h.presenter.count(PromptAskTime))

	require.NoError(t, h.engine.StartSession(h.ctx, "game", 5*time.Minute))
	assert.False(t, h.presenting(), "starting a session clears the prompt flag")

	for i := 0; i < 160; i++ {
		h.clock.Advance(2 * time.Second)
		h.observe("game")
	}

	rec := h.record("game")
	assert.Equal(t, storage.StateBlocked, rec.SessionState)
	assert.Zero(t, rec.RemainingSessionTimeMs)
	assert.Equal(t, 1, h.presenter.count(PromptTimeUp))
	assert.Zero(t, h.presenter.count(PromptBlocked), "block prompt is suppressed while time's up is showing")
}

func TestPauseResumeRestoresRemaining(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 10*time.Minute))

	h.clock.Advance(3 * time.Minute)
	h.observe("game")
	require.EqualValues(t, 7*60*1000, h.record("game").RemainingSessionTimeMs)

	require.NoError(t, h.engine.GrantExtension(h.ctx, "game", 2))
	before := h.record("game").RemainingSessionTimeMs
	require.EqualValues(t, 9*60*1000, before)

	require.NoError(t, h.engine.PauseSession(h.ctx, "game"))
	paused := h.record("game")
	assert.Equal(t, storage.StatePaused, paused.SessionState)
	assert.Equal(t, before, paused.RemainingSessionTimeMs)

	require.NoError(t, h.engine.ResumeSession(h.ctx, "game"))
	resumed := h.record("game")
	assert.Equal(t, storage.StateActive, resumed.SessionState)
	assert.Equal(t, before, resumed.RemainingSessionTimeMs)

	view, err := h.engine.Snapshot(h.ctx, "game")
	require.NoError(t, err)
	assert.True(t, view.InMemory)
	assert.Equal(t, before, view.RemainingMs)
}

func TestSwitchAwayAndBackKeepsTotal(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 10*time.Minute))

	h.clock.Advance(time.Minute)
	h.observe("game")

	// Switching away gives game a final tick, then pauses it.
	h.clock.Advance(30 * time.Second)
	h.observe("browser")
	rec := h.record("game")
	assert.Equal(t, storage.StatePaused, rec.SessionState)
	assert.EqualValues(t, 510000, rec.RemainingSessionTimeMs)

	h.clock.Advance(2 * time.Minute)
	h.observe("game")

	rec = h.record("game")
	assert.Equal(t, storage.StateActive, rec.SessionState)
	assert.EqualValues(t, 510000, rec.RemainingSessionTimeMs, "background time is not charged")

	view, err := h.engine.Snapshot(h.ctx, "game")
	require.NoError(t, err)
	assert.EqualValues(t, 90000, view.UsedMs)
}

func TestGrantExtensionWhileActive(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 5*time.Minute))

	h.clock.Advance(90 * time.Second)
	h.observe("game")
	before := h.record("game").RemainingSessionTimeMs

	require.NoError(t, h.engine.GrantExtension(h.ctx, "game", 5))

	rec := h.record("game")
	assert.Equal(t, storage.StateActive, rec.SessionState)
	assert.Equal(t, before+300000, rec.RemainingSessionTimeMs)
}

func TestGrantExtensionFromBlockedReopens(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", time.Minute))

	h.clock.Advance(61 * time.Second)
	h.observe("game")
	require.Equal(t, storage.StateBlocked, h.record("game").SessionState)
	require.True(t, h.presenting())

	require.NoError(t, h.engine.GrantExtension(h.ctx, "game", 5))
	rec := h.record("game")
	assert.Equal(t, storage.StateActive, rec.SessionState)
	assert.EqualValues(t, 300000, rec.RemainingSessionTimeMs)
	assert.False(t, h.presenting())

	h.clock.Advance(time.Minute)
	h.observe("game")
	assert.EqualValues(t, 240000, h.record("game").RemainingSessionTimeMs)
}

func TestGrantExtensionWhilePaused(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 5*time.Minute))
	require.NoError(t, h.engine.PauseSession(h.ctx, "game"))

	require.NoError(t, h.engine.GrantExtension(h.ctx, "game", 1))
	rec := h.record("game")
	assert.Equal(t, storage.StatePaused, rec.SessionState)
	assert.EqualValues(t, 360000, rec.RemainingSessionTimeMs)
}

func TestGrantExtensionRequiresSession(t *testing.T) {
	h := newHarness(t)
	h.register("game")

	assert.ErrorIs(t, h.engine.GrantExtension(h.ctx, "game", 5), ErrNoSession)
	assert.ErrorIs(t, h.engine.GrantExtension(h.ctx, "game", 0), ErrInvalidDuration)
	assert.ErrorIs(t, h.engine.GrantExtension(h.ctx, "missing", 5), storage.ErrNotFound)
}

func TestDailyResetClearsEveryRecord(t *testing.T) {
	h := newHarness(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		h.register(id)
	}
	require.NoError(t, h.engine.StartSession(h.ctx, "a", time.Minute))
	require.NoError(t, h.engine.StartSession(h.ctx, "b", time.Minute))
	require.NoError(t, h.engine.PauseSession(h.ctx, "b"))
	require.NoError(t, h.engine.EndSession(h.ctx, "c"))
	require.NoError(t, h.store.Apps().UpdateUsage(h.ctx, "d", 42000, h.clock.Now()))

	for round := 0; round < 2; round++ {
		count, err := h.engine.ResetDailyUsage(h.ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, count)

		records, err := h.engine.List(h.ctx)
		require.NoError(t, err)
		for _, rec := range records {
			assert.Equal(t, storage.StateIdle, rec.SessionState, rec.AppID)
			assert.Zero(t, rec.DailyUsageMs, rec.AppID)
			assert.Zero(t, rec.RemainingSessionTimeMs, rec.AppID)
			assert.True(t, rec.LimitEnabled, rec.AppID)
		}
	}
	assert.Zero(t, h.engine.cache.Len())
}

func TestCloseTicksDoNotDoubleCount(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 5*time.Minute))

	h.clock.Advance(500 * time.Millisecond)
	h.observe("game")
	h.observe("game")
	h.observe("game")
	assert.EqualValues(t, 299500, h.record("game").RemainingSessionTimeMs)

	// A sample stamped before the last check adds nothing.
	require.NoError(t, h.engine.Observe(h.ctx, Observation{
		AppID:       "game",
		Interactive: true,
		At:          h.clock.Now().Add(-time.Second),
	}))
	assert.EqualValues(t, 299500, h.record("game").RemainingSessionTimeMs)
}

func TestRemainingStaysWithinBudget(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 2*time.Minute))

	var extensions time.Duration
	steps := []func(){
		func() { h.clock.Advance(7 * time.Second); h.observe("game") },
		func() { h.clock.Advance(3 * time.Second); h.observe("other") },
		func() { h.clock.Advance(11 * time.Second); h.observe("game") },
		func() {
			if h.record("game").SessionState == storage.StateActive {
				require.NoError(t, h.engine.GrantExtension(h.ctx, "game", 1))
				extensions += time.Minute
			}
		},
		func() {
			require.NoError(t, h.engine.Observe(h.ctx, Observation{AppID: "game", Interactive: false}))
		},
		func() { h.clock.Advance(13 * time.Second); h.observe("game") },
	}

	for i := 0; i < 60; i++ {
		steps[i%len(steps)]()

		rec := h.record("game")
		if rec.SessionState == storage.StateIdle || rec.SessionState == storage.StateBlocked {
			break
		}
		assert.GreaterOrEqual(t, rec.RemainingSessionTimeMs, int64(0))
		assert.LessOrEqual(t, rec.RemainingSessionTimeMs, millis(rec.Selected()+extensions))
	}
}

func TestScreenLockPausesForegroundApp(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 5*time.Minute))

	h.clock.Advance(time.Minute)
	require.NoError(t, h.engine.Observe(h.ctx, Observation{AppID: "game", Interactive: false}))

	rec := h.record("game")
	assert.Equal(t, storage.StatePaused, rec.SessionState)
	assert.EqualValues(t, 240000, rec.RemainingSessionTimeMs, "final tick runs before pausing")
	assert.Nil(t, h.notifier.last)

	h.clock.Advance(10 * time.Minute)
	h.observe("game")
	rec = h.record("game")
	assert.Equal(t, storage.StateActive, rec.SessionState)
	assert.EqualValues(t, 240000, rec.RemainingSessionTimeMs)
}

func TestBlockedResetsToIdleOnNextSwitch(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", time.Minute))
	require.NoError(t, h.engine.EndSession(h.ctx, "game"))

	h.observe("game")
	assert.Equal(t, 1, h.presenter.count(PromptBlocked))
	assert.Equal(t, storage.StateBlocked, h.record("game").SessionState)

	h.observe("")
	assert.Equal(t, storage.StateIdle, h.record("game").SessionState)

	h.observe("game")
	assert.Equal(t, 2, h.presenter.count(PromptAskTime), "next open asks for a budget again")
}

func TestUnknownAppIsBootstrapped(t *testing.T) {
	h := newHarness(t)

	h.observe("com.example.new")

	rec := h.record("com.example.new")
	assert.False(t, rec.LimitEnabled)
	assert.Equal(t, storage.StateIdle, rec.SessionState)
	assert.Zero(t, h.presenter.total())
}

func TestPresentingFlagSuppressesDuplicates(t *testing.T) {
	h := newHarness(t)
	h.register("game")

	h.observe("game")
	h.observe("game")
	h.observe("game")
	assert.Equal(t, 1, h.presenter.count(PromptAskTime))

	require.NoError(t, h.engine.DismissPrompt(h.ctx))
	h.observe("game")
	assert.Equal(t, 2, h.presenter.count(PromptAskTime))

	h.observe("")
	assert.False(t, h.presenting(), "switching clears the flag")
}

func TestPresenterFailureRetries(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.presenter.err = errors.New("no display")

	assert.Error(t, h.engine.Observe(h.ctx, Observation{AppID: "game", Interactive: true}))
	assert.False(t, h.presenting())

	h.presenter.err = nil
	h.observe("game")
	assert.Equal(t, 2, h.presenter.count(PromptAskTime))
	assert.True(t, h.presenting())
}

func TestExemptAppsAreSkipped(t *testing.T) {
	h := newHarness(t)
	h.register("launcher")
	h.register("game")
	h.engine = h.newEngine(staticExemptor{exempt: map[string]bool{"launcher": true}})

	h.observe("launcher")
	assert.Zero(t, h.presenter.total())

	h.engine = h.newEngine(staticExemptor{err: errors.New("policy broken")})
	h.observe("game")
	assert.Zero(t, h.presenter.total(), "policy errors fail open")
}

func TestCorruptSessionResetsToIdle(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	require.NoError(t, h.store.Apps().UpdateSession(h.ctx, "game", storage.SessionUpdate{
		State:       storage.StatePaused,
		RemainingMs: 60000,
	}))

	err := h.engine.ResumeSession(h.ctx, "game")
	assert.ErrorIs(t, err, ErrCorruptSession)
	assert.Equal(t, storage.StateIdle, h.record("game").SessionState)
}

func TestPausedWithoutTimeFinalizesOnResume(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", time.Minute))
	require.NoError(t, h.store.Apps().UpdateSession(h.ctx, "game", storage.SessionUpdate{
		State:          storage.StatePaused,
		LastPausedTime: h.clock.Now(),
	}))
	h.engine.cache.Evict("game")

	h.observe("game")

	assert.Equal(t, storage.StateBlocked, h.record("game").SessionState)
	assert.Equal(t, 1, h.presenter.count(PromptTimeUp))
}

func TestStartSessionTransitions(t *testing.T) {
	h := newHarness(t)
	h.register("game")

	assert.ErrorIs(t, h.engine.StartSession(h.ctx, "game", 0), ErrInvalidDuration)
	require.NoError(t, h.engine.StartSession(h.ctx, "game", time.Minute))
	assert.ErrorIs(t, h.engine.StartSession(h.ctx, "game", time.Minute), ErrInvalidTransition)

	require.NoError(t, h.engine.EndSession(h.ctx, "game"))
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 2*time.Minute), "open anyway from BLOCKED")

	rec := h.record("game")
	assert.Equal(t, storage.StateActive, rec.SessionState)
	assert.EqualValues(t, 120000, rec.RemainingSessionTimeMs)
}

func TestSetSessionState(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", time.Minute))

	require.NoError(t, h.engine.SetSessionState(h.ctx, "game", storage.StatePaused))
	assert.Equal(t, storage.StatePaused, h.record("game").SessionState)

	require.NoError(t, h.engine.SetSessionState(h.ctx, "game", storage.StateActive))
	assert.Equal(t, storage.StateActive, h.record("game").SessionState)

	require.NoError(t, h.engine.SetSessionState(h.ctx, "game", storage.StateBlocked))
	assert.Equal(t, storage.StateBlocked, h.record("game").SessionState)

	assert.ErrorIs(t, h.engine.SetSessionState(h.ctx, "game", storage.StatePaused), ErrInvalidTransition)

	require.NoError(t, h.engine.SetSessionState(h.ctx, "game", storage.StateIdle))
	rec := h.record("game")
	assert.Equal(t, storage.StateIdle, rec.SessionState)
	assert.Zero(t, rec.RemainingSessionTimeMs)
}

func TestRestartRebuildsFromPersistedRemaining(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 5*time.Minute))
	h.clock.Advance(time.Minute)
	h.observe("game")

	// A new engine has an empty snapshot cache.
	h.engine = h.newEngine(nil)
	h.clock.Advance(2 * time.Second)
	h.observe("game")
	h.clock.Advance(2 * time.Second)
	h.observe("game")

	assert.EqualValues(t, 238000, h.record("game").RemainingSessionTimeMs)
}

func TestNotificationPayload(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.RegisterApp(h.ctx, "game", "Game", true)
	require.NoError(t, err)
	require.NoError(t, h.store.Apps().UpdateUsage(h.ctx, "game", int64(90*time.Minute/time.Millisecond), h.clock.Now()))

	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 10*time.Minute))
	h.clock.Advance(4 * time.Minute)
	h.observe("game")

	require.NotNil(t, h.notifier.last)
	assert.Equal(t, "Game - Used 1h 30m today", h.notifier.last.Title)
	assert.Equal(t, "Session time left: 6m", h.notifier.last.Body)
	assert.EqualValues(t, 600, h.notifier.last.MaxSeconds)
	assert.EqualValues(t, 240, h.notifier.last.ElapsedSeconds)
}

func TestLimitDisabledAppIsNotMetered(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	require.NoError(t, h.engine.ToggleLimit(h.ctx, "game", false))

	h.observe("game")
	assert.Zero(t, h.presenter.total())
	assert.ErrorIs(t, h.engine.ToggleLimit(h.ctx, "missing", true), storage.ErrNotFound)
}

func TestSyncDailyUsage(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.register("reader")

	now := h.clock.Now()
	require.NoError(t, h.events.Record(h.ctx,
		foreground.Event{AppID: "game", Type: foreground.MoveToForeground, Timestamp: now.Add(-30 * time.Minute)},
		foreground.Event{AppID: "game", Type: foreground.MoveToBackground, Timestamp: now.Add(-20 * time.Minute)},
		foreground.Event{AppID: "reader", Type: foreground.MoveToForeground, Timestamp: now.Add(-5 * time.Minute)},
	))

	require.NoError(t, h.engine.SyncDailyUsage(h.ctx, "game"))
	assert.EqualValues(t, 10*60*1000, h.record("game").DailyUsageMs)

	// Apps without a record, such as exempt ones, are skipped.
	require.NoError(t, h.engine.SyncDailyUsage(h.ctx, "launcher"))
	_, err := h.engine.Get(h.ctx, "launcher")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	updated, err := h.engine.SyncAllDailyUsage(h.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	assert.EqualValues(t, 5*60*1000, h.record("reader").DailyUsageMs)
}

func TestDailyResetWaitsForInFlightCommands(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 10*time.Minute))

	unlock := h.engine.locks.Lock("game")
	done := make(chan error, 1)
	go func() {
		_, err := h.engine.ResetDailyUsage(h.ctx)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("reset ran while a command held the app lock")
	case <-time.After(50 * time.Millisecond):
	}

	// The command holding the lock completes before the reset lands.
	require.NoError(t, h.store.Apps().UpdateRemaining(h.ctx, "game", 42000, h.clock.Now()))
	unlock()
	require.NoError(t, <-done)

	rec := h.record("game")
	assert.Equal(t, storage.StateIdle, rec.SessionState)
	assert.Zero(t, rec.RemainingSessionTimeMs)

	assert.ErrorIs(t, h.engine.GrantExtension(h.ctx, "game", 5), ErrNoSession)
	assert.Zero(t, h.engine.cache.Len())
}

func TestLockedScreenKeepsPauseTime(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 5*time.Minute))

	h.clock.Advance(time.Minute)
	locked := Observation{AppID: "game", Interactive: false}
	require.NoError(t, h.engine.Observe(h.ctx, locked))
	pausedAt := h.clock.Now()

	for i := 0; i < 5; i++ {
		h.clock.Advance(2 * time.Second)
		require.NoError(t, h.engine.Observe(h.ctx, locked))
	}

	rec := h.record("game")
	assert.Equal(t, storage.StatePaused, rec.SessionState)
	assert.EqualValues(t, 240000, rec.RemainingSessionTimeMs)
	assert.True(t, pausedAt.Equal(rec.LastPausedTime), "pause time %s, want %s", rec.LastPausedTime, pausedAt)

	require.NoError(t, h.engine.PauseSession(h.ctx, "game"))
	assert.True(t, pausedAt.Equal(h.record("game").LastPausedTime))
}

// Extensions live only in the in-memory snapshot. After a switch the
// rebuilt snapshot folds them into the budget: remaining time is kept,
// but used time restarts from the persisted figures.
func TestSwitchAfterExtensionKeepsRemaining(t *testing.T) {
	h := newHarness(t)
	h.register("game")
	h.observe("game")
	require.NoError(t, h.engine.StartSession(h.ctx, "game", 5*time.Minute))

	h.clock.Advance(4 * time.Minute)
	h.observe("game")
	require.NoError(t, h.engine.GrantExtension(h.ctx, "game", 5))
	h.observe("game")

	require.NotNil(t, h.notifier.last)
	assert.EqualValues(t, 600, h.notifier.last.MaxSeconds)
	assert.EqualValues(t, 240, h.notifier.last.ElapsedSeconds)

	h.observe("browser")
	h.observe("game")

	rec := h.record("game")
	assert.Equal(t, storage.StateActive, rec.SessionState)
	assert.EqualValues(t, 360000, rec.RemainingSessionTimeMs)

	view, err := h.engine.Snapshot(h.ctx, "game")
	require.NoError(t, err)
	assert.EqualValues(t, 0, view.UsedMs)
	assert.EqualValues(t, 60000, view.ExtensionsMs)
	assert.EqualValues(t, 360000, view.RemainingMs)

	require.NotNil(t, h.notifier.last)
	assert.EqualValues(t, 360, h.notifier.last.MaxSeconds)
	assert.EqualValues(t, 0, h.notifier.last.ElapsedSeconds)
}
