// Package usage implements the session engine: per-app budgets metered
// against wall-clock time, and the state machine that decides when to
// intervene.
package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/appwarden/internal/clock"
	"github.com/goodtune/appwarden/internal/foreground"
	"github.com/goodtune/appwarden/internal/metrics"
	"github.com/goodtune/appwarden/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine owns every mutation of app records. Observe is the single entry
// point of the poll pipeline; the command methods serve UIs and prompt
// responses.
type Engine struct {
	apps      storage.AppStore
	pipeline  storage.PipelineStore
	events    foreground.EventSource
	cache     *SnapshotCache
	presenter Presenter
	notifier  Notifier
	exemptor  Exemptor
	clock     clock.Clock
	logger    zerolog.Logger

	// observeMu serializes pipeline runs, locks serializes per-app
	// read-modify-write and stateMu guards the pipeline document.
	observeMu sync.Mutex
	locks     *keyedMutex
	stateMu   sync.Mutex
}

// Config holds engine configuration
type Config struct {
	Store     storage.Store
	Events    foreground.EventSource
	Presenter Presenter
	Notifier  Notifier
	Exemptor  Exemptor
	Clock     clock.Clock

	SnapshotTTL       time.Duration
	SnapshotCacheSize int
}

// NewEngine creates a session engine.
func NewEngine(cfg Config, logger zerolog.Logger) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("usage engine requires a store")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Presenter == nil {
		cfg.Presenter = NewLogPresenter(logger)
	}

	cache, err := NewSnapshotCache(cfg.SnapshotCacheSize, cfg.SnapshotTTL, cfg.Clock)
	if err != nil {
		return nil, err
	}

	return &Engine{
		apps:      cfg.Store.Apps(),
		pipeline:  cfg.Store.Pipeline(),
		events:    cfg.Events,
		cache:     cache,
		presenter: cfg.Presenter,
		notifier:  cfg.Notifier,
		exemptor:  cfg.Exemptor,
		clock:     cfg.Clock,
		logger:    logger.With().Str("component", "session-engine").Logger(),
		locks:     newKeyedMutex(),
	}, nil
}

// Observe runs one pipeline step for a poll sample: switch handling for the
// previously visible app, then evaluation of the current one. Store and
// policy failures are logged and never block the user.
func (e *Engine) Observe(ctx context.Context, obs Observation) error {
	e.observeMu.Lock()
	defer e.observeMu.Unlock()

	now := obs.At
	if now.IsZero() {
		now = e.clock.Now()
	}

	state, err := e.loadPipeline(ctx)
	if err != nil {
		return err
	}

	var errs []error
	current := obs.AppID

	if !obs.Interactive && current != "" {
		e.logger.Debug().Str("app_id", current).Msg("Device not interactive, pausing foreground app")
		if err := e.finishForeground(ctx, current, now); err != nil {
			errs = append(errs, err)
		}
		current = ""
	}

	if previous := state.LastForegroundApp; previous != current {
		if err := e.handleSwitch(ctx, previous, current, now); err != nil {
			errs = append(errs, err)
		}
	}

	if current == "" {
		e.notifier.Clear(ctx)
		return errors.Join(errs...)
	}

	if err := e.evaluate(ctx, current, now); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// handleSwitch gives the previous app a final tick and parks it: BLOCKED
// apps return to IDLE for their next open, everything else is paused.
func (e *Engine) handleSwitch(ctx context.Context, previous, current string, now time.Time) error {
	e.logger.Debug().
		Str("from", previous).
		Str("to", current).
		Msg("Foreground switch")

	var errs []error
	if err := e.clearPresenting(ctx); err != nil {
		errs = append(errs, err)
	}

	if previous != "" {
		if err := e.finishForeground(ctx, previous, now); err != nil {
			errs = append(errs, err)
		}
	}

	if err := e.updatePipeline(ctx, func(s *storage.PipelineState) bool {
		s.LastForegroundApp = current
		return true
	}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// finishForeground closes out an app leaving the screen.
func (e *Engine) finishForeground(ctx context.Context, appID string, now time.Time) error {
	unlock := e.locks.Lock(appID)
	defer unlock()

	rec, err := e.apps.Get(ctx, appID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return e.storeError("get_app", err)
	}

	initial := rec.SessionState
	if initial == storage.StateActive {
		if err := e.tickLocked(ctx, rec, now, false); err != nil {
			return err
		}
	}

	if initial == storage.StateBlocked {
		e.cache.Evict(appID)
		if err := e.apps.UpdateSession(ctx, appID, storage.SessionUpdate{State: storage.StateIdle}); err != nil {
			return e.storeError("update_session", err)
		}
		e.transition(appID, storage.StateBlocked, storage.StateIdle)
		return nil
	}
	return e.pauseLocked(ctx, appID, now)
}

// evaluate handles the app currently on screen.
func (e *Engine) evaluate(ctx context.Context, appID string, now time.Time) error {
	if e.exempt(ctx, appID) {
		e.notifier.Clear(ctx)
		return nil
	}

	unlock := e.locks.Lock(appID)
	defer unlock()

	rec, err := e.apps.Get(ctx, appID)
	if errors.Is(err, storage.ErrNotFound) {
		e.notifier.Clear(ctx)
		return e.bootstrap(ctx, appID, now)
	}
	if err != nil {
		return e.storeError("get_app", err)
	}

	if !rec.LimitEnabled {
		e.notifier.Clear(ctx)
		return nil
	}

	if rec.SessionState == storage.StateBlocked {
		e.notifier.Clear(ctx)
		return e.present(ctx, rec, PromptBlocked)
	}

	if rec.SessionState != storage.StateIdle {
		if _, cached := e.cache.Get(appID); !cached {
			err := e.resumeLocked(ctx, rec, now)
			if err != nil && !errors.Is(err, ErrCorruptSession) {
				return err
			}
		}
	}

	switch rec.SessionState {
	case storage.StateIdle:
		e.notifier.Clear(ctx)
		return e.present(ctx, rec, PromptAskTime)
	case storage.StateActive:
		return e.tickLocked(ctx, rec, now, true)
	case storage.StateBlocked:
		// Paused with nothing left: finalized during resume.
		e.notifier.Clear(ctx)
		return e.present(ctx, rec, PromptTimeUp)
	}
	return nil
}

// bootstrap creates a record for a newly observed app with its limit off.
func (e *Engine) bootstrap(ctx context.Context, appID string, now time.Time) error {
	inserted, err := e.apps.Create(ctx, storage.AppRecord{
		AppID:            appID,
		DisplayName:      appID,
		SessionState:     storage.StateIdle,
		LastInteractTime: now,
	})
	if err != nil {
		return e.storeError("create_app", err)
	}
	if inserted {
		e.logger.Info().Str("app_id", appID).Msg("Discovered new app")
	}
	return nil
}

// tickLocked meters elapsed wall-clock time for an ACTIVE record and
// finalizes it to BLOCKED when the budget is spent. rec is updated in place.
func (e *Engine) tickLocked(ctx context.Context, rec *storage.AppRecord, now time.Time, visible bool) error {
	switch rec.SessionState {
	case storage.StatePaused, storage.StateBlocked:
		e.cache.Evict(rec.AppID)
		return nil
	case storage.StateIdle:
		return nil
	}

	snap := e.cache.GetOrCompute(rec.AppID, func() Snapshot {
		return rebuildSnapshot(rec, now)
	})
	delta := max(0, now.Sub(snap.LastChecked))
	snap.Total += delta
	if now.After(snap.LastChecked) {
		snap.LastChecked = now
	}
	e.cache.Put(snap)

	if delta > 0 {
		metrics.UsageSecondsConsumed.WithLabelValues(rec.AppID).Add(delta.Seconds())
	}

	allowed := rec.Selected() + snap.Extensions
	remaining := max(0, allowed-snap.Total)
	if err := e.apps.UpdateRemaining(ctx, rec.AppID, millis(remaining), now); err != nil {
		return e.storeError("update_remaining", err)
	}
	rec.RemainingSessionTimeMs = millis(remaining)

	if remaining <= 0 && snap.Total > 0 && rec.SelectedSessionDurationMs > 0 {
		if err := e.blockLocked(ctx, rec, now); err != nil {
			return err
		}
		e.logger.Info().
			Str("app_id", rec.AppID).
			Dur("used", snap.Total).
			Msg("Session budget exhausted")
		if visible {
			e.notifier.Clear(ctx)
			return e.present(ctx, rec, PromptTimeUp)
		}
		return nil
	}

	if visible {
		e.notifier.Update(ctx, buildNotification(rec, allowed, remaining))
	}
	return nil
}

// blockLocked moves a record to BLOCKED with nothing remaining.
func (e *Engine) blockLocked(ctx context.Context, rec *storage.AppRecord, now time.Time) error {
	e.cache.Evict(rec.AppID)
	if err := e.apps.UpdateSession(ctx, rec.AppID, storage.SessionUpdate{
		State:          storage.StateBlocked,
		LastPausedTime: now,
	}); err != nil {
		return e.storeError("update_session", err)
	}
	e.transition(rec.AppID, rec.SessionState, storage.StateBlocked)
	rec.SessionState = storage.StateBlocked
	rec.RemainingSessionTimeMs = 0
	return nil
}

// pauseLocked freezes the budget of an ACTIVE or PAUSED record. Other states
// are left untouched.
func (e *Engine) pauseLocked(ctx context.Context, appID string, now time.Time) error {
	rec, err := e.apps.Get(ctx, appID)
	if err != nil {
		return e.storeError("get_app", err)
	}
	if rec.SessionState != storage.StateActive && rec.SessionState != storage.StatePaused {
		return nil
	}

	remaining := max(0, rec.Remaining())
	snap, cached := e.cache.Get(appID)
	if cached {
		remaining = max(0, rec.Selected()+snap.Extensions-snap.Total)
	}

	// LastPausedTime marks the ACTIVE to PAUSED transition only.
	pausedAt := now
	if rec.SessionState == storage.StatePaused {
		if !cached {
			return nil
		}
		if !rec.LastPausedTime.IsZero() {
			pausedAt = rec.LastPausedTime
		}
	}

	if err := e.apps.UpdateSession(ctx, appID, storage.SessionUpdate{
		State:          storage.StatePaused,
		RemainingMs:    millis(remaining),
		LastPausedTime: pausedAt,
	}); err != nil {
		return e.storeError("update_session", err)
	}
	e.cache.Evict(appID)

	if rec.SessionState != storage.StatePaused {
		e.transition(appID, rec.SessionState, storage.StatePaused)
		e.logger.Debug().
			Str("app_id", appID).
			Int64("remaining_ms", millis(remaining)).
			Msg("Paused session")
	}
	return nil
}

// resumeLocked reconstructs the snapshot of an ACTIVE or PAUSED record from
// its persisted remaining time. A record with nothing left is finalized to
// BLOCKED. rec is updated in place.
func (e *Engine) resumeLocked(ctx context.Context, rec *storage.AppRecord, now time.Time) error {
	switch rec.SessionState {
	case storage.StateActive, storage.StatePaused:
	default:
		return ErrInvalidTransition
	}

	if rec.SelectedSessionDurationMs <= 0 || rec.RemainingSessionTimeMs < 0 {
		e.logger.Error().
			Str("app_id", rec.AppID).
			Int64("selected_ms", rec.SelectedSessionDurationMs).
			Int64("remaining_ms", rec.RemainingSessionTimeMs).
			Msg("Corrupt session, resetting to idle")
		e.cache.Evict(rec.AppID)
		if err := e.apps.UpdateSession(ctx, rec.AppID, storage.SessionUpdate{State: storage.StateIdle}); err != nil {
			return e.storeError("update_session", err)
		}
		e.transition(rec.AppID, rec.SessionState, storage.StateIdle)
		rec.SessionState = storage.StateIdle
		rec.RemainingSessionTimeMs = 0
		return ErrCorruptSession
	}

	if rec.RemainingSessionTimeMs == 0 {
		return e.blockLocked(ctx, rec, now)
	}

	snap := rebuildSnapshot(rec, now)
	if err := e.apps.UpdateSession(ctx, rec.AppID, storage.SessionUpdate{
		State:       storage.StateActive,
		RemainingMs: rec.RemainingSessionTimeMs,
	}); err != nil {
		return e.storeError("update_session", err)
	}
	e.cache.Put(snap)

	if rec.SessionState != storage.StateActive {
		e.transition(rec.AppID, rec.SessionState, storage.StateActive)
	}
	rec.SessionState = storage.StateActive
	rec.LastPausedTime = time.Time{}

	e.logger.Debug().
		Str("app_id", rec.AppID).
		Dur("used", snap.Total).
		Int64("remaining_ms", rec.RemainingSessionTimeMs).
		Msg("Resumed session")
	return nil
}

// present invokes the presenter unless a prompt is already showing.
func (e *Engine) present(ctx context.Context, rec *storage.AppRecord, kind PromptKind) error {
	prompt := Prompt{
		ID:         uuid.NewString(),
		Kind:       kind,
		AppID:      rec.AppID,
		AppName:    rec.Name(),
		DailyUsage: rec.DailyUsage(),
	}

	suppressed := false
	if err := e.updatePipeline(ctx, func(s *storage.PipelineState) bool {
		if s.Presenting {
			suppressed = true
			return false
		}
		s.Presenting = true
		s.PresentingApp = prompt.AppID
		s.PresentingKind = string(prompt.Kind)
		s.PresentingID = prompt.ID
		return true
	}); err != nil {
		return err
	}

	if suppressed {
		metrics.PresenterSuppressed.WithLabelValues(string(kind)).Inc()
		return nil
	}

	metrics.PresenterInvocations.WithLabelValues(string(kind)).Inc()
	e.logger.Info().
		Str("app_id", prompt.AppID).
		Str("kind", string(kind)).
		Str("prompt_id", prompt.ID).
		Msg("Presenting prompt")

	if err := e.presenter.Present(ctx, prompt); err != nil {
		// Let the next tick retry.
		_ = e.clearPresenting(ctx)
		return fmt.Errorf("failed to present prompt: %w", err)
	}
	return nil
}

func (e *Engine) exempt(ctx context.Context, appID string) bool {
	if e.exemptor == nil {
		return false
	}
	exempt, err := e.exemptor.Exempt(ctx, appID)
	if err != nil {
		e.logger.Warn().Err(err).Str("app_id", appID).Msg("Exemption policy failed, treating app as exempt")
		return true
	}
	return exempt
}

func buildNotification(rec *storage.AppRecord, allowed, remaining time.Duration) Notification {
	return Notification{
		AppID:          rec.AppID,
		AppName:        rec.Name(),
		Title:          fmt.Sprintf("%s - Used %s today", rec.Name(), FormatDuration(rec.DailyUsage())),
		Body:           fmt.Sprintf("Session time left: %s", FormatDuration(remaining)),
		MaxSeconds:     int64(allowed / time.Second),
		ElapsedSeconds: int64((allowed - remaining) / time.Second),
	}
}

func (e *Engine) loadPipeline(ctx context.Context) (storage.PipelineState, error) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	state, err := e.pipeline.Load(ctx)
	if err != nil {
		return storage.PipelineState{}, e.storeError("load_pipeline", err)
	}
	return state, nil
}

// updatePipeline applies fn to the pipeline document and saves it when fn
// reports a change.
func (e *Engine) updatePipeline(ctx context.Context, fn func(*storage.PipelineState) bool) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	state, err := e.pipeline.Load(ctx)
	if err != nil {
		return e.storeError("load_pipeline", err)
	}
	if !fn(&state) {
		return nil
	}
	state.UpdatedAt = e.clock.Now()
	if err := e.pipeline.Save(ctx, state); err != nil {
		return e.storeError("save_pipeline", err)
	}
	return nil
}

func (e *Engine) clearPresenting(ctx context.Context) error {
	return e.updatePipeline(ctx, func(s *storage.PipelineState) bool {
		if !s.Presenting {
			return false
		}
		s.ClearPresenting()
		return true
	})
}

func (e *Engine) storeError(op string, err error) error {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("failed to %s: %w", op, err)
}

func (e *Engine) transition(appID string, from, to storage.SessionState) {
	metrics.SessionTransitions.WithLabelValues(string(from), string(to)).Inc()
	e.logger.Debug().
		Str("app_id", appID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Session transition")
}
