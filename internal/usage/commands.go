package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/appwarden/internal/foreground"
	"github.com/goodtune/appwarden/internal/metrics"
	"github.com/goodtune/appwarden/internal/storage"
)

// StartSession starts a budget of d for an IDLE or BLOCKED app.
func (e *Engine) StartSession(ctx context.Context, appID string, d time.Duration) error {
	if d <= 0 {
		return ErrInvalidDuration
	}

	unlock := e.locks.Lock(appID)
	defer unlock()

	rec, err := e.apps.Get(ctx, appID)
	if err != nil {
		return e.commandError("get_app", err)
	}
	if rec.SessionState == storage.StateActive || rec.SessionState == storage.StatePaused {
		return fmt.Errorf("%w: cannot start a session while %s", ErrInvalidTransition, rec.SessionState)
	}

	now := e.clock.Now()
	if err := e.apps.StartSession(ctx, appID, now, millis(d)); err != nil {
		return e.storeError("start_session", err)
	}
	e.cache.Put(Snapshot{AppID: appID, SessionStart: now, LastChecked: now})
	e.transition(appID, rec.SessionState, storage.StateActive)

	e.logger.Info().
		Str("app_id", appID).
		Dur("duration", d).
		Msg("Started session")

	return e.clearPresenting(ctx)
}

// GrantExtension adds minutes to the budget. From BLOCKED the exhausted
// session reopens with only the extension left; from PAUSED the remaining
// time grows and the session stays paused.
func (e *Engine) GrantExtension(ctx context.Context, appID string, minutes int) error {
	if minutes <= 0 {
		return ErrInvalidDuration
	}

	unlock := e.locks.Lock(appID)
	defer unlock()

	rec, err := e.apps.Get(ctx, appID)
	if err != nil {
		return e.commandError("get_app", err)
	}

	now := e.clock.Now()
	extension := time.Duration(minutes) * time.Minute

	switch rec.SessionState {
	case storage.StateActive:
		snap := e.cache.GetOrCompute(appID, func() Snapshot {
			return rebuildSnapshot(rec, now)
		})
		snap.Extensions += extension
		e.cache.Put(snap)

		remaining := max(0, rec.Selected()+snap.Extensions-snap.Total)
		if err := e.apps.UpdateRemaining(ctx, appID, millis(remaining), now); err != nil {
			return e.storeError("update_remaining", err)
		}

	case storage.StateBlocked:
		if rec.SelectedSessionDurationMs <= 0 {
			// Blocked without a budget: open a fresh session of the extension.
			if err := e.apps.StartSession(ctx, appID, now, millis(extension)); err != nil {
				return e.storeError("start_session", err)
			}
			e.cache.Put(Snapshot{AppID: appID, SessionStart: now, LastChecked: now})
		} else {
			e.cache.Put(Snapshot{
				AppID:        appID,
				SessionStart: rec.SessionStartTime,
				Total:        rec.Selected(),
				Extensions:   extension,
				LastChecked:  now,
			})
			if err := e.apps.UpdateSession(ctx, appID, storage.SessionUpdate{
				State:       storage.StateActive,
				RemainingMs: millis(extension),
			}); err != nil {
				e.cache.Evict(appID)
				return e.storeError("update_session", err)
			}
		}
		e.transition(appID, storage.StateBlocked, storage.StateActive)

	case storage.StatePaused:
		remaining := max(0, rec.Remaining()) + extension
		if err := e.apps.UpdateRemaining(ctx, appID, millis(remaining), now); err != nil {
			return e.storeError("update_remaining", err)
		}

	default:
		return ErrNoSession
	}

	e.logger.Info().
		Str("app_id", appID).
		Int("minutes", minutes).
		Str("state", string(rec.SessionState)).
		Msg("Granted extension")

	return e.clearPresenting(ctx)
}

// EndSession closes the session: BLOCKED with nothing remaining.
func (e *Engine) EndSession(ctx context.Context, appID string) error {
	unlock := e.locks.Lock(appID)
	defer unlock()

	rec, err := e.apps.Get(ctx, appID)
	if err != nil {
		return e.commandError("get_app", err)
	}
	if err := e.blockLocked(ctx, rec, e.clock.Now()); err != nil {
		return err
	}

	e.logger.Info().Str("app_id", appID).Msg("Ended session")
	return e.clearPresenting(ctx)
}

// PauseSession gives an ACTIVE app a final tick and freezes its budget.
func (e *Engine) PauseSession(ctx context.Context, appID string) error {
	unlock := e.locks.Lock(appID)
	defer unlock()

	rec, err := e.apps.Get(ctx, appID)
	if err != nil {
		return e.commandError("get_app", err)
	}

	now := e.clock.Now()
	switch rec.SessionState {
	case storage.StateActive:
		if err := e.tickLocked(ctx, rec, now, false); err != nil {
			return err
		}
	case storage.StatePaused:
	default:
		return fmt.Errorf("%w: cannot pause while %s", ErrInvalidTransition, rec.SessionState)
	}
	return e.pauseLocked(ctx, appID, now)
}

// ResumeSession reactivates a PAUSED app from its persisted remaining time.
// An ACTIVE app already tracked in memory is left alone.
func (e *Engine) ResumeSession(ctx context.Context, appID string) error {
	unlock := e.locks.Lock(appID)
	defer unlock()

	rec, err := e.apps.Get(ctx, appID)
	if err != nil {
		return e.commandError("get_app", err)
	}

	switch rec.SessionState {
	case storage.StateActive:
		if _, ok := e.cache.Get(appID); ok {
			return nil
		}
	case storage.StatePaused:
	default:
		return fmt.Errorf("%w: cannot resume while %s", ErrInvalidTransition, rec.SessionState)
	}
	return e.resumeLocked(ctx, rec, e.clock.Now())
}

// SetSessionState forces a session state through the matching operation.
func (e *Engine) SetSessionState(ctx context.Context, appID string, state storage.SessionState) error {
	switch state {
	case storage.StateBlocked:
		return e.EndSession(ctx, appID)
	case storage.StatePaused:
		return e.PauseSession(ctx, appID)
	case storage.StateActive:
		return e.ResumeSession(ctx, appID)
	case storage.StateIdle:
		return e.idle(ctx, appID)
	default:
		return fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, state)
	}
}

func (e *Engine) idle(ctx context.Context, appID string) error {
	unlock := e.locks.Lock(appID)
	defer unlock()

	rec, err := e.apps.Get(ctx, appID)
	if err != nil {
		return e.commandError("get_app", err)
	}
	e.cache.Evict(appID)
	if err := e.apps.UpdateSession(ctx, appID, storage.SessionUpdate{State: storage.StateIdle}); err != nil {
		return e.storeError("update_session", err)
	}
	if rec.SessionState != storage.StateIdle {
		e.transition(appID, rec.SessionState, storage.StateIdle)
	}
	return nil
}

// ToggleLimit enables or disables the budget for an app.
func (e *Engine) ToggleLimit(ctx context.Context, appID string, enabled bool) error {
	unlock := e.locks.Lock(appID)
	defer unlock()

	if err := e.apps.SetLimit(ctx, appID, enabled); err != nil {
		return e.commandError("set_limit", err)
	}
	e.logger.Info().
		Str("app_id", appID).
		Bool("enabled", enabled).
		Msg("Limit toggled")
	return nil
}

// RegisterApp creates a record for appID unless one exists and reports
// whether it was created.
func (e *Engine) RegisterApp(ctx context.Context, appID, displayName string, limitEnabled bool) (bool, error) {
	if appID == "" {
		return false, errors.New("app id is required")
	}
	if displayName == "" {
		displayName = appID
	}

	unlock := e.locks.Lock(appID)
	defer unlock()

	inserted, err := e.apps.Create(ctx, storage.AppRecord{
		AppID:            appID,
		DisplayName:      displayName,
		LimitEnabled:     limitEnabled,
		SessionState:     storage.StateIdle,
		LastInteractTime: e.clock.Now(),
	})
	if err != nil {
		return false, e.storeError("create_app", err)
	}
	return inserted, nil
}

// SyncDailyUsage recomputes today's usage of appID from the event log.
// The figure is for display only; budgets are metered by the engine.
func (e *Engine) SyncDailyUsage(ctx context.Context, appID string) error {
	if e.events == nil {
		return nil
	}

	// Exempt and never-evaluated apps have no record to update.
	if _, err := e.apps.Get(ctx, appID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return e.storeError("get_app", err)
	}

	now := e.clock.Now()
	totals, err := e.dailyTotals(ctx, now)
	if err != nil {
		return err
	}

	unlock := e.locks.Lock(appID)
	defer unlock()

	err = e.apps.UpdateUsage(ctx, appID, millis(totals[appID]), now)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return e.storeError("update_usage", err)
	}
	return nil
}

// SyncAllDailyUsage recomputes today's usage of every known app and returns
// how many records were updated.
func (e *Engine) SyncAllDailyUsage(ctx context.Context) (int, error) {
	if e.events == nil {
		return 0, nil
	}

	now := e.clock.Now()
	totals, err := e.dailyTotals(ctx, now)
	if err != nil {
		return 0, err
	}

	records, err := e.apps.List(ctx)
	if err != nil {
		return 0, e.storeError("list_apps", err)
	}

	updated := 0
	for _, rec := range records {
		usage := millis(totals[rec.AppID])
		if usage == rec.DailyUsageMs {
			continue
		}
		unlock := e.locks.Lock(rec.AppID)
		err := e.apps.UpdateUsage(ctx, rec.AppID, usage, now)
		unlock()
		if err != nil {
			return updated, e.storeError("update_usage", err)
		}
		updated++
	}
	return updated, nil
}

func (e *Engine) dailyTotals(ctx context.Context, now time.Time) (map[string]time.Duration, error) {
	from := foreground.StartOfDay(now)
	events, err := e.events.QueryEvents(ctx, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	return foreground.Usage(events, from, now), nil
}

// ResetDailyUsage returns every record to IDLE with zero usage. It is
// idempotent.
func (e *Engine) ResetDailyUsage(ctx context.Context) (int, error) {
	e.observeMu.Lock()
	defer e.observeMu.Unlock()

	count, err := e.resetRecords(ctx)
	if err != nil {
		return 0, err
	}
	e.notifier.Clear(ctx)
	metrics.DailyResets.Inc()

	e.logger.Info().Int("records", count).Msg("Daily usage reset")
	return count, e.clearPresenting(ctx)
}

// resetRecords resets the store while holding every app's lock, so no
// command interleaves with the reset.
func (e *Engine) resetRecords(ctx context.Context) (int, error) {
	records, err := e.apps.List(ctx)
	if err != nil {
		return 0, e.storeError("list_apps", err)
	}
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.AppID)
	}

	unlock := e.locks.LockAll(ids)
	defer unlock()

	count, err := e.apps.ResetDaily(ctx)
	if err != nil {
		return 0, e.storeError("reset_daily", err)
	}
	e.cache.Clear()
	return count, nil
}

// DismissPrompt clears the presenting flag after the presenter surface was
// closed without a response.
func (e *Engine) DismissPrompt(ctx context.Context) error {
	return e.clearPresenting(ctx)
}

// PipelineState returns the persisted pipeline document.
func (e *Engine) PipelineState(ctx context.Context) (storage.PipelineState, error) {
	return e.loadPipeline(ctx)
}

// Get returns the record for appID.
func (e *Engine) Get(ctx context.Context, appID string) (*storage.AppRecord, error) {
	return e.apps.Get(ctx, appID)
}

// List returns every known record.
func (e *Engine) List(ctx context.Context) ([]storage.AppRecord, error) {
	return e.apps.List(ctx)
}

// Snapshot returns the live session view of appID without changing it.
func (e *Engine) Snapshot(ctx context.Context, appID string) (SessionView, error) {
	rec, err := e.apps.Get(ctx, appID)
	if err != nil {
		return SessionView{}, err
	}

	view := SessionView{
		AppID:        rec.AppID,
		AppName:      rec.Name(),
		State:        rec.SessionState,
		LimitEnabled: rec.LimitEnabled,
		SelectedMs:   rec.SelectedSessionDurationMs,
		RemainingMs:  rec.RemainingSessionTimeMs,
		UsedMs:       max(0, rec.SelectedSessionDurationMs-rec.RemainingSessionTimeMs),
		DailyUsageMs: rec.DailyUsageMs,
	}

	if snap, ok := e.cache.Get(appID); ok && rec.SessionState == storage.StateActive {
		used := snap.Total + max(0, e.clock.Now().Sub(snap.LastChecked))
		view.InMemory = true
		view.UsedMs = millis(used)
		view.ExtensionsMs = millis(snap.Extensions)
		view.RemainingMs = millis(max(0, rec.Selected()+snap.Extensions-used))
	}
	return view, nil
}

// commandError passes ErrNotFound through untouched so callers can map it.
func (e *Engine) commandError(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return e.storeError(op, err)
}
