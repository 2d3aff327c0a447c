package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/appwarden/internal/storage"
)

const appColumns = `app_id, display_name, daily_usage_ms, limit_enabled, session_state,
	session_start_time, selected_session_duration_ms, remaining_session_time_ms,
	last_interact_time, last_paused_time`

type appStore struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *appStore) Get(ctx context.Context, appID string) (*storage.AppRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+appColumns+` FROM app_record WHERE app_id = ?`, appID)
	record, err := scanApp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting app record: %w", err)
	}
	return record, nil
}

func (s *appStore) List(ctx context.Context) ([]storage.AppRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+appColumns+` FROM app_record ORDER BY app_id`)
	if err != nil {
		return nil, fmt.Errorf("listing app records: %w", err)
	}
	defer rows.Close()

	records := make([]storage.AppRecord, 0)
	for rows.Next() {
		record, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning app record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func (s *appStore) Create(ctx context.Context, r storage.AppRecord) (bool, error) {
	state := r.SessionState
	if state == "" {
		state = storage.StateIdle
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO app_record (`+appColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(app_id) DO NOTHING`,
		r.AppID,
		r.DisplayName,
		r.DailyUsageMs,
		r.LimitEnabled,
		string(state),
		toMillis(r.SessionStartTime),
		r.SelectedSessionDurationMs,
		r.RemainingSessionTimeMs,
		toMillis(r.LastInteractTime),
		toMillis(r.LastPausedTime),
	)
	if err != nil {
		return false, fmt.Errorf("inserting app record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting app record: %w", err)
	}
	return n == 1, nil
}

func (s *appStore) StartSession(ctx context.Context, appID string, start time.Time, durationMs int64) error {
	return s.exec(ctx, "starting session", `UPDATE app_record SET
		session_state = ?, session_start_time = ?, selected_session_duration_ms = ?,
		remaining_session_time_ms = ?, last_interact_time = ?, last_paused_time = 0
		WHERE app_id = ?`,
		string(storage.StateActive), toMillis(start), durationMs, durationMs, toMillis(start), appID)
}

func (s *appStore) UpdateRemaining(ctx context.Context, appID string, remainingMs int64, at time.Time) error {
	return s.exec(ctx, "updating remaining time", `UPDATE app_record SET
		remaining_session_time_ms = ?, last_interact_time = ?
		WHERE app_id = ?`,
		remainingMs, toMillis(at), appID)
}

func (s *appStore) UpdateSession(ctx context.Context, appID string, u storage.SessionUpdate) error {
	return s.exec(ctx, "updating session", `UPDATE app_record SET
		session_state = ?, remaining_session_time_ms = ?, last_paused_time = ?
		WHERE app_id = ?`,
		string(u.State), u.RemainingMs, toMillis(u.LastPausedTime), appID)
}

func (s *appStore) UpdateUsage(ctx context.Context, appID string, usageMs int64, at time.Time) error {
	return s.exec(ctx, "updating daily usage", `UPDATE app_record SET
		daily_usage_ms = ?, last_interact_time = MAX(last_interact_time, ?)
		WHERE app_id = ?`,
		usageMs, toMillis(at), appID)
}

func (s *appStore) SetLimit(ctx context.Context, appID string, enabled bool) error {
	return s.exec(ctx, "setting limit", `UPDATE app_record SET limit_enabled = ? WHERE app_id = ?`, enabled, appID)
}

func (s *appStore) ResetDaily(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE app_record SET
		daily_usage_ms = 0, session_state = 'IDLE', session_start_time = 0,
		selected_session_duration_ms = 0, remaining_session_time_ms = 0, last_paused_time = 0`)
	if err != nil {
		return 0, fmt.Errorf("resetting daily usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("resetting daily usage: %w", err)
	}
	return int(n), nil
}

// exec runs a single-row update and maps zero affected rows to ErrNotFound.
func (s *appStore) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanApp(row rowScanner) (*storage.AppRecord, error) {
	var (
		r                                      storage.AppRecord
		state                                  string
		sessionStart, lastInteract, lastPaused int64
	)
	if err := row.Scan(
		&r.AppID,
		&r.DisplayName,
		&r.DailyUsageMs,
		&r.LimitEnabled,
		&state,
		&sessionStart,
		&r.SelectedSessionDurationMs,
		&r.RemainingSessionTimeMs,
		&lastInteract,
		&lastPaused,
	); err != nil {
		return nil, err
	}
	parsed, err := storage.ParseSessionState(state)
	if err != nil {
		return nil, err
	}
	r.SessionState = parsed
	r.SessionStartTime = fromMillis(sessionStart)
	r.LastInteractTime = fromMillis(lastInteract)
	r.LastPausedTime = fromMillis(lastPaused)
	return &r, nil
}
