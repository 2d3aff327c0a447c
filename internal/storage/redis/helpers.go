package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/appwarden/internal/storage"
)

// parseAppRecord converts a Redis hash to AppRecord
func parseAppRecord(data map[string]string) (*storage.AppRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	dailyUsage, err := parseInt(data, "daily_usage_ms")
	if err != nil {
		return nil, err
	}

	selected, err := parseInt(data, "selected_session_duration_ms")
	if err != nil {
		return nil, err
	}

	remaining, err := parseInt(data, "remaining_session_time_ms")
	if err != nil {
		return nil, err
	}

	limitEnabled, err := strconv.ParseBool(data["limit_enabled"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse limit_enabled: %w", err)
	}

	state, err := storage.ParseSessionState(data["session_state"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse session_state: %w", err)
	}

	sessionStart, err := parseMillis(data, "session_start_time")
	if err != nil {
		return nil, err
	}

	lastInteract, err := parseMillis(data, "last_interact_time")
	if err != nil {
		return nil, err
	}

	lastPaused, err := parseMillis(data, "last_paused_time")
	if err != nil {
		return nil, err
	}

	return &storage.AppRecord{
		AppID:                     data["app_id"],
		DisplayName:               data["display_name"],
		DailyUsageMs:              dailyUsage,
		LimitEnabled:              limitEnabled,
		SessionState:              state,
		SessionStartTime:          sessionStart,
		SelectedSessionDurationMs: selected,
		RemainingSessionTimeMs:    remaining,
		LastInteractTime:          lastInteract,
		LastPausedTime:            lastPaused,
	}, nil
}

// appRecordArgs flattens a record into HSET field/value pairs.
// app_id must stay at index 1 for createAppScript.
func appRecordArgs(r storage.AppRecord) []interface{} {
	state := r.SessionState
	if state == "" {
		state = storage.StateIdle
	}
	return []interface{}{
		"app_id", r.AppID,
		"display_name", r.DisplayName,
		"daily_usage_ms", r.DailyUsageMs,
		"limit_enabled", strconv.FormatBool(r.LimitEnabled),
		"session_state", string(state),
		"session_start_time", formatMillis(r.SessionStartTime),
		"selected_session_duration_ms", r.SelectedSessionDurationMs,
		"remaining_session_time_ms", r.RemainingSessionTimeMs,
		"last_interact_time", formatMillis(r.LastInteractTime),
		"last_paused_time", formatMillis(r.LastPausedTime),
	}
}

// parsePipelineState converts a Redis hash to PipelineState
func parsePipelineState(data map[string]string) (storage.PipelineState, error) {
	if len(data) == 0 {
		return storage.PipelineState{}, nil
	}

	presenting, err := strconv.ParseBool(data["presenting"])
	if err != nil {
		return storage.PipelineState{}, fmt.Errorf("failed to parse presenting: %w", err)
	}

	updatedAt, err := parseMillis(data, "updated_at")
	if err != nil {
		return storage.PipelineState{}, err
	}

	return storage.PipelineState{
		LastForegroundApp: data["last_foreground_app"],
		Presenting:        presenting,
		PresentingApp:     data["presenting_app"],
		PresentingKind:    data["presenting_kind"],
		PresentingID:      data["presenting_id"],
		UpdatedAt:         updatedAt,
	}, nil
}

func parseInt(data map[string]string, field string) (int64, error) {
	raw, ok := data[field]
	if !ok || raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return value, nil
}

// parseMillis reads a unix millisecond timestamp; 0 maps to the zero time.
func parseMillis(data map[string]string, field string) (time.Time, error) {
	ms, err := parseInt(data, field)
	if err != nil {
		return time.Time{}, err
	}
	if ms == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

func formatMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
