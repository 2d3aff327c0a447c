package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/goodtune/appwarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

var (
	createApp   = redis.NewScript(createAppScript)
	updateApp   = redis.NewScript(updateAppScript)
	updateUsage = redis.NewScript(updateUsageScript)
	resetDaily  = redis.NewScript(resetDailyScript)
)

type appStore struct {
	client *redis.Client
}

// Get retrieves an app record by ID
func (s *appStore) Get(ctx context.Context, appID string) (*storage.AppRecord, error) {
	data, err := s.client.HGetAll(ctx, appKey(appID)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseAppRecord(data)
}

// List returns every known app record
func (s *appStore) List(ctx context.Context) ([]storage.AppRecord, error) {
	ids, err := s.client.SMembers(ctx, appsSetKey).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.AppRecord{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))

	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, appKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]storage.AppRecord, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		record, err := parseAppRecord(data)
		if err == nil {
			records = append(records, *record)
		}
	}

	return records, nil
}

// Create inserts the record unless one already exists
func (s *appStore) Create(ctx context.Context, record storage.AppRecord) (bool, error) {
	keys := []string{appKey(record.AppID), appsSetKey}
	inserted, err := createApp.Run(ctx, s.client, keys, appRecordArgs(record)...).Int()
	if err != nil {
		return false, err
	}
	return inserted == 1, nil
}

// StartSession moves the record into ACTIVE with a fresh budget
func (s *appStore) StartSession(ctx context.Context, appID string, start time.Time, durationMs int64) error {
	return s.update(ctx, appID,
		"session_state", string(storage.StateActive),
		"session_start_time", formatMillis(start),
		"selected_session_duration_ms", durationMs,
		"remaining_session_time_ms", durationMs,
		"last_interact_time", formatMillis(start),
		"last_paused_time", 0,
	)
}

// UpdateRemaining persists the remaining session time
func (s *appStore) UpdateRemaining(ctx context.Context, appID string, remainingMs int64, at time.Time) error {
	return s.update(ctx, appID,
		"remaining_session_time_ms", remainingMs,
		"last_interact_time", formatMillis(at),
	)
}

// UpdateSession writes state, remaining and pause time together
func (s *appStore) UpdateSession(ctx context.Context, appID string, update storage.SessionUpdate) error {
	return s.update(ctx, appID,
		"session_state", string(update.State),
		"remaining_session_time_ms", update.RemainingMs,
		"last_paused_time", formatMillis(update.LastPausedTime),
	)
}

// UpdateUsage stores the synced daily usage
func (s *appStore) UpdateUsage(ctx context.Context, appID string, usageMs int64, at time.Time) error {
	ok, err := updateUsage.Run(ctx, s.client, []string{appKey(appID)}, usageMs, formatMillis(at)).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetLimit toggles the limit flag
func (s *appStore) SetLimit(ctx context.Context, appID string, enabled bool) error {
	return s.update(ctx, appID, "limit_enabled", strconv.FormatBool(enabled))
}

// ResetDaily clears usage and session fields for every app
func (s *appStore) ResetDaily(ctx context.Context) (int, error) {
	return resetDaily.Run(ctx, s.client, []string{appsSetKey}, appKeyPrefix).Int()
}

func (s *appStore) update(ctx context.Context, appID string, fields ...interface{}) error {
	ok, err := updateApp.Run(ctx, s.client, []string{appKey(appID)}, fields...).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return storage.ErrNotFound
	}
	return nil
}
