package bolt

import (
	"context"
	"time"

	"github.com/goodtune/appwarden/internal/storage"
	"go.etcd.io/bbolt"
)

type appStore struct {
	db *bbolt.DB
}

func (s *appStore) Get(ctx context.Context, appID string) (*storage.AppRecord, error) {
	return getBucketValue[storage.AppRecord](ctx, s.db, bucketApps, appID)
}

func (s *appStore) List(ctx context.Context) ([]storage.AppRecord, error) {
	return listBucket[storage.AppRecord](ctx, s.db, bucketApps)
}

func (s *appStore) Create(ctx context.Context, record storage.AppRecord) (bool, error) {
	if record.SessionState == "" {
		record.SessionState = storage.StateIdle
	}
	data, err := marshal(record)
	if err != nil {
		return false, err
	}
	inserted := false
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketApps))
		if b.Get([]byte(record.AppID)) != nil {
			return nil
		}
		if err := b.Put([]byte(record.AppID), data); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func (s *appStore) StartSession(ctx context.Context, appID string, start time.Time, durationMs int64) error {
	return updateBucketValue(ctx, s.db, bucketApps, appID, func(r *storage.AppRecord) {
		r.SessionState = storage.StateActive
		r.SessionStartTime = start
		r.SelectedSessionDurationMs = durationMs
		r.RemainingSessionTimeMs = durationMs
		r.LastInteractTime = start
		r.LastPausedTime = time.Time{}
	})
}

func (s *appStore) UpdateRemaining(ctx context.Context, appID string, remainingMs int64, at time.Time) error {
	return updateBucketValue(ctx, s.db, bucketApps, appID, func(r *storage.AppRecord) {
		r.RemainingSessionTimeMs = remainingMs
		r.LastInteractTime = at
	})
}

func (s *appStore) UpdateSession(ctx context.Context, appID string, update storage.SessionUpdate) error {
	return updateBucketValue(ctx, s.db, bucketApps, appID, func(r *storage.AppRecord) {
		r.SessionState = update.State
		r.RemainingSessionTimeMs = update.RemainingMs
		r.LastPausedTime = update.LastPausedTime
	})
}

func (s *appStore) UpdateUsage(ctx context.Context, appID string, usageMs int64, at time.Time) error {
	return updateBucketValue(ctx, s.db, bucketApps, appID, func(r *storage.AppRecord) {
		r.DailyUsageMs = usageMs
		if at.After(r.LastInteractTime) {
			r.LastInteractTime = at
		}
	})
}

func (s *appStore) SetLimit(ctx context.Context, appID string, enabled bool) error {
	return updateBucketValue(ctx, s.db, bucketApps, appID, func(r *storage.AppRecord) {
		r.LimitEnabled = enabled
	})
}

func (s *appStore) ResetDaily(ctx context.Context) (int, error) {
	reset := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketApps))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var record storage.AppRecord
			if err := unmarshal(v, &record); err != nil {
				return err
			}
			record.ApplyDailyReset()
			data, err := marshal(record)
			if err != nil {
				return err
			}
			if err := b.Put(k, data); err != nil {
				return err
			}
			reset++
		}
		return nil
	})
	return reset, err
}
