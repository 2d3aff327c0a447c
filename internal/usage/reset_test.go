package usage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/appwarden/internal/clock"
	"github.com/goodtune/appwarden/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResetter struct {
	mu      sync.Mutex
	records []storage.AppRecord
	resets  int
}

func (f *fakeResetter) ResetDailyUsage(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return len(f.records), nil
}

func (f *fakeResetter) List(context.Context) ([]storage.AppRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records, nil
}

func TestCalculateNextReset(t *testing.T) {
	rs, err := NewResetScheduler(&fakeResetter{}, "00:00", nil, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2024, 6, 3, 23, 59, 0, 0, time.Local)
	assert.Equal(t, time.Date(2024, 6, 4, 0, 0, 0, 0, time.Local), rs.calculateNextReset(now))

	midnight := time.Date(2024, 6, 4, 0, 0, 0, 0, time.Local)
	assert.Equal(t, time.Date(2024, 6, 5, 0, 0, 0, 0, time.Local), rs.calculateNextReset(midnight))
	assert.Equal(t, midnight, rs.lastReset(midnight.Add(time.Hour)))
}

func TestResetSchedulerCatchesUpMissedReset(t *testing.T) {
	now := time.Date(2024, 6, 4, 9, 0, 0, 0, time.Local)
	clk := clock.NewManual(now)

	resetter := &fakeResetter{records: []storage.AppRecord{
		{AppID: "fresh", DailyUsageMs: 1000, LastInteractTime: now.Add(-time.Hour)},
		{AppID: "clean", SessionState: storage.StateIdle, LastInteractTime: now.Add(-48 * time.Hour)},
	}}

	rs, err := NewResetScheduler(resetter, "00:00", clk, zerolog.Nop())
	require.NoError(t, err)
	rs.catchUp(context.Background())
	assert.Zero(t, resetter.resets)

	resetter.records = append(resetter.records, storage.AppRecord{
		AppID:            "stale",
		SessionState:     storage.StateBlocked,
		LastInteractTime: now.Add(-10 * time.Hour),
	})
	rs.Start(context.Background())
	rs.Stop()
	assert.Equal(t, 1, resetter.resets)
}

func TestNewResetSchedulerRejectsBadTime(t *testing.T) {
	_, err := NewResetScheduler(&fakeResetter{}, "25:99", nil, zerolog.Nop())
	assert.Error(t, err)
}
