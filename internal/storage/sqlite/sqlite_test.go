package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/appwarden/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppStore_CreateGetList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inserted, err := store.Apps().Create(ctx, storage.AppRecord{AppID: "b", DisplayName: "Bravo"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Apps().Create(ctx, storage.AppRecord{AppID: "a", DisplayName: "Alpha", LimitEnabled: true})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Apps().Create(ctx, storage.AppRecord{AppID: "a", DisplayName: "Again"})
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := store.Apps().Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.DisplayName)
	assert.True(t, got.LimitEnabled)
	assert.Equal(t, storage.StateIdle, got.SessionState)
	assert.True(t, got.SessionStartTime.IsZero())

	list, err := store.Apps().List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].AppID)
	assert.Equal(t, "b", list[1].AppID)
}

func TestAppStore_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Apps().Get(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Apps().StartSession(ctx, "nope", time.Now(), 1000)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAppStore_SessionFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	start := time.UnixMilli(1704189600000)

	_, err := store.Apps().Create(ctx, storage.AppRecord{AppID: "app"})
	require.NoError(t, err)
	require.NoError(t, store.Apps().StartSession(ctx, "app", start, 300000))
	require.NoError(t, store.Apps().UpdateRemaining(ctx, "app", 200000, start.Add(100*time.Second)))
	require.NoError(t, store.Apps().UpdateSession(ctx, "app", storage.SessionUpdate{
		State:          storage.StatePaused,
		RemainingMs:    200000,
		LastPausedTime: start.Add(101 * time.Second),
	}))

	got, err := store.Apps().Get(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, storage.StatePaused, got.SessionState)
	assert.Equal(t, int64(300000), got.SelectedSessionDurationMs)
	assert.Equal(t, int64(200000), got.RemainingSessionTimeMs)
	assert.True(t, got.SessionStartTime.Equal(start))
	assert.True(t, got.LastPausedTime.Equal(start.Add(101*time.Second)))
}

func TestAppStore_UpdateUsageKeepsLatestInteraction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.UnixMilli(1704189600000)

	_, err := store.Apps().Create(ctx, storage.AppRecord{AppID: "app", LastInteractTime: at})
	require.NoError(t, err)
	require.NoError(t, store.Apps().UpdateUsage(ctx, "app", 5000, at.Add(-time.Hour)))

	got, err := store.Apps().Get(ctx, "app")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.DailyUsageMs)
	assert.True(t, got.LastInteractTime.Equal(at))
}

func TestAppStore_ResetDaily(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"x", "y"} {
		_, err := store.Apps().Create(ctx, storage.AppRecord{AppID: id, LimitEnabled: true})
		require.NoError(t, err)
		require.NoError(t, store.Apps().StartSession(ctx, id, time.Now(), 60000))
	}
	require.NoError(t, store.Apps().UpdateSession(ctx, "y", storage.SessionUpdate{State: storage.StateBlocked}))

	n, err := store.Apps().ResetDaily(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := store.Apps().List(ctx)
	require.NoError(t, err)
	for _, r := range list {
		assert.Equal(t, storage.StateIdle, r.SessionState)
		assert.Zero(t, r.RemainingSessionTimeMs)
		assert.Zero(t, r.SelectedSessionDurationMs)
		assert.True(t, r.LimitEnabled)
	}
}

func TestPipelineStore_Upsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state, err := store.Pipeline().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, storage.PipelineState{}, state)

	require.NoError(t, store.Pipeline().Save(ctx, storage.PipelineState{LastForegroundApp: "a", Presenting: true}))
	require.NoError(t, store.Pipeline().Save(ctx, storage.PipelineState{LastForegroundApp: "b"}))

	state, err = store.Pipeline().Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", state.LastForegroundApp)
	assert.False(t, state.Presenting)
}

func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "appwarden.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopening runs the migrations again without error.
	store, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
