package redis

import (
	"context"
	"strconv"

	"github.com/goodtune/appwarden/internal/storage"
	"github.com/redis/go-redis/v9"
)

type pipelineStore struct {
	client *redis.Client
}

// Load reads the pipeline state hash
func (s *pipelineStore) Load(ctx context.Context) (storage.PipelineState, error) {
	data, err := s.client.HGetAll(ctx, pipelineKey).Result()
	if err != nil {
		return storage.PipelineState{}, err
	}
	return parsePipelineState(data)
}

// Save overwrites the pipeline state hash
func (s *pipelineStore) Save(ctx context.Context, state storage.PipelineState) error {
	return s.client.HSet(ctx, pipelineKey,
		"last_foreground_app", state.LastForegroundApp,
		"presenting", strconv.FormatBool(state.Presenting),
		"presenting_app", state.PresentingApp,
		"presenting_kind", state.PresentingKind,
		"presenting_id", state.PresentingID,
		"updated_at", formatMillis(state.UpdatedAt),
	).Err()
}
