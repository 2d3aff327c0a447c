package bolt

import (
	"context"
	"errors"

	"github.com/goodtune/appwarden/internal/storage"
	"go.etcd.io/bbolt"
)

type pipelineStore struct {
	db *bbolt.DB
}

func (s *pipelineStore) Load(ctx context.Context) (storage.PipelineState, error) {
	state, err := getBucketValue[storage.PipelineState](ctx, s.db, bucketPipeline, pipelineKey)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.PipelineState{}, nil
	}
	if err != nil {
		return storage.PipelineState{}, err
	}
	return *state, nil
}

func (s *pipelineStore) Save(ctx context.Context, state storage.PipelineState) error {
	return putBucketValue(ctx, s.db, bucketPipeline, pipelineKey, state)
}
