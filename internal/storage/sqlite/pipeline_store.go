package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goodtune/appwarden/internal/storage"
)

type pipelineStore struct {
	db *sql.DB
}

func (s *pipelineStore) Load(ctx context.Context) (storage.PipelineState, error) {
	var (
		state     storage.PipelineState
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT last_foreground_app, presenting, presenting_app,
		presenting_kind, presenting_id, updated_at FROM pipeline_state WHERE id = 1`).Scan(
		&state.LastForegroundApp,
		&state.Presenting,
		&state.PresentingApp,
		&state.PresentingKind,
		&state.PresentingID,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.PipelineState{}, nil
	}
	if err != nil {
		return storage.PipelineState{}, fmt.Errorf("loading pipeline state: %w", err)
	}
	state.UpdatedAt = fromMillis(updatedAt)
	return state, nil
}

func (s *pipelineStore) Save(ctx context.Context, state storage.PipelineState) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pipeline_state
		(id, last_foreground_app, presenting, presenting_app, presenting_kind, presenting_id, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_foreground_app = excluded.last_foreground_app,
			presenting = excluded.presenting,
			presenting_app = excluded.presenting_app,
			presenting_kind = excluded.presenting_kind,
			presenting_id = excluded.presenting_id,
			updated_at = excluded.updated_at`,
		state.LastForegroundApp,
		state.Presenting,
		state.PresentingApp,
		state.PresentingKind,
		state.PresentingID,
		toMillis(state.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving pipeline state: %w", err)
	}
	return nil
}
