package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"meetscribe/internal/models"
)

const defaultRecentLimit = 50

// RunStore persists pipeline run outcomes. It never stores audio or transcripts.
type RunStore struct {
	db *sql.DB
}

func NewRunStore(db *sql.DB) (*RunStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &RunStore{db: db}, nil
}

// RecordRun inserts one ledger row.
func (s *RunStore) RecordRun(ctx context.Context, run *models.PipelineRun) error {
	if run == nil {
		return errors.New("run is required")
	}
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, file_name, state, failed_stage, error_kind, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.FileName, run.State, run.FailedStage, run.ErrorKind, run.Error, run.DurationMs, createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns the newest runs first.
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]*models.PipelineRun, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_name, state, failed_stage, error_kind, error, duration_ms, created_at
		 FROM pipeline_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.PipelineRun
	for rows.Next() {
		var run models.PipelineRun
		if err := rows.Scan(&run.ID, &run.FileName, &run.State, &run.FailedStage, &run.ErrorKind,
			&run.Error, &run.DurationMs, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
