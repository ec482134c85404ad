package storage

import (
	"context"
	"errors"
	"time"

	"inquisitor/internal/jobs"
)

var ErrNotFound = errors.New("storage: not found")

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps (tests, single binary without persistence)
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL through the pgx stdlib driver
type Config struct {
	Driver      string
	Path        string        // sqlite
	BusyTimeout time.Duration // sqlite only; 0 means default
	DSN         string        // postgres

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the Batch/Job persistence API.
//
// UpdateJobStatus and UpdateBatchStatus report whether the row changed. A row that
// already holds an equal or later status, or any terminal status, is left untouched
// and (false, nil) is returned.
type Store interface {
	CreateBatch(ctx context.Context, b jobs.Batch) error
	GetBatch(ctx context.Context, id string) (jobs.Batch, error)
	UpdateBatchStatus(ctx context.Context, id string, st jobs.Status, at time.Time) (bool, error)
	ListOpenBatches(ctx context.Context) ([]jobs.Batch, error)

	CreateJob(ctx context.Context, j jobs.Job) error
	GetJob(ctx context.Context, id string) (jobs.Job, error)
	UpdateJobStatus(ctx context.Context, id string, st jobs.Status) (bool, error)
	ListBatchJobs(ctx context.Context, batchID string) ([]jobs.Job, error)

	Close() error
}
