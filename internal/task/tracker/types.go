package tracker

import (
	"context"
	"time"

	"inquisitor/internal/jobs"
)

const (
	defaultMaxAge     = 2 * time.Hour
	defaultEvery      = "@every 30s"
	defaultDrainBatch = 10
)

type Config struct {
	// SealAfter is how long a batch stays open for new ticks before it may complete.
	SealAfter time.Duration
	// MaxAge aborts open batches older than this.
	MaxAge time.Duration
	// Every is the cron spec for RunOnce.
	Every string
	// DrainBatch is the receive size per status channel poll.
	DrainBatch int
}

func (c Config) withDefaults() Config {
	if c.SealAfter < 0 {
		c.SealAfter = 0
	}
	if c.MaxAge <= 0 {
		c.MaxAge = defaultMaxAge
	}
	if c.Every == "" {
		c.Every = defaultEvery
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = defaultDrainBatch
	}
	return c
}

// Store is the persistence the tracker writes through.
type Store interface {
	UpdateJobStatus(ctx context.Context, id string, st jobs.Status) (bool, error)
	UpdateBatchStatus(ctx context.Context, id string, st jobs.Status, at time.Time) (bool, error)
	ListOpenBatches(ctx context.Context) ([]jobs.Batch, error)
	ListBatchJobs(ctx context.Context, batchID string) ([]jobs.Job, error)
}

// PassResult summarizes one RunOnce.
type PassResult struct {
	Drained   int
	Applied   int
	Ignored   int
	Started   int
	Completed int
	Aborted   int
}

type Snapshot struct {
	Running  bool
	Passes   uint64
	Skipped  uint64
	LastPass time.Time
	LastTook time.Duration
	Last     PassResult
	LastErr  string
}
