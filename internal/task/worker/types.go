package worker

import (
	"time"

	"inquisitor/internal/jobs"
	"inquisitor/internal/registry"
)

const (
	defaultWorkers       = 5
	defaultPollInterval  = time.Second
	defaultMaxAttempts   = 3
	defaultHistorySize   = 200
	defaultReportRetries = 3
)

// Config controls the worker pool.
type Config struct {
	Workers      int
	PollInterval time.Duration
	// MaxAttempts is the number of retries after the first run; a job that keeps
	// asking for a retry runs MaxAttempts+1 times before it is FAILED.
	MaxAttempts int
	// JobTimeout bounds a single run. 0 disables it.
	JobTimeout time.Duration

	// StartRate paces job starts across the pool (jobs/second). 0 means unlimited.
	StartRate  float64
	StartBurst int

	HistorySize int

	ReportRetries int
	ReportBackoff Backoff
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.ReportRetries <= 0 {
		c.ReportRetries = defaultReportRetries
	}
	if c.StartBurst <= 0 {
		c.StartBurst = 1
	}
	c.ReportBackoff = c.ReportBackoff.withDefaults()
	return c
}

// Resolver maps entry points to work factories.
type Resolver interface {
	Resolve(entryPoint string) (registry.Factory, error)
	Descriptors() []jobs.Descriptor
}

type HistoryItem struct {
	JobID       string
	OriginJobID string
	JobName     string
	BatchID     string
	Work        string
	Scope       string
	Attempt     int
	Outcome     string
	Started     time.Time
	Duration    time.Duration
	Error       string
}

type Snapshot struct {
	Workers  int
	Running  bool
	InFlight int

	Received     uint64
	Completed    uint64
	Retried      uint64
	Failed       uint64
	Fatal        uint64
	Dropped      uint64
	ReportErrors uint64

	History []HistoryItem
}
