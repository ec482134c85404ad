package scheduler

import (
	"context"
	"time"

	"inquisitor/internal/jobs"
)

const (
	defaultReconcileEvery = 15 * time.Minute
	defaultStartDelay     = time.Second
	defaultJobDelay       = 2 * time.Second
	defaultAuditorDelay   = 5 * time.Minute
	debugAuditorDelay     = 5 * time.Second
)

// Config controls reconcile cadence and start offsets.
type Config struct {
	ReconcileEvery time.Duration
	Stagger        StaggerConfig
	// Debug shortens the default auditor delay.
	Debug bool
}

// StaggerConfig spreads first fires of newly added timers.
//
// Collectors fire at now + StartDelay + i*JobDelay. Auditors start AuditorDelay after
// the last collector slot and keep the same JobDelay spacing.
type StaggerConfig struct {
	StartDelay   time.Duration
	JobDelay     time.Duration
	AuditorDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconcileEvery <= 0 {
		c.ReconcileEvery = defaultReconcileEvery
	}
	if c.Stagger.StartDelay <= 0 {
		c.Stagger.StartDelay = defaultStartDelay
	}
	if c.Stagger.JobDelay < 0 {
		c.Stagger.JobDelay = 0
	}
	if c.Stagger.JobDelay == 0 {
		c.Stagger.JobDelay = defaultJobDelay
	}
	if c.Stagger.AuditorDelay <= 0 {
		c.Stagger.AuditorDelay = defaultAuditorDelay
		if c.Debug {
			c.Stagger.AuditorDelay = debugAuditorDelay
		}
	}
	return c
}

// Registry is the part of the work registry the scheduler reads at reconcile time.
type Registry interface {
	ListWorkDescriptors(k jobs.Kind) []jobs.Descriptor
	ListAuditors() []jobs.Descriptor
}

// JobWriter persists batches and job rows created by the scheduler.
type JobWriter interface {
	CreateBatch(ctx context.Context, b jobs.Batch) error
	CreateJob(ctx context.Context, j jobs.Job) error
}

// Target is one (Descriptor, Scope) pair. Name is its job identity.
type Target struct {
	Name       string
	Descriptor jobs.Descriptor
	Scope      jobs.Scope
}

// Placement is a Target with its first fire time.
type Placement struct {
	Target
	First time.Time
}

// ReconcileResult summarizes one reconcile pass.
type ReconcileResult struct {
	BatchID string
	Added   int
	Removed int
	Live    int
}

type TimerInfo struct {
	Name     string
	Work     string
	Kind     jobs.Kind
	Scope    jobs.Scope
	Interval time.Duration
	Next     time.Time
	Prev     time.Time
	Fired    uint64
}

type Snapshot struct {
	Running        bool
	BatchID        string
	BatchStartedAt time.Time
	LastReconcile  time.Time
	ReconcileEvery time.Duration

	Reconciles    uint64
	Ticks         uint64
	Enqueued      uint64
	EnqueueErrors uint64

	Timers []TimerInfo
}
