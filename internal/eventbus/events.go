package eventbus

import "time"

// Lifecycle event types published by the scheduler, the worker pool and the batch
// tracker.
const (
	SchedulerReconciled = "scheduler.reconciled"
	JobEnqueued         = "job.enqueued"

	JobStarted     = "job.started"
	JobCompleted   = "job.completed"
	JobRetried     = "job.retried"
	JobFailed      = "job.failed"
	JobFatal       = "job.fatal"
	BatchStarted   = "batch.started"
	BatchCompleted = "batch.completed"
	BatchAborted   = "batch.aborted"
)

// JobEvent is the Data of job.* events.
type JobEvent struct {
	JobID       string        `json:"job_id"`
	OriginJobID string        `json:"origin_job_id"`
	JobName     string        `json:"job_name"`
	BatchID     string        `json:"batch_id"`
	Work        string        `json:"work"`
	Scope       string        `json:"scope"`
	Attempt     int           `json:"attempt"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// BatchEvent is the Data of batch.* events.
type BatchEvent struct {
	BatchID string `json:"batch_id"`
	Jobs    int    `json:"jobs"`
	Aborted int    `json:"aborted,omitempty"`
}

// ReconcileEvent is the Data of scheduler.reconciled.
type ReconcileEvent struct {
	BatchID string `json:"batch_id"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Live    int    `json:"live"`
}
