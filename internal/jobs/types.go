package jobs

import (
	"time"
)

// Descriptor is a named, interval-bound recurring work item (collector or auditor).
// It is built once at startup and never mutated.
type Descriptor struct {
	Name       string
	Kind       Kind
	Interval   time.Duration
	EntryPoint string
}

// Scope is the account/region dimension a Descriptor is instantiated against.
// Empty fields mean "not scoped on that dimension".
type Scope struct {
	Account string `json:"account,omitempty"`
	Region  string `json:"region,omitempty"`
}

func (s Scope) String() string {
	switch {
	case s.Account == "" && s.Region == "":
		return "global"
	case s.Region == "":
		return s.Account
	case s.Account == "":
		return s.Region
	default:
		return s.Account + "/" + s.Region
	}
}

// Batch is one scheduling epoch's jobs, tracked as a unit.
type Batch struct {
	ID          string
	Status      Status
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Job is one concrete unit of work. Name is the Identity hash and is shared by
// every historical run of the same (Descriptor, Scope).
type Job struct {
	ID        string
	BatchID   string
	Name      string
	Status    Status
	Data      []byte
	CreatedAt time.Time
}

// Task is the job channel payload.
//
// JobID is fresh per attempt and doubles as the channel dedup key.
// OriginJobID names the persisted Job row every attempt reports against.
type Task struct {
	JobID       string    `json:"job_id"`
	OriginJobID string    `json:"origin_job_id"`
	JobName     string    `json:"job_name"`
	BatchID     string    `json:"batch_id"`
	WorkName    string    `json:"work_name"`
	EntryPoint  string    `json:"entry_point"`
	Scope       Scope     `json:"scope"`
	Attempt     int       `json:"attempt"`
	NextRun     time.Time `json:"next_run,omitzero"` // next fire of the producing timer
}

// StatusUpdate is the status channel payload.
type StatusUpdate struct {
	JobID  string    `json:"job_id"`
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}
