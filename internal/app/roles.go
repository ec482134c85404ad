package app

import (
	"fmt"
	"strings"
)

// Roles selects which components this process runs. Every role shares one config.
type Roles struct {
	Scheduler bool
	Worker    bool
	Tracker   bool
}

var AllRoles = Roles{Scheduler: true, Worker: true, Tracker: true}

// ParseRoles accepts "all" or a comma-separated list of scheduler, worker, tracker.
func ParseRoles(raw string) (Roles, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" || s == "all" {
		return AllRoles, nil
	}
	var r Roles
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "scheduler":
			r.Scheduler = true
		case "worker", "workers":
			r.Worker = true
		case "tracker":
			r.Tracker = true
		case "":
		default:
			return Roles{}, fmt.Errorf("unknown role %q (want scheduler, worker, tracker or all)", part)
		}
	}
	if r == (Roles{}) {
		return Roles{}, fmt.Errorf("no role selected")
	}
	return r, nil
}

func (r Roles) String() string {
	if r == AllRoles {
		return "all"
	}
	var parts []string
	if r.Scheduler {
		parts = append(parts, "scheduler")
	}
	if r.Worker {
		parts = append(parts, "worker")
	}
	if r.Tracker {
		parts = append(parts, "tracker")
	}
	return strings.Join(parts, ",")
}

// needsStore reports whether any selected role reads or writes Batch/Job rows.
func (r Roles) needsStore() bool { return r.Scheduler || r.Tracker }

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)
