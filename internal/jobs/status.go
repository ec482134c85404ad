package jobs

import (
	"fmt"
	"strconv"
	"strings"
)

// Status is the ordered lifecycle state of a Batch or Job.
// Ordinals are persisted; never renumber them.
type Status int

const (
	StatusPending   Status = 0
	StatusStarted   Status = 1
	StatusCompleted Status = 2
	StatusAborted   Status = 8
	StatusFailed    Status = 9
)

// Terminal reports whether s is COMPLETED or any later state.
func (s Status) Terminal() bool { return s >= StatusCompleted }

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusStarted, StatusCompleted, StatusAborted, StatusFailed:
		return true
	}
	return false
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusStarted:
		return "STARTED"
	case StatusCompleted:
		return "COMPLETED"
	case StatusAborted:
		return "ABORTED"
	case StatusFailed:
		return "FAILED"
	default:
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Advances reports whether moving from cur to next is a permitted compare-and-set:
// next must strictly increase the ordinal and cur must not be terminal.
func Advances(cur, next Status) bool {
	return !cur.Terminal() && next > cur
}

// ParseStatus accepts a status name (case-insensitive) or its ordinal.
func ParseStatus(s string) (Status, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch v {
	case "PENDING":
		return StatusPending, nil
	case "STARTED":
		return StatusStarted, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "ABORTED":
		return StatusAborted, nil
	case "FAILED":
		return StatusFailed, nil
	}
	n, err := strconv.Atoi(v)
	if err == nil && Status(n).Valid() {
		return Status(n), nil
	}
	return 0, fmt.Errorf("jobs: unknown status %q", s)
}
