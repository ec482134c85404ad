package registry

import (
	"context"
	"fmt"

	"inquisitor/internal/jobs"
)

// Outcome classifies how a Work run ended.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeRetry is an explicitly classified, recoverable fault.
	OutcomeRetry
	// OutcomeFatal is any other fault. It is logged and never retried.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetry:
		return "retry"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is returned by Work.Run instead of a bare error so the worker pool never has
// to guess whether a failure is worth retrying.
type Result struct {
	Outcome Outcome
	Err     error
}

func Ok() Result { return Result{Outcome: OutcomeOK} }

// Retryable marks err as a recoverable upstream fault.
func Retryable(err error) Result { return Result{Outcome: OutcomeRetry, Err: err} }

// Fatal marks err as unclassified; the job is not retried.
func Fatal(err error) Result { return Result{Outcome: OutcomeFatal, Err: err} }

// FromError converts a plain error: nil is OK, anything else is Fatal.
func FromError(err error) Result {
	if err == nil {
		return Ok()
	}
	return Fatal(err)
}

// Work is one instantiated collector or auditor.
//
// Run takes no arguments beyond ctx; everything scope-specific was bound by its Factory.
type Work interface {
	Run(ctx context.Context) Result
}

// WorkFunc adapts a function to Work.
type WorkFunc func(ctx context.Context) Result

func (f WorkFunc) Run(ctx context.Context) Result { return f(ctx) }

// Factory builds a Work for one scope.
type Factory func(scope jobs.Scope) (Work, error)
