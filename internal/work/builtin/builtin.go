// Package builtin provides the work factories shipped with the binary. Real collectors
// and auditors register their own factories next to these.
package builtin

import (
	"context"

	"inquisitor/internal/jobs"
	"inquisitor/internal/registry"
	logx "inquisitor/pkg/logx"
)

const (
	Noop = "builtin.noop"
	Log  = "builtin.log"
)

// Factories returns the built-in entry points keyed by name.
func Factories(log logx.Logger) map[string]registry.Factory {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "work"))
	return map[string]registry.Factory{
		Noop: func(jobs.Scope) (registry.Work, error) {
			return registry.WorkFunc(func(context.Context) registry.Result { return registry.Ok() }), nil
		},
		Log: func(s jobs.Scope) (registry.Work, error) {
			return registry.WorkFunc(func(ctx context.Context) registry.Result {
				if err := ctx.Err(); err != nil {
					return registry.Retryable(err)
				}
				log.Info("work run", logx.String("account", s.Account), logx.String("region", s.Region))
				return registry.Ok()
			}), nil
		},
	}
}

// Merge combines factory maps; later maps win on duplicate entry points.
func Merge(maps ...map[string]registry.Factory) map[string]registry.Factory {
	out := map[string]registry.Factory{}
	for _, m := range maps {
		for k, f := range m {
			out[k] = f
		}
	}
	return out
}
