package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"inquisitor/internal/config"
	"inquisitor/internal/runtime/supervisor"
	logx "inquisitor/pkg/logx"
)

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			if next == nil {
				continue
			}
			a.applyConfig(ctx, prev, next)
			prev = next
		}
	}
}

// applyConfig applies the live sections of a validated reload. Other sections are
// only reported; they take effect on the next start.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		a.log.Debug("config reload without changes")
		return
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.Any("changed", changed)}, attrs...)...)

	if slices.Contains(changed, "logging") {
		a.logs.Apply(mapLogging(next))
	}
	if slices.Contains(changed, "scope") && a.static != nil {
		sc, err := mapScope(next)
		if err != nil {
			a.log.Warn("scope reload rejected", logx.Err(err))
		} else {
			a.static.Set(sc.accounts, sc.regions)
			if _, err := a.sched.Reconcile(ctx); err != nil {
				a.log.Warn("reconcile after scope change failed", logx.Err(err))
			}
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections need a restart to take effect", logx.Any("sections", restart))
	}
}

// Status is a point-in-time view for the check and status surfaces.
type Status struct {
	Roles      string              `json:"roles"`
	Routines   supervisor.Snapshot `json:"routines"`
	Scheduler  any                 `json:"scheduler,omitempty"`
	Workers    any                 `json:"workers,omitempty"`
	Tracker    any                 `json:"tracker,omitempty"`
	ConfigPath string              `json:"config_path"`

	// EventsDropped counts lifecycle events a full subscriber missed.
	EventsDropped uint64 `json:"events_dropped"`
}

func (a *App) Status() Status {
	st := Status{Roles: a.roles.String(), ConfigPath: a.cfgm.Path(), EventsDropped: a.bus.Dropped()}
	if a.sup != nil {
		st.Routines = a.sup.Snapshot()
	}
	if a.sched != nil {
		st.Scheduler = a.sched.Snapshot()
	}
	if a.workers != nil {
		st.Workers = a.workers.Snapshot()
	}
	if a.tracker != nil {
		st.Tracker = a.tracker.Snapshot()
	}
	return st
}

// Stop shuts the roles down in dependency order: no new jobs, then in-flight work,
// then the last status drain. Each step is bounded and never extends ctx.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		_ = a.logs.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
			}()
		}
	}

	if a.sched != nil {
		step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	}
	if a.workers != nil {
		step("workers", 10*time.Second, func(c context.Context) error { a.workers.Stop(c); return nil })
	}
	if a.tracker != nil {
		step("tracker", 3*time.Second, func(c context.Context) error {
			a.tracker.Stop(c)
			// Statuses reported by the last in-flight jobs.
			_, err := a.tracker.Drain(c)
			return err
		})
	}
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("resources", 2*time.Second, func(context.Context) error { a.closeResources(); return nil })

	err := a.sup.Err()
	a.log.Info("stopped", logx.String("reason", string(reason)), logx.Err(err))
	_ = a.logs.Close()
	return err
}
