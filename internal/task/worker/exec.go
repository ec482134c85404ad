package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"inquisitor/internal/eventbus"
	"inquisitor/internal/jobs"
	"inquisitor/internal/queue"
	"inquisitor/internal/registry"
	logx "inquisitor/pkg/logx"
)

// execute resolves and runs the task's work. Resolution failures and panics are
// fatal outcomes; they are never retried.
func (s *Service) execute(ctx context.Context, task jobs.Task) (res registry.Result) {
	factory, err := s.reg.Resolve(task.EntryPoint)
	if err != nil {
		return registry.Fatal(err)
	}

	runCtx := ctx
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	// Guard against work panics so one bad job cannot kill a worker loop.
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked",
				logx.String("job_id", task.JobID),
				logx.String("work", task.WorkName),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			res = registry.Fatal(fmt.Errorf("panic: %v", r))
		}
	}()

	work, err := factory(task.Scope)
	if err != nil {
		return registry.Fatal(fmt.Errorf("build work: %w", err))
	}
	res = work.Run(runCtx)
	if res.Outcome == registry.OutcomeOK && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return registry.Fatal(fmt.Errorf("job timeout after %s", s.cfg.JobTimeout))
	}
	return res
}

func (s *Service) finish(ctx context.Context, task jobs.Task, res registry.Result, start time.Time, dur time.Duration) {
	log := s.log.With(
		logx.String("job_id", task.JobID),
		logx.String("origin_job_id", task.OriginJobID),
		logx.String("work", task.WorkName),
		logx.String("scope", task.Scope.String()),
		logx.String("batch_id", task.BatchID),
		logx.Int("attempt", task.Attempt),
	)
	item := HistoryItem{
		JobID:       task.JobID,
		OriginJobID: task.OriginJobID,
		JobName:     task.JobName,
		BatchID:     task.BatchID,
		Work:        task.WorkName,
		Scope:       task.Scope.String(),
		Attempt:     task.Attempt,
		Outcome:     res.Outcome.String(),
		Started:     start,
		Duration:    dur,
	}
	if res.Err != nil {
		item.Error = res.Err.Error()
	}
	defer s.record(item)

	switch res.Outcome {
	case registry.OutcomeOK:
		s.completed.Add(1)
		s.report(ctx, task, jobs.StatusCompleted)
		s.publish(eventbus.JobCompleted, task, dur, nil)
		if dur >= 750*time.Millisecond {
			log.Info("job completed", logx.Duration("dur", dur))
		} else {
			log.Debug("job completed", logx.Duration("dur", dur))
		}

	case registry.OutcomeRetry:
		if task.Attempt < s.cfg.MaxAttempts {
			if err := s.requeue(ctx, task); err != nil {
				log.Error("retry enqueue failed; job left for stale sweep", logx.Err(err))
				return
			}
			s.retried.Add(1)
			s.publish(eventbus.JobRetried, task, dur, res.Err)
			log.Warn("job retry scheduled", logx.Int("next_attempt", task.Attempt+1), logx.Err(res.Err))
			return
		}
		s.failed.Add(1)
		s.report(ctx, task, jobs.StatusFailed)
		s.publish(eventbus.JobFailed, task, dur, res.Err)
		log.Error("job failed after retries", logx.Err(res.Err))

	default:
		s.fatal.Add(1)
		s.publish(eventbus.JobFatal, task, dur, res.Err)
		log.Error("job fault", logx.Err(res.Err), logx.Duration("dur", dur))
	}
}

// requeue sends the next attempt under the same job name, batch and origin with a
// fresh job id.
func (s *Service) requeue(ctx context.Context, task jobs.Task) error {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	next := task
	next.JobID = s.newID()
	next.Attempt = task.Attempt + 1
	body, err := json.Marshal(next)
	if err != nil {
		return err
	}
	return s.jobsCh.Enqueue(ctx, queue.Message{
		PartitionKey: next.BatchID,
		DedupKey:     next.JobID,
		Body:         body,
		Attempt:      next.Attempt,
	})
}
