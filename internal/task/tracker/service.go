package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"inquisitor/internal/eventbus"
	"inquisitor/internal/jobs"
	"inquisitor/internal/queue"
	"inquisitor/internal/storage"
	logx "inquisitor/pkg/logx"
)

type Service struct {
	cfg   Config
	store Store
	ch    queue.Channel
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	// pass serializes RunOnce; cron also skips overlapping ticks.
	pass sync.Mutex

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc

	passes  atomic.Uint64
	skipped atomic.Uint64

	smu      sync.Mutex
	lastPass time.Time
	lastTook time.Duration
	last     PassResult
	lastErr  string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

func New(cfg Config, store Store, statusCh queue.Channel, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg.withDefaults(),
		store: store,
		ch:    statusCh,
		log:   log.With(logx.String("comp", "tracker")),
		now:   time.Now,
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Start schedules RunOnce on cfg.Every. Overlapping ticks are skipped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	adapter := cronLogger{log: s.log, onSkip: func() { s.skipped.Add(1) }}
	c := cron.New(
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(s.cfg.Every, func() { _, _ = s.RunOnce(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("tracker: schedule %q: %w", s.cfg.Every, err)
	}
	c.Start()
	s.c, s.cancel = c, cancel
	s.log.Info("tracker started",
		logx.String("every", s.cfg.Every),
		logx.Duration("seal_after", s.cfg.SealAfter),
		logx.Duration("max_age", s.cfg.MaxAge))
	return nil
}

// Stop halts scheduling and waits for a running pass up to ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		cancel()
		s.log.Warn("tracker stop timed out; cancelling pass")
		return
	}
	cancel()
	s.log.Info("tracker stopped", logx.Duration("took", time.Since(start)))
}

// RunOnce drains the status channel, advances open batches and aborts stale ones.
func (s *Service) RunOnce(ctx context.Context) (PassResult, error) {
	s.pass.Lock()
	defer s.pass.Unlock()

	start := s.now()
	var res PassResult
	err := s.drain(ctx, &res)
	if err == nil {
		err = s.advance(ctx, &res)
	}
	if err == nil {
		err = s.sweep(ctx, &res)
	}
	took := s.now().Sub(start)
	s.passes.Add(1)

	s.smu.Lock()
	s.lastPass, s.lastTook, s.last = start, took, res
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.smu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.log.Warn("tracker pass failed", logx.Err(err), logx.Int("applied", res.Applied))
	} else if res.Drained > 0 || res.Completed > 0 || res.Aborted > 0 {
		s.log.Debug("tracker pass",
			logx.Int("drained", res.Drained),
			logx.Int("applied", res.Applied),
			logx.Int("ignored", res.Ignored),
			logx.Int("batches_started", res.Started),
			logx.Int("batches_completed", res.Completed),
			logx.Int("batches_aborted", res.Aborted),
			logx.Duration("took", took))
	}
	return res, err
}

// Drain applies every pending status update.
func (s *Service) Drain(ctx context.Context) (PassResult, error) {
	s.pass.Lock()
	defer s.pass.Unlock()
	var res PassResult
	err := s.drain(ctx, &res)
	return res, err
}

// AdvanceBatches completes or starts open batches from their jobs' statuses.
func (s *Service) AdvanceBatches(ctx context.Context) (PassResult, error) {
	s.pass.Lock()
	defer s.pass.Unlock()
	var res PassResult
	err := s.advance(ctx, &res)
	return res, err
}

// SweepStale aborts open batches older than MaxAge together with their unfinished jobs.
func (s *Service) SweepStale(ctx context.Context) (PassResult, error) {
	s.pass.Lock()
	defer s.pass.Unlock()
	var res PassResult
	err := s.sweep(ctx, &res)
	return res, err
}

func (s *Service) drain(ctx context.Context, res *PassResult) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		envs, err := s.ch.Receive(ctx, s.cfg.DrainBatch)
		if err != nil {
			return fmt.Errorf("receive status: %w", err)
		}
		if len(envs) == 0 {
			return nil
		}
		for _, env := range envs {
			res.Drained++
			if err := s.apply(ctx, env, res); err != nil {
				// Left unacked: redelivered once visibility expires.
				return err
			}
			if err := s.ch.Ack(ctx, env); err != nil {
				s.log.Warn("status ack failed", logx.Err(err))
			}
		}
	}
}

// apply runs the status CAS for one envelope. Only store faults are returned.
func (s *Service) apply(ctx context.Context, env queue.Envelope, res *PassResult) error {
	var u jobs.StatusUpdate
	if err := json.Unmarshal(env.Body, &u); err != nil || u.JobID == "" || !u.Status.Valid() {
		res.Ignored++
		s.log.Warn("dropping malformed status update", logx.Err(err))
		return nil
	}
	changed, err := s.store.UpdateJobStatus(ctx, u.JobID, u.Status)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		res.Ignored++
		s.log.Warn("status update for unknown job", logx.String("job_id", u.JobID), logx.String("status", u.Status.String()))
		return nil
	case err != nil:
		return fmt.Errorf("update job %s: %w", u.JobID, err)
	case !changed:
		res.Ignored++
		s.log.Debug("stale status update ignored", logx.String("job_id", u.JobID), logx.String("status", u.Status.String()))
		return nil
	}
	res.Applied++
	return nil
}

func (s *Service) advance(ctx context.Context, res *PassResult) error {
	batches, err := s.store.ListOpenBatches(ctx)
	if err != nil {
		return fmt.Errorf("list open batches: %w", err)
	}
	now := s.now()
	for _, b := range batches {
		list, err := s.store.ListBatchJobs(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("list jobs of %s: %w", b.ID, err)
		}
		done, started := 0, 0
		for _, j := range list {
			if j.Status >= jobs.StatusCompleted {
				done++
			}
			if j.Status > jobs.StatusPending {
				started++
			}
		}
		sealed := now.Sub(b.StartedAt) >= s.cfg.SealAfter

		if done == len(list) && sealed {
			changed, err := s.store.UpdateBatchStatus(ctx, b.ID, jobs.StatusCompleted, now)
			if err != nil {
				return fmt.Errorf("complete batch %s: %w", b.ID, err)
			}
			if changed {
				res.Completed++
				s.log.Debug("batch completed", logx.String("batch_id", b.ID), logx.Int("jobs", len(list)))
				s.publish(eventbus.BatchCompleted, b.ID, len(list), 0)
			}
			continue
		}
		if b.Status == jobs.StatusPending && started > 0 {
			changed, err := s.store.UpdateBatchStatus(ctx, b.ID, jobs.StatusStarted, now)
			if err != nil {
				return fmt.Errorf("start batch %s: %w", b.ID, err)
			}
			if changed {
				res.Started++
				s.log.Debug("batch started", logx.String("batch_id", b.ID))
				s.publish(eventbus.BatchStarted, b.ID, len(list), 0)
			}
		}
	}
	return nil
}

func (s *Service) sweep(ctx context.Context, res *PassResult) error {
	batches, err := s.store.ListOpenBatches(ctx)
	if err != nil {
		return fmt.Errorf("list open batches: %w", err)
	}
	now := s.now()
	for _, b := range batches {
		if now.Sub(b.StartedAt) <= s.cfg.MaxAge {
			continue
		}
		list, err := s.store.ListBatchJobs(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("list jobs of %s: %w", b.ID, err)
		}
		aborted := 0
		for _, j := range list {
			if j.Status >= jobs.StatusCompleted {
				continue
			}
			changed, err := s.store.UpdateJobStatus(ctx, j.ID, jobs.StatusAborted)
			if err != nil {
				return fmt.Errorf("abort job %s: %w", j.ID, err)
			}
			if changed {
				aborted++
			}
		}
		changed, err := s.store.UpdateBatchStatus(ctx, b.ID, jobs.StatusAborted, now)
		if err != nil {
			return fmt.Errorf("abort batch %s: %w", b.ID, err)
		}
		if changed {
			res.Aborted++
			s.log.Warn("closing stale batch",
				logx.String("batch_id", b.ID),
				logx.Duration("age", now.Sub(b.StartedAt)),
				logx.Int("jobs_aborted", aborted))
			s.publish(eventbus.BatchAborted, b.ID, len(list), aborted)
		}
	}
	return nil
}

func (s *Service) publish(typ, batchID string, total, aborted int) {
	eventbus.PublishBatch(s.bus, typ, s.now(), eventbus.BatchEvent{BatchID: batchID, Jobs: total, Aborted: aborted})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.c != nil
	s.mu.Unlock()
	s.smu.Lock()
	defer s.smu.Unlock()
	return Snapshot{
		Running:  running,
		Passes:   s.passes.Load(),
		Skipped:  s.skipped.Load(),
		LastPass: s.lastPass,
		LastTook: s.lastTook,
		Last:     s.last,
		LastErr:  s.lastErr,
	}
}
