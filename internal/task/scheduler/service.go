package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"inquisitor/internal/eventbus"
	"inquisitor/internal/jobs"
	"inquisitor/internal/queue"
	"inquisitor/internal/scope"
	logx "inquisitor/pkg/logx"
)

var ErrNotReconciled = errors.New("scheduler: no batch open yet")

type Service struct {
	cfg   Config
	reg   Registry
	scope scope.Provider
	store JobWriter
	ch    queue.Channel
	log   logx.Logger
	bus   eventbus.Bus

	now   func() time.Time
	newID func() string

	mu            sync.Mutex
	timers        *timerTable
	batchID       string
	batchStarted  time.Time
	lastReconcile time.Time
	reconcileMu   sync.Mutex

	wake chan struct{}

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool

	reconciles    atomic.Uint64
	ticks         atomic.Uint64
	enqueued      atomic.Uint64
	enqueueErrors atomic.Uint64

	// Enqueue error throttling: key is job identity.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type Option func(*Service)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDs overrides batch/job id generation (tests).
func WithIDs(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

func New(cfg Config, reg Registry, sp scope.Provider, store JobWriter, ch queue.Channel, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:         cfg.withDefaults(),
		reg:         reg,
		scope:       sp,
		store:       store,
		ch:          ch,
		log:         log.With(logx.String("comp", "scheduler")),
		now:         time.Now,
		newID:       uuid.NewString,
		timers:      newTimerTable(),
		wake:        make(chan struct{}, 1),
		lastEnqWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Start runs the timer loop until Stop or ctx cancellation. The first reconcile
// happens immediately.
func (s *Service) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.loop(loopCtx, s.done)
	s.log.Info("service started",
		logx.Duration("reconcile_every", s.cfg.ReconcileEvery),
		logx.Duration("job_delay", s.cfg.Stagger.JobDelay),
		logx.Duration("auditor_delay", s.cfg.Stagger.AuditorDelay))
}

// Stop stops the loop. Live timers are dropped with it; the next Start rebuilds them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		// best-effort
	}
	s.running.Store(false)

	s.mu.Lock()
	s.timers = newTimerTable()
	s.mu.Unlock()
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.reconcileLogged(ctx)
	nextReconcile := time.Now().Add(s.cfg.ReconcileEvery)

	for {
		s.FireDue(ctx)

		now := time.Now()
		if !now.Before(nextReconcile) {
			s.reconcileLogged(ctx)
			nextReconcile = now.Add(s.cfg.ReconcileEvery)
		}

		wait := nextReconcile.Sub(now)
		s.mu.Lock()
		if nf := s.timers.nextFire(); !nf.IsZero() {
			if d := nf.Sub(s.now()); d < wait {
				wait = d
			}
		}
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-s.wake:
		case <-t.C:
		}
		t.Stop()
	}
}

func (s *Service) reconcileLogged(ctx context.Context) {
	res, err := s.Reconcile(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("reconcile failed; live timers kept", logx.Err(err))
		}
		return
	}
	lvl := s.log.Debug
	if res.Added > 0 || res.Removed > 0 {
		lvl = s.log.Info
	}
	lvl("reconcile done",
		logx.String("batch_id", res.BatchID),
		logx.Int("added", res.Added),
		logx.Int("removed", res.Removed),
		logx.Int("live", res.Live),
		logx.Time("next_reconcile", s.now().Add(s.cfg.ReconcileEvery)))
}

// Reconcile opens a new batch (the current epoch), adds timers for targets without
// one and cancels timers whose identity left the target set. The batch is opened
// before the scope fetch, so a fetch failure still rolls the epoch over while every
// live timer stays untouched.
func (s *Service) Reconcile(ctx context.Context) (ReconcileResult, error) {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	now := s.now()
	batch, err := s.openBatch(ctx, now)
	if err != nil {
		return ReconcileResult{}, err
	}

	accounts, regions, err := scope.Snapshot(ctx, s.scope)
	if err != nil {
		s.mu.Lock()
		s.lastReconcile = now
		s.mu.Unlock()
		return ReconcileResult{BatchID: batch.ID}, fmt.Errorf("scheduler: scope: %w", err)
	}
	targets := Plan(s.reg, accounts, regions)

	want := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		want[t.Name] = struct{}{}
	}

	s.mu.Lock()
	s.lastReconcile = now

	removed := 0
	for name := range s.timers.byName {
		if _, ok := want[name]; !ok {
			s.timers.remove(name)
			removed++
		}
	}
	missing := Missing(targets, s.timers.live)
	added := 0
	for _, p := range Stagger(missing, now, s.cfg.Stagger) {
		if s.timers.add(p, now) {
			added++
			s.log.Debug("timer added",
				logx.String("job_name", p.Name),
				logx.String("work", p.Descriptor.Name),
				logx.String("scope", p.Scope.String()),
				logx.Duration("interval", p.Descriptor.Interval),
				logx.Time("first", p.First))
		}
	}
	live := s.timers.len()
	s.mu.Unlock()

	s.reconciles.Add(1)
	s.notify()
	eventbus.PublishReconcile(s.bus, now, eventbus.ReconcileEvent{BatchID: batch.ID, Added: added, Removed: removed, Live: live})
	return ReconcileResult{BatchID: batch.ID, Added: added, Removed: removed, Live: live}, nil
}

// openBatch persists a PENDING batch and makes it the current epoch.
func (s *Service) openBatch(ctx context.Context, now time.Time) (jobs.Batch, error) {
	batch := jobs.Batch{ID: s.newID(), Status: jobs.StatusPending, StartedAt: now}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return jobs.Batch{}, fmt.Errorf("scheduler: create batch: %w", err)
	}
	s.mu.Lock()
	if !now.Before(s.batchStarted) {
		s.batchID = batch.ID
		s.batchStarted = now
	}
	s.mu.Unlock()
	return batch, nil
}

// currentBatch returns the batch ticks at now join. A batch at least ReconcileEvery
// old is never joined: the tracker may already have sealed it, so a fresh one is
// opened instead.
func (s *Service) currentBatch(ctx context.Context, now time.Time) (string, error) {
	s.mu.Lock()
	id, started := s.batchID, s.batchStarted
	s.mu.Unlock()
	if id == "" {
		return "", ErrNotReconciled
	}
	if now.Sub(started) < s.cfg.ReconcileEvery {
		return id, nil
	}
	batch, err := s.openBatch(ctx, now)
	if err != nil {
		return "", err
	}
	s.log.Info("epoch batch rolled over without reconcile",
		logx.String("previous_batch_id", id),
		logx.String("batch_id", batch.ID),
		logx.Duration("age", now.Sub(started)))
	return batch.ID, nil
}

// FireDue runs onTick for every timer due now and returns how many fired.
func (s *Service) FireDue(ctx context.Context) int {
	now := s.now()
	s.mu.Lock()
	due := s.timers.popDue(now)
	s.mu.Unlock()
	if len(due) == 0 {
		return 0
	}

	batchID, err := s.currentBatch(ctx, now)
	for _, f := range due {
		if err != nil {
			s.ticks.Add(1)
			s.reportEnqueueError(f.target.Name, err)
			continue
		}
		if err := s.onTick(ctx, f.target, batchID, f.next); err != nil {
			s.reportEnqueueError(f.target.Name, err)
		}
	}
	return len(due)
}

// onTick persists a PENDING job under batchID and enqueues it. If the enqueue fails
// the committed row is left for the stale sweep.
func (s *Service) onTick(ctx context.Context, t Target, batchID string, next time.Time) error {
	s.ticks.Add(1)
	if batchID == "" {
		return ErrNotReconciled
	}
	jobID := s.newID()
	task := jobs.Task{
		JobID:       jobID,
		OriginJobID: jobID,
		JobName:     t.Name,
		BatchID:     batchID,
		WorkName:    t.Descriptor.Name,
		EntryPoint:  t.Descriptor.EntryPoint,
		Scope:       t.Scope,
		NextRun:     next,
	}
	body, err := json.Marshal(task)
	if err != nil {
		return err
	}
	now := s.now()
	if err := s.store.CreateJob(ctx, jobs.Job{
		ID:        jobID,
		BatchID:   batchID,
		Name:      t.Name,
		Status:    jobs.StatusPending,
		Data:      body,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("persist job: %w", err)
	}
	if err := s.ch.Enqueue(ctx, queue.Message{PartitionKey: batchID, DedupKey: jobID, Body: body}); err != nil {
		s.enqueueErrors.Add(1)
		return fmt.Errorf("enqueue job: %w", err)
	}
	s.enqueued.Add(1)
	s.log.Debug("job enqueued",
		logx.String("job_id", jobID),
		logx.String("job_name", t.Name),
		logx.String("work", t.Descriptor.Name),
		logx.String("scope", t.Scope.String()),
		logx.String("batch_id", batchID))
	eventbus.PublishJob(s.bus, eventbus.JobEnqueued, now, eventbus.JobEvent{
		JobID:       jobID,
		OriginJobID: jobID,
		JobName:     t.Name,
		BatchID:     batchID,
		Work:        t.Descriptor.Name,
		Scope:       t.Scope.String(),
	})
	return nil
}

func (s *Service) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// BatchID returns the current epoch's batch id.
func (s *Service) BatchID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchID
}
