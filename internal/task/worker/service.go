package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"inquisitor/internal/eventbus"
	"inquisitor/internal/jobs"
	"inquisitor/internal/queue"
	rtsup "inquisitor/internal/runtime/supervisor"
	logx "inquisitor/pkg/logx"
)

const (
	warnThrottleEvery = 5 * time.Second
	// reportTimeout bounds one status report, ack or requeue of a received task.
	reportTimeout = 10 * time.Second
)

type Service struct {
	cfg      Config
	reg      Resolver
	jobsCh   queue.Channel
	reporter *Reporter
	log      logx.Logger
	bus      eventbus.Bus
	limiter  *rate.Limiter
	newID    func() string

	mu     sync.Mutex
	sup    *rtsup.Supervisor
	stopCh chan struct{}

	inFlight atomic.Int32

	received     atomic.Uint64
	completed    atomic.Uint64
	retried      atomic.Uint64
	failed       atomic.Uint64
	fatal        atomic.Uint64
	dropped      atomic.Uint64
	reportErrors atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem

	lastWarnAt atomic.Int64
}

type Option func(*Service)

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

// WithIDs overrides job id generation for retries (tests).
func WithIDs(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithReporter replaces the status reporter built from the status channel.
func WithReporter(r *Reporter) Option {
	return func(s *Service) {
		if r != nil {
			s.reporter = r
		}
	}
}

func New(cfg Config, reg Resolver, jobsCh, statusCh queue.Channel, log logx.Logger, opts ...Option) *Service {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "worker"))
	s := &Service{
		cfg:    cfg,
		reg:    reg,
		jobsCh: jobsCh,
		log:    log,
		newID:  uuid.NewString,
	}
	s.reporter = NewReporter(statusCh, cfg.ReportRetries, cfg.ReportBackoff, log)
	if cfg.StartRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.StartRate), cfg.StartBurst)
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Validate checks that every registered descriptor resolves. An unresolvable
// entry point is a configuration fault: the pool must not start.
func (s *Service) Validate() error {
	for _, d := range s.reg.Descriptors() {
		if _, err := s.reg.Resolve(d.EntryPoint); err != nil {
			return fmt.Errorf("worker: descriptor %q: %w", d.Name, err)
		}
	}
	return nil
}

// Start validates the registry and launches cfg.Workers loops under a supervisor.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// A failing loop should not take the process down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup

	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.runLoop(c, stopCh, idx)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		},
			rtsup.WithPublishFirstError(true),
		)
	}
	s.log.Info("worker pool started",
		logx.Int("workers", s.cfg.Workers),
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Int("max_attempts", s.cfg.MaxAttempts),
		logx.Duration("job_timeout", s.cfg.JobTimeout))
	return nil
}

// Stop cancels the loops and waits for in-flight runs up to ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, stopCh := s.sup, s.stopCh
	s.sup, s.stopCh = nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	close(stopCh)
	sup.Cancel()
	_ = sup.Wait(ctx)
	if ctx.Err() != nil {
		s.log.Warn("worker pool stop timed out", logx.Err(ctx.Err()), logx.Int("in_flight", int(s.inFlight.Load())))
		return
	}
	s.log.Info("worker pool stopped")
}

// Supervisor returns the pool's supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

func (s *Service) runLoop(ctx context.Context, stopCh <-chan struct{}, idx int) {
	log := s.log.With(logx.Int("worker", idx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		got, err := s.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.shouldWarn(time.Now()) {
				log.Warn("job channel receive failed", logx.Err(err))
			}
		}
		if got && err == nil {
			continue
		}
		t := time.NewTimer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-stopCh:
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// RunOnce performs one loop iteration. It reports whether an envelope was received;
// the error is only ever a job channel transport fault.
func (s *Service) RunOnce(ctx context.Context) (bool, error) {
	envs, err := s.jobsCh.Receive(ctx, 1)
	if err != nil {
		return false, err
	}
	if len(envs) == 0 {
		return false, nil
	}
	s.received.Add(1)
	env := envs[0]

	var task jobs.Task
	if err := json.Unmarshal(env.Body, &task); err != nil || task.JobID == "" {
		s.dropped.Add(1)
		s.log.Warn("dropping undecodable job message", logx.String("dedup", env.DedupKey), logx.Err(err))
		if aerr := s.jobsCh.Ack(ctx, env); aerr != nil {
			s.log.Warn("ack failed", logx.Err(aerr))
		}
		return true, nil
	}
	if task.OriginJobID == "" {
		task.OriginJobID = task.JobID
	}
	if env.Attempt > task.Attempt {
		task.Attempt = env.Attempt
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			// Not acked: the envelope is redelivered after the visibility timeout.
			s.log.Debug("job start deferred", logx.String("job_id", task.JobID), logx.Err(err))
			return true, nil
		}
	}

	// From here the task runs to its final report on a context detached from loop
	// cancellation; Stop waits for it instead of interrupting it.
	wctx := context.WithoutCancel(ctx)

	s.report(wctx, task, jobs.StatusStarted)
	if err := s.ack(wctx, env); err != nil {
		// The envelope comes back after the visibility timeout; the status CAS makes
		// the second run's reports harmless.
		s.log.Warn("ack failed", logx.String("job_id", task.JobID), logx.Err(err))
	}
	s.publish(eventbus.JobStarted, task, 0, nil)
	s.logRunInfo(task)

	s.inFlight.Add(1)
	start := time.Now()
	res := s.execute(wctx, task)
	dur := time.Since(start)
	s.inFlight.Add(-1)

	s.finish(wctx, task, res, start, dur)
	return true, nil
}

func (s *Service) ack(ctx context.Context, env queue.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	return s.jobsCh.Ack(ctx, env)
}

// logRunInfo is the per-run line operators grep for: what starts now and when its
// timer fires next.
func (s *Service) logRunInfo(task jobs.Task) {
	fields := []logx.Field{
		logx.String("job_id", task.JobID),
		logx.String("work", task.WorkName),
		logx.String("entry_point", task.EntryPoint),
		logx.String("scope", task.Scope.String()),
		logx.String("batch_id", task.BatchID),
		logx.Int("attempt", task.Attempt),
	}
	if !task.NextRun.IsZero() {
		fields = append(fields, logx.Time("next_run", task.NextRun))
	}
	s.log.Info("run info", fields...)
}

func (s *Service) report(ctx context.Context, task jobs.Task, st jobs.Status) {
	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()
	if err := s.reporter.Report(ctx, task.OriginJobID, st); err != nil {
		s.reportErrors.Add(1)
		s.log.Error("status report dropped",
			logx.String("job_id", task.OriginJobID), logx.String("status", st.String()), logx.Err(err))
	}
}

func (s *Service) publish(typ string, task jobs.Task, dur time.Duration, err error) {
	ev := eventbus.JobEvent{
		JobID:       task.JobID,
		OriginJobID: task.OriginJobID,
		JobName:     task.JobName,
		BatchID:     task.BatchID,
		Work:        task.WorkName,
		Scope:       task.Scope.String(),
		Attempt:     task.Attempt,
		Duration:    dur,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	eventbus.PublishJob(s.bus, typ, time.Now(), ev)
}

// shouldWarn throttles repeated transport warnings across all loops.
func (s *Service) shouldWarn(now time.Time) bool {
	last := s.lastWarnAt.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < warnThrottleEvery {
		return false
	}
	return s.lastWarnAt.CompareAndSwap(last, now.UnixNano())
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.sup != nil
	s.mu.Unlock()

	s.hmu.Lock()
	hist := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	return Snapshot{
		Workers:      s.cfg.Workers,
		Running:      running,
		InFlight:     int(s.inFlight.Load()),
		Received:     s.received.Load(),
		Completed:    s.completed.Load(),
		Retried:      s.retried.Load(),
		Failed:       s.failed.Load(),
		Fatal:        s.fatal.Load(),
		Dropped:      s.dropped.Load(),
		ReportErrors: s.reportErrors.Load(),
		History:      hist,
	}
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.hmu.Unlock()
}
