// Package app wires configuration, storage, channels and the scheduler, worker and
// tracker roles into one process with ordered start and bounded stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inquisitor/internal/config"
	"inquisitor/internal/eventbus"
	"inquisitor/internal/queue"
	"inquisitor/internal/registry"
	"inquisitor/internal/runtime/supervisor"
	"inquisitor/internal/scope"
	"inquisitor/internal/storage"
	"inquisitor/internal/task/scheduler"
	"inquisitor/internal/task/tracker"
	"inquisitor/internal/task/worker"
	"inquisitor/internal/work/builtin"
	logx "inquisitor/pkg/logx"
	"inquisitor/pkg/systemd"
)

type App struct {
	cfgm      *config.ConfigManager
	roles     Roles
	factories map[string]registry.Factory

	root logx.Logger
	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	sd   *systemd.Notifier
	sup  *supervisor.Supervisor

	store    storage.Store
	jobsCh   queue.Channel
	statusCh queue.Channel
	reg      *registry.Registry
	static   *scope.Static

	sched   *scheduler.Service
	workers *worker.Service
	tracker *tracker.Service
}

type options struct {
	roles     Roles
	factories map[string]registry.Factory
	ec2       scope.EC2API
	sqs       queue.SQSAPI
}

type Option func(*options)

func WithRoles(r Roles) Option { return func(o *options) { o.roles = r } }

// WithFactories registers work entry points in addition to the built-ins.
func WithFactories(f map[string]registry.Factory) Option {
	return func(o *options) { o.factories = builtin.Merge(o.factories, f) }
}

// WithEC2Client replaces the EC2 client used for region discovery.
func WithEC2Client(c scope.EC2API) Option { return func(o *options) { o.ec2 = c } }

// WithSQSClient replaces the SQS client used by the sqs queue driver.
func WithSQSClient(c queue.SQSAPI) Option { return func(o *options) { o.sqs = c } }

// NewApp loads cfgPath and builds the components for the selected roles. Every
// configuration fault is returned here, before anything starts.
func NewApp(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	o := options{roles: AllRoles}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLogging(cfg))
	factories := builtin.Merge(builtin.Factories(log), o.factories)
	r, err := resolve(cfg, factories)
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &App{
		cfgm:      cfgm,
		roles:     o.roles,
		factories: factories,
		root:      log,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       eventbus.New(),
		sd:        systemd.New(r.systemd.Notify || r.systemd.Watchdog, log),
		reg:       r.registry,
	}
	if err := a.build(ctx, r, o); err != nil {
		a.closeResources()
		_ = logSvc.Close()
		return nil, err
	}
	a.log.Info("app built",
		logx.String("roles", a.roles.String()),
		logx.String("storage", r.storage.Driver),
		logx.String("queue", r.queue.Driver),
		logx.Int("descriptors", r.registry.Len()))
	return a, nil
}

func (a *App) build(ctx context.Context, r *resolved, o options) error {
	if r.queue.Driver == "memory" && a.roles != AllRoles {
		a.log.Warn("memory queue does not cross processes; run all roles in one process or pick another driver",
			logx.String("roles", a.roles.String()))
	}

	ec2Client, sqsClient := o.ec2, o.sqs
	needEC2 := r.scope.ec2 && a.roles.Scheduler && ec2Client == nil
	needSQS := r.queue.Driver == "sqs" && sqsClient == nil
	if needEC2 || needSQS {
		awsCfg, err := loadAWS(ctx, r.aws)
		if err != nil {
			return fmt.Errorf("aws: %w", err)
		}
		if needEC2 {
			ec2Client = newEC2Client(awsCfg, r.aws.Endpoint)
		}
		if needSQS {
			sqsClient = newSQSClient(awsCfg, r.aws.Endpoint)
		}
	}

	if a.roles.needsStore() {
		st, err := storage.Open(r.storage, a.root)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		a.store = st
	}

	open := func(name, sqsURL string) (queue.Channel, error) {
		qc := r.queue
		if qc.Driver == "sqs" {
			qc.SQS.QueueURL = sqsURL
			qc.SQS.Client = sqsClient
		}
		ch, err := queue.Open(qc, name, a.root.With(logx.String("comp", "queue")))
		if err != nil {
			return nil, fmt.Errorf("queue %s: %w", name, err)
		}
		return ch, nil
	}
	var jobsURL, statusURL string
	if q := a.cfgm.Get().Queue.SQS; q != nil {
		jobsURL, statusURL = strings.TrimSpace(q.JobsQueueURL), strings.TrimSpace(q.StatusQueueURL)
	}
	var err error
	if a.roles.Scheduler || a.roles.Worker {
		if a.jobsCh, err = open(r.jobsName, jobsURL); err != nil {
			return err
		}
	}
	if a.roles.Worker || a.roles.Tracker {
		if a.statusCh, err = open(r.statusName, statusURL); err != nil {
			return err
		}
	}

	if a.roles.Scheduler {
		a.static = scope.NewStatic(r.scope.accounts, r.scope.regions)
		var provider scope.Provider = a.static
		if r.scope.ec2 {
			provider = scope.NewEC2Regions(a.static, ec2Client, r.scope.regionTTL, a.root.With(logx.String("comp", "scope")))
		}
		a.sched = scheduler.New(r.scheduler, a.reg, provider, a.store, a.jobsCh, a.root, scheduler.WithBus(a.bus))
	}
	if a.roles.Worker {
		a.workers = worker.New(r.worker, a.reg, a.jobsCh, a.statusCh, a.root, worker.WithBus(a.bus))
	}
	if a.roles.Tracker {
		a.tracker = tracker.New(r.tracker, a.store, a.statusCh, a.root, tracker.WithBus(a.bus))
	}
	return nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Workers() *worker.Service      { return a.workers }
func (a *App) Tracker() *tracker.Service     { return a.tracker }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Bus() eventbus.Bus             { return a.bus }

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the selected roles: workers first so the first ticks find consumers.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.root.With(logx.String("comp", "supervisor"))), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validator(a.factories))
	c := a.sup.Context()

	if a.workers != nil {
		if err := a.workers.Start(c); err != nil {
			return fmt.Errorf("worker: %w", err)
		}
	}
	if a.tracker != nil {
		if err := a.tracker.Start(c); err != nil {
			return fmt.Errorf("tracker: %w", err)
		}
	}
	if a.sched != nil {
		a.sched.Start(c)
	}

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", a.sd.Watchdog)

	a.sd.Ready()
	a.sd.Status("running roles " + a.roles.String())
	a.log.Info("app started", logx.String("roles", a.roles.String()))
	return nil
}

// logEvent keeps lifecycle events at debug; job runs are frequent.
func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.JobEvent:
		a.log.Debug("event",
			logx.String("type", e.Type),
			logx.String("job_id", d.JobID),
			logx.String("origin_job_id", d.OriginJobID),
			logx.String("work", d.Work),
			logx.String("scope", d.Scope),
			logx.Int("attempt", d.Attempt),
			logx.String("error", d.Error))
	case eventbus.ReconcileEvent:
		a.log.Debug("event",
			logx.String("type", e.Type),
			logx.String("batch_id", d.BatchID),
			logx.Int("added", d.Added),
			logx.Int("removed", d.Removed),
			logx.Int("live", d.Live))
	case eventbus.BatchEvent:
		a.log.Debug("event",
			logx.String("type", e.Type),
			logx.String("batch_id", d.BatchID),
			logx.Int("jobs", d.Jobs),
			logx.Int("aborted", d.Aborted))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) closeResources() {
	if a.jobsCh != nil {
		if err := a.jobsCh.Close(); err != nil {
			a.log.Warn("jobs channel close failed", logx.Err(err))
		}
	}
	if a.statusCh != nil {
		if err := a.statusCh.Close(); err != nil {
			a.log.Warn("status channel close failed", logx.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
}
