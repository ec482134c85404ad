package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"inquisitor/internal/config"
	"inquisitor/internal/jobs"
	"inquisitor/internal/queue"
	"inquisitor/internal/storage"
	"inquisitor/internal/task/scheduler"
	"inquisitor/internal/task/tracker"
	"inquisitor/internal/task/worker"
	logx "inquisitor/pkg/logx"
)

const (
	defaultJobsChannel    = "jobs"
	defaultStatusChannel  = "status"
	defaultRegionTTL      = time.Hour
	defaultReconcileEvery = 15 * time.Minute
	sealGrace             = time.Minute
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	out := storage.Config{
		Driver:       driver,
		Path:         strings.TrimSpace(sc.Path),
		DSN:          strings.TrimSpace(sc.DSN),
		MaxOpenConns: sc.MaxOpenConns,
		MaxIdleConns: sc.MaxIdleConns,
	}
	if sc.MaxOpenConns < 0 || sc.MaxIdleConns < 0 {
		return storage.Config{}, fmt.Errorf("storage: connection limits must be >= 0")
	}
	var err error
	switch driver {
	case "", "memory":
		out.Driver = "memory"
	case "sqlite", "sqlite3":
		if out.Path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		if out.BusyTimeout, err = config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second); err != nil {
			return storage.Config{}, err
		}
	case "postgres", "postgresql", "pgx":
		if out.DSN == "" {
			return storage.Config{}, fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
		if out.ConnMaxLifetime, err = config.ParseDurationField("storage.conn_max_lifetime", sc.ConnMaxLifetime); err != nil {
			return storage.Config{}, err
		}
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	return out, nil
}

// channelNames returns the job and status channel names.
func channelNames(cfg *config.Config) (string, string, error) {
	jobsName := strings.TrimSpace(cfg.Queue.JobsName)
	if jobsName == "" {
		jobsName = defaultJobsChannel
	}
	statusName := strings.TrimSpace(cfg.Queue.StatusName)
	if statusName == "" {
		statusName = defaultStatusChannel
	}
	if jobsName == statusName {
		return "", "", fmt.Errorf("queue.jobs_name and queue.status_name must differ")
	}
	return jobsName, statusName, nil
}

// mapQueueConfig builds the shared channel config. For sqs, QueueURL is filled per
// channel by the caller.
func mapQueueConfig(cfg *config.Config) (queue.Config, error) {
	qc := cfg.Queue
	driver := strings.ToLower(strings.TrimSpace(qc.Driver))
	out := queue.Config{Driver: driver, Path: strings.TrimSpace(qc.Path)}
	var err error
	if out.Visibility, err = config.ParseDurationField("queue.visibility", qc.Visibility); err != nil {
		return queue.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("queue.dedup_window", qc.DedupWindow); err != nil {
		return queue.Config{}, err
	}
	switch driver {
	case "", "memory":
		out.Driver = "memory"
	case "sqlite", "sqlite3":
		if out.Path == "" {
			return queue.Config{}, fmt.Errorf("queue.path is required when queue.driver=sqlite")
		}
		if out.BusyTimeout, err = config.ParseDurationOrDefault("queue.busy_timeout", qc.BusyTimeout, time.Second); err != nil {
			return queue.Config{}, err
		}
	case "redis":
		if qc.Redis == nil || strings.TrimSpace(qc.Redis.Addr) == "" {
			return queue.Config{}, fmt.Errorf("queue.redis.addr is required when queue.driver=redis")
		}
		out.Redis = queue.RedisConfig{
			Addr:     strings.TrimSpace(qc.Redis.Addr),
			Username: qc.Redis.Username,
			Password: qc.Redis.Password,
			DB:       qc.Redis.DB,
			Prefix:   strings.TrimSpace(qc.Redis.Prefix),
		}
	case "sqs":
		if qc.SQS == nil || strings.TrimSpace(qc.SQS.JobsQueueURL) == "" || strings.TrimSpace(qc.SQS.StatusQueueURL) == "" {
			return queue.Config{}, fmt.Errorf("queue.sqs.jobs_queue_url and queue.sqs.status_queue_url are required when queue.driver=sqs")
		}
		if out.SQS.WaitTime, err = config.ParseDurationField("queue.sqs.wait_time", qc.SQS.WaitTime); err != nil {
			return queue.Config{}, err
		}
		if out.SQS.WaitTime > 20*time.Second {
			return queue.Config{}, fmt.Errorf("queue.sqs.wait_time must be <= 20s")
		}
	default:
		return queue.Config{}, fmt.Errorf("unknown queue.driver: %s", qc.Driver)
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	sc := cfg.Scheduler
	out := scheduler.Config{Debug: cfg.Debug}
	var err error
	if out.ReconcileEvery, err = config.ParseDurationField("scheduler.reconcile_every", sc.ReconcileEvery); err != nil {
		return scheduler.Config{}, err
	}
	if out.Stagger.StartDelay, err = config.ParseDurationField("scheduler.start_delay", sc.StartDelay); err != nil {
		return scheduler.Config{}, err
	}
	if out.Stagger.JobDelay, err = config.ParseDurationField("scheduler.job_delay", sc.JobDelay); err != nil {
		return scheduler.Config{}, err
	}
	if out.Stagger.AuditorDelay, err = config.ParseDurationField("scheduler.auditor_delay", sc.AuditorDelay); err != nil {
		return scheduler.Config{}, err
	}
	return out, nil
}

func mapWorkerConfig(cfg *config.Config) (worker.Config, error) {
	wc := cfg.Worker
	if wc.Workers < 0 {
		return worker.Config{}, fmt.Errorf("worker.workers must be >= 0")
	}
	if wc.MaxAttempts < 0 {
		return worker.Config{}, fmt.Errorf("worker.max_attempts must be >= 0")
	}
	if wc.StartRate < 0 || wc.StartBurst < 0 {
		return worker.Config{}, fmt.Errorf("worker.start_rate and worker.start_burst must be >= 0")
	}
	if wc.HistorySize < 0 || wc.ReportRetries < 0 {
		return worker.Config{}, fmt.Errorf("worker.history_size and worker.report_retries must be >= 0")
	}
	out := worker.Config{
		Workers:       wc.Workers,
		MaxAttempts:   wc.MaxAttempts,
		StartRate:     wc.StartRate,
		StartBurst:    wc.StartBurst,
		HistorySize:   wc.HistorySize,
		ReportRetries: wc.ReportRetries,
	}
	var err error
	if out.PollInterval, err = config.ParseDurationField("worker.poll_interval", wc.PollInterval); err != nil {
		return worker.Config{}, err
	}
	if out.JobTimeout, err = config.ParseDurationField("worker.job_timeout", wc.JobTimeout); err != nil {
		return worker.Config{}, err
	}
	return out, nil
}

// mapTrackerConfig keeps SealAfter past the reconcile cadence: ticks join a batch
// only while it is younger than reconcile_every, so a sealed batch gets no new jobs.
func mapTrackerConfig(cfg *config.Config, reconcileEvery time.Duration) (tracker.Config, error) {
	tc := cfg.Tracker
	out := tracker.Config{Every: strings.TrimSpace(tc.Every), DrainBatch: tc.DrainBatch}
	if tc.DrainBatch < 0 {
		return tracker.Config{}, fmt.Errorf("tracker.drain_batch must be >= 0")
	}
	if out.Every != "" {
		if _, err := cron.ParseStandard(out.Every); err != nil {
			return tracker.Config{}, fmt.Errorf("tracker.every: invalid schedule %q: %w", out.Every, err)
		}
	}
	var err error
	if out.SealAfter, err = config.ParseDurationOrDefault("tracker.seal_after", tc.SealAfter, reconcileEvery+sealGrace); err != nil {
		return tracker.Config{}, err
	}
	if out.SealAfter <= reconcileEvery {
		return tracker.Config{}, fmt.Errorf("tracker.seal_after (%s) must exceed scheduler.reconcile_every (%s)", out.SealAfter, reconcileEvery)
	}
	if out.MaxAge, err = config.ParseDurationField("tracker.max_age", tc.MaxAge); err != nil {
		return tracker.Config{}, err
	}
	return out, nil
}

func mapDescriptors(cfg *config.Config) ([]jobs.Descriptor, error) {
	out := make([]jobs.Descriptor, 0, len(cfg.Work))
	for i, w := range cfg.Work {
		kind, err := jobs.ParseKind(w.Kind)
		if err != nil {
			return nil, fmt.Errorf("work[%d] %q: %w", i, w.Name, err)
		}
		every, err := scheduler.ParseInterval(w.Interval)
		if err != nil {
			return nil, fmt.Errorf("work[%d] %q: %w", i, w.Name, err)
		}
		out = append(out, jobs.Descriptor{
			Name:       strings.TrimSpace(w.Name),
			Kind:       kind,
			Interval:   every,
			EntryPoint: strings.TrimSpace(w.EntryPoint),
		})
	}
	return out, nil
}

type scopeSettings struct {
	accounts  []string
	regions   []string
	ec2       bool
	regionTTL time.Duration
}

func mapScope(cfg *config.Config) (scopeSettings, error) {
	sc := cfg.Scope
	out := scopeSettings{accounts: sc.Accounts, regions: sc.Regions}
	switch strings.ToLower(strings.TrimSpace(sc.RegionSource)) {
	case "", "static":
	case "ec2":
		out.ec2 = true
	default:
		return scopeSettings{}, fmt.Errorf("unknown scope.region_source: %s", sc.RegionSource)
	}
	var err error
	if out.regionTTL, err = config.ParseDurationOrDefault("scope.region_ttl", sc.RegionTTL, defaultRegionTTL); err != nil {
		return scopeSettings{}, err
	}
	return out, nil
}
