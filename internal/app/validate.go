package app

import (
	"context"
	"fmt"

	"inquisitor/internal/config"
	"inquisitor/internal/queue"
	"inquisitor/internal/registry"
	"inquisitor/internal/storage"
	"inquisitor/internal/task/scheduler"
	"inquisitor/internal/task/tracker"
	"inquisitor/internal/task/worker"
	logx "inquisitor/pkg/logx"
)

// resolved is a fully mapped configuration.
type resolved struct {
	logging    logx.Config
	storage    storage.Config
	queue      queue.Config
	jobsName   string
	statusName string
	scope      scopeSettings
	scheduler  scheduler.Config
	worker     worker.Config
	tracker    tracker.Config
	registry   *registry.Registry
	systemd    config.SystemdConfig
	aws        config.AWSConfig
	needsAWS   bool
}

// Validate maps every section and builds the registry against factories. Any error
// is a configuration fault: the process must not start.
func Validate(cfg *config.Config, factories map[string]registry.Factory) error {
	_, err := resolve(cfg, factories)
	return err
}

func resolve(cfg *config.Config, factories map[string]registry.Factory) (*resolved, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return nil, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	r := &resolved{logging: mapLogging(cfg), systemd: cfg.Systemd, aws: cfg.AWS}
	var err error
	if r.storage, err = mapStorageConfig(cfg); err != nil {
		return nil, err
	}
	if r.queue, err = mapQueueConfig(cfg); err != nil {
		return nil, err
	}
	if r.jobsName, r.statusName, err = channelNames(cfg); err != nil {
		return nil, err
	}
	if r.scope, err = mapScope(cfg); err != nil {
		return nil, err
	}
	if r.scheduler, err = mapSchedulerConfig(cfg); err != nil {
		return nil, err
	}
	if r.worker, err = mapWorkerConfig(cfg); err != nil {
		return nil, err
	}
	reconcileEvery := r.scheduler.ReconcileEvery
	if reconcileEvery <= 0 {
		reconcileEvery = defaultReconcileEvery
	}
	if r.tracker, err = mapTrackerConfig(cfg, reconcileEvery); err != nil {
		return nil, err
	}
	descs, err := mapDescriptors(cfg)
	if err != nil {
		return nil, err
	}
	if r.registry, err = registry.New(descs, factories); err != nil {
		return nil, err
	}
	r.needsAWS = r.queue.Driver == "sqs" || r.scope.ec2
	return r, nil
}

// validator is installed on the config manager so hot reloads are checked
// before they are committed.
func validator(factories map[string]registry.Factory) func(context.Context, *config.Config) error {
	return func(_ context.Context, cfg *config.Config) error {
		return Validate(cfg, factories)
	}
}
