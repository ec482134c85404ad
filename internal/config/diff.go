package config

import (
	"sort"
	"strings"

	logx "inquisitor/pkg/logx"
)

// Sections that take effect without a restart.
var liveSections = map[string]bool{"logging": true, "scope": true}

// SummarizeConfigChange returns the changed section names, safe structured fields for
// logging (never DSNs or passwords) and the subset of changed sections that need a
// restart to take effect.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if hashValue(oldCfg.Logging) != hashValue(newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if hashValue(oldCfg.Storage) != hashValue(newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if hashValue(oldCfg.Queue) != hashValue(newCfg.Queue) {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.String("queue.driver", strings.TrimSpace(newCfg.Queue.Driver)),
			logx.String("queue.visibility", strings.TrimSpace(newCfg.Queue.Visibility)),
		)
	}

	if hashValue(oldCfg.AWS) != hashValue(newCfg.AWS) {
		changed = append(changed, "aws")
		attrs = append(attrs,
			logx.String("aws.region", newCfg.AWS.Region),
			logx.Bool("aws.profile_set", newCfg.AWS.Profile != ""),
			logx.Bool("aws.endpoint_set", newCfg.AWS.Endpoint != ""),
		)
	}

	if hashValue(oldCfg.Scope) != hashValue(newCfg.Scope) {
		changed = append(changed, "scope")
		attrs = append(attrs,
			logx.Int("scope.accounts", len(newCfg.Scope.Accounts)),
			logx.Int("scope.regions", len(newCfg.Scope.Regions)),
			logx.String("scope.region_source", newCfg.Scope.RegionSource),
		)
	}

	if hashValue(oldCfg.Scheduler) != hashValue(newCfg.Scheduler) || oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.reconcile_every", newCfg.Scheduler.ReconcileEvery),
			logx.Bool("debug", newCfg.Debug),
		)
	}

	if hashValue(oldCfg.Worker) != hashValue(newCfg.Worker) {
		changed = append(changed, "worker")
		attrs = append(attrs,
			logx.Int("worker.workers", newCfg.Worker.Workers),
			logx.Int("worker.max_attempts", newCfg.Worker.MaxAttempts),
		)
	}

	if hashValue(oldCfg.Tracker) != hashValue(newCfg.Tracker) {
		changed = append(changed, "tracker")
		attrs = append(attrs, logx.String("tracker.every", newCfg.Tracker.Every))
	}

	if hashValue(oldCfg.Work) != hashValue(newCfg.Work) {
		changed = append(changed, "work")
		attrs = append(attrs, logx.Int("work.count", len(newCfg.Work)))
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}

	sort.Strings(changed)
	restart := make([]string, 0, len(changed))
	for _, s := range changed {
		if !liveSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
