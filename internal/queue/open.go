// Package queue implements the message channels connecting the scheduler, the worker
// pool and the batch tracker.
package queue

import (
	"fmt"
	"strings"

	logx "inquisitor/pkg/logx"
)

// Open initializes a channel named name with the configured driver.
// name separates channels that share one backend (e.g. "jobs" and "status").
func Open(cfg Config, name string, log logx.Logger) (Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("queue: channel name required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	log = log.With(logx.String("channel", name))

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return newMemory(name, cfg, nil), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, name, log)
	case "redis":
		return openRedis(cfg, name, log)
	case "sqs":
		return openSQS(cfg, name, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}
