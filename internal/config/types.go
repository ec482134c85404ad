package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "30s", "15m"). Zero or omitted
// values fall back to component defaults.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Queue     QueueConfig     `json:"queue"`
	AWS       AWSConfig       `json:"aws,omitempty"`
	Scope     ScopeConfig     `json:"scope"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Worker    WorkerConfig    `json:"worker"`
	Tracker   TrackerConfig   `json:"tracker"`
	Work      []WorkConfig    `json:"work"`
	Systemd   SystemdConfig   `json:"systemd,omitempty"`

	// Debug shortens the auditor delay and turns on debug-only log lines.
	Debug bool `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the Batch/Job store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/inquisitor.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	// DSN is the postgres connection string (never logged).
	DSN             string `json:"dsn,omitempty"`
	MaxOpenConns    int    `json:"max_open_conns,omitempty"`
	MaxIdleConns    int    `json:"max_idle_conns,omitempty"`
	ConnMaxLifetime string `json:"conn_max_lifetime,omitempty"`
}

// QueueConfig selects the driver shared by the job and status channels.
type QueueConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`

	Visibility  string `json:"visibility,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`

	JobsName   string `json:"jobs_name,omitempty"`
	StatusName string `json:"status_name,omitempty"`

	Redis *RedisConfig `json:"redis,omitempty"`
	SQS   *SQSConfig   `json:"sqs,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

type SQSConfig struct {
	JobsQueueURL   string `json:"jobs_queue_url"`
	StatusQueueURL string `json:"status_queue_url"`
	WaitTime       string `json:"wait_time,omitempty"`
}

type AWSConfig struct {
	Region   string `json:"region,omitempty"`
	Profile  string `json:"profile,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// ScopeConfig lists the accounts and regions work is multiplied over.
//
// region_source: "static" (default) uses Regions; "ec2" discovers enabled regions
// through DescribeRegions and caches them for region_ttl.
type ScopeConfig struct {
	Accounts     []string `json:"accounts"`
	Regions      []string `json:"regions,omitempty"`
	RegionSource string   `json:"region_source,omitempty"`
	RegionTTL    string   `json:"region_ttl,omitempty"`
}

type SchedulerConfig struct {
	ReconcileEvery string `json:"reconcile_every,omitempty"`
	StartDelay     string `json:"start_delay,omitempty"`
	JobDelay       string `json:"job_delay,omitempty"`
	AuditorDelay   string `json:"auditor_delay,omitempty"`
}

type WorkerConfig struct {
	Workers       int     `json:"workers,omitempty"`
	PollInterval  string  `json:"poll_interval,omitempty"`
	MaxAttempts   int     `json:"max_attempts,omitempty"`
	JobTimeout    string  `json:"job_timeout,omitempty"`
	StartRate     float64 `json:"start_rate,omitempty"`
	StartBurst    int     `json:"start_burst,omitempty"`
	HistorySize   int     `json:"history_size,omitempty"`
	ReportRetries int     `json:"report_retries,omitempty"`
}

type TrackerConfig struct {
	// Every is a robfig/cron spec; default "@every 30s".
	Every string `json:"every,omitempty"`
	// SealAfter defaults to scheduler.reconcile_every.
	SealAfter  string `json:"seal_after,omitempty"`
	MaxAge     string `json:"max_age,omitempty"`
	DrainBatch int    `json:"drain_batch,omitempty"`
}

// WorkConfig declares one recurring work descriptor.
//
// Interval accepts a duration ("15m"), "@every 15m" or bare minutes ("15").
type WorkConfig struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Interval   string `json:"interval"`
	EntryPoint string `json:"entry_point"`
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING to systemd when NOTIFY_SOCKET is set.
	Notify bool `json:"notify"`
	// Watchdog pings systemd at half of WATCHDOG_USEC when enabled by the unit.
	Watchdog bool `json:"watchdog"`
}
