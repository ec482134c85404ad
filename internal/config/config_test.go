package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}},
  "storage": {"driver": "sqlite", "path": "./data/inquisitor.db"},
  "queue": {"driver": "memory", "visibility": "45s"},
  "scope": {"accounts": ["111111111111"], "regions": ["us-east-1"]},
  "scheduler": {"reconcile_every": "15m"},
  "worker": {"workers": 3},
  "tracker": {"every": "@every 30s"},
  "work": [{"name": "ec2", "kind": "AWS_REGION", "interval": "15m", "entry_point": "builtin.noop"}]
}`

const sampleYAML = `
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
storage:
  driver: sqlite
  path: ./data/inquisitor.db
queue:
  driver: memory
  visibility: 45s
scope:
  accounts: ["111111111111"]
  regions: [us-east-1]
scheduler:
  reconcile_every: 15m
worker:
  workers: 3
tracker:
  every: "@every 30s"
work:
  - name: ec2
    kind: AWS_REGION
    interval: 15m
    entry_point: builtin.noop
`

func TestDecodeJSONAndYAMLAgree(t *testing.T) {
	t.Parallel()

	j, err := Decode("config.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	y, err := Decode("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !reflect.DeepEqual(j, y) {
		t.Fatalf("json and yaml decode differ:\n%+v\n%+v", j, y)
	}
	if len(j.Work) != 1 || j.Work[0].EntryPoint != "builtin.noop" || j.Worker.Workers != 3 {
		t.Fatalf("unexpected config: %+v", j)
	}
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, path, body, want string
	}{
		{"unknown field", "c.json", `{"notifier": {}}`, "unknown field"},
		{"trailing data", "c.json", `{} {}`, "trailing data"},
		{"yaml unknown field", "c.yml", "bogus: 1\n", "unknown field"},
		{"bad yaml", "c.yaml", "a: [1\n", "yaml"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.path, []byte(tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseDurationFields(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative durations must be rejected")
	}
	if _, err := ParseDurationField("worker.job_timeout", "soon"); err == nil || !strings.Contains(err.Error(), "worker.job_timeout") {
		t.Fatalf("error must name the field, got %v", err)
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "2s", time.Minute); err != nil || d != 2*time.Second {
		t.Fatalf("explicit: %v %v", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	oldCfg, err := Decode("c.json", []byte(sampleJSON))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	newCfg, _ := Decode("c.json", []byte(sampleJSON))
	newCfg.Logging.Level = "info"
	newCfg.Scope.Accounts = append(newCfg.Scope.Accounts, "222222222222")
	newCfg.Storage.DSN = "postgres://user:secret@db/inquisitor"

	changed, attrs, restart := SummarizeConfigChange(oldCfg, newCfg)
	if !reflect.DeepEqual(changed, []string{"logging", "scope", "storage"}) {
		t.Fatalf("changed = %v", changed)
	}
	if !reflect.DeepEqual(restart, []string{"storage"}) {
		t.Fatalf("restart = %v", restart)
	}
	if len(attrs) == 0 {
		t.Fatalf("expected summary fields")
	}

	changed, _, _ = SummarizeConfigChange(oldCfg, oldCfg)
	if len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

func TestConfigManagerLoadAndSubscribe(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get must return the committed config")
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Unchanged content is not republished.
	if m.reload(context.Background()) {
		t.Fatalf("unchanged file must not publish")
	}

	updated := strings.Replace(sampleJSON, `"workers": 3`, `"workers": 7`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m.SetValidator(func(_ context.Context, c *Config) error { return nil })
	if !m.reload(context.Background()) {
		t.Fatalf("changed file must publish")
	}
	select {
	case got := <-sub:
		if got.Worker.Workers != 7 {
			t.Fatalf("unexpected published config: %+v", got.Worker)
		}
	default:
		t.Fatalf("subscriber did not receive config")
	}
}

func TestConfigManagerValidatorRejects(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Replace(sampleYAML, "workers: 3", "workers: 9", 1)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m.SetValidator(func(context.Context, *Config) error { return os.ErrInvalid })
	if m.reload(context.Background()) {
		t.Fatalf("rejected config must not publish")
	}
	if m.Get().Worker.Workers != 3 {
		t.Fatalf("rejected config must not be committed")
	}
}

func TestConfigManagerWatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(sampleJSON), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	updated := strings.Replace(sampleJSON, `"level": "debug"`, `"level": "warn"`, 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and observes a change.
		if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		select {
		case got := <-sub:
			if got.Logging.Level != "warn" {
				t.Fatalf("unexpected level %q", got.Logging.Level)
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatalf("watch did not publish the change")
		}
	}
}
