package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"inquisitor/internal/jobs"
	"inquisitor/internal/registry"
)

const baseConfig = `{
  "logging": {"level": "error", "console": true},
  "storage": {"driver": "memory"},
  "queue": {"driver": "memory"},
  "scope": {"accounts": ["111111111111"], "regions": ["us-east-1"]},
  "scheduler": {"reconcile_every": "200ms", "start_delay": "1ms", "job_delay": "1ms", "auditor_delay": "1ms"},
  "worker": {"workers": 2, "poll_interval": "5ms", "max_attempts": 3},
  "tracker": {"seal_after": "300ms"},
  "work": [%WORK%]
}`

func writeConfig(t *testing.T, work string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	body := strings.Replace(baseConfig, "%WORK%", work, 1)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func startApp(t *testing.T, path string, opts ...Option) *App {
	t.Helper()
	ctx := context.Background()
	a, err := NewApp(ctx, path, opts...)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, StopAppStop)
	})
	return a
}

func allTerminal(list []jobs.Job) bool {
	for _, j := range list {
		if !j.Status.Terminal() {
			return false
		}
	}
	return true
}

// waitBatch runs tracker passes until the batch of the first worker run reaches
// want and every job in it is terminal.
func waitBatch(t *testing.T, a *App, want jobs.Status) (jobs.Batch, []jobs.Job) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if hist := a.Workers().Snapshot().History; len(hist) > 0 {
			id := hist[0].BatchID
			if _, err := a.Tracker().RunOnce(ctx); err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			b, err := a.Store().GetBatch(ctx, id)
			if err != nil {
				t.Fatalf("GetBatch: %v", err)
			}
			list, err := a.Store().ListBatchJobs(ctx, id)
			if err != nil {
				t.Fatalf("ListBatchJobs: %v", err)
			}
			if b.Status == want && len(list) > 0 && allTerminal(list) {
				return b, list
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("batch never reached %v", want)
	return jobs.Batch{}, nil
}

func TestAppRunsJobToCompletedBatch(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"name": "inventory", "kind": "global", "interval": "1h", "entry_point": "builtin.noop"}`)
	a := startApp(t, path)

	b, list := waitBatch(t, a, jobs.StatusCompleted)
	if b.CompletedAt == nil {
		t.Fatalf("completed batch without CompletedAt")
	}
	if len(list) != 1 {
		t.Fatalf("jobs=%d want 1", len(list))
	}
	if list[0].Status != jobs.StatusCompleted {
		t.Fatalf("job status=%v want COMPLETED", list[0].Status)
	}
	if got := a.Workers().Snapshot().Completed; got != 1 {
		t.Fatalf("worker completed=%d want 1", got)
	}
	st := a.Status()
	if st.Roles != "all" || st.Scheduler == nil || st.Workers == nil || st.Tracker == nil {
		t.Fatalf("status=%+v", st)
	}
	if st.Routines.Active == 0 {
		t.Fatalf("no supervised routines running")
	}
}

func TestAppRetriesThenFails(t *testing.T) {
	t.Parallel()
	factories := map[string]registry.Factory{
		"test.flaky": func(jobs.Scope) (registry.Work, error) {
			return registry.WorkFunc(func(context.Context) registry.Result {
				return registry.Retryable(errors.New("throttled"))
			}), nil
		},
	}
	path := writeConfig(t, `{"name": "flaky", "kind": "global", "interval": "1h", "entry_point": "test.flaky"}`)
	a := startApp(t, path, WithFactories(factories))

	_, list := waitBatch(t, a, jobs.StatusCompleted)
	if len(list) != 1 {
		t.Fatalf("jobs=%d want 1", len(list))
	}
	if list[0].Status != jobs.StatusFailed {
		t.Fatalf("job status=%v want FAILED", list[0].Status)
	}
	snap := a.Workers().Snapshot()
	if snap.Retried != 3 || snap.Failed != 1 {
		t.Fatalf("retried=%d failed=%d want 3/1", snap.Retried, snap.Failed)
	}
}

func TestNewAppRejectsUnknownEntryPoint(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"name": "ghost", "kind": "global", "interval": "1h", "entry_point": "missing.entry"}`)
	if _, err := NewApp(context.Background(), path); err == nil {
		t.Fatalf("expected error for unregistered entry point")
	}
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"name": "inventory", "kind": "global", "interval": "1h", "entry_point": "builtin.noop"}`)
	a, err := NewApp(context.Background(), path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestRolesSelectComponents(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"name": "inventory", "kind": "global", "interval": "1h", "entry_point": "builtin.noop"}`)
	a, err := NewApp(context.Background(), path, WithRoles(Roles{Worker: true}))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	defer a.Stop(context.Background(), StopAppStop)
	if a.Scheduler() != nil || a.Tracker() != nil || a.Store() != nil {
		t.Fatalf("worker role built extra components")
	}
	if a.Workers() == nil {
		t.Fatalf("worker role built no worker pool")
	}
}

func TestApplyConfigSwapsScope(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `{"name": "per-account", "kind": "aws_account", "interval": "1h", "entry_point": "builtin.noop"}`)
	a := startApp(t, path)
	ctx := context.Background()

	deadline := time.Now().Add(5 * time.Second)
	for a.Scheduler().Snapshot().Reconciles == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler never reconciled")
		}
		time.Sleep(5 * time.Millisecond)
	}

	prev := a.cfgm.Get()
	next := *prev
	next.Scope.Accounts = []string{"111111111111", "222222222222"}
	a.applyConfig(ctx, prev, &next)

	accounts, err := a.static.ListEnabledAccounts(ctx)
	if err != nil {
		t.Fatalf("ListEnabledAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("accounts=%v want 2", accounts)
	}
	if got := a.Scheduler().Snapshot().Reconciles; got < 2 {
		t.Fatalf("reconciles=%d want >= 2 after scope change", got)
	}
}
