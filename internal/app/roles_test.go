package app

import (
	"testing"
	"time"

	"inquisitor/internal/config"
	"inquisitor/internal/registry"
	"inquisitor/internal/work/builtin"
	logx "inquisitor/pkg/logx"
)

func TestParseRoles(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Roles
		err  bool
	}{
		{in: "", want: AllRoles},
		{in: "all", want: AllRoles},
		{in: "scheduler", want: Roles{Scheduler: true}},
		{in: "worker, tracker", want: Roles{Worker: true, Tracker: true}},
		{in: "scheduler,worker,tracker", want: AllRoles},
		{in: "auditor", err: true},
		{in: ",", err: true},
	}
	for _, tc := range cases {
		got, err := ParseRoles(tc.in)
		if tc.err {
			if err == nil {
				t.Fatalf("ParseRoles(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRoles(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseRoles(%q)=%+v want %+v", tc.in, got, tc.want)
		}
	}
	if s := (Roles{Worker: true, Tracker: true}).String(); s != "worker,tracker" {
		t.Fatalf("String=%q", s)
	}
}

func TestValidateRejectsBadSections(t *testing.T) {
	t.Parallel()
	good := func() *config.Config {
		return &config.Config{
			Scope: config.ScopeConfig{Accounts: []string{"1"}, Regions: []string{"us-east-1"}},
			Work:  []config.WorkConfig{{Name: "w", Kind: "global", Interval: "15m", EntryPoint: "builtin.noop"}},
		}
	}
	factories := builtinFactories()
	if err := Validate(good(), factories); err != nil {
		t.Fatalf("good config rejected: %v", err)
	}

	cases := map[string]func(c *config.Config){
		"log level":      func(c *config.Config) { c.Logging.Level = "loud" },
		"sqlite path":    func(c *config.Config) { c.Storage.Driver = "sqlite" },
		"postgres dsn":   func(c *config.Config) { c.Storage.Driver = "postgres" },
		"storage driver": func(c *config.Config) { c.Storage.Driver = "mongo" },
		"redis addr":     func(c *config.Config) { c.Queue.Driver = "redis" },
		"sqs urls":       func(c *config.Config) { c.Queue.Driver = "sqs" },
		"same channels":  func(c *config.Config) { c.Queue.JobsName, c.Queue.StatusName = "q", "q" },
		"region source":  func(c *config.Config) { c.Scope.RegionSource = "dns" },
		"tracker cron":   func(c *config.Config) { c.Tracker.Every = "every so often" },
		"early seal":     func(c *config.Config) { c.Tracker.SealAfter = "5m" },
		"worker count":   func(c *config.Config) { c.Worker.Workers = -1 },
		"bad duration":   func(c *config.Config) { c.Scheduler.JobDelay = "soon" },
		"work kind":      func(c *config.Config) { c.Work[0].Kind = "galaxy" },
		"work interval":  func(c *config.Config) { c.Work[0].Interval = "" },
		"entry point":    func(c *config.Config) { c.Work[0].EntryPoint = "nope" },
	}
	for name, mutate := range cases {
		c := good()
		mutate(c)
		if err := Validate(c, factories); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestTrackerSealOutlastsReconcileCadence(t *testing.T) {
	t.Parallel()
	c := &config.Config{
		Scheduler: config.SchedulerConfig{ReconcileEvery: "10m"},
		Work:      []config.WorkConfig{{Name: "w", Kind: "global", Interval: "15m", EntryPoint: "builtin.noop"}},
	}
	r, err := resolve(c, builtinFactories())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.tracker.SealAfter != 11*time.Minute {
		t.Fatalf("seal_after=%v want 11m", r.tracker.SealAfter)
	}

	c.Tracker.SealAfter = "10m"
	if _, err := resolve(c, builtinFactories()); err == nil {
		t.Fatalf("seal_after equal to reconcile_every accepted")
	}
	c.Tracker.SealAfter = "12m"
	if r, err = resolve(c, builtinFactories()); err != nil || r.tracker.SealAfter != 12*time.Minute {
		t.Fatalf("seal_after=12m: %v %v", r, err)
	}
}

func builtinFactories() map[string]registry.Factory {
	return builtin.Factories(logx.Nop())
}
