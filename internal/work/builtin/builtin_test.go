package builtin

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"inquisitor/internal/jobs"
	"inquisitor/internal/registry"
	logx "inquisitor/pkg/logx"
)

func TestFactories(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	fs := Factories(logx.NewWriter(&buf, "debug"))
	scope := jobs.Scope{Account: "111111111111", Region: "eu-west-1"}

	for _, ep := range []string{Noop, Log} {
		f, ok := fs[ep]
		if !ok {
			t.Fatalf("missing factory %q", ep)
		}
		w, err := f(scope)
		if err != nil {
			t.Fatalf("%s: %v", ep, err)
		}
		if res := w.Run(context.Background()); res.Outcome != registry.OutcomeOK {
			t.Fatalf("%s: outcome %s", ep, res.Outcome)
		}
	}
	if !strings.Contains(buf.String(), "eu-west-1") {
		t.Fatalf("log work should log its scope, got %q", buf.String())
	}

	w, _ := fs[Log](scope)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := w.Run(ctx); res.Outcome != registry.OutcomeRetry {
		t.Fatalf("cancelled run should ask for a retry, got %s", res.Outcome)
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	a := Factories(logx.Nop())
	custom := func(jobs.Scope) (registry.Work, error) { return nil, nil }
	m := Merge(a, map[string]registry.Factory{"x.custom": custom})
	if len(m) != 3 {
		t.Fatalf("expected 3 factories, got %d", len(m))
	}
}
