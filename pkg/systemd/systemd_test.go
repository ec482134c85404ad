package systemd

import (
	"context"
	"sync"
	"testing"
	"time"

	logx "inquisitor/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func TestDisabledIsNoop(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	n := New(false, logx.Nop())
	n.notify = rec.notify
	if n.Ready() || n.Stopping() {
		t.Fatalf("disabled notifier must not send")
	}
	if err := n.Watchdog(context.Background()); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
	if rec.count() != 0 {
		t.Fatalf("unexpected sends: %v", rec.states)
	}
}

func TestReadyAndStatus(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	n := New(true, logx.Nop())
	n.notify = rec.notify
	n.Ready()
	n.Status("reconciled 12 timers")
	n.Stopping()
	want := []string{"READY=1", "STATUS=reconciled 12 timers", "STOPPING=1"}
	if len(rec.states) != len(want) {
		t.Fatalf("states = %v", rec.states)
	}
	for i := range want {
		if rec.states[i] != want[i] {
			t.Fatalf("states[%d] = %q want %q", i, rec.states[i], want[i])
		}
	}
}

func TestWatchdogPings(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	n := New(true, logx.Nop())
	n.notify = rec.notify
	n.watchdog = func(bool) (time.Duration, error) { return 20 * time.Millisecond, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Watchdog(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("watchdog did not ping")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
}

func TestWatchdogNotConfigured(t *testing.T) {
	t.Parallel()

	n := New(true, logx.Nop())
	n.watchdog = func(bool) (time.Duration, error) { return 0, nil }
	if err := n.Watchdog(context.Background()); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
}
