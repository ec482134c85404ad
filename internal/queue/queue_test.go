package queue

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	logx "inquisitor/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	ch      Channel
	advance func(time.Duration)
}

var testCfg = Config{Visibility: 30 * time.Second, DedupWindow: 5 * time.Minute}

func drivers(t *testing.T) map[string]func(t *testing.T) harness {
	return map[string]func(t *testing.T) harness{
		"memory": func(t *testing.T) harness {
			clk := newFakeClock()
			return harness{ch: newMemory("jobs", testCfg, clk.Now), advance: clk.Advance}
		},
		"sqlite": func(t *testing.T) harness {
			clk := newFakeClock()
			db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "queue.db"))
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			db.SetMaxOpenConns(1)
			ch, err := newSQLiteChannel(db, "jobs", testCfg, logx.Nop(), clk.Now)
			if err != nil {
				t.Fatalf("new sqlite channel: %v", err)
			}
			return harness{ch: ch, advance: clk.Advance}
		},
		"redis": func(t *testing.T) harness {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			cfg := testCfg
			cfg.Redis = RedisConfig{Client: client, Prefix: "test"}
			ch, err := openRedis(cfg, "jobs", logx.Nop())
			if err != nil {
				t.Fatalf("open redis: %v", err)
			}
			return harness{ch: ch, advance: mr.FastForward}
		},
	}
}

func enqueue(t *testing.T, ch Channel, part, dedup, body string) {
	t.Helper()
	if err := ch.Enqueue(context.Background(), Message{PartitionKey: part, DedupKey: dedup, Body: []byte(body)}); err != nil {
		t.Fatalf("enqueue %s: %v", body, err)
	}
}

func receive(t *testing.T, ch Channel, max int) []Envelope {
	t.Helper()
	envs, err := ch.Receive(context.Background(), max)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return envs
}

func bodies(envs []Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, e := range envs {
		out = append(out, string(e.Body))
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestChannelConformance(t *testing.T) {
	for name, mk := range drivers(t) {
		mk := mk
		t.Run(name, func(t *testing.T) {
			t.Run("dedup", func(t *testing.T) {
				h := mk(t)
				defer h.ch.Close()
				enqueue(t, h.ch, "b1", "k1", "x")
				enqueue(t, h.ch, "b1", "k1", "x")
				envs := receive(t, h.ch, 10)
				if len(envs) != 1 {
					t.Fatalf("expected 1 envelope, got %d", len(envs))
				}
			})

			t.Run("partition order", func(t *testing.T) {
				h := mk(t)
				defer h.ch.Close()
				ctx := context.Background()
				enqueue(t, h.ch, "A", "a1", "A1")
				enqueue(t, h.ch, "A", "a2", "A2")
				enqueue(t, h.ch, "B", "b1", "B1")
				enqueue(t, h.ch, "A", "a3", "A3")

				first := receive(t, h.ch, 1)
				if got := bodies(first); !equalStrings(got, []string{"A1"}) {
					t.Fatalf("first receive = %v", got)
				}
				second := receive(t, h.ch, 10)
				if got := bodies(second); !equalStrings(got, []string{"B1"}) {
					t.Fatalf("second receive = %v (A must stay blocked)", got)
				}
				if err := h.ch.Ack(ctx, first[0]); err != nil {
					t.Fatalf("ack A1: %v", err)
				}
				third := receive(t, h.ch, 10)
				if got := bodies(third); !equalStrings(got, []string{"A2", "A3"}) {
					t.Fatalf("third receive = %v", got)
				}
			})

			t.Run("redelivery after visibility", func(t *testing.T) {
				h := mk(t)
				defer h.ch.Close()
				ctx := context.Background()
				enqueue(t, h.ch, "p", "k", "payload")
				first := receive(t, h.ch, 1)
				if len(first) != 1 {
					t.Fatalf("expected 1, got %d", len(first))
				}
				if again := receive(t, h.ch, 1); len(again) != 0 {
					t.Fatalf("in-flight envelope delivered twice")
				}
				h.advance(testCfg.Visibility + time.Second)
				second := receive(t, h.ch, 1)
				if len(second) != 1 || string(second[0].Body) != "payload" {
					t.Fatalf("expected redelivery, got %v", bodies(second))
				}
				if err := h.ch.Ack(ctx, first[0]); !errors.Is(err, ErrUnknownReceipt) {
					t.Fatalf("stale receipt ack err = %v, want ErrUnknownReceipt", err)
				}
				if err := h.ch.Ack(ctx, second[0]); err != nil {
					t.Fatalf("ack: %v", err)
				}
				if rest := receive(t, h.ch, 10); len(rest) != 0 {
					t.Fatalf("expected empty channel, got %v", bodies(rest))
				}
			})

			t.Run("dedup window expiry", func(t *testing.T) {
				h := mk(t)
				defer h.ch.Close()
				ctx := context.Background()
				enqueue(t, h.ch, "p", "k", "one")
				envs := receive(t, h.ch, 1)
				if len(envs) != 1 {
					t.Fatalf("expected 1, got %d", len(envs))
				}
				if err := h.ch.Ack(ctx, envs[0]); err != nil {
					t.Fatalf("ack: %v", err)
				}
				h.advance(testCfg.DedupWindow + time.Second)
				enqueue(t, h.ch, "p", "k", "two")
				envs = receive(t, h.ch, 1)
				if got := bodies(envs); !equalStrings(got, []string{"two"}) {
					t.Fatalf("after window = %v", got)
				}
			})

			t.Run("attempt round trip", func(t *testing.T) {
				h := mk(t)
				defer h.ch.Close()
				err := h.ch.Enqueue(context.Background(), Message{PartitionKey: "p", DedupKey: "r", Body: []byte("{}"), Attempt: 2})
				if err != nil {
					t.Fatalf("enqueue: %v", err)
				}
				envs := receive(t, h.ch, 1)
				if len(envs) != 1 || envs[0].Attempt != 2 || envs[0].PartitionKey != "p" {
					t.Fatalf("unexpected envelope %+v", envs)
				}
			})

			t.Run("unknown receipt", func(t *testing.T) {
				h := mk(t)
				defer h.ch.Close()
				err := h.ch.Ack(context.Background(), Envelope{Message: Message{PartitionKey: "p"}, Receipt: "nope"})
				if !errors.Is(err, ErrUnknownReceipt) {
					t.Fatalf("err = %v, want ErrUnknownReceipt", err)
				}
			})
		})
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "kafka"}, "jobs", logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
	if _, err := Open(Config{}, " ", logx.Nop()); err == nil {
		t.Fatalf("expected error for empty channel name")
	}

	ch, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "nested", "q.db")}, "status", logx.Nop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer ch.Close()
	enqueue(t, ch, "job_status", "s1", "hello")
	if got := bodies(receive(t, ch, 10)); !equalStrings(got, []string{"hello"}) {
		t.Fatalf("receive = %v", got)
	}
}

func TestSQLiteChannelsShareFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "shared.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	jobsCh, err := newSQLiteChannel(db, "jobs", testCfg, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	statusCh, err := newSQLiteChannel(db, "status", testCfg, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	enqueue(t, jobsCh, "p", "same", "job")
	enqueue(t, statusCh, "p", "same", "status")

	if got := bodies(receive(t, jobsCh, 10)); !equalStrings(got, []string{"job"}) {
		t.Fatalf("jobs channel = %v", got)
	}
	if got := bodies(receive(t, statusCh, 10)); !equalStrings(got, []string{"status"}) {
		t.Fatalf("status channel = %v", got)
	}
}

func TestClosedMemoryChannel(t *testing.T) {
	t.Parallel()

	ch := newMemory("jobs", testCfg, nil)
	_ = ch.Close()
	if err := ch.Enqueue(context.Background(), Message{PartitionKey: "p"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	if _, err := ch.Receive(context.Background(), 1); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
