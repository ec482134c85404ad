package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: JobCompleted, Data: JobEvent{JobID: "j1"}})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != JobCompleted || e.Time.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
			if je, ok := e.Data.(JobEvent); !ok || je.JobID != "j1" {
				t.Fatalf("unexpected data %+v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}
}

func TestSlowSubscriberDropsAndUnsubscribeIsSafe(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	b.Publish(Event{Type: BatchCompleted})
	b.Publish(Event{Type: BatchAborted})
	if len(ch) != 1 {
		t.Fatalf("buffered = %d, want 1", len(ch))
	}
	if b.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", b.Dropped())
	}
	unsub()
	unsub()
	b.Publish(Event{Type: BatchCompleted})
	if _, ok := <-ch; !ok {
		t.Fatalf("buffered event lost on unsubscribe")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after unsubscribe")
	}
}

func TestSubscribePrefixFilter(t *testing.T) {
	t.Parallel()

	b := New()
	batches, unsub := b.Subscribe(4, "batch.")
	defer unsub()

	PublishJob(b, JobStarted, time.Now(), JobEvent{JobID: "j1"})
	PublishReconcile(b, time.Now(), ReconcileEvent{BatchID: "b1", Added: 2})
	PublishBatch(b, BatchCompleted, time.Now(), BatchEvent{BatchID: "b1", Jobs: 2})

	if len(batches) != 1 {
		t.Fatalf("buffered = %d, want only the batch event", len(batches))
	}
	e := <-batches
	if be, ok := e.Data.(BatchEvent); e.Type != BatchCompleted || !ok || be.Jobs != 2 {
		t.Fatalf("unexpected event %+v", e)
	}
	if b.Dropped() != 0 {
		t.Fatalf("filtered events must not count as dropped, got %d", b.Dropped())
	}
}

func TestPublishHelpersIgnoreNilBus(t *testing.T) {
	t.Parallel()

	PublishJob(nil, JobStarted, time.Now(), JobEvent{})
	PublishBatch(nil, BatchStarted, time.Now(), BatchEvent{})
	PublishReconcile(nil, time.Now(), ReconcileEvent{})
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	t.Parallel()

	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				b.Publish(Event{Type: JobCompleted})
			}
		}()
	}
	for i := 0; i < 50; i++ {
		_, unsub := b.Subscribe(1)
		unsub()
	}
	wg.Wait()
}
