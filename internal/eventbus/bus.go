package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one lifecycle signal. Data is a JobEvent, BatchEvent or ReconcileEvent.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers without ever blocking the publisher: a
// subscriber whose buffer is full misses the event and the drop is counted.
type Bus interface {
	Publish(e Event)
	// Subscribe returns a buffered channel of events whose type starts with one of
	// prefixes ("job.", "batch."); no prefixes means every event.
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries skipped because a subscriber was full.
	Dropped() uint64
}

// New returns an in-memory bus. It starts no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch       chan Event
	prefixes []string
}

func (s *subscriber) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// PublishJob and PublishBatch stamp the event time; a nil bus is a no-op.
func PublishJob(b Bus, typ string, at time.Time, ev JobEvent) {
	if b != nil {
		b.Publish(Event{Type: typ, Time: at, Data: ev})
	}
}

func PublishBatch(b Bus, typ string, at time.Time, ev BatchEvent) {
	if b != nil {
		b.Publish(Event{Type: typ, Time: at, Data: ev})
	}
}

func PublishReconcile(b Bus, at time.Time, ev ReconcileEvent) {
	if b != nil {
		b.Publish(Event{Type: SchedulerReconciled, Time: at, Data: ev})
	}
}

// Publish holds the read lock across the sends so unsubscribe never closes a
// channel mid-send.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer), prefixes: append([]string(nil), prefixes...)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
