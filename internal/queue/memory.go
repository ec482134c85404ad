package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryPruneEvery = 256

type memEntry struct {
	seq        uint64
	msg        Message
	enqueuedAt time.Time
	receipt    string
	deadline   time.Time
}

type memPartition struct {
	entries []*memEntry
}

// blocked reports whether any entry of the partition is still in flight.
func (p *memPartition) blocked(now time.Time) bool {
	for _, e := range p.entries {
		if e.receipt != "" && now.Before(e.deadline) {
			return true
		}
	}
	return false
}

// memoryChannel is the in-process driver. All state lives behind one mutex.
type memoryChannel struct {
	name   string
	vis    time.Duration
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	closed   bool
	seq      uint64
	enqueues uint64
	parts    map[string]*memPartition
	receipts map[string]*memEntry
	dedup    map[string]time.Time
}

var _ Channel = (*memoryChannel)(nil)

func newMemory(name string, cfg Config, now func() time.Time) *memoryChannel {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &memoryChannel{
		name:     name,
		vis:      cfg.Visibility,
		window:   cfg.DedupWindow,
		now:      now,
		parts:    map[string]*memPartition{},
		receipts: map[string]*memEntry{},
		dedup:    map[string]time.Time{},
	}
}

func (c *memoryChannel) Enqueue(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	now := c.now()

	c.enqueues++
	if c.enqueues%memoryPruneEvery == 0 {
		for k, until := range c.dedup {
			if !now.Before(until) {
				delete(c.dedup, k)
			}
		}
	}

	if m.DedupKey != "" {
		if until, ok := c.dedup[m.DedupKey]; ok && now.Before(until) {
			return nil
		}
		c.dedup[m.DedupKey] = now.Add(c.window)
	}

	c.seq++
	m.Body = append([]byte(nil), m.Body...)
	p := c.parts[m.PartitionKey]
	if p == nil {
		p = &memPartition{}
		c.parts[m.PartitionKey] = p
	}
	p.entries = append(p.entries, &memEntry{seq: c.seq, msg: m, enqueuedAt: now})
	return nil
}

func (c *memoryChannel) Receive(ctx context.Context, max int) ([]Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	now := c.now()

	// Oldest head first so one busy partition cannot starve the rest.
	keys := make([]string, 0, len(c.parts))
	for k, p := range c.parts {
		if len(p.entries) > 0 && !p.blocked(now) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.parts[keys[i]].entries[0].seq < c.parts[keys[j]].entries[0].seq
	})

	out := make([]Envelope, 0, max)
	for _, k := range keys {
		for _, e := range c.parts[k].entries {
			if len(out) >= max {
				return out, nil
			}
			if e.receipt != "" {
				delete(c.receipts, e.receipt)
			}
			e.receipt = uuid.NewString()
			e.deadline = now.Add(c.vis)
			c.receipts[e.receipt] = e

			msg := e.msg
			msg.Body = append([]byte(nil), e.msg.Body...)
			out = append(out, Envelope{Message: msg, Receipt: e.receipt, ReceivedAt: now})
		}
	}
	return out, nil
}

func (c *memoryChannel) Ack(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	e, ok := c.receipts[env.Receipt]
	if !ok {
		return ErrUnknownReceipt
	}
	delete(c.receipts, env.Receipt)

	p := c.parts[e.msg.PartitionKey]
	if p != nil {
		for i, cur := range p.entries {
			if cur == e {
				p.entries = append(p.entries[:i], p.entries[i+1:]...)
				break
			}
		}
		if len(p.entries) == 0 {
			delete(c.parts, e.msg.PartitionKey)
		}
	}
	return nil
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
