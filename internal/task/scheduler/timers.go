package scheduler

import (
	"container/heap"
	"time"

	"github.com/robfig/cron/v3"
)

// staggeredSchedule wraps a base schedule and overrides the first run time.
// After the first run, it delegates to the base schedule.
type staggeredSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *staggeredSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

func newIntervalSchedule(every time.Duration, first time.Time) cron.Schedule {
	return &staggeredSchedule{base: cron.Every(every), first: first}
}

type timer struct {
	target Target
	sched  cron.Schedule
	next   time.Time
	prev   time.Time
	fired  uint64
	index  int
}

// timerHeap orders timers by next fire time, then by name for stable ties.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].target.Name < h[j].target.Name
	}
	return h[i].next.Before(h[j].next)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// timerTable is the set of live timers keyed by job identity. Not safe for
// concurrent use; the Service guards it.
type timerTable struct {
	byName map[string]*timer
	h      timerHeap
}

func newTimerTable() *timerTable {
	return &timerTable{byName: map[string]*timer{}}
}

func (tt *timerTable) live(name string) bool {
	_, ok := tt.byName[name]
	return ok
}

func (tt *timerTable) len() int { return len(tt.byName) }

// add registers a timer; an existing timer with the same name is kept.
func (tt *timerTable) add(p Placement, now time.Time) bool {
	if tt.live(p.Name) {
		return false
	}
	sched := newIntervalSchedule(p.Descriptor.Interval, p.First)
	t := &timer{target: p.Target, sched: sched, next: sched.Next(now)}
	tt.byName[p.Name] = t
	heap.Push(&tt.h, t)
	return true
}

func (tt *timerTable) remove(name string) bool {
	t, ok := tt.byName[name]
	if !ok {
		return false
	}
	delete(tt.byName, name)
	heap.Remove(&tt.h, t.index)
	return true
}

// nextFire returns the earliest fire time, or zero when empty.
func (tt *timerTable) nextFire() time.Time {
	if len(tt.h) == 0 {
		return time.Time{}
	}
	return tt.h[0].next
}

type firing struct {
	target Target
	next   time.Time
}

// popDue advances every timer due at now and returns them in fire order.
// A timer that fell behind fires once and is rescheduled from now.
func (tt *timerTable) popDue(now time.Time) []firing {
	var due []firing
	for len(tt.h) > 0 && !tt.h[0].next.After(now) {
		t := tt.h[0]
		t.prev = now
		t.fired++
		t.next = t.sched.Next(now)
		heap.Fix(&tt.h, 0)
		due = append(due, firing{target: t.target, next: t.next})
	}
	return due
}

func (tt *timerTable) snapshot() []TimerInfo {
	out := make([]TimerInfo, 0, len(tt.h))
	for _, t := range tt.h {
		out = append(out, TimerInfo{
			Name:     t.target.Name,
			Work:     t.target.Descriptor.Name,
			Kind:     t.target.Descriptor.Kind,
			Scope:    t.target.Scope,
			Interval: t.target.Descriptor.Interval,
			Next:     t.next,
			Prev:     t.prev,
			Fired:    t.fired,
		})
	}
	return out
}
