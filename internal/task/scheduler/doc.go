// Package scheduler keeps one recurring timer per job identity and turns each tick
// into a persisted PENDING Job plus a job channel message.
//
// The timer table is a min-heap of next-fire times driven by a single loop goroutine.
// Target planning (Plan), "skip if already scheduled" (Missing) and start offsets
// (Stagger) are plain functions so they can be tested without the loop.
package scheduler
