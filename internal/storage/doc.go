// Package storage persists Batch and Job state.
//
// Status columns only move forward: every update is a compare-and-set against the
// current ordinal, and terminal rows are never rewritten. Missing rows surface as
// ErrNotFound so callers can log and continue.
package storage
