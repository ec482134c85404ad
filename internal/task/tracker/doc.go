// Package tracker folds job status reports into persisted state and closes batches.
//
// It is the only writer of Batch and Job status after creation. Each pass drains the
// status channel, advances open batches and aborts stale ones; passes never overlap.
package tracker
