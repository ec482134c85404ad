// Package worker runs the pool of job loops draining the job channel.
//
// Each loop receives one envelope, waits for a start slot, reports STARTED, acks the
// envelope, then resolves and runs the work. Acking before the work finishes keeps the
// batch partition moving; a crash mid-run leaves the job STARTED until the tracker's
// stale sweep aborts it. Once acked, a run is finished and reported even if the pool
// is stopping.
package worker
