package scheduler

import "sort"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	timers := s.timers.snapshot()
	snap := Snapshot{
		Running:        s.running.Load(),
		BatchID:        s.batchID,
		BatchStartedAt: s.batchStarted,
		LastReconcile:  s.lastReconcile,
		ReconcileEvery: s.cfg.ReconcileEvery,
	}
	s.mu.Unlock()

	sort.Slice(timers, func(i, j int) bool {
		if timers[i].Next.Equal(timers[j].Next) {
			return timers[i].Name < timers[j].Name
		}
		return timers[i].Next.Before(timers[j].Next)
	})
	snap.Timers = timers
	snap.Reconciles = s.reconciles.Load()
	snap.Ticks = s.ticks.Load()
	snap.Enqueued = s.enqueued.Load()
	snap.EnqueueErrors = s.enqueueErrors.Load()
	return snap
}
