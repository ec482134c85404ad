package scheduler

import (
	"context"
	"errors"
	"time"

	logx "inquisitor/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	// Shutdown cancels in-flight ticks.
	if errors.Is(err, context.Canceled) {
		s.log.Debug("tick cancelled", logx.String("job_name", name))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	if s.lastEnqWarn == nil {
		s.lastEnqWarn = make(map[string]time.Time)
	}
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	// Transport faults are bursty; the next tick retries naturally.
	s.log.Warn("tick abandoned", logx.String("job_name", name), logx.Err(err))
}
