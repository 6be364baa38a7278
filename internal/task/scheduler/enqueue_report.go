package scheduler

import (
	"context"
	"errors"
	"time"

	"pacer/internal/task/engine"
	logx "pacer/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// reportEnqueueError logs a failed submission at most once per throttle window
// per job name. Cancellation of the job itself is not an error.
func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if errors.Is(err, engine.ErrStopping) {
		s.log.Debug("firing dropped, executor stopping", logx.String("job", name))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("job failed to enqueue firing", logx.String("job", name), logx.Err(err))
}
