package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"pacer/internal/action"
	"pacer/internal/dispatch"
	"pacer/internal/eventbus"
	"pacer/internal/task/engine"
	logx "pacer/pkg/logx"
)

// Option keys read by the scheduler itself. Everything else is passed through
// to the action untouched.
const (
	OptIntervalMin = "interval_min"
	OptIntervalMax = "interval_max"
	OptTarget      = action.OptTarget
)

const targetPrefixLen = 8

// StartTask registers a job. A recurring name that is already live is a
// successful no-op. Every one-time call creates a new job. It returns false
// when the name is empty, the session limit is reached or the scheduler was
// shut down.
func (s *Service) StartTask(name string, kind dispatch.Kind, opts action.Options) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	if s.pacer != nil && s.pacer.LimitReached() {
		s.log.Warn("start rejected, session limit reached", logx.String("job", name))
		return false
	}
	opts = opts.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.Debug("start rejected, scheduler shut down", logx.String("job", name))
		return false
	}

	key := name
	var initial Bounds
	if kind == dispatch.Recurring {
		if _, ok := s.jobs[name]; ok {
			s.log.Debug("recurring job already running", logx.String("job", name))
			return true
		}
		initial = s.cfg.RecurringInitial
	} else {
		key = oneTimeID(name, opts.String(OptTarget))
		initial = s.cfg.OneTimeInitial
		if b, ok := s.cfg.OneTimeDelays[name]; ok && !b.IsZero() {
			initial = b
		}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	j := &job{key: key, name: name, kind: kind, opts: opts, ctx: ctx, cancel: cancel}
	if kind == dispatch.Recurring {
		j.bounds = s.recurringBoundsLocked(name, opts)
	}
	s.jobs[key] = j

	s.rngMu.Lock()
	delay := uniform(s.rng, initial.Min, initial.Max)
	s.rngMu.Unlock()
	s.scheduleLocked(j, delay)

	s.log.Info("job started", logx.String("job", name), logx.String("id", key), logx.String("kind", kind.String()), logx.Duration("first_in", delay))
	return true
}

// StopTask cancels a recurring job by name or a one-time job by id. An
// in-flight firing runs to completion but its hooks and reschedule are
// suppressed. Unknown or finished identifiers return false.
func (s *Service) StopTask(id string) bool {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.dropLocked(id, j)
	s.log.Info("job stopped", logx.String("job", j.name), logx.String("id", id))
	return true
}

// IsActive reports whether a recurring name or one-time id is live.
func (s *Service) IsActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[strings.TrimSpace(id)]
	return ok
}

// StopAll cancels every job but keeps the scheduler open. Recurring jobs are
// remembered and come back on the next session auto-restart.
func (s *Service) StopAll(reason string) {
	s.mu.Lock()
	n := len(s.jobs)
	seen := map[string]bool{}
	for _, h := range s.halted {
		seen[h.name] = true
	}
	for key, j := range s.jobs {
		if j.kind == dispatch.Recurring && !seen[j.name] {
			s.halted = append(s.halted, haltedJob{name: j.name, opts: j.opts})
			seen[j.name] = true
		}
		s.dropLocked(key, j)
	}
	s.mu.Unlock()

	s.log.Warn("all jobs stopped", logx.String("reason", reason), logx.Int("jobs", n))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.SessionHalted, Time: time.Now(), Data: map[string]any{"reason": reason, "jobs": n}})
	}
}

// scheduleLocked arms the job timer. Bumping the version makes any earlier
// callback a no-op. Call with s.mu held.
func (s *Service) scheduleLocked(j *job, delay time.Duration) {
	if j.timer != nil {
		j.timer.Stop()
	}
	j.ver++
	ver := j.ver
	j.interval = delay
	j.next = time.Now().Add(delay)
	j.timer = time.AfterFunc(delay, func() { s.fire(j, ver) })
}

// dropLocked removes the job and cancels its context. Call with s.mu held.
func (s *Service) dropLocked(key string, j *job) {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	j.ver++
	j.cancel()
	if s.jobs[key] == j {
		delete(s.jobs, key)
	}
}

func (s *Service) fire(j *job, ver uint64) {
	s.mu.Lock()
	if s.closed || s.jobs[j.key] != j || j.ver != ver {
		s.mu.Unlock()
		return
	}
	j.timer = nil
	j.running = true
	j.firings++
	seq := j.firings
	timeout := s.cfg.Timeout
	s.mu.Unlock()

	err := s.exec.Submit(j.ctx, engine.Task{
		ID:      fmt.Sprintf("%s#%d", j.key, seq),
		Name:    j.name,
		Timeout: timeout,
		Run: func(ctx context.Context) error {
			// Stopped while queued.
			if j.ctx.Err() != nil {
				return nil
			}
			out := s.handler.Handle(ctx, dispatch.Job{
				ID:      j.key,
				Name:    j.name,
				Kind:    j.kind,
				Options: j.opts.Clone(),
				Stopped: j.ctx.Done(),
			})
			s.afterFiring(j, out)
			return nil
		},
	})
	if err != nil {
		s.reportEnqueueError(j.name, err)
		s.afterSubmitError(j, err)
	}
}

// afterFiring reschedules a recurring job with a fresh interval, or retires
// the job when it was one-time or asked to be deregistered.
func (s *Service) afterFiring(j *job, out dispatch.Outcome) {
	mult := s.offPeakMultiplier()

	s.mu.Lock()
	defer s.mu.Unlock()
	j.running = false
	if s.closed || s.jobs[j.key] != j || j.ctx.Err() != nil {
		return
	}
	switch {
	case j.kind == dispatch.OneTime:
		s.dropLocked(j.key, j)
	case out.Deregister:
		s.dropLocked(j.key, j)
		s.log.Info("recurring job deregistered", logx.String("job", j.name), logx.String("reason", out.Reason))
	default:
		s.rngMu.Lock()
		d := sampleInterval(s.rng, j.bounds, mult)
		s.rngMu.Unlock()
		s.scheduleLocked(j, d)
		s.log.Debug("job rescheduled", logx.String("job", j.name), logx.Duration("in", d), logx.Float64("multiplier", mult))
	}
}

func (s *Service) afterSubmitError(j *job, err error) {
	mult := s.offPeakMultiplier()

	s.mu.Lock()
	defer s.mu.Unlock()
	j.running = false
	if s.closed || s.jobs[j.key] != j || j.ctx.Err() != nil {
		return
	}
	if j.kind == dispatch.OneTime || errors.Is(err, engine.ErrStopped) || errors.Is(err, engine.ErrStopping) {
		s.dropLocked(j.key, j)
		return
	}
	s.rngMu.Lock()
	d := sampleInterval(s.rng, j.bounds, mult)
	s.rngMu.Unlock()
	s.scheduleLocked(j, d)
}

func (s *Service) offPeakMultiplier() float64 {
	if s.pacer == nil {
		return 1
	}
	return s.pacer.OffPeakMultiplier()
}

// recurringBoundsLocked resolves interval bounds: options, then the per-name
// table, then the default. Call with s.mu held.
func (s *Service) recurringBoundsLocked(name string, opts action.Options) Bounds {
	b, ok := s.cfg.Delays[name]
	if !ok || b.IsZero() {
		b = s.cfg.Default
	}
	if d, ok := durationOption(opts, OptIntervalMin); ok {
		b.Min = d
	}
	if d, ok := durationOption(opts, OptIntervalMax); ok {
		b.Max = d
	}
	return b
}

// durationOption reads a Go duration string or a number of seconds.
func durationOption(opts action.Options, key string) (time.Duration, bool) {
	raw, ok := opts[key]
	if !ok || raw == nil {
		return 0, false
	}
	if str, ok := raw.(string); ok {
		str = strings.TrimSpace(str)
		if d, err := time.ParseDuration(str); err == nil && d > 0 {
			return d, true
		}
		if n, err := strconv.Atoi(str); err == nil && n > 0 {
			return time.Duration(n) * time.Second, true
		}
		return 0, false
	}
	n, ok := opts.Int(key)
	if !ok || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// oneTimeID builds "<name>_<target prefix>_<xid>"; the prefix is omitted
// without a target.
func oneTimeID(name, target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return name + "_" + xid.New().String()
	}
	if r := []rune(target); len(r) > targetPrefixLen {
		target = string(r[:targetPrefixLen])
	}
	return name + "_" + target + "_" + xid.New().String()
}
