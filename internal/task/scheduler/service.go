package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"pacer/internal/dispatch"
	"pacer/internal/eventbus"
	logx "pacer/pkg/logx"
)

func New(cfg Config, exec Executor, handler dispatch.Handler, pacer Pacer, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:         cfg.withDefaults(),
		log:         log,
		bus:         bus,
		exec:        exec,
		handler:     handler,
		pacer:       pacer,
		ctx:         ctx,
		cancel:      cancel,
		jobs:        map[string]*job{},
		rng:         newRand("scheduler"),
		parser:      cronParser,
		lastEnqWarn: map[string]time.Time{},
	}
}

// Apply swaps timing configuration. Live jobs pick up new bounds at their next
// reschedule; the auto-restart schedule is re-registered when it changed.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	for _, j := range s.jobs {
		if j.kind == dispatch.Recurring {
			j.bounds = s.recurringBoundsLocked(j.name, j.opts)
		}
	}
	if s.closed || s.c == nil {
		return
	}
	if strings.TrimSpace(prev.AutoRestart) != strings.TrimSpace(cfg.AutoRestart) || prev.Timezone != cfg.Timezone {
		s.restartCronLocked()
	}
}

// Start registers the session auto-restart schedule. Jobs may be started
// before or after Start; their timers do not depend on it.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.c != nil {
		return
	}
	s.restartCronLocked()
}

// Shutdown cancels every pending timer and stops the auto-restart cron. It
// does not wait for an in-flight firing. Safe to call repeatedly.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	n := len(s.jobs)
	for key, j := range s.jobs {
		s.dropLocked(key, j)
	}
	s.halted = nil
	c := s.c
	s.c = nil
	s.mu.Unlock()

	s.cancel()
	if c != nil {
		<-c.Stop().Done()
	}
	s.log.Info("scheduler shut down", logx.Int("jobs", n))
}

// restartCronLocked rebuilds the cron runner. Call with s.mu held.
func (s *Service) restartCronLocked() {
	if s.c != nil {
		s.c.Stop()
		s.c = nil
		s.entry = 0
	}
	spec := strings.TrimSpace(s.cfg.AutoRestart)
	if spec == "" {
		return
	}
	ps, err := ParseSchedule(spec)
	if err != nil {
		s.log.Warn("auto restart disabled", logx.String("spec", spec), logx.Err(err))
		return
	}

	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	job := cron.FuncJob(s.autoRestart)

	switch ps.Kind {
	case SpecInterval:
		s.rngMu.Lock()
		sched, spread := makeIntervalScheduleWithSpread(ps.Every, time.Now().In(loc), s.rng)
		s.rngMu.Unlock()
		s.entry = s.c.Schedule(sched, job)
		s.log.Debug("auto restart registered", logx.Duration("every", ps.Every), logx.Duration("spread", spread))
	default:
		id, err := s.c.AddJob(ps.Cron, job)
		if err != nil {
			s.log.Warn("auto restart disabled", logx.String("spec", spec), logx.Err(err))
			s.c = nil
			return
		}
		s.entry = id
	}
	s.c.Start()
	s.log.Info("auto restart scheduled", logx.String("spec", spec), logx.String("tz", loc.String()), logx.Time("next", s.c.Entry(s.entry).Next))
}

// autoRestart starts a fresh pacing session and brings back the recurring
// jobs a session halt stopped.
func (s *Service) autoRestart() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	halted := s.halted
	s.halted = nil
	s.mu.Unlock()

	if s.pacer != nil {
		s.pacer.StartSession()
	}
	resumed := 0
	for _, h := range halted {
		if s.StartTask(h.name, dispatch.Recurring, h.opts) {
			resumed++
		}
	}
	s.log.Info("session auto restarted", logx.Int("resumed", resumed))
}

func (s *Service) loadLocationLocked() *time.Location {
	if s.pacer != nil {
		if loc := s.pacer.Location(); loc != nil {
			return loc
		}
	}
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
