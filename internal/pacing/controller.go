package pacing

import (
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "pacer/pkg/logx"
)

// State is the single authoritative pacing state. Values are ordered by
// precedence: the first applicable one wins.
type State int

const (
	SessionInactive State = iota
	BlockCooldown
	SessionLimitReached
	OutsideActivityWindow
	NetworkOutage
	Break
	Distraction
	Ready
)

func (s State) String() string {
	switch s {
	case SessionInactive:
		return "session_inactive"
	case BlockCooldown:
		return "block_cooldown"
	case SessionLimitReached:
		return "session_limit"
	case OutsideActivityWindow:
		return "outside_window"
	case NetworkOutage:
		return "network_outage"
	case Break:
		return "break"
	case Distraction:
		return "distraction"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// HaltFunc is called once when the session budget is exhausted.
type HaltFunc func(reason string)

type Option func(*Controller)

func WithLogger(log logx.Logger) Option { return func(c *Controller) { c.log = log } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithSeed makes duration sampling deterministic.
func WithSeed(seed int64) Option {
	return func(c *Controller) { c.rng = rand.New(rand.NewSource(seed)) }
}

// Controller is safe for concurrent use. Every mutation goes through a method.
type Controller struct {
	mu  sync.Mutex
	cfg Config
	win window

	log logx.Logger
	now func() time.Time
	rng *rand.Rand

	onHalt HaltFunc

	active             bool
	sessionCount       int
	limitReached       bool
	sinceBreak         int
	sinceDistraction   int
	distractionTarget  int
	breakEnd           time.Time
	distractionEnd     time.Time
	outageEnd          time.Time
	outageNext         time.Time
	cooldownEnd        time.Time
	cooldownReason     string
	sessionStartedAt   time.Time
	lastLoggedState    State
	lastLoggedStateSet bool
}

var seedSeq uint64

func New(cfg Config, opts ...Option) *Controller {
	c := &Controller{now: time.Now}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	if c.rng == nil {
		h := fnv.New64a()
		_, _ = h.Write([]byte("pacing"))
		seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&seedSeq, 1)) ^ int64(h.Sum64())
		c.rng = rand.New(rand.NewSource(seed))
	}
	c.cfg = cfg.withDefaults()
	c.win = compileWindow(c.cfg.Windows, c.log)
	c.distractionTarget = c.sampleDistractionTargetLocked()
	return c
}

// OnHalt installs the callback invoked when the session limit is reached.
func (c *Controller) OnHalt(fn HaltFunc) {
	c.mu.Lock()
	c.onHalt = fn
	c.mu.Unlock()
}

// Reload swaps the configuration. Pause deadlines already entered are kept.
func (c *Controller) Reload(cfg Config) {
	c.mu.Lock()
	now := c.now()
	c.cfg = cfg.withDefaults()
	c.win = compileWindow(c.cfg.Windows, c.log)
	c.distractionTarget = c.sampleDistractionTargetLocked()
	if c.outageEnd.IsZero() {
		c.scheduleOutageLocked(now)
	}
	halt := c.checkLimitLocked()
	limit, windows, tz := c.cfg.SessionLimit, c.win.enabled, c.win.loc.String()
	c.mu.Unlock()

	c.log.Info("pacing config reloaded",
		logx.Int("session_limit", limit),
		logx.Bool("windows", windows),
		logx.String("tz", tz),
	)
	if halt != nil {
		halt("session limit reached")
	}
}

// StartSession begins a logical session: counters and pauses are reset, an
// active cooldown is kept.
func (c *Controller) StartSession() {
	c.mu.Lock()
	now := c.now()
	c.active = true
	c.sessionStartedAt = now
	c.sessionCount = 0
	c.limitReached = false
	c.sinceBreak = 0
	c.sinceDistraction = 0
	c.distractionTarget = c.sampleDistractionTargetLocked()
	c.breakEnd = time.Time{}
	c.distractionEnd = time.Time{}
	c.outageEnd = time.Time{}
	limit := c.cfg.SessionLimit
	if !c.cooldownEnd.IsZero() && !now.Before(c.cooldownEnd) {
		c.cooldownEnd = time.Time{}
	}
	// A cooldown outlives the session, and so does the break paired with it.
	if !c.cooldownEnd.IsZero() {
		c.breakEnd = c.cooldownEnd
	}
	c.scheduleOutageLocked(now)
	c.lastLoggedStateSet = false
	c.mu.Unlock()

	c.log.Info("session started", logx.Int("session_limit", limit))
}

// EndSession tears the session down. An active cooldown is kept.
func (c *Controller) EndSession() {
	c.mu.Lock()
	wasActive := c.active
	c.active = false
	c.breakEnd = time.Time{}
	c.distractionEnd = time.Time{}
	c.outageEnd = time.Time{}
	c.outageNext = time.Time{}
	count := c.sessionCount
	c.mu.Unlock()

	if wasActive {
		c.log.Info("session ended", logx.Int("actions", count))
	}
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// State evaluates and returns the authoritative state, clearing expired pauses.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(c.now())
}

// CanProceed reports whether an action may run now.
func (c *Controller) CanProceed() bool { return c.State() == Ready }

// LimitReached reports the sticky session-limit flag, even while a block
// cooldown takes precedence in State.
func (c *Controller) LimitReached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active && c.limitReached
}

func (c *Controller) stateLocked(now time.Time) State {
	st := c.evaluateLocked(now)
	if !c.lastLoggedStateSet || st != c.lastLoggedState {
		c.lastLoggedState = st
		c.lastLoggedStateSet = true
		c.log.Debug("pacing state", logx.String("state", st.String()))
	}
	return st
}

func (c *Controller) evaluateLocked(now time.Time) State {
	if !c.active {
		return SessionInactive
	}
	if !c.cooldownEnd.IsZero() {
		if now.Before(c.cooldownEnd) {
			return BlockCooldown
		}
		c.cooldownEnd = time.Time{}
		c.log.Info("block cooldown finished", logx.String("reason", c.cooldownReason))
		c.cooldownReason = ""
	}
	if c.limitReached {
		return SessionLimitReached
	}
	if !c.win.contains(now) {
		return OutsideActivityWindow
	}
	if !c.outageEnd.IsZero() {
		if now.Before(c.outageEnd) {
			return NetworkOutage
		}
		c.outageEnd = time.Time{}
		c.scheduleOutageLocked(now)
		c.log.Info("network outage finished", logx.Time("next", c.outageNext))
	}
	if !c.breakEnd.IsZero() {
		if now.Before(c.breakEnd) {
			return Break
		}
		c.breakEnd = time.Time{}
		c.sinceBreak = 0
		c.log.Info("break finished")
	}
	if !c.distractionEnd.IsZero() {
		if now.Before(c.distractionEnd) {
			return Distraction
		}
		c.distractionEnd = time.Time{}
		c.sinceDistraction = 0
		c.distractionTarget = c.sampleDistractionTargetLocked()
		c.log.Debug("distraction finished", logx.Int("next_target", c.distractionTarget))
	}
	return Ready
}

// ShouldTakeBreak reports whether the break threshold is reached and no pause
// of higher precedence than a break is in effect.
func (c *Controller) ShouldTakeBreak() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.Break.Enabled {
		return false
	}
	st := c.stateLocked(c.now())
	if st != Ready && st != Distraction {
		return false
	}
	return c.sinceBreak >= c.cfg.Break.ActionsBeforeBreak
}

// ShouldTakeDistraction reports whether the distraction target is reached and
// nothing else is pausing the session.
func (c *Controller) ShouldTakeDistraction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.Distraction.Enabled {
		return false
	}
	if c.stateLocked(c.now()) != Ready {
		return false
	}
	return c.sinceDistraction >= c.distractionTarget
}

// ShouldSimulateOutage reports whether the outage trigger time has passed.
// It never fires while any other pause is running.
func (c *Controller) ShouldSimulateOutage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cfg.Outage.Enabled {
		return false
	}
	now := c.now()
	if c.stateLocked(now) != Ready {
		return false
	}
	if c.outageNext.IsZero() {
		c.scheduleOutageLocked(now)
		return false
	}
	return !now.Before(c.outageNext)
}

// TakeBreak enters a break and returns its duration.
func (c *Controller) TakeBreak() time.Duration {
	c.mu.Lock()
	now := c.now()
	d := c.sampleLocked(c.cfg.Break.MinDuration, c.cfg.Break.MaxDuration)
	c.breakEnd = now.Add(d)
	c.sinceBreak = 0
	c.mu.Unlock()

	c.log.Info("break started", logx.Duration("for", d))
	return d
}

// TakeDistraction enters a short pause, stretched by fatigue late in a session.
func (c *Controller) TakeDistraction() time.Duration {
	c.mu.Lock()
	now := c.now()
	d := c.sampleLocked(c.cfg.Distraction.MinDuration, c.cfg.Distraction.MaxDuration)
	fatigued := false
	if f := c.cfg.Fatigue; f.Threshold > 0 && f.Multiplier > 1 && c.sessionCount >= f.Threshold {
		d = time.Duration(float64(d) * f.Multiplier)
		fatigued = true
	}
	c.distractionEnd = now.Add(d)
	c.sinceDistraction = 0
	c.distractionTarget = c.sampleDistractionTargetLocked()
	c.mu.Unlock()

	c.log.Info("distraction started", logx.Duration("for", d), logx.Bool("fatigued", fatigued))
	return d
}

// SimulateOutage enters a network outage; the next trigger is scheduled when it ends.
func (c *Controller) SimulateOutage() time.Duration {
	c.mu.Lock()
	now := c.now()
	d := c.sampleLocked(c.cfg.Outage.MinDuration, c.cfg.Outage.MaxDuration)
	c.outageEnd = now.Add(d)
	c.outageNext = time.Time{}
	c.mu.Unlock()

	c.log.Info("network outage started", logx.Duration("for", d))
	return d
}

// EnterCooldown pauses the whole session after a block signal. The cooldown
// and a break share one deadline and both counters restart.
func (c *Controller) EnterCooldown(reason string) {
	reason = strings.TrimSpace(reason)
	c.mu.Lock()
	now := c.now()
	d := c.cfg.CooldownDuration
	end := now.Add(d)
	c.cooldownEnd = end
	c.cooldownReason = reason
	c.breakEnd = end
	c.sinceBreak = 0
	c.sinceDistraction = 0
	c.distractionTarget = c.sampleDistractionTargetLocked()
	c.mu.Unlock()

	c.log.Warn("block cooldown entered", logx.String("reason", reason), logx.Duration("for", d), logx.Time("until", end))
}

// RecordOutcome advances the counters for an attempted action. Skipped
// firings pass attempted=false and change nothing.
func (c *Controller) RecordOutcome(attempted bool) {
	if !attempted {
		return
	}
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.sessionCount++
	c.sinceBreak++
	if c.cfg.Distraction.Enabled {
		c.sinceDistraction++
	}
	count := c.sessionCount
	halt := c.checkLimitLocked()
	c.mu.Unlock()

	if halt != nil {
		c.log.Warn("session limit reached", logx.Int("actions", count))
		halt("session limit reached")
	}
}

// checkLimitLocked flips the sticky limit flag and returns the halt callback
// when the flag was newly set.
func (c *Controller) checkLimitLocked() HaltFunc {
	if c.limitReached || c.cfg.SessionLimit <= 0 || c.sessionCount < c.cfg.SessionLimit {
		return nil
	}
	c.limitReached = true
	if c.onHalt == nil {
		return func(string) {}
	}
	return c.onHalt
}

// InActivityWindow reports whether now falls inside a configured window.
// It is true when windows are disabled.
func (c *Controller) InActivityWindow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.win.contains(c.now())
}

// OffPeakMultiplier returns the interval stretch factor for the current time:
// above 1 only when dynamic speed is on and now is outside the windows.
func (c *Controller) OffPeakMultiplier() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ds := c.cfg.DynamicSpeed
	if !ds.Enabled || ds.OffPeakMultiplier <= 1 || c.win.contains(c.now()) {
		return 1
	}
	return ds.OffPeakMultiplier
}

// Location is the timezone used for window matching.
func (c *Controller) Location() *time.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.win.loc
}

func (c *Controller) scheduleOutageLocked(now time.Time) {
	if !c.cfg.Outage.Enabled {
		c.outageNext = time.Time{}
		return
	}
	c.outageNext = now.Add(c.sampleLocked(c.cfg.Outage.MinInterval, c.cfg.Outage.MaxInterval))
}

func (c *Controller) sampleDistractionTargetLocked() int {
	lo, hi := c.cfg.Distraction.MinActions, c.cfg.Distraction.MaxActions
	if hi <= lo {
		return lo
	}
	return lo + c.rng.Intn(hi-lo+1)
}

// sampleLocked draws uniformly from [lo, hi].
func (c *Controller) sampleLocked(lo, hi time.Duration) time.Duration {
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(c.rng.Int63n(int64(hi-lo)+1))
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	State             string    `json:"state"`
	Active            bool      `json:"active"`
	SessionStartedAt  time.Time `json:"session_started_at"`
	SessionCount      int       `json:"session_count"`
	SessionLimit      int       `json:"session_limit"`
	LimitReached      bool      `json:"limit_reached"`
	SinceBreak        int       `json:"since_break"`
	SinceDistraction  int       `json:"since_distraction"`
	DistractionTarget int       `json:"distraction_target"`
	BreakEnd          time.Time `json:"break_end"`
	DistractionEnd    time.Time `json:"distraction_end"`
	OutageEnd         time.Time `json:"outage_end"`
	OutageNext        time.Time `json:"outage_next"`
	CooldownEnd       time.Time `json:"cooldown_end"`
	CooldownReason    string    `json:"cooldown_reason,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stateLocked(c.now())
	return Snapshot{
		State:             st.String(),
		Active:            c.active,
		SessionStartedAt:  c.sessionStartedAt,
		SessionCount:      c.sessionCount,
		SessionLimit:      c.cfg.SessionLimit,
		LimitReached:      c.limitReached,
		SinceBreak:        c.sinceBreak,
		SinceDistraction:  c.sinceDistraction,
		DistractionTarget: c.distractionTarget,
		BreakEnd:          c.breakEnd,
		DistractionEnd:    c.distractionEnd,
		OutageEnd:         c.outageEnd,
		OutageNext:        c.outageNext,
		CooldownEnd:       c.cooldownEnd,
		CooldownReason:    c.cooldownReason,
	}
}
