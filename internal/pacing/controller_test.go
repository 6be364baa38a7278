package pacing

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestController(cfg Config, clk *fakeClock) *Controller {
	return New(cfg, WithClock(clk.Now), WithSeed(1))
}

func TestInactiveUntilSessionStarts(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newTestController(Config{}, clk)
	if got := c.State(); got != SessionInactive {
		t.Fatalf("state = %v, want session_inactive", got)
	}
	c.RecordOutcome(true)
	if c.Snapshot().SessionCount != 0 {
		t.Fatalf("outcomes must not count while inactive")
	}
	c.StartSession()
	if !c.CanProceed() {
		t.Fatalf("expected ready after StartSession, got %v", c.State())
	}
	c.EndSession()
	if c.CanProceed() {
		t.Fatalf("expected blocked after EndSession")
	}
}

func TestSessionCountMonotonicAndSkipsIgnored(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newTestController(Config{}, clk)
	c.StartSession()

	prev := 0
	for i := 0; i < 10; i++ {
		c.RecordOutcome(i%2 == 0)
		got := c.Snapshot().SessionCount
		if got < prev {
			t.Fatalf("count decreased: %d -> %d", prev, got)
		}
		prev = got
	}
	if prev != 5 {
		t.Fatalf("count = %d, want 5 attempted", prev)
	}
}

func TestSessionLimitHaltsUntilRestart(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newTestController(Config{SessionLimit: 3}, clk)

	var halts []string
	c.OnHalt(func(reason string) { halts = append(halts, reason) })
	c.StartSession()

	for i := 0; i < 3; i++ {
		if !c.CanProceed() {
			t.Fatalf("attempt %d blocked early: %v", i+1, c.State())
		}
		c.RecordOutcome(true)
	}
	if c.CanProceed() {
		t.Fatalf("fourth attempt must be blocked")
	}
	if got := c.State(); got != SessionLimitReached {
		t.Fatalf("state = %v, want session_limit", got)
	}
	if len(halts) != 1 {
		t.Fatalf("halt calls = %d, want 1", len(halts))
	}

	c.EnterCooldown("marker")
	if c.State() != BlockCooldown || !c.LimitReached() {
		t.Fatalf("state=%v limit=%v, want cooldown with the limit still reported", c.State(), c.LimitReached())
	}

	// Sticky across time and reload.
	clk.Advance(24 * time.Hour)
	c.Reload(Config{SessionLimit: 100})
	if c.CanProceed() {
		t.Fatalf("limit must hold until the session restarts")
	}

	c.StartSession()
	if !c.CanProceed() || c.LimitReached() {
		t.Fatalf("expected ready after restart, got %v", c.State())
	}
	if len(halts) != 1 {
		t.Fatalf("halt must not fire again, got %d", len(halts))
	}
}

func TestReloadCanSetLimit(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newTestController(Config{}, clk)
	halted := 0
	c.OnHalt(func(string) { halted++ })
	c.StartSession()
	for i := 0; i < 4; i++ {
		c.RecordOutcome(true)
	}
	c.Reload(Config{SessionLimit: 2})
	if c.State() != SessionLimitReached || halted != 1 {
		t.Fatalf("state=%v halted=%d, want session_limit and one halt", c.State(), halted)
	}
}

func TestCooldownFailsClosedUntilDeadline(t *testing.T) {
	t.Parallel()

	for _, d := range []time.Duration{0, -time.Second, 10 * time.Minute} {
		clk := newFakeClock()
		c := newTestController(Config{CooldownDuration: d}, clk)
		c.StartSession()
		c.EnterCooldown("blocked")

		if c.CanProceed() {
			t.Fatalf("duration %v: cooldown must block immediately", d)
		}
		clk.Advance(10*time.Minute - time.Second)
		if got := c.State(); got != BlockCooldown {
			t.Fatalf("duration %v: state = %v, want block_cooldown", d, got)
		}
		clk.Advance(time.Second)
		if !c.CanProceed() {
			t.Fatalf("duration %v: expected ready at deadline, got %v", d, c.State())
		}
	}
}

func TestCooldownResetsCounters(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newTestController(Config{
		Break:       BreakConfig{Enabled: true, ActionsBeforeBreak: 5},
		Distraction: DistractionConfig{Enabled: true, MinActions: 50, MaxActions: 50},
	}, clk)
	c.StartSession()
	for i := 0; i < 3; i++ {
		c.RecordOutcome(true)
	}
	c.EnterCooldown("rate limited")
	snap := c.Snapshot()
	if snap.SinceBreak != 0 || snap.SinceDistraction != 0 {
		t.Fatalf("counters not reset: %+v", snap)
	}
	if !snap.BreakEnd.Equal(snap.CooldownEnd) {
		t.Fatalf("break end %v != cooldown end %v", snap.BreakEnd, snap.CooldownEnd)
	}
	if snap.SessionCount != 3 {
		t.Fatalf("session count must survive cooldown, got %d", snap.SessionCount)
	}
}

func TestCooldownSurvivesSessionRestart(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newTestController(Config{}, clk)
	c.StartSession()
	c.EnterCooldown("blocked")
	c.StartSession()
	if got := c.State(); got != BlockCooldown {
		t.Fatalf("state = %v, want block_cooldown", got)
	}
}

func TestBreakScenario(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newTestController(Config{
		Break: BreakConfig{Enabled: true, ActionsBeforeBreak: 5, MinDuration: time.Minute, MaxDuration: time.Minute},
	}, clk)
	c.StartSession()

	for i := 0; i < 4; i++ {
		c.RecordOutcome(true)
		if c.ShouldTakeBreak() {
			t.Fatalf("break requested after %d actions", i+1)
		}
	}
	c.RecordOutcome(true)
	if !c.ShouldTakeBreak() {
		t.Fatalf("expected break after 5 actions")
	}
	if d := c.TakeBreak(); d != time.Minute {
		t.Fatalf("break duration = %v, want 1m", d)
	}
	if c.Snapshot().SinceBreak != 0 {
		t.Fatalf("TakeBreak must reset the counter")
	}
	if c.CanProceed() || c.State() != Break {
		t.Fatalf("expected break state, got %v", c.State())
	}
	if c.ShouldTakeBreak() {
		t.Fatalf("no new break while one is running")
	}

	clk.Advance(59 * time.Second)
	if c.CanProceed() {
		t.Fatalf("break ended early")
	}
	clk.Advance(time.Second)
	if !c.CanProceed() {
		t.Fatalf("expected ready after break, got %v", c.State())
	}
}

func TestBreakDisabled(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newTestController(Config{Break: BreakConfig{ActionsBeforeBreak: 1}}, clk)
	c.StartSession()
	c.RecordOutcome(true)
	if c.ShouldTakeBreak() {
		t.Fatalf("disabled breaks must never be requested")
	}
}

func TestDistractionWithFatigue(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newTestController(Config{
		Distraction: DistractionConfig{Enabled: true, MinActions: 2, MaxActions: 2, MinDuration: 10 * time.Second, MaxDuration: 10 * time.Second},
		Fatigue:     FatigueConfig{Threshold: 4, Multiplier: 1.5},
	}, clk)
	c.StartSession()

	c.RecordOutcome(true)
	if c.ShouldTakeDistraction() {
		t.Fatalf("distraction requested too early")
	}
	c.RecordOutcome(true)
	if !c.ShouldTakeDistraction() {
		t.Fatalf("expected distraction after 2 actions")
	}
	if d := c.TakeDistraction(); d != 10*time.Second {
		t.Fatalf("unfatigued distraction = %v, want 10s", d)
	}
	if c.State() != Distraction {
		t.Fatalf("state = %v, want distraction", c.State())
	}
	clk.Advance(10 * time.Second)
	if !c.CanProceed() {
		t.Fatalf("expected ready after distraction")
	}

	c.RecordOutcome(true)
	c.RecordOutcome(true)
	if !c.ShouldTakeDistraction() {
		t.Fatalf("expected second distraction")
	}
	if d := c.TakeDistraction(); d != 15*time.Second {
		t.Fatalf("fatigued distraction = %v, want 15s", d)
	}
}

func TestDistractionCounterOnlyWhenEnabled(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newTestController(Config{}, clk)
	c.StartSession()
	c.RecordOutcome(true)
	if got := c.Snapshot().SinceDistraction; got != 0 {
		t.Fatalf("since_distraction = %d with distractions disabled", got)
	}
}

func TestOutageCycle(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	c := newTestController(Config{
		Outage: OutageConfig{Enabled: true, MinInterval: time.Minute, MaxInterval: time.Minute, MinDuration: 30 * time.Second, MaxDuration: 30 * time.Second},
	}, clk)
	c.StartSession()

	if c.ShouldSimulateOutage() {
		t.Fatalf("outage triggered before its interval")
	}
	clk.Advance(time.Minute)
	if !c.ShouldSimulateOutage() {
		t.Fatalf("expected outage trigger after interval")
	}
	if d := c.SimulateOutage(); d != 30*time.Second {
		t.Fatalf("outage duration = %v, want 30s", d)
	}
	if c.State() != NetworkOutage {
		t.Fatalf("state = %v, want network_outage", c.State())
	}
	if c.ShouldSimulateOutage() {
		t.Fatalf("no nested outage")
	}
	clk.Advance(30 * time.Second)
	if !c.CanProceed() {
		t.Fatalf("expected ready after outage, got %v", c.State())
	}
	if c.ShouldSimulateOutage() {
		t.Fatalf("next outage must be rescheduled into the future")
	}
	if next := c.Snapshot().OutageNext; !next.Equal(clk.Now().Add(time.Minute)) {
		t.Fatalf("next outage = %v, want %v", next, clk.Now().Add(time.Minute))
	}
}

func TestOutageWaitsForOtherPauses(t *testing.T) {
	t.Parallel()

	outage := OutageConfig{Enabled: true, MinInterval: time.Minute, MaxInterval: time.Minute, MinDuration: 30 * time.Second, MaxDuration: 30 * time.Second}
	cases := []struct {
		name  string
		cfg   Config
		pause func(c *Controller) time.Duration
		state State
	}{
		{
			name:  "break",
			cfg:   Config{Outage: outage, Break: BreakConfig{Enabled: true, ActionsBeforeBreak: 1, MinDuration: 5 * time.Minute, MaxDuration: 5 * time.Minute}},
			pause: (*Controller).TakeBreak,
			state: Break,
		},
		{
			name:  "distraction",
			cfg:   Config{Outage: outage, Distraction: DistractionConfig{Enabled: true, MinActions: 1, MaxActions: 1, MinDuration: 5 * time.Minute, MaxDuration: 5 * time.Minute}},
			pause: (*Controller).TakeDistraction,
			state: Distraction,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			clk := newFakeClock()
			c := newTestController(tc.cfg, clk)
			c.StartSession()
			if c.ShouldSimulateOutage() {
				t.Fatalf("outage triggered before its interval")
			}
			d := tc.pause(c)
			clk.Advance(2 * time.Minute)
			if c.State() != tc.state {
				t.Fatalf("state = %v, want %v", c.State(), tc.state)
			}
			if c.ShouldSimulateOutage() {
				t.Fatalf("outage requested during %s", tc.name)
			}
			clk.Advance(d)
			if !c.ShouldSimulateOutage() {
				t.Fatalf("overdue outage not requested once %s ended", tc.name)
			}
		})
	}
}

func TestPrecedence(t *testing.T) {
	t.Parallel()

	clk := newFakeClock() // 12:00 UTC
	c := newTestController(Config{
		SessionLimit: 1,
		Windows:      WindowConfig{Enabled: true, Timezone: "UTC", Ranges: []RangeSpec{{Start: "20:00", End: "21:00"}}},
	}, clk)
	c.StartSession()
	if got := c.State(); got != OutsideActivityWindow {
		t.Fatalf("state = %v, want outside_window", got)
	}
	c.RecordOutcome(true)
	if got := c.State(); got != SessionLimitReached {
		t.Fatalf("limit must win over window, got %v", got)
	}
	c.EnterCooldown("blocked")
	if got := c.State(); got != BlockCooldown {
		t.Fatalf("cooldown must win over limit, got %v", got)
	}
}

func TestOffPeakMultiplier(t *testing.T) {
	t.Parallel()

	clk := newFakeClock() // 12:00 UTC
	cfg := Config{
		Windows:      WindowConfig{Enabled: true, Timezone: "UTC", Ranges: []RangeSpec{{Start: "08:00", End: "11:00"}}},
		DynamicSpeed: DynamicSpeedConfig{Enabled: true, OffPeakMultiplier: 2.5},
	}
	c := newTestController(cfg, clk)
	if c.InActivityWindow() {
		t.Fatalf("12:00 is outside 08:00-11:00")
	}
	if got := c.OffPeakMultiplier(); got != 2.5 {
		t.Fatalf("multiplier = %v, want 2.5", got)
	}

	cfg.DynamicSpeed.OffPeakMultiplier = 0.5
	c.Reload(cfg)
	if got := c.OffPeakMultiplier(); got != 1 {
		t.Fatalf("multiplier <= 1 must be ignored, got %v", got)
	}

	cfg.Windows.Ranges = []RangeSpec{{Start: "11:00", End: "13:00"}}
	cfg.DynamicSpeed.OffPeakMultiplier = 3
	c.Reload(cfg)
	if got := c.OffPeakMultiplier(); got != 1 {
		t.Fatalf("inside a window the multiplier is 1, got %v", got)
	}
}
