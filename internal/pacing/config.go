package pacing

import "time"

// Config controls every pacing rule. Zero values are replaced by defaults in
// withDefaults; a rule is disabled only through its Enabled flag.
type Config struct {
	// SessionLimit stops the session after this many attempted actions. 0 disables it.
	SessionLimit int

	Windows     WindowConfig
	Break       BreakConfig
	Distraction DistractionConfig
	Fatigue     FatigueConfig
	Outage      OutageConfig

	// CooldownDuration is how long BlockCooldown (and the paired break) lasts.
	// Non-positive values fall back to the default.
	CooldownDuration time.Duration

	DynamicSpeed DynamicSpeedConfig
}

type WindowConfig struct {
	Enabled bool
	// Ranges are "HH:MM" pairs. A range whose start is after its end wraps midnight.
	Ranges []RangeSpec
	// Timezone is an IANA name. Empty means the local wall clock.
	Timezone string
}

type RangeSpec struct {
	Start string
	End   string
}

type BreakConfig struct {
	Enabled            bool
	ActionsBeforeBreak int
	MinDuration        time.Duration
	MaxDuration        time.Duration
}

type DistractionConfig struct {
	Enabled     bool
	MinActions  int
	MaxActions  int
	MinDuration time.Duration
	MaxDuration time.Duration
}

// FatigueConfig scales distraction pauses once the session grows long.
type FatigueConfig struct {
	Threshold  int
	Multiplier float64
}

type OutageConfig struct {
	Enabled     bool
	MinInterval time.Duration
	MaxInterval time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration
}

// DynamicSpeedConfig stretches scheduling intervals outside the activity windows.
type DynamicSpeedConfig struct {
	Enabled           bool
	OffPeakMultiplier float64
}

const (
	DefaultActionsBeforeBreak = 40
	DefaultCooldown           = 10 * time.Minute
)

// DefaultRanges are used when windows are enabled without explicit ranges.
var DefaultRanges = []RangeSpec{
	{Start: "08:00", End: "11:00"},
	{Start: "13:00", End: "16:00"},
	{Start: "19:00", End: "22:30"},
}

func (c Config) withDefaults() Config {
	if c.SessionLimit < 0 {
		c.SessionLimit = 0
	}
	if c.CooldownDuration <= 0 {
		c.CooldownDuration = DefaultCooldown
	}
	if c.Windows.Enabled && len(c.Windows.Ranges) == 0 {
		c.Windows.Ranges = append([]RangeSpec(nil), DefaultRanges...)
	}

	if c.Break.ActionsBeforeBreak <= 0 {
		c.Break.ActionsBeforeBreak = DefaultActionsBeforeBreak
	}
	c.Break.MinDuration, c.Break.MaxDuration = defaultBounds(c.Break.MinDuration, c.Break.MaxDuration, 5*time.Minute, 15*time.Minute)

	if c.Distraction.MinActions <= 0 {
		c.Distraction.MinActions = 10
	}
	if c.Distraction.MaxActions <= 0 {
		c.Distraction.MaxActions = 25
	}
	if c.Distraction.MinActions > c.Distraction.MaxActions {
		c.Distraction.MinActions, c.Distraction.MaxActions = c.Distraction.MaxActions, c.Distraction.MinActions
	}
	c.Distraction.MinDuration, c.Distraction.MaxDuration = defaultBounds(c.Distraction.MinDuration, c.Distraction.MaxDuration, time.Minute, 3*time.Minute)

	if c.Fatigue.Threshold < 0 {
		c.Fatigue.Threshold = 0
	}
	if c.Fatigue.Multiplier <= 0 {
		c.Fatigue.Multiplier = 1
	}

	c.Outage.MinInterval, c.Outage.MaxInterval = defaultBounds(c.Outage.MinInterval, c.Outage.MaxInterval, 30*time.Minute, 90*time.Minute)
	c.Outage.MinDuration, c.Outage.MaxDuration = defaultBounds(c.Outage.MinDuration, c.Outage.MaxDuration, time.Minute, 2*time.Minute)

	if c.DynamicSpeed.OffPeakMultiplier <= 0 {
		c.DynamicSpeed.OffPeakMultiplier = 1
	}
	return c
}

// defaultBounds fills unset bounds and orders the pair.
func defaultBounds(lo, hi, defLo, defHi time.Duration) (time.Duration, time.Duration) {
	if lo <= 0 && hi <= 0 {
		return defLo, defHi
	}
	if lo <= 0 {
		lo = hi
	}
	if hi <= 0 {
		hi = lo
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}
