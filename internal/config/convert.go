package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"pacer/internal/pacing"
	"pacer/internal/task/engine"
	"pacer/internal/task/scheduler"
	logx "pacer/pkg/logx"
)

// Validate reports every setting that cannot be converted. None of them are
// fatal: the To* conversions substitute the default for each one, so callers
// log the result and carry on. Values that are merely unusual (inverted
// ranges, bad window bounds) are left to the components.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	var errs []error
	if _, err := cfg.ToPacing(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.ToScheduler(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.ToEngine(); err != nil {
		errs = append(errs, err)
	}
	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if addr := strings.TrimSpace(cfg.Debug.Addr); cfg.Debug.Enabled && addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("debug.addr: %w", err))
		}
	}
	for name, targets := range cfg.Chains {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Errorf("chains: empty job name"))
		}
		for i, t := range targets {
			if strings.TrimSpace(t) == "" {
				errs = append(errs, fmt.Errorf("chains.%s[%d]: empty job name", name, i))
			}
		}
	}
	for i, t := range cfg.Tasks {
		if strings.TrimSpace(t.Name) == "" {
			errs = append(errs, fmt.Errorf("tasks[%d].name: required", i))
		}
		if _, err := ParseKind(t.Kind); err != nil {
			errs = append(errs, fmt.Errorf("tasks[%d].kind: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ParseKind accepts "recurring" (default), "once" and "one_time".
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "recurring":
		return KindRecurring, nil
	case "once", "one_time", "onetime":
		return KindOnce, nil
	default:
		return 0, fmt.Errorf("unknown kind %q", raw)
	}
}

// Kind mirrors dispatch.Kind without importing the dispatcher into config.
type Kind int

const (
	KindOnce Kind = iota
	KindRecurring
)

func (c *Config) ToLogging() logx.Config {
	l := c.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert:   logx.AlertConfig{Enabled: l.Alert.Enabled, MinLevel: l.Alert.MinLevel, RatePerSec: l.Alert.RatePerSec},
	}
}

// ToEngine, ToScheduler and ToPacing always return a usable config. A
// malformed field is left zero (or unset) so the component default applies,
// and is named in the returned error.
func (c *Config) ToEngine() (engine.Config, error) {
	timeout, err := ParseDurationField("engine.default_timeout", c.Engine.DefaultTimeout)
	return engine.Config{QueueSize: c.Engine.QueueSize, DefaultTimeout: timeout, HistorySize: c.Engine.HistorySize}, err
}

func (c *Config) ToScheduler() (scheduler.Config, error) {
	s := c.Scheduler
	out := scheduler.Config{AutoRestart: strings.TrimSpace(s.AutoRestart), Timezone: strings.TrimSpace(s.Timezone)}
	var errs []error

	bounds := func(path string, r *DelayRange) scheduler.Bounds {
		if r == nil {
			return scheduler.Bounds{}
		}
		lo, hi, err := parsePair(path, r.Min, r.Max)
		if err != nil {
			errs = append(errs, err)
		}
		return scheduler.Bounds{Min: lo, Max: hi}
	}
	table := func(path string, m map[string]DelayRange) map[string]scheduler.Bounds {
		if len(m) == 0 {
			return nil
		}
		out := make(map[string]scheduler.Bounds, len(m))
		for name, r := range m {
			out[name] = bounds(path+"."+name, &r)
		}
		return out
	}

	out.Delays = table("scheduler.delays", s.Delays)
	out.OneTimeDelays = table("scheduler.one_time_delays", s.OneTimeDelays)
	out.Default = bounds("scheduler.default_delay", s.DefaultDelay)
	out.RecurringInitial = bounds("scheduler.recurring_initial", s.RecurringInitial)
	out.OneTimeInitial = bounds("scheduler.one_time_initial", s.OneTimeInitial)

	timeout, err := ParseDurationField("scheduler.timeout", s.Timeout)
	if err != nil {
		errs = append(errs, err)
	}
	out.Timeout = timeout

	if out.AutoRestart != "" {
		if _, err := scheduler.ParseSchedule(out.AutoRestart); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.auto_restart: %w", err))
			out.AutoRestart = ""
		}
	}
	if out.Timezone != "" {
		if _, err := time.LoadLocation(out.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
			out.Timezone = ""
		}
	}
	if s.DynamicSpeed.OffPeakMultiplier < 0 {
		errs = append(errs, fmt.Errorf("scheduler.dynamic_speed.off_peak_delay_multiplier: must be >= 0"))
	}
	return out, errors.Join(errs...)
}

// ToPacing converts the pacing section. Dynamic speed lives under scheduler
// in the file but is evaluated by the pacing controller.
func (c *Config) ToPacing() (pacing.Config, error) {
	p := c.Pacing
	out := pacing.Config{
		SessionLimit: p.SessionLimit,
		Windows: pacing.WindowConfig{
			Enabled:  p.Windows.Enabled,
			Timezone: strings.TrimSpace(p.Windows.Timezone),
		},
		Fatigue: pacing.FatigueConfig{Threshold: p.Fatigue.Threshold, Multiplier: p.Fatigue.Multiplier},
		DynamicSpeed: pacing.DynamicSpeedConfig{
			Enabled:           c.Scheduler.DynamicSpeed.Enabled,
			OffPeakMultiplier: c.Scheduler.DynamicSpeed.OffPeakMultiplier,
		},
	}
	for _, r := range p.Windows.Ranges {
		out.Windows.Ranges = append(out.Windows.Ranges, pacing.RangeSpec{Start: r.Start, End: r.End})
	}

	var errs []error
	pair := func(path, lo, hi string) (time.Duration, time.Duration) {
		a, b, err := parsePair(path, lo, hi)
		if err != nil {
			errs = append(errs, err)
		}
		return a, b
	}

	out.Break = pacing.BreakConfig{Enabled: p.Break.Enabled, ActionsBeforeBreak: p.Break.ActionsBeforeBreak}
	out.Break.MinDuration, out.Break.MaxDuration = pair("pacing.breaks.duration", p.Break.MinDuration, p.Break.MaxDuration)

	out.Distraction = pacing.DistractionConfig{Enabled: p.Distraction.Enabled, MinActions: p.Distraction.MinActions, MaxActions: p.Distraction.MaxActions}
	out.Distraction.MinDuration, out.Distraction.MaxDuration = pair("pacing.distractions.duration", p.Distraction.MinDuration, p.Distraction.MaxDuration)

	out.Outage = pacing.OutageConfig{Enabled: p.Outage.Enabled}
	out.Outage.MinInterval, out.Outage.MaxInterval = pair("pacing.network_outage.interval", p.Outage.MinInterval, p.Outage.MaxInterval)
	out.Outage.MinDuration, out.Outage.MaxDuration = pair("pacing.network_outage.duration", p.Outage.MinDuration, p.Outage.MaxDuration)

	cooldown, err := ParseDurationOrDefault("pacing.cooldown", p.Cooldown, pacing.DefaultCooldown)
	if err != nil {
		errs = append(errs, err)
	}
	out.CooldownDuration = cooldown

	if p.SessionLimit < 0 {
		errs = append(errs, fmt.Errorf("pacing.session_limit: must be >= 0"))
	}
	return out, errors.Join(errs...)
}
