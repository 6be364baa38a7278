package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pacer/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured attrs for logging. Secrets (the bot token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
			logx.String("logging.alert_min_level", newCfg.Logging.Alert.MinLevel),
		)
	}

	ot, nt := oldCfg.Alerts.Telegram, newCfg.Alerts.Telegram
	if ot.ChatID != nt.ChatID || ot.ThreadID != nt.ThreadID || strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token) {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Bool("alerts.telegram.token_changed", strings.TrimSpace(ot.Token) != strings.TrimSpace(nt.Token)),
			logx.Int64("alerts.telegram.chat_id", nt.ChatID),
			logx.Int("alerts.telegram.thread_id", nt.ThreadID),
		)
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.queue_size", newCfg.Engine.QueueSize),
			logx.String("engine.default_timeout", strings.TrimSpace(newCfg.Engine.DefaultTimeout)),
			logx.Int("engine.history_size", newCfg.Engine.HistorySize),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		s := newCfg.Scheduler
		attrs = append(attrs,
			logx.Int("scheduler.delays", len(s.Delays)),
			logx.Int("scheduler.one_time_delays", len(s.OneTimeDelays)),
			logx.Bool("scheduler.dynamic_speed", s.DynamicSpeed.Enabled),
			logx.Float64("scheduler.off_peak_multiplier", s.DynamicSpeed.OffPeakMultiplier),
			logx.String("scheduler.auto_restart", strings.TrimSpace(s.AutoRestart)),
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pacing, newCfg.Pacing) {
		changed = append(changed, "pacing")
		p := newCfg.Pacing
		attrs = append(attrs,
			logx.Int("pacing.session_limit", p.SessionLimit),
			logx.Bool("pacing.windows", p.Windows.Enabled),
			logx.Int("pacing.window_ranges", len(p.Windows.Ranges)),
			logx.String("pacing.timezone", strings.TrimSpace(p.Windows.Timezone)),
			logx.Bool("pacing.breaks", p.Break.Enabled),
			logx.Int("pacing.actions_before_break", p.Break.ActionsBeforeBreak),
			logx.Bool("pacing.distractions", p.Distraction.Enabled),
			logx.Bool("pacing.network_outage", p.Outage.Enabled),
			logx.String("pacing.cooldown", strings.TrimSpace(p.Cooldown)),
		)
	}

	// Nil means disabled.
	var oStore, nStore StorageConfig
	if oldCfg.Storage != nil {
		oStore = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nStore = *newCfg.Storage
	}
	if oStore != nStore {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nStore.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nStore.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nStore.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Chains, newCfg.Chains) {
		changed = append(changed, "chains")
		attrs = append(attrs, logx.Int("chains.count", len(newCfg.Chains)))
	}
	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Tasks, newCfg.Tasks) {
		changed = append(changed, "tasks")
		attrs = append(attrs, logx.Int("tasks.count", len(newCfg.Tasks)))
	}

	sort.Strings(changed)
	return changed, attrs
}
