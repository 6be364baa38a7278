package config

// Config is the on-disk configuration. JSON and YAML share these tags.
//
// All durations are Go duration strings (e.g. "500ms", "45s", "10m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Alerts    AlertsConfig    `json:"alerts"`
	Engine    EngineConfig    `json:"engine"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Pacing    PacingConfig    `json:"pacing"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Systemd   SystemdConfig   `json:"systemd"`
	Debug     DebugConfig     `json:"debug"`

	// Chains maps a job name to one-time job names seeded, per result item,
	// after each successful firing.
	Chains map[string][]string `json:"chains,omitempty"`

	// Tasks are started when the process starts.
	Tasks []TaskConfig `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards log lines at or above MinLevel to the alert sender.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type AlertsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// EngineConfig controls the single-flight executor.
//
// Defaults: queue_size 64, default_timeout "0s" (disabled), history_size 200.
type EngineConfig struct {
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// DelayRange is a [min, max] pair of duration strings.
type DelayRange struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

type SchedulerConfig struct {
	// Delays are per-name recurring interval bounds; default 30s..60s.
	Delays map[string]DelayRange `json:"delays,omitempty"`
	// OneTimeDelays are per-name first-fire delays for one-time jobs; default 2s..8s.
	OneTimeDelays map[string]DelayRange `json:"one_time_delays,omitempty"`

	DefaultDelay     *DelayRange `json:"default_delay,omitempty"`
	RecurringInitial *DelayRange `json:"recurring_initial,omitempty"`
	OneTimeInitial   *DelayRange `json:"one_time_initial,omitempty"`

	// Timeout bounds one firing. Empty disables it.
	Timeout string `json:"timeout,omitempty"`

	DynamicSpeed DynamicSpeedConfig `json:"dynamic_speed"`

	// AutoRestart restarts the session on a cron ("0 6 * * *") or interval ("24h") schedule.
	AutoRestart string `json:"auto_restart,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
}

type DynamicSpeedConfig struct {
	Enabled           bool    `json:"enabled"`
	OffPeakMultiplier float64 `json:"off_peak_delay_multiplier"`
}

type PacingConfig struct {
	SessionLimit int               `json:"session_limit"`
	Windows      WindowsConfig     `json:"activity_windows"`
	Break        BreakConfig       `json:"breaks"`
	Distraction  DistractionConfig `json:"distractions"`
	Fatigue      FatigueConfig     `json:"fatigue"`
	Outage       OutageConfig      `json:"network_outage"`
	// Cooldown applies after a block signal. Default "10m"; "0s" keeps the default.
	Cooldown string `json:"cooldown,omitempty"`
}

type WindowsConfig struct {
	Enabled  bool          `json:"enabled"`
	Ranges   []RangeConfig `json:"ranges,omitempty"`
	Timezone string        `json:"timezone,omitempty"`
}

type RangeConfig struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type BreakConfig struct {
	Enabled            bool   `json:"enabled"`
	ActionsBeforeBreak int    `json:"actions_before_break"`
	MinDuration        string `json:"min_duration"`
	MaxDuration        string `json:"max_duration"`
}

type DistractionConfig struct {
	Enabled     bool   `json:"enabled"`
	MinActions  int    `json:"min_actions"`
	MaxActions  int    `json:"max_actions"`
	MinDuration string `json:"min_duration"`
	MaxDuration string `json:"max_duration"`
}

type FatigueConfig struct {
	Threshold  int     `json:"threshold"`
	Multiplier float64 `json:"multiplier"`
}

type OutageConfig struct {
	Enabled     bool   `json:"enabled"`
	MinInterval string `json:"min_interval"`
	MaxInterval string `json:"max_interval"`
	MinDuration string `json:"min_duration"`
	MaxDuration string `json:"max_duration"`
}

// StorageConfig controls the optional action history store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pacer.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SystemdConfig struct {
	// Notify sends READY/STOPPING and watchdog pings when running under systemd.
	Notify bool `json:"notify"`
}

// DebugConfig controls the operator HTTP endpoint (/status, /healthz,
// /debug/pprof/). Binding beyond loopback requires a token unless
// allow_insecure is set.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// TaskConfig is a job started at boot. Kind is "recurring" (default) or "once".
type TaskConfig struct {
	Name    string         `json:"name"`
	Kind    string         `json:"kind,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}
