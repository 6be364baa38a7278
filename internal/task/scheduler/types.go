package scheduler

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"pacer/internal/action"
	"pacer/internal/dispatch"
	"pacer/internal/eventbus"
	"pacer/internal/task/engine"
	logx "pacer/pkg/logx"
)

// Bounds is an inclusive [Min, Max] range to sample a delay from.
type Bounds struct {
	Min time.Duration
	Max time.Duration
}

func (b Bounds) IsZero() bool { return b.Min <= 0 && b.Max <= 0 }

// Config controls job timing.
type Config struct {
	// Delays holds per-name recurring interval bounds. Unknown names use Default.
	Delays map[string]Bounds
	// OneTimeDelays holds per-name initial delays for one-time jobs.
	OneTimeDelays map[string]Bounds

	Default          Bounds // default 30s..60s
	RecurringInitial Bounds // default 2s..5s
	OneTimeInitial   Bounds // default 2s..8s

	// Timeout bounds one firing in the executor. 0 disables it.
	Timeout time.Duration

	// AutoRestart periodically restarts the pacing session and resumes jobs
	// stopped by a session halt. Cron ("0 6 * * *") or interval ("24h").
	AutoRestart string
	// Timezone for AutoRestart when the pacer has no location of its own.
	Timezone string
}

var (
	DefaultInterval         = Bounds{Min: 30 * time.Second, Max: 60 * time.Second}
	DefaultRecurringInitial = Bounds{Min: 2 * time.Second, Max: 5 * time.Second}
	DefaultOneTimeInitial   = Bounds{Min: 2 * time.Second, Max: 8 * time.Second}
)

func (c Config) withDefaults() Config {
	if c.Default.IsZero() {
		c.Default = DefaultInterval
	}
	if c.RecurringInitial.IsZero() {
		c.RecurringInitial = DefaultRecurringInitial
	}
	if c.OneTimeInitial.IsZero() {
		c.OneTimeInitial = DefaultOneTimeInitial
	}
	return c
}

// Executor accepts firings. *engine.Service implements it.
type Executor interface {
	Submit(ctx context.Context, t engine.Task) error
}

// Pacer is the part of the pacing controller the scheduler needs.
type Pacer interface {
	OffPeakMultiplier() float64
	StartSession()
	Location() *time.Location
	LimitReached() bool
}

type job struct {
	key  string // name for recurring jobs, id for one-time jobs
	name string
	kind dispatch.Kind
	opts action.Options

	bounds Bounds

	ctx    context.Context
	cancel context.CancelFunc

	timer    *time.Timer
	ver      uint64
	next     time.Time
	interval time.Duration
	running  bool
	firings  uint64
}

type haltedJob struct {
	name string
	opts action.Options
}

type Service struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	exec    Executor
	handler dispatch.Handler
	pacer   Pacer

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	jobs   map[string]*job
	halted []haltedJob

	rngMu sync.Mutex
	rng   *rand.Rand

	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location
	entry  cron.EntryID

	// Enqueue error throttling: key is job name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// JobInfo describes one live job.
type JobInfo struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Kind     string        `json:"kind"`
	Next     time.Time     `json:"next,omitempty"`
	Interval time.Duration `json:"interval,omitempty"`
	Running  bool          `json:"running"`
	Firings  uint64        `json:"firings"`
}

type Snapshot struct {
	Closed      bool      `json:"closed"`
	Timezone    string    `json:"timezone"`
	AutoRestart string    `json:"auto_restart,omitempty"`
	NextRestart time.Time `json:"next_restart,omitempty"`
	Halted      []string  `json:"halted,omitempty"`
	Jobs        []JobInfo `json:"jobs"`
}
