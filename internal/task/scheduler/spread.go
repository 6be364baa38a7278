package scheduler

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	maxStartupSpread = 30 * time.Second
	maxJitter        = 10 * time.Second
	minWidening      = 10 * time.Second
	minInterval      = time.Second
)

// startupSpreadSchedule wraps a base schedule and overrides the first run time.
// After the first run, it delegates to the base schedule.
type startupSpreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *startupSpreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq uint64

// newRand seeds independently per instance so processes started together do
// not share one sequence.
func newRand(tag string) *rand.Rand {
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSeq, 1)) ^ int64(fnv64a(tag))
	return rand.New(rand.NewSource(seed))
}

func makeIntervalScheduleWithSpread(every time.Duration, now time.Time, rng *rand.Rand) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	spreadMax := min(every, maxStartupSpread)
	if spreadMax <= 0 {
		return base, 0
	}
	// cron.Every works in whole seconds.
	jitter := time.Duration(rng.Int63n(int64(spreadMax))).Truncate(time.Second)
	first := now.Add(every + jitter)
	return &startupSpreadSchedule{base: base, first: first}, jitter
}

// uniform returns a duration in [lo, hi]. Bounds are swapped when inverted.
func uniform(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo < 0 {
		lo = 0
	}
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int63n(int64(hi-lo)+1))
}

// sampleInterval picks the wait before the next recurring firing. A collapsed
// range is widened to keep some variance, the off-peak multiplier stretches
// the base, and jitter of up to 10% (capped at 10s) is added on top.
func sampleInterval(rng *rand.Rand, b Bounds, multiplier float64) time.Duration {
	lo, hi := b.Min, b.Max
	if lo >= hi {
		hi = lo + max(minWidening, lo/10)
	}
	d := uniform(rng, lo, hi)
	if multiplier > 1 {
		d = time.Duration(float64(d) * multiplier)
	}
	d = max(d, minInterval)
	return d + uniform(rng, 0, min(maxJitter, d/10))
}

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
