package pacing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "pacer/pkg/logx"
)

// TimeRange is a half-open [Start, End) span of minutes since midnight.
// Start > End wraps midnight.
type TimeRange struct {
	Start int
	End   int
}

// Contains reports whether t's wall clock falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	m := t.Hour()*60 + t.Minute()
	if r.Start < r.End {
		return m >= r.Start && m < r.End
	}
	return m >= r.Start || m < r.End
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", r.Start/60, r.Start%60, r.End/60, r.End%60)
}

// ParseRange parses a pair of "HH:MM" bounds.
func ParseRange(start, end string) (TimeRange, error) {
	s, err := parseClock(start)
	if err != nil {
		return TimeRange{}, fmt.Errorf("start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return TimeRange{}, fmt.Errorf("end: %w", err)
	}
	if s == e {
		return TimeRange{}, fmt.Errorf("empty range %s-%s", start, end)
	}
	return TimeRange{Start: s, End: e}, nil
}

func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// window is the compiled form of WindowConfig.
type window struct {
	enabled bool
	ranges  []TimeRange
	loc     *time.Location
}

// compileWindow drops invalid ranges and falls back to the local clock on a bad
// timezone. A window left with no valid ranges imposes no restriction.
func compileWindow(cfg WindowConfig, log logx.Logger) window {
	w := window{enabled: cfg.Enabled, loc: time.Local}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			log.Warn("invalid timezone; using local time", logx.String("tz", tz), logx.Err(err))
		} else {
			w.loc = loc
		}
	}
	if !cfg.Enabled {
		return w
	}
	for _, rs := range cfg.Ranges {
		r, err := ParseRange(rs.Start, rs.End)
		if err != nil {
			log.Warn("activity window skipped", logx.String("start", rs.Start), logx.String("end", rs.End), logx.Err(err))
			continue
		}
		w.ranges = append(w.ranges, r)
	}
	if len(w.ranges) == 0 {
		log.Warn("no valid activity windows; activity is not time-restricted")
		w.enabled = false
	}
	return w
}

func (w window) contains(now time.Time) bool {
	if !w.enabled {
		return true
	}
	local := now.In(w.loc)
	for _, r := range w.ranges {
		if r.Contains(local) {
			return true
		}
	}
	return false
}
