package scheduler

import (
	"sort"
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	snap := Snapshot{
		Closed:      s.closed,
		Timezone:    loc.String(),
		AutoRestart: s.cfg.AutoRestart,
		Jobs:        make([]JobInfo, 0, len(s.jobs)),
	}
	if s.c != nil && s.entry != 0 {
		snap.NextRestart = s.c.Entry(s.entry).Next
	}
	for _, h := range s.halted {
		snap.Halted = append(snap.Halted, h.name)
	}
	for _, j := range s.jobs {
		info := JobInfo{ID: j.key, Name: j.name, Kind: j.kind.String(), Interval: j.interval, Running: j.running, Firings: j.firings}
		if j.timer != nil {
			info.Next = j.next
		}
		snap.Jobs = append(snap.Jobs, info)
	}
	sort.Slice(snap.Jobs, func(a, b int) bool { return snap.Jobs[a].ID < snap.Jobs[b].ID })
	return snap
}
