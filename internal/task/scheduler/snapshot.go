package scheduler

import (
	"slices"
	"strings"
	"time"
)

// Snapshot reports registered schedules, armed timers and recent runs. Timers
// are ordered by fire time and schedules by name.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	tz := s.cfg.Timezone
	defs := slices.Clone(s.defs)
	c, loc := s.c, s.loc
	s.mu.Unlock()

	if tz == "" && loc != nil {
		tz = loc.String()
	}
	if tz == "" {
		tz = time.UTC.String()
	}

	snap := Snapshot{Timezone: tz}
	for _, d := range defs {
		it := ScheduleInfo{ID: d.id, Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	slices.SortFunc(snap.Schedules, func(a, b ScheduleInfo) int { return strings.Compare(a.Name, b.Name) })

	s.tmu.Lock()
	for name, d := range s.once {
		snap.Timers = append(snap.Timers, TimerInfo{Name: name, At: d.at})
	}
	s.tmu.Unlock()
	slices.SortFunc(snap.Timers, func(a, b TimerInfo) int { return a.At.Compare(b.At) })

	s.hmu.Lock()
	snap.History = slices.Clone(s.history)
	s.hmu.Unlock()
	return snap
}

// TimersWithPrefix returns the armed timers whose name starts with prefix,
// e.g. "poll:".
func (s Snapshot) TimersWithPrefix(prefix string) []TimerInfo {
	var out []TimerInfo
	for _, t := range s.Timers {
		if strings.HasPrefix(t.Name, prefix) {
			out = append(out, t)
		}
	}
	return out
}

// LastRun returns the most recent recorded run of name.
func (s Snapshot) LastRun(name string) (HistoryItem, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Name == name {
			return s.History[i], true
		}
	}
	return HistoryItem{}, false
}
