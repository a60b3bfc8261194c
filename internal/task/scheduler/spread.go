package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

// maxFirstRunOffset bounds how long an @every job waits past its first
// interval. Jobs registered together then do not all fire on the same tick.
const maxFirstRunOffset = 30 * time.Second

// offsetEvery is an @every schedule whose first run is pushed back by a
// stable, name-derived offset.
type offsetEvery struct {
	cron.ConstantDelaySchedule
	first time.Time
}

func (s offsetEvery) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.ConstantDelaySchedule.Next(t)
}

// everyWithOffset returns the schedule and the offset applied. The offset is
// below min(every, maxFirstRunOffset) and the same for the same name.
func everyWithOffset(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	bound := min(every, maxFirstRunOffset)
	if bound <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	offset := time.Duration(h.Sum64() % uint64(bound))
	return offsetEvery{ConstantDelaySchedule: base, first: now.Add(every + offset)}, offset
}
