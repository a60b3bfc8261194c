package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "relaybot/pkg/logx"
)

var onceSeq uint64

// Schedule arms a one-shot timer that runs task after delay. Scheduling under a
// name that is already armed replaces the previous timer. An empty name gets a
// generated one.
func (s *Service) Schedule(name string, delay time.Duration, task Task) Handle {
	return s.ScheduleTimeout(name, delay, 0, task)
}

// ScheduleTimeout is Schedule with a per-run timeout (0 uses the default).
func (s *Service) ScheduleTimeout(name string, delay, timeout time.Duration, task Task) Handle {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("once:%d", atomic.AddUint64(&onceSeq, 1))
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	_ = s.removeScheduleLocked(name)
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if prev, ok := s.once[name]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	// bump version to ignore stale callbacks from previously armed timers
	s.verSeq++
	d := &onceDef{at: time.Now().Add(delay), timeout: timeout, job: task, ver: s.verSeq}
	s.once[name] = d
	if !s.paused {
		s.armLocked(name, d)
	}
	s.log.Debug("timer armed", logx.String("name", name), logx.Duration("delay", delay))
	return Handle{Name: name, ver: d.ver}
}

// armLocked starts the runtime timer for d. Call with s.tmu held.
func (s *Service) armLocked(name string, d *onceDef) {
	delay := time.Until(d.at)
	if delay < 0 {
		delay = 0
	}
	ver := d.ver
	d.timer = time.AfterFunc(delay, func() {
		// If the timer was cancelled or replaced, ignore this callback.
		s.tmu.Lock()
		cur, ok := s.once[name]
		if !ok || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.once, name)
		s.tmu.Unlock()

		s.run(name, cur.timeout, cur.job)
	})
}

// Cancel disarms the timer h refers to. It reports whether a pending timer was
// removed; cancelling a fired, cancelled or replaced timer is a no-op.
func (s *Service) Cancel(h Handle) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[h.Name]
	if !ok || d.ver != h.ver {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, h.Name)
	s.log.Debug("timer cancelled", logx.String("name", h.Name))
	return true
}

// AddSchedule parses schedule and registers either a cron or interval task.
//
// Supported schedule formats:
//   - Cron: "*/5 * * * *", "55 * * * *", "@daily", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Task) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	switch ps.Kind {
	case SpecCron:
		return s.AddCron(name, ps.Cron, timeout, job)
	case SpecInterval:
		return s.AddInterval(name, ps.Every, timeout, job)
	default:
		return "", fmt.Errorf("unsupported schedule kind")
	}
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Task) (string, error) {
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return s.addDef("cron", name, spec, timeout, job)
}

func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job Task) (string, error) {
	if every <= 0 {
		return "", errors.New("interval must be > 0")
	}
	return s.addDef("interval", name, fmt.Sprintf("@every %s", every.String()), timeout, job)
}

func (s *Service) addDef(kind, name, spec string, timeout time.Duration, job Task) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("name required")
	}
	s.removeOnce(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so repeated registrations across reloads don't duplicate.
	_ = s.removeScheduleLocked(name)
	d := scheduleDef{
		id:      fmt.Sprintf("%s:%d", kind, time.Now().UnixNano()),
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		running: &runGate{},
	}
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Not started yet: registered when Start runs.
		return name, nil
	}
	err := s.addCronLocked(&s.defs[len(s.defs)-1])
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", spec), logx.Err(err))
		return name, err
	}
	args := []logx.Field{logx.String("name", name), logx.String("spec", spec), logx.Duration("timeout", timeout)}
	if next := s.previewNextRunsLocked(spec, 3); next != "" {
		args = append(args, logx.String("next", next))
	}
	s.log.Debug("schedule registered", args...)
	return name, nil
}

// Remove unschedules everything registered under name.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	removed = s.removeOnce(name) || removed
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d, ok := s.once[name]
	if !ok {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

// removeScheduleLocked removes all defs matching name and unregisters them from
// cron if running. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, job, gate := d.name, d.timeout, d.job, d.running
	fn := cron.FuncJob(func() {
		if !gate.tryAcquire() {
			s.log.Debug("schedule trigger skipped; previous run in flight", logx.String("schedule", name))
			return
		}
		defer gate.release()
		s.run(name, timeout, job)
	})

	// Only @every schedules get a first-run offset; cron specs keep wall-clock times.
	spec := strings.TrimSpace(d.spec)
	if strings.HasPrefix(spec, "@every") {
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every")))
		if err == nil && every > 0 {
			sched, jitter := everyWithOffset(every, time.Now().In(s.loc), d.name)
			d.firstOffset = jitter
			d.entryID = s.c.Schedule(sched, fn)
			return nil
		}
	}

	d.firstOffset = 0
	eid, err := s.c.AddJob(spec, fn)
	if err == nil {
		d.entryID = eid
	}
	return err
}

// previewNextRunsLocked returns a short list of upcoming run times for spec.
// Call with s.mu held.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) || n <= 0 {
		return ""
	}
	loc := s.loc
	if loc == nil {
		loc = s.loadLocationLocked()
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(loc)
	var b strings.Builder
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

// RunNow runs the schedule registered under name synchronously, outside cron.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	var job Task
	var timeout time.Duration
	for _, d := range s.defs {
		if d.name == name {
			job, timeout = d.job, d.timeout
			break
		}
	}
	s.mu.Unlock()
	if job == nil {
		return fmt.Errorf("schedule %q not found", name)
	}
	return s.runCtx(ctx, name, timeout, job)
}
