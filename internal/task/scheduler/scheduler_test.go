package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "relaybot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		cron     string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, cron: "*/5 * * * *"},
		{name: "descriptor", raw: "@daily", kind: SpecCron, cron: "@daily"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, cron: "0 0 * * *"},
		{name: "duration", raw: "10m", kind: SpecInterval, duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, duration: 45 * time.Second},
		{name: "hhmm", raw: "24:00", kind: SpecInterval, duration: 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if tt.kind == SpecCron && got.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.cron)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "00:00", "01:75", "interval:-5m"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestScheduleFiresOnce(t *testing.T) {
	s := New(Config{}, logx.Nop())
	var n atomic.Int32
	done := make(chan struct{}, 2)
	h := s.Schedule("poll:1", 10*time.Millisecond, func(ctx context.Context) error {
		n.Add(1)
		done <- struct{}{}
		return nil
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timer did not fire")
	}
	time.Sleep(30 * time.Millisecond)
	if got := n.Load(); got != 1 {
		t.Fatalf("fired %d times, want 1", got)
	}
	if got := s.Snapshot().TimersWithPrefix("poll:1"); len(got) != 0 {
		t.Fatalf("timer still armed after fire: %+v", got)
	}
	if s.Cancel(h) {
		t.Fatalf("cancel after fire should be a no-op")
	}
}

func TestCancelPreventsRun(t *testing.T) {
	s := New(Config{}, logx.Nop())
	var ran atomic.Bool
	h := s.Schedule("poll:2", 50*time.Millisecond, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if !s.Cancel(h) {
		t.Fatalf("expected cancel to remove pending timer")
	}
	if s.Cancel(h) {
		t.Fatalf("second cancel should be a no-op")
	}
	time.Sleep(120 * time.Millisecond)
	if ran.Load() {
		t.Fatalf("cancelled task ran")
	}
}

func TestRescheduleReplacesTimer(t *testing.T) {
	s := New(Config{}, logx.Nop())
	var first, second atomic.Bool
	old := s.Schedule("same", 40*time.Millisecond, func(ctx context.Context) error { first.Store(true); return nil })
	s.Schedule("same", 10*time.Millisecond, func(ctx context.Context) error { second.Store(true); return nil })
	if s.Cancel(old) {
		t.Fatalf("stale handle must not cancel the replacement")
	}
	time.Sleep(120 * time.Millisecond)
	if first.Load() || !second.Load() {
		t.Fatalf("first=%v second=%v, want only the replacement to run", first.Load(), second.Load())
	}
}

func TestStopStartRearmsTimers(t *testing.T) {
	s := New(Config{}, logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	var ran atomic.Bool
	s.Schedule("paused", 30*time.Millisecond, func(ctx context.Context) error { ran.Store(true); return nil })
	s.Stop(ctx)
	time.Sleep(60 * time.Millisecond)
	if ran.Load() {
		t.Fatalf("timer ran while stopped")
	}
	if got := s.Snapshot().TimersWithPrefix("pau"); len(got) != 1 || got[0].Name != "paused" {
		t.Fatalf("timers = %+v, want paused", got)
	}
	s.Start(ctx)
	defer s.Stop(ctx)
	deadline := time.Now().Add(2 * time.Second)
	for !ran.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !ran.Load() {
		t.Fatalf("timer did not run after Start")
	}
}

func TestRunRecoversPanicAndRecordsHistory(t *testing.T) {
	s := New(Config{HistorySize: 2}, logx.Nop())
	if _, err := s.AddCron("boom", "@daily", time.Second, func(ctx context.Context) error { panic("boom") }); err != nil {
		t.Fatalf("AddCron: %v", err)
	}
	if err := s.RunNow(context.Background(), "boom"); err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	_, _ = s.AddInterval("ok", time.Hour, 0, func(ctx context.Context) error { return nil })
	_ = s.RunNow(context.Background(), "ok")
	_ = s.RunNow(context.Background(), "ok")

	snap := s.Snapshot()
	if len(snap.History) != 2 {
		t.Fatalf("history len = %d, want 2", len(snap.History))
	}
	if len(snap.Schedules) != 2 || snap.Schedules[0].Name != "boom" {
		t.Fatalf("schedules = %+v, want boom first", snap.Schedules)
	}
	last, ok := snap.LastRun("ok")
	if !ok || last.Error != "" {
		t.Fatalf("last ok run = %+v, %v", last, ok)
	}
	if _, ok := snap.LastRun("boom"); ok {
		t.Fatalf("boom run should have been evicted from history")
	}
}

func TestRunNowTimeout(t *testing.T) {
	s := New(Config{}, logx.Nop())
	_, _ = s.AddCron("slow", "@hourly", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := s.RunNow(context.Background(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestAddCronRejectsBadSpec(t *testing.T) {
	s := New(Config{}, logx.Nop())
	if _, err := s.AddCron("bad", "61 * * * *", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected invalid cron error")
	}
	if s.Remove("bad") {
		t.Fatalf("nothing should have been registered")
	}
}
