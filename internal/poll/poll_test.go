package poll_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"relaybot/internal/broadcast"
	"relaybot/internal/errs"
	"relaybot/internal/poll"
	"relaybot/internal/task/scheduler"
	logx "relaybot/pkg/logx"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent []string
	from []string
	done chan struct{}
}

func (f *fakePublisher) Broadcast(_ context.Context, text, sender string, _ []string) (broadcast.Result, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.from = append(f.from, sender)
	f.mu.Unlock()
	if f.done != nil {
		f.done <- struct{}{}
	}
	return broadcast.Result{Total: 3, Delivered: 3}, nil
}

var base = time.Date(2030, 1, 31, 12, 0, 0, 0, time.UTC)

func TestCalcDue(t *testing.T) {
	cases := []struct {
		spec string
		want time.Time
		err  bool
	}{
		{spec: "+00:01", want: base.Add(time.Minute)},
		{spec: "+01:30", want: base.Add(90 * time.Minute)},
		{spec: "18:00", want: time.Date(2030, 1, 31, 18, 0, 0, 0, time.UTC)},
		{spec: "2030-02-01 09:15", want: time.Date(2030, 2, 1, 9, 15, 0, 0, time.UTC)},
		{spec: "2030-02-01   09:15", want: time.Date(2030, 2, 1, 9, 15, 0, 0, time.UTC)},
		{spec: "11:59", err: true},
		{spec: "12:00", err: true},
		{spec: "+00:00", err: true},
		{spec: "+00:75", err: true},
		{spec: "25:00", err: true},
		{spec: "2029-12-31 23:00", err: true},
		{spec: "tomorrow", err: true},
	}
	for _, tc := range cases {
		t.Run(tc.spec, func(t *testing.T) {
			got, err := poll.CalcDue(tc.spec, base)
			if tc.err {
				gt.Bool(t, errors.Is(err, errs.ErrValidation)).True()
				return
			}
			gt.NoError(t, err).Required()
			gt.Value(t, got).Equal(tc.want)
		})
	}
}

func newManager(pub poll.Publisher) (*poll.Manager, *scheduler.Service) {
	sch := scheduler.New(scheduler.Config{}, logx.Nop())
	m := poll.NewManager(poll.Config{Owner: "relaybot", Contact: "+bot"}, pub, sch, logx.Nop())
	return m, sch
}

func TestCreateValidates(t *testing.T) {
	m, _ := newManager(&fakePublisher{})
	_, err := m.Create("Pizza?", []string{"yes"}, "+00:01")
	gt.Bool(t, errors.Is(err, errs.ErrValidation)).True()
	_, err = m.Create("", []string{"yes", "no"}, "+00:01")
	gt.Bool(t, errors.Is(err, errs.ErrValidation)).True()
	_, err = m.Create("Pizza?", []string{"yes", "no"}, "yesterday")
	gt.Bool(t, errors.Is(err, errs.ErrValidation)).True()
	_, ok := m.Latest()
	gt.Bool(t, ok).False()
}

func TestVoteTallyInvariants(t *testing.T) {
	m, _ := newManager(&fakePublisher{})
	p, err := m.Create("Pizza?", []string{"yes", "no"}, "+00:01")
	gt.NoError(t, err).Required()
	gt.Value(t, p.Tally).Equal([]int{0, 0})
	defer m.Cancel(p.ID)

	_, err = m.Vote(p.ID, "+1", 0)
	gt.NoError(t, err).Required()
	_, err = m.Vote(p.ID, "+2", 0)
	gt.NoError(t, err).Required()
	got, err := m.Vote(p.ID, "+1", 1)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Tally).Equal([]int{1, 1})
	gt.Number(t, got.Voters()).Equal(2)

	got, err = m.Vote(p.ID[:8], "+1", 1)
	gt.NoError(t, err).Required()
	gt.Value(t, got.Tally).Equal([]int{1, 1})

	_, err = m.Vote(p.ID, "+3", 2)
	gt.Bool(t, errors.Is(err, errs.ErrIndex)).True()
	_, err = m.Vote(p.ID, "+3", -1)
	gt.Bool(t, errors.Is(err, errs.ErrIndex)).True()
	_, err = m.Vote("nope", "+3", 0)
	gt.Bool(t, errors.Is(err, errs.ErrNotFound)).True()

	cur, ok := m.Latest()
	gt.Bool(t, ok).True()
	sum := 0
	for _, n := range cur.Tally {
		sum += n
	}
	gt.Number(t, sum).Equal(cur.Voters())
}

func TestTimerPublishesOnceAndRemoves(t *testing.T) {
	pub := &fakePublisher{done: make(chan struct{}, 2)}
	m, _ := newManager(pub)
	// Create at base and then let the clock jump so the timer delay is tiny.
	m.SetClock(func() time.Time { return time.Now().Add(-time.Minute + 20*time.Millisecond) })
	p, err := m.Create("Pizza?", []string{"yes", "no"}, "+00:01")
	gt.NoError(t, err).Required()
	_, err = m.Vote(p.ID, "+1", 0)
	gt.NoError(t, err).Required()

	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("results were not published")
	}
	_, err = m.Vote(p.ID, "+2", 1)
	gt.Bool(t, errors.Is(err, errs.ErrNotFound)).True()

	_, err = m.Publish(context.Background(), p.ID)
	gt.Bool(t, errors.Is(err, errs.ErrNotFound)).True()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	gt.Array(t, pub.sent).Length(1)
	gt.Value(t, pub.from[0]).Equal("+bot")
	gt.Value(t, pub.sent[0]).Equal("Poll results: Pizza?\n1. yes: 1 vote\n2. no: 0 votes")
}

func TestCancelStopsPublish(t *testing.T) {
	pub := &fakePublisher{}
	m, sch := newManager(pub)
	m.SetClock(func() time.Time { return time.Now().Add(-time.Minute + 30*time.Millisecond) })
	p, err := m.Create("Pizza?", []string{"yes", "no"}, "+00:01")
	gt.NoError(t, err).Required()
	gt.Bool(t, m.Cancel(p.ID)).True()
	gt.Bool(t, m.Cancel(p.ID)).False()
	time.Sleep(100 * time.Millisecond)
	gt.Array(t, pub.sent).Length(0)
	gt.Array(t, sch.Snapshot().Timers).Length(0)
}

func TestLatest(t *testing.T) {
	m, _ := newManager(&fakePublisher{})
	_, ok := m.Latest()
	gt.Bool(t, ok).False()
	a, _ := m.Create("A?", []string{"x", "y"}, "+01:00")
	b, _ := m.Create("B?", []string{"x", "y"}, "+00:30")
	defer m.Cancel(a.ID)
	defer m.Cancel(b.ID)
	got, ok := m.Latest()
	gt.Bool(t, ok).True()
	gt.Value(t, got.ID).Equal(b.ID)
}
