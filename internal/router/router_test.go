package router_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"relaybot/internal/activity"
	"relaybot/internal/broadcast"
	"relaybot/internal/eventbus"
	"relaybot/internal/lang"
	"relaybot/internal/poll"
	"relaybot/internal/router"
	"relaybot/internal/secret"
	"relaybot/internal/storage"
	"relaybot/internal/subscriber"
	"relaybot/internal/task/scheduler"
	"relaybot/internal/translate"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

const botContact = "+999"

type fakeTranslator struct {
	mu   sync.Mutex
	fail bool
}

func (f *fakeTranslator) Translate(_ context.Context, text, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("mirror down")
	}
	return fmt.Sprintf("[%s] %s", target, text), nil
}

type sent struct{ to, body string }

type fakeDeliverer struct {
	mu   sync.Mutex
	msgs []sent
	hook chan sent
}

func (f *fakeDeliverer) Deliver(_ context.Context, to, body string, _ []string) (string, error) {
	f.mu.Lock()
	f.msgs = append(f.msgs, sent{to: to, body: body})
	n := len(f.msgs)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook <- sent{to: to, body: body}
	}
	return fmt.Sprintf("id-%d", n), nil
}

func (f *fakeDeliverer) to(contact string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.msgs {
		if m.to == contact {
			out = append(out, m.body)
		}
	}
	return out
}

func (f *fakeDeliverer) reset() {
	f.mu.Lock()
	f.msgs = nil
	f.mu.Unlock()
}

type harness struct {
	subs  *subscriber.Store
	act   *activity.Log
	out   *fakeDeliverer
	tr    *fakeTranslator
	polls *poll.Manager
	sched *scheduler.Service
	bus   eventbus.Bus
	r     *router.Router
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	env := map[string]string{"RELAYBOT_KEY_SUBSCRIBERS": secret.Encode(bytes.Repeat([]byte{7}, secret.KeySize))}
	keys := secret.NewEnvStore(func(k string) (string, bool) { v, ok := env[k]; return v, ok })

	langs := lang.New([]translate.Language{{Code: "en", Name: "English"}, {Code: "es", Name: "Spanish"}, {Code: "fr", Name: "French"}}, nil, logx.Nop())
	vault := subscriber.NewVault(filepath.Join(dir, "subs.enc"), filepath.Join(dir, "subs.bak"), keys, "subscribers", logx.Nop())
	subs := subscriber.New(vault, langs, logx.Nop())
	gt.NoError(t, subs.Load(ctx)).Required()
	gt.NoError(t, subs.Seed(ctx, subscriber.Subscriber{Contact: "+100", Name: "ada", Lang: "en", Role: subscriber.RoleAdmin})).Required()
	gt.NoError(t, subs.Seed(ctx, subscriber.Subscriber{Contact: "+200", Name: "ben", Lang: "es", Role: subscriber.RoleUser})).Required()

	act := activity.New(storage.NewMemory(), activity.Options{Filter: router.Countable("#")}, logx.Nop())
	tr := &fakeTranslator{}
	out := &fakeDeliverer{}
	bc := broadcast.New(broadcast.Config{RatePerSec: 1000}, subs, tr, out, logx.Nop())

	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	sched.Start(ctx)
	t.Cleanup(func() { sched.Stop(context.Background()) })
	polls := poll.NewManager(poll.Config{Owner: "test", Contact: botContact}, bc, sched, logx.Nop())

	bus := eventbus.New()
	r := router.New(router.Config{Contact: botContact}, router.Deps{
		Subscribers: subs,
		Activity:    act,
		Broadcaster: bc,
		Polls:       polls,
		Lang:        langs,
		Translator:  tr,
		Events:      bus,
	}, logx.Nop())
	return &harness{subs: subs, act: act, out: out, tr: tr, polls: polls, sched: sched, bus: bus, r: r}
}

func (h *harness) send(from, body string) (string, bool) {
	return h.r.Handle(context.Background(), transport.Envelope{From: from, Body: body})
}

func TestAddRemoveBroadcastScenario(t *testing.T) {
	h := newHarness(t)

	reply, ok := h.send("+100", "/add +300 C3 fr user")
	gt.Bool(t, ok).True()
	gt.Value(t, reply).Equal(lang.MsgAdded.English())
	c, found := h.subs.Get("+300")
	gt.Bool(t, found).True()
	gt.Value(t, c.Name).Equal("C3")

	reply, _ = h.send("+100", "/remove +300")
	gt.Value(t, reply).Equal(lang.MsgRemoved.English())
	_, found = h.subs.Get("+300")
	gt.Bool(t, found).False()

	reply, ok = h.send("+200", "/remove ada")
	gt.Bool(t, ok).False()
	gt.Value(t, reply).Equal("")
	_, found = h.subs.Get("+100")
	gt.Bool(t, found).True()

	h.out.reset()
	reply, ok = h.send("+100", "hello")
	gt.Bool(t, ok).False()
	gt.Value(t, reply).Equal("")
	gt.Value(t, h.out.to("+200")).Equal([]string{"ada: [es] hello"})
	gt.Array(t, h.out.to("+100")).Length(0)
}

func TestUnknownSenderAndEmptyMessageDropped(t *testing.T) {
	h := newHarness(t)

	_, ok := h.send("+555", "hello")
	gt.Bool(t, ok).False()
	_, ok = h.send("+100", "   ")
	gt.Bool(t, ok).False()
	gt.Array(t, h.out.to("+200")).Length(0)
}

func TestUserCommandsIgnored(t *testing.T) {
	h := newHarness(t)

	for _, body := range []string{"/add +300 C3 fr user", "/list", "/stats 7 days", "/nope", "/LIST"} {
		reply, ok := h.send("+200", body)
		gt.Bool(t, ok).False()
		gt.Value(t, reply).Equal("")
	}
	gt.Array(t, h.out.to("+100")).Length(0)

	reply, ok := h.send("+200", "/test fr hola")
	gt.Bool(t, ok).True()
	gt.Value(t, reply).Equal("fr: [fr] hola\nes: [es] [fr] hola")
}

func TestAddErrorsAreLocalized(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		body string
		want lang.Msg
	}{
		{"/add +100 someone en user", lang.MsgExists},
		{"/add +300 ben en user", lang.MsgNameTaken},
		{"/add +300 C3 xx user", lang.MsgLangErr},
		{"/add +300 C3 fr boss", lang.MsgRoleErr},
		{"/add +300 _C3 fr user", lang.MsgNameReserved},
		{"/add +300 C3 fr super", lang.MsgGrantSuper},
	}
	for _, tc := range cases {
		t.Run(tc.body, func(t *testing.T) {
			reply, ok := h.send("+100", tc.body)
			gt.Bool(t, ok).True()
			if !strings.HasPrefix(reply, tc.want.English()) {
				t.Fatalf("reply=%q want prefix %q", reply, tc.want.English())
			}
		})
	}

	reply, _ := h.send("+100", "/add +300")
	gt.Bool(t, strings.Contains(reply, "/add +12345678900")).True()
	gt.Number(t, h.subs.Len()).Equal(2)
}

func TestRemoveSelfRejected(t *testing.T) {
	h := newHarness(t)

	reply, _ := h.send("+100", "/remove ada")
	gt.Value(t, reply).Equal(lang.MsgRemoveSelf.English())
	reply, _ = h.send("+100", "/remove nobody")
	gt.Value(t, reply).Equal(lang.MsgNotFound.English())
}

func TestEditCommand(t *testing.T) {
	h := newHarness(t)

	reply, _ := h.send("+100", "/edit ben benito fr admin")
	gt.Value(t, reply).Equal(lang.MsgUpdated.English())
	b, _ := h.subs.Get("+200")
	gt.Value(t, b.Name).Equal("benito")
	gt.Value(t, b.Role).Equal(subscriber.RoleAdmin)

	reply, _ = h.send("+100", "/edit benito ada fr admin")
	gt.Value(t, reply).Equal(lang.MsgNameTaken.English())
}

func TestPrivateMessage(t *testing.T) {
	h := newHarness(t)

	_, ok := h.send("+100", "#ben see you")
	gt.Bool(t, ok).False()
	gt.Value(t, h.out.to("+200")).Equal([]string{"ada (private): [es] see you"})

	reply, ok := h.send("+100", "#nobody hi")
	gt.Bool(t, ok).True()
	gt.Value(t, reply).Equal(lang.MsgNotFound.English())

	_, ok = h.send("+100", "#ben")
	gt.Bool(t, ok).False()
}

func TestActivityAndReports(t *testing.T) {
	h := newHarness(t)

	h.send("+100", "hello")
	h.send("+100", "again")
	h.send("+100", "/list")
	h.send("+100", "#ben")
	h.send("+200", "hola")

	reply, _ := h.send("+100", "/stats 1 day")
	gt.Value(t, reply).Equal(lang.MsgStatsHeaders.English() + "\nada, +100, 2\nben, +200, 1")

	reply, _ = h.send("+100", "/stats 7 Days ben")
	gt.Value(t, reply).Equal(lang.MsgStatsHeaders.English() + "\nben, +200, 1")

	reply, _ = h.send("+100", "/stats 7 weeks")
	gt.Bool(t, strings.HasPrefix(reply, lang.MsgStatsErr.English())).True()

	reply, _ = h.send("+100", "/stats 7 days nobody")
	gt.Value(t, reply).Equal(lang.MsgNotFound.English())

	reply, _ = h.send("+100", "/lastpost ben")
	gt.Value(t, reply).Equal(lang.MsgLastPostHeaders.English() + "\nben, +200, " + storage.Day(time.Now()))

	reply, _ = h.send("+100", "/list")
	gt.Bool(t, strings.HasPrefix(reply, lang.MsgListHeaders.English()+"\nada, +100, English, admin")).True()
}

func TestTranslationFailureReported(t *testing.T) {
	h := newHarness(t)
	h.tr.fail = true

	reply, ok := h.send("+100", "hello")
	gt.Bool(t, ok).True()
	gt.Value(t, reply).Equal("mirror down")
}

func TestPollScenario(t *testing.T) {
	h := newHarness(t)
	// Shift the poll clock so a one-minute poll falls due in a few milliseconds.
	h.polls.SetClock(func() time.Time { return time.Now().Add(-time.Minute + 300*time.Millisecond) })

	reply, ok := h.send("+100", `/poll "Pizza?" +00:01 yes no`)
	gt.Bool(t, ok).True()
	gt.Value(t, reply).Equal(lang.MsgPollCreated.English())

	p, open := h.polls.Latest()
	gt.Bool(t, open).True()
	gt.Value(t, p.Options).Equal([]string{"yes", "no"})
	gt.Value(t, p.Tally).Equal([]int{0, 0})
	gt.Array(t, h.out.to("+100")).Length(1)

	reply, _ = h.send("+200", "/vote 1")
	gt.Value(t, reply).Equal(lang.MsgVoteRecorded.English())
	reply, _ = h.send("+200", "/vote 3")
	gt.Value(t, reply).Equal(lang.MsgOptionErr.English())

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, open := h.polls.Latest(); !open && len(h.out.to("+200")) >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("poll results were not published")
		}
		time.Sleep(10 * time.Millisecond)
	}
	results := h.out.to("+200")
	gt.Value(t, results[len(results)-1]).Equal("[es] Poll results: Pizza?\n1. yes: 1 vote\n2. no: 0 votes")
	gt.Array(t, h.out.to("+100")).Length(2)

	reply, _ = h.send("+200", "/vote 1")
	gt.Value(t, reply).Equal(lang.MsgNoPoll.English())
}

func TestPollBadDue(t *testing.T) {
	h := newHarness(t)

	reply, ok := h.send("+100", `/poll "Pizza?" 2001-01-01 10:00 yes no`)
	gt.Bool(t, ok).True()
	gt.Bool(t, strings.HasPrefix(reply, lang.MsgPollDueErr.English())).True()
	_, open := h.polls.Latest()
	gt.Bool(t, open).False()

	reply, _ = h.send("+100", `/poll "Pizza?" +01:00 yes`)
	gt.Bool(t, strings.HasPrefix(reply, lang.MsgPollErr.English())).True()
}

func TestCountable(t *testing.T) {
	count := router.Countable("#")
	cases := map[string]bool{
		"hello":          true,
		"/list":          false,
		"/STATS 1 day":   false,
		"/unknown thing": true,
		"#ben hi":        true,
		"#ben":           false,
		"#":              false,
		"":               true,
	}
	for body, want := range cases {
		if got := count(body); got != want {
			t.Fatalf("Countable(%q)=%v want %v", body, got, want)
		}
	}
}

func TestEventsPublished(t *testing.T) {
	h := newHarness(t)
	ch, unsub := h.bus.Subscribe(8)
	defer unsub()

	h.send("+100", "/add +300 C3 fr user")
	h.send("+100", "/remove C3")
	h.send("+100", "hello")

	var got []eventbus.Event
	for range 3 {
		got = append(got, <-ch)
	}
	gt.Value(t, got[0].Type).Equal(eventbus.SubscriberAdded)
	gt.Value(t, got[0].Subject).Equal("+300")
	gt.Value(t, got[1].Type).Equal(eventbus.SubscriberRemoved)
	gt.Value(t, got[1].Actor).Equal("+100")
	gt.Value(t, got[2].Type).Equal(eventbus.BroadcastFinished)
	gt.Value(t, got[2].Count).Equal(1)
}

func TestTranslationServiceMessageRepliedVerbatim(t *testing.T) {
	h := newHarness(t)
	failing := translate.NewBounded(translate.Func(func(context.Context, string, string) (string, error) {
		return "", errors.New("Too many requests")
	}), time.Second, logx.Nop())
	bc := broadcast.New(broadcast.Config{RatePerSec: 1000}, h.subs, failing, h.out, logx.Nop())
	r := router.New(router.Config{Contact: botContact}, router.Deps{Subscribers: h.subs, Broadcaster: bc}, logx.Nop())

	reply, ok := r.Handle(context.Background(), transport.Envelope{From: "+100", Body: "hello"})
	gt.Bool(t, ok).True()
	gt.Value(t, reply).Equal("Too many requests")
	gt.Array(t, h.out.to("+200")).Length(0)
}

func TestTestUnsupportedLanguageListsChoices(t *testing.T) {
	h := newHarness(t)

	reply, ok := h.send("+100", "/test xx hola")
	gt.Bool(t, ok).True()
	if !strings.HasPrefix(reply, lang.MsgLangErr.English()) {
		t.Fatalf("reply=%q", reply)
	}
	if !strings.HasSuffix(reply, "\nen English\nes Spanish\nfr French") {
		t.Fatalf("reply=%q lacks language list", reply)
	}
}

type brokenStore struct{ storage.Store }

func (brokenStore) All(context.Context) (map[string]storage.Buckets, error) {
	return nil, errors.New("disk gone")
}

func (brokenStore) Buckets(context.Context, string) (storage.Buckets, error) {
	return nil, errors.New("disk gone")
}

func TestActivityFailureRepliesHistoryUnavailable(t *testing.T) {
	h := newHarness(t)
	act := activity.New(brokenStore{storage.NewMemory()}, activity.Options{}, logx.Nop())
	r := router.New(router.Config{Contact: botContact}, router.Deps{Subscribers: h.subs, Activity: act}, logx.Nop())

	for _, body := range []string{"/stats 7 days", "/stats 7 days ben", "/lastpost", "/lastpost ben"} {
		t.Run(body, func(t *testing.T) {
			reply, ok := r.Handle(context.Background(), transport.Envelope{From: "+100", Body: body})
			gt.Bool(t, ok).True()
			gt.Value(t, reply).Equal(lang.MsgLogUnavailable.English())
			gt.Bool(t, strings.Contains(reply, "subscriber")).False()
		})
	}
}
