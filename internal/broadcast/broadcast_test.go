package broadcast_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/m-mizutani/gt"

	"relaybot/internal/broadcast"
	"relaybot/internal/errs"
	"relaybot/internal/subscriber"
	"relaybot/internal/translate"
	logx "relaybot/pkg/logx"
)

type directory []subscriber.Subscriber

func (d directory) List() []subscriber.Subscriber { return d }

type fakeTranslator struct {
	mu    sync.Mutex
	calls map[string]int
	fail  string
}

func (f *fakeTranslator) Translate(_ context.Context, text, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[target]++
	if target == f.fail {
		return "", errors.New("mirror down")
	}
	return fmt.Sprintf("[%s] %s", target, text), nil
}

type delivery struct {
	to, body string
	media    []string
}

type fakeDeliverer struct {
	mu   sync.Mutex
	sent []delivery
	bad  map[string]bool
}

func (f *fakeDeliverer) Deliver(_ context.Context, to, body string, media []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bad[to] {
		return "", errors.New("unreachable")
	}
	f.sent = append(f.sent, delivery{to: to, body: body, media: media})
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

var people = directory{
	{Contact: "+1", Name: "ana", Lang: "es", Role: subscriber.RoleAdmin},
	{Contact: "+2", Name: "ben", Lang: "en", Role: subscriber.RoleUser},
	{Contact: "+3", Name: "cai", Lang: "es", Role: subscriber.RoleUser},
	{Contact: "+4", Name: "dee", Lang: "fr", Role: subscriber.RoleUser},
}

func newService(tr translate.Translator, out broadcast.Deliverer) *broadcast.Service {
	return broadcast.New(broadcast.Config{RatePerSec: 1000}, people, tr, out, logx.Nop())
}

func TestBroadcastTranslatesOncePerLanguageAndSkipsSender(t *testing.T) {
	tr := &fakeTranslator{}
	out := &fakeDeliverer{}
	res, err := newService(tr, out).Broadcast(context.Background(), "hello", "+2", []string{"https://x/y.png"})
	gt.NoError(t, err).Required()

	gt.Value(t, tr.calls).Equal(map[string]int{"es": 1, "fr": 1})
	gt.Array(t, out.sent).Length(3)
	for _, d := range out.sent {
		gt.Value(t, d.to == "+2").Equal(false)
		gt.Value(t, d.media).Equal([]string{"https://x/y.png"})
	}
	gt.Value(t, out.sent[0]).Equal(delivery{to: "+1", body: "ben: [es] hello", media: []string{"https://x/y.png"}})
	gt.Value(t, res.Delivered).Equal(3)
	gt.Value(t, res.Languages).Equal(2)
}

func TestBroadcastStopsOnTranslationFailure(t *testing.T) {
	tr := &fakeTranslator{fail: "fr"}
	out := &fakeDeliverer{}
	res, err := newService(tr, out).Broadcast(context.Background(), "hello", "+2", nil)
	gt.Bool(t, errors.Is(err, errs.ErrExternalService)).True()
	// ana and cai were reached before dee's language failed.
	gt.Array(t, out.sent).Length(2)
	gt.Value(t, res.Delivered).Equal(2)
}

func TestBroadcastFromOutsiderHasNoPrefix(t *testing.T) {
	out := &fakeDeliverer{}
	_, err := newService(&fakeTranslator{}, out).Broadcast(context.Background(), "results", "+bot", nil)
	gt.NoError(t, err).Required()
	gt.Array(t, out.sent).Length(4)
	gt.Value(t, out.sent[1].body).Equal("[en] results")
}

func TestBroadcastContinuesPastDeliveryFailure(t *testing.T) {
	tr := &fakeTranslator{}
	out := &fakeDeliverer{bad: map[string]bool{"+3": true}}
	res, err := newService(tr, out).Broadcast(context.Background(), "hi", "+1", nil)
	gt.NoError(t, err).Required()
	gt.Value(t, res.Failed).Equal(1)
	gt.Value(t, res.Failures).Equal([]string{"+3"})
	gt.Value(t, res.Delivered).Equal(2)
}

func TestSendPrivate(t *testing.T) {
	tr := &fakeTranslator{}
	out := &fakeDeliverer{bad: map[string]bool{"+9": true}}
	svc := newService(tr, out)

	gt.NoError(t, svc.Send(context.Background(), people[0], people[3], "psst", nil)).Required()
	gt.Value(t, out.sent).Equal([]delivery{{to: "+4", body: "ana (private): [fr] psst"}})

	err := svc.Send(context.Background(), people[0], subscriber.Subscriber{Contact: "+9", Lang: "en"}, "psst", nil)
	gt.Bool(t, errors.Is(err, errs.ErrExternalService)).True()
}
