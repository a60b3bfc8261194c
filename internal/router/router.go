package router

import (
	"context"
	"strings"
	"time"

	"relaybot/internal/activity"
	"relaybot/internal/broadcast"
	"relaybot/internal/eventbus"
	"relaybot/internal/lang"
	"relaybot/internal/poll"
	"relaybot/internal/subscriber"
	"relaybot/internal/translate"
	"relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// DefaultPrivateMarker starts a private message: "#name text".
const DefaultPrivateMarker = "#"

type Subscribers interface {
	Get(contact string) (subscriber.Subscriber, bool)
	Resolve(ref string) (subscriber.Subscriber, bool)
	List() []subscriber.Subscriber
	Add(ctx context.Context, requester string, sub subscriber.Subscriber) (subscriber.Subscriber, error)
	Edit(ctx context.Context, requester, ref string, sub subscriber.Subscriber) (subscriber.Subscriber, error)
	Remove(ctx context.Context, requester, ref string) (subscriber.Subscriber, error)
}

type Activity interface {
	Record(ctx context.Context, contact, body string) (bool, error)
	Forget(ctx context.Context, contact string) error
	Stats(ctx context.Context, contacts []string, windowDays int) ([]activity.Count, error)
	LastPost(ctx context.Context, contacts []string) ([]activity.Last, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, text, sender string, media []string) (broadcast.Result, error)
	Send(ctx context.Context, from, to subscriber.Subscriber, text string, media []string) error
}

type Polls interface {
	Create(question string, options []string, dueSpec string) (poll.Poll, error)
	Vote(pollID, voter string, choice int) (poll.Poll, error)
	Latest() (poll.Poll, bool)
}

type Config struct {
	Contact        string // the bot's own contact; poll announcements go out as it
	PrivateMarker  string
	CommandTimeout time.Duration
}

// Deps are the components a Router dispatches to.
type Deps struct {
	Subscribers Subscribers
	Activity    Activity
	Broadcaster Broadcaster
	Polls       Polls
	Lang        *lang.Service
	Translator  translate.Translator // used by /test
	Events      eventbus.Bus         // optional
}

type Router struct {
	cfg  Config
	subs Subscribers
	act  Activity
	bc   Broadcaster
	poll Polls
	lang *lang.Service
	tr   translate.Translator
	bus  eventbus.Bus
	log  logx.Logger

	commands map[CommandKind]Command
	mw       []Middleware
}

func New(cfg Config, deps Deps, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PrivateMarker == "" {
		cfg.PrivateMarker = DefaultPrivateMarker
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 2 * time.Minute
	}
	r := &Router{
		cfg:  cfg,
		subs: deps.Subscribers,
		act:  deps.Activity,
		bc:   deps.Broadcaster,
		poll: deps.Polls,
		lang: deps.Lang,
		tr:   deps.Translator,
		bus:  deps.Events,
		log:  log,
	}
	r.commands = r.commandTable()
	r.mw = []Middleware{
		MWRequestLog(log),
		MWPanicRecover(log),
	}
	return r
}

// Countable reports whether body counts as a post for the activity log:
// recognised slash-commands and empty private messages do not.
func Countable(marker string) activity.Filter {
	if marker == "" {
		marker = DefaultPrivateMarker
	}
	return func(body string) bool {
		first, rest := splitFirst(body)
		if _, ok := ParseCommandKind(first); ok {
			return false
		}
		if name, ok := strings.CutPrefix(first, marker); ok {
			return name != "" && rest != ""
		}
		return true
	}
}

// Handle runs one inbound message. ok is false when nothing should be sent
// back to the sender.
func (r *Router) Handle(ctx context.Context, env transport.Envelope) (string, bool) {
	sender, known := r.subs.Get(strings.TrimSpace(env.From))
	if !known {
		r.log.Debug("dropping message from unknown sender", logx.String("from", env.From))
		return "", false
	}
	if strings.TrimSpace(env.Body) == "" && len(env.Media) == 0 {
		return "", false
	}

	if r.act != nil {
		if _, err := r.act.Record(ctx, sender.Contact, env.Body); err != nil {
			r.log.Warn("activity not recorded", logx.String("from", sender.Name), logx.Err(err))
		}
	}

	first, rest := splitFirst(env.Body)
	if name, ok := strings.CutPrefix(first, r.cfg.PrivateMarker); ok {
		return r.private(ctx, sender, name, rest, env.Media)
	}

	if strings.HasPrefix(first, "/") {
		kind, ok := ParseCommandKind(first)
		if !ok {
			return "", false
		}
		cmd, ok := r.commands[kind]
		if !ok || (cmd.Privileged && !sender.Role.IsPrivileged()) {
			r.log.Debug("ignoring unauthorized command", logx.String("cmd", kind.String()), logx.String("role", string(sender.Role)))
			return "", false
		}
		return r.dispatch(ctx, cmd, env, sender, rest)
	}

	res, err := r.bc.Broadcast(ctx, env.Body, sender.Contact, env.Media)
	r.emit(eventbus.Event{Type: eventbus.BroadcastFinished, Actor: sender.Contact, Count: res.Delivered})
	if err != nil {
		return causeOf(err), true
	}
	if res.Failed > 0 && res.Delivered == 0 {
		return r.text(ctx, sender, lang.MsgDeliveryFailed), true
	}
	return "", false
}

func (r *Router) dispatch(ctx context.Context, cmd Command, env transport.Envelope, sender subscriber.Subscriber, rest string) (string, bool) {
	reqID := newReqID()
	req := &Request{
		Envelope: env,
		Sender:   sender,
		Kind:     cmd.Kind,
		Args:     strings.Fields(rest),
		Rest:     rest,
		ReqID:    reqID,
		Logger:   r.log.With(logx.String("req", reqID), logx.String("from", sender.Name)),
	}
	timeout := r.cfg.CommandTimeout
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}
	h := Chain(cmd.Handle, append(r.mw, MWTimeout(timeout))...)
	reply, _ := h(ctx, req)
	return reply, reply != ""
}

func (r *Router) private(ctx context.Context, sender subscriber.Subscriber, name, text string, media []string) (string, bool) {
	if name == "" || (text == "" && len(media) == 0) {
		return "", false
	}
	to, ok := r.subs.Resolve(name)
	if !ok {
		return r.text(ctx, sender, lang.MsgNotFound), true
	}
	if err := r.bc.Send(ctx, sender, to, text, media); err != nil {
		return causeOf(err), true
	}
	return "", false
}

func (r *Router) emit(e eventbus.Event) {
	if r.bus != nil {
		r.bus.Publish(e)
	}
}

func (r *Router) text(ctx context.Context, sender subscriber.Subscriber, msg lang.Msg) string {
	if r.lang == nil {
		return msg.English()
	}
	return r.lang.Text(ctx, sender.Lang, msg)
}

func (r *Router) usage(ctx context.Context, sender subscriber.Subscriber, msg lang.Msg, example string) string {
	if r.lang == nil {
		return strings.TrimSpace(msg.English() + " " + lang.MsgExample.English() + "\n" + example)
	}
	return r.lang.Usage(ctx, sender.Lang, msg, example)
}
