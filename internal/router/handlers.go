package router

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"relaybot/internal/errs"
	"relaybot/internal/eventbus"
	"relaybot/internal/lang"
	"relaybot/internal/storage"
	"relaybot/internal/subscriber"
	logx "relaybot/pkg/logx"
)

const (
	exTest     = "/test es How are you today?"
	exAdd      = "/add +12345678900 xX_bob_Xx en user"
	exEdit     = "/edit xX_bob_Xx bob es admin"
	exRemove   = "/remove +12345678900\n/remove username"
	exStats    = "/stats 1 day +12345678900\n/stats 7 days name\n/stats 30 days"
	exLastPost = "/lastpost\n/lastpost name"
	exPoll     = `/poll "Pizza tonight?" +01:00 yes no`
	exVote     = "/vote 2"
)

var reDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func (r *Router) commandTable() map[CommandKind]Command {
	return map[CommandKind]Command{
		CmdTest:     {Kind: CmdTest, Usage: "/test <lang> <text>", Example: exTest, Handle: r.handleTest},
		CmdAdd:      {Kind: CmdAdd, Usage: "/add <contact> <name> <lang> <role>", Example: exAdd, Privileged: true, Handle: r.handleAdd},
		CmdEdit:     {Kind: CmdEdit, Usage: "/edit <contact-or-name> <name> <lang> <role>", Example: exEdit, Privileged: true, Handle: r.handleEdit},
		CmdRemove:   {Kind: CmdRemove, Usage: "/remove <contact-or-name>", Example: exRemove, Privileged: true, Handle: r.handleRemove},
		CmdList:     {Kind: CmdList, Usage: "/list", Example: "/list", Privileged: true, Handle: r.handleList},
		CmdStats:    {Kind: CmdStats, Usage: "/stats <n> days [target]", Example: exStats, Privileged: true, Handle: r.handleStats},
		CmdLastPost: {Kind: CmdLastPost, Usage: "/lastpost [target]", Example: exLastPost, Privileged: true, Handle: r.handleLastPost},
		CmdPoll:     {Kind: CmdPoll, Usage: `/poll "<question>" <due> <options...>`, Example: exPoll, Privileged: true, Handle: r.handlePoll},
		CmdVote:     {Kind: CmdVote, Usage: "/vote [poll] <n>", Example: exVote, Handle: r.handleVote},
	}
}

// handleTest translates the text into the requested language and back into
// the sender's.
func (r *Router) handleTest(ctx context.Context, req *Request) (string, error) {
	code, text := splitFirst(req.Rest)
	code = strings.ToLower(code)
	if code == "" || text == "" {
		return r.usage(ctx, req.Sender, lang.MsgNone, exTest), nil
	}
	if r.lang != nil && !r.lang.Supported(code) {
		return r.usage(ctx, req.Sender, lang.MsgLangErr, exTest) + "\n" + r.lang.LanguageList(req.Sender.Lang), nil
	}
	if r.tr == nil {
		return text, nil
	}
	there, err := r.tr.Translate(ctx, text, code)
	if err != nil {
		return causeOf(err), err
	}
	back, err := r.tr.Translate(ctx, there, req.Sender.Lang)
	if err != nil {
		return causeOf(err), err
	}
	return code + ": " + there + "\n" + req.Sender.Lang + ": " + back, nil
}

func (r *Router) handleAdd(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 4 {
		return r.usage(ctx, req.Sender, lang.MsgNone, exAdd), nil
	}
	sub := subscriber.Subscriber{
		Contact: req.Args[0],
		Name:    req.Args[1],
		Lang:    req.Args[2],
		Role:    subscriber.Role(req.Args[3]),
	}
	added, err := r.subs.Add(ctx, req.Sender.Contact, sub)
	if err != nil {
		return r.explainSubscriberErr(ctx, CmdAdd, req.Sender, err, exAdd), err
	}
	r.emit(eventbus.Event{Type: eventbus.SubscriberAdded, Actor: req.Sender.Contact, Subject: added.Contact})
	return r.text(ctx, req.Sender, lang.MsgAdded), nil
}

func (r *Router) handleEdit(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 4 {
		return r.usage(ctx, req.Sender, lang.MsgNone, exEdit), nil
	}
	sub := subscriber.Subscriber{
		Name: req.Args[1],
		Lang: req.Args[2],
		Role: subscriber.Role(req.Args[3]),
	}
	edited, err := r.subs.Edit(ctx, req.Sender.Contact, req.Args[0], sub)
	if err != nil {
		return r.explainSubscriberErr(ctx, CmdEdit, req.Sender, err, exEdit), err
	}
	r.emit(eventbus.Event{Type: eventbus.SubscriberEdited, Actor: req.Sender.Contact, Subject: edited.Contact})
	return r.text(ctx, req.Sender, lang.MsgUpdated), nil
}

func (r *Router) handleRemove(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return r.usage(ctx, req.Sender, lang.MsgNone, exRemove), nil
	}
	gone, err := r.subs.Remove(ctx, req.Sender.Contact, req.Args[0])
	if err != nil {
		return r.explainSubscriberErr(ctx, CmdRemove, req.Sender, err, exRemove), err
	}
	r.emit(eventbus.Event{Type: eventbus.SubscriberRemoved, Actor: req.Sender.Contact, Subject: gone.Contact})
	if r.act != nil {
		if err := r.act.Forget(ctx, gone.Contact); err != nil {
			req.Logger.Warn("activity of removed subscriber kept", logx.Err(err))
		}
	}
	return r.text(ctx, req.Sender, lang.MsgRemoved), nil
}

func (r *Router) handleList(ctx context.Context, req *Request) (string, error) {
	var b strings.Builder
	b.WriteString(r.text(ctx, req.Sender, lang.MsgListHeaders))
	for _, s := range r.subs.List() {
		langName := s.Lang
		if r.lang != nil {
			langName = r.lang.Name(s.Lang, req.Sender.Lang)
		}
		b.WriteString("\n")
		b.WriteString(strings.Join([]string{s.Name, s.Contact, langName, string(s.Role)}, ", "))
	}
	return b.String(), nil
}

// targets resolves an optional report target into the subscribers to report
// on. An empty ref means everybody.
func (r *Router) targets(ref string) ([]subscriber.Subscriber, bool) {
	if ref == "" {
		return r.subs.List(), true
	}
	s, ok := r.subs.Resolve(ref)
	if !ok {
		return nil, false
	}
	return []subscriber.Subscriber{s}, true
}

func contactsOf(subs []subscriber.Subscriber) ([]string, map[string]subscriber.Subscriber) {
	contacts := make([]string, 0, len(subs))
	by := make(map[string]subscriber.Subscriber, len(subs))
	for _, s := range subs {
		contacts = append(contacts, s.Contact)
		by[s.Contact] = s
	}
	return contacts, by
}

func (r *Router) handleStats(ctx context.Context, req *Request) (string, error) {
	if r.act == nil {
		return r.text(ctx, req.Sender, lang.MsgLogUnavailable), nil
	}
	args := req.Args
	if len(args) < 2 || len(args) > 3 {
		return r.usage(ctx, req.Sender, lang.MsgStatsErr, exStats), nil
	}
	days, err := strconv.Atoi(args[0])
	unit := strings.ToLower(args[1])
	if err != nil || (unit != "day" && unit != "days") {
		return r.usage(ctx, req.Sender, lang.MsgStatsErr, exStats), nil
	}
	ref := ""
	if len(args) == 3 {
		ref = args[2]
	}
	subs, ok := r.targets(ref)
	if !ok {
		return r.text(ctx, req.Sender, lang.MsgNotFound), nil
	}
	contacts, by := contactsOf(subs)
	counts, err := r.act.Stats(ctx, contacts, days)
	if err != nil {
		if errors.Is(err, errs.ErrValidation) {
			return r.usage(ctx, req.Sender, lang.MsgStatsErr, exStats), err
		}
		return r.text(ctx, req.Sender, lang.MsgLogUnavailable), err
	}

	var b strings.Builder
	b.WriteString(r.text(ctx, req.Sender, lang.MsgStatsHeaders))
	for _, c := range counts {
		b.WriteString("\n")
		b.WriteString(strings.Join([]string{by[c.Contact].Name, c.Contact, strconv.Itoa(c.Messages)}, ", "))
	}
	return b.String(), nil
}

func (r *Router) handleLastPost(ctx context.Context, req *Request) (string, error) {
	if r.act == nil {
		return r.text(ctx, req.Sender, lang.MsgLogUnavailable), nil
	}
	if len(req.Args) > 1 {
		return r.usage(ctx, req.Sender, lang.MsgNone, exLastPost), nil
	}
	ref := ""
	if len(req.Args) == 1 {
		ref = req.Args[0]
	}
	subs, ok := r.targets(ref)
	if !ok {
		return r.text(ctx, req.Sender, lang.MsgNotFound), nil
	}
	contacts, by := contactsOf(subs)
	rows, err := r.act.LastPost(ctx, contacts)
	if err != nil {
		return r.text(ctx, req.Sender, lang.MsgLogUnavailable), err
	}

	noPosts := ""
	var b strings.Builder
	b.WriteString(r.text(ctx, req.Sender, lang.MsgLastPostHeaders))
	for _, row := range rows {
		when := ""
		if row.OK {
			when = row.Day.Format(storage.DayLayout) + " (" + humanize.RelTime(row.Day, today(), "ago", "from now") + ")"
			if row.Day.Equal(today()) {
				when = row.Day.Format(storage.DayLayout)
			}
		} else {
			if noPosts == "" {
				noPosts = r.text(ctx, req.Sender, lang.MsgNoPosts)
			}
			when = noPosts
		}
		b.WriteString("\n")
		b.WriteString(strings.Join([]string{by[row.Contact].Name, row.Contact, when}, ", "))
	}
	return b.String(), nil
}

func today() time.Time {
	d, _ := time.Parse(storage.DayLayout, storage.Day(time.Now()))
	return d
}

// handlePoll accepts /poll "question" <due> <option> <option>...; an absolute
// due time spans two tokens.
func (r *Router) handlePoll(ctx context.Context, req *Request) (string, error) {
	toks := tokenize(req.Rest)
	if len(toks) < 2 {
		return r.usage(ctx, req.Sender, lang.MsgPollErr, exPoll), nil
	}
	question, due, opts := toks[0], toks[1], toks[2:]
	if reDate.MatchString(due) && len(opts) > 0 {
		due, opts = due+" "+opts[0], opts[1:]
	}

	p, err := r.poll.Create(question, opts, due)
	if err != nil {
		if field(err) == "due" {
			return r.usage(ctx, req.Sender, lang.MsgPollDueErr, exPoll), err
		}
		return r.usage(ctx, req.Sender, lang.MsgPollErr, exPoll), err
	}
	req.Logger.Info("poll opened", logx.String("poll", p.ID), logx.Time("due", p.Due))
	r.emit(eventbus.Event{Type: eventbus.PollOpened, Actor: req.Sender.Contact, Subject: p.ID, Count: len(p.Options)})

	if _, err := r.bc.Broadcast(ctx, p.Announcement(), r.cfg.Contact, nil); err != nil {
		return causeOf(err), err
	}
	return r.text(ctx, req.Sender, lang.MsgPollCreated), nil
}

// handleVote accepts /vote <n> for the most recent poll or /vote <poll> <n>.
func (r *Router) handleVote(ctx context.Context, req *Request) (string, error) {
	var ref, choice string
	switch len(req.Args) {
	case 1:
		choice = req.Args[0]
	case 2:
		ref, choice = req.Args[0], req.Args[1]
	default:
		return r.usage(ctx, req.Sender, lang.MsgVoteErr, exVote), nil
	}
	n, err := strconv.Atoi(choice)
	if err != nil {
		return r.usage(ctx, req.Sender, lang.MsgVoteErr, exVote), nil
	}
	if ref == "" {
		latest, ok := r.poll.Latest()
		if !ok {
			return r.text(ctx, req.Sender, lang.MsgNoPoll), nil
		}
		ref = latest.ID
	}
	if _, err := r.poll.Vote(ref, req.Sender.Contact, n-1); err != nil {
		switch {
		case errors.Is(err, errs.ErrIndex):
			return r.text(ctx, req.Sender, lang.MsgOptionErr), err
		case errors.Is(err, errs.ErrNotFound):
			return r.text(ctx, req.Sender, lang.MsgNoPoll), err
		}
		return causeOf(err), err
	}
	return r.text(ctx, req.Sender, lang.MsgVoteRecorded), nil
}
