package poll

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/broadcast"
	"relaybot/internal/errs"
	"relaybot/internal/task/scheduler"
	logx "relaybot/pkg/logx"
)

// Publisher fans the results out. The bot's own contact is passed as sender so
// every subscriber receives them.
type Publisher interface {
	Broadcast(ctx context.Context, text, sender string, media []string) (broadcast.Result, error)
}

// Timers arms and disarms the due timers.
type Timers interface {
	ScheduleTimeout(name string, delay, timeout time.Duration, task scheduler.Task) scheduler.Handle
	Cancel(h scheduler.Handle) bool
}

type Config struct {
	Owner          string // bot instance name
	Contact        string // bot contact used as the results sender
	PublishTimeout time.Duration
}

type entry struct {
	poll    Poll
	handle  scheduler.Handle
	created int
}

type Manager struct {
	mu    sync.Mutex
	polls map[string]*entry
	seq   int

	cfg    Config
	pub    Publisher
	timers Timers
	now    func() time.Time
	log    logx.Logger
}

func NewManager(cfg Config, pub Publisher, timers Timers, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Minute
	}
	return &Manager{polls: map[string]*entry{}, cfg: cfg, pub: pub, timers: timers, now: time.Now, log: log}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Create validates the poll, registers it with zero tallies and arms its due
// timer. Nothing is registered when validation fails.
func (m *Manager) Create(question string, options []string, dueSpec string) (Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Poll{}, goerr.Wrap(errs.ErrValidation, "question is required", goerr.V("field", "question"))
	}
	opts := make([]string, 0, len(options))
	for _, o := range options {
		if o = strings.TrimSpace(o); o != "" {
			opts = append(opts, o)
		}
	}
	if len(opts) < 2 {
		return Poll{}, goerr.Wrap(errs.ErrValidation, "at least two options are required", goerr.V("field", "options"), goerr.V("count", len(opts)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	due, err := CalcDue(dueSpec, now)
	if err != nil {
		return Poll{}, err
	}

	p := Poll{
		ID:       uuid.NewString(),
		Owner:    m.cfg.Owner,
		Due:      due,
		Question: question,
		Options:  opts,
		Tally:    make([]int, len(opts)),
		Votes:    map[string]int{},
	}
	m.seq++
	e := &entry{poll: p, created: m.seq}
	m.polls[p.ID] = e

	// Timers count down on the wall clock; m.now only decides the due instant.
	id := p.ID
	e.handle = m.timers.ScheduleTimeout("poll:"+id, time.Until(due), m.cfg.PublishTimeout, func(ctx context.Context) error {
		_, err := m.Publish(ctx, id)
		return err
	})
	m.log.Info("poll created", logx.String("poll", id), logx.Time("due", due), logx.Int("options", len(opts)))
	return p.clone(), nil
}

// Vote records voter's choice (0-based). A re-vote moves the voter's single
// unit from the old option to the new one.
func (m *Manager) Vote(pollID, voter string, choice int) (Poll, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked(pollID)
	if err != nil {
		return Poll{}, err
	}
	p := &e.poll
	if choice < 0 || choice >= len(p.Options) {
		return Poll{}, goerr.Wrap(errs.ErrIndex, "option out of range", goerr.V("choice", choice+1), goerr.V("options", len(p.Options)))
	}
	if prev, ok := p.Votes[voter]; ok {
		if prev == choice {
			return p.clone(), nil
		}
		p.Tally[prev]--
	}
	p.Votes[voter] = choice
	p.Tally[choice]++
	return p.clone(), nil
}

// Publish closes the poll and broadcasts its results. Only the first call for a
// poll does anything; later calls return ErrNotFound.
func (m *Manager) Publish(ctx context.Context, pollID string) (Poll, error) {
	m.mu.Lock()
	e, ok := m.polls[pollID]
	if ok {
		delete(m.polls, pollID)
		m.timers.Cancel(e.handle)
	}
	m.mu.Unlock()
	if !ok {
		return Poll{}, goerr.Wrap(errs.ErrNotFound, "poll not open", goerr.V("poll", pollID))
	}

	p := e.poll
	res, err := m.pub.Broadcast(ctx, p.Results(), m.cfg.Contact, nil)
	if err != nil {
		m.log.Warn("poll results broadcast incomplete", logx.String("poll", p.ID), logx.Int("delivered", res.Delivered), logx.Err(err))
		return p, err
	}
	m.log.Info("poll published", logx.String("poll", p.ID), logx.Int("voters", p.Voters()), logx.Int("delivered", res.Delivered))
	return p, nil
}

// Cancel drops the poll without publishing. It reports whether it was open.
func (m *Manager) Cancel(pollID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.lookupLocked(pollID)
	if err != nil {
		return false
	}
	m.timers.Cancel(e.handle)
	delete(m.polls, e.poll.ID)
	m.log.Info("poll cancelled", logx.String("poll", e.poll.ID))
	return true
}

// Latest returns the most recently created open poll.
func (m *Manager) Latest() (Poll, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *entry
	for _, e := range m.polls {
		if best == nil || e.created > best.created {
			best = e
		}
	}
	if best == nil {
		return Poll{}, false
	}
	return best.poll.clone(), true
}

func (m *Manager) lookupLocked(ref string) (*entry, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if e, ok := m.polls[ref]; ok {
		return e, nil
	}
	var found *entry
	if ref != "" {
		for id, e := range m.polls {
			if strings.HasPrefix(id, ref) {
				if found != nil {
					return nil, goerr.Wrap(errs.ErrNotFound, "poll id is ambiguous", goerr.V("poll", ref))
				}
				found = e
			}
		}
	}
	if found == nil {
		return nil, goerr.Wrap(errs.ErrNotFound, "poll not open", goerr.V("poll", ref))
	}
	return found, nil
}
