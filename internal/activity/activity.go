// Package activity counts messages per contact per day and answers the
// /stats and /lastpost reports.
package activity

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/errs"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

const DefaultRetentionDays = 365

// Filter reports whether a message body should be counted.
type Filter func(body string) bool

type Options struct {
	RetentionDays int
	Filter        Filter
	Now           func() time.Time
}

type Log struct {
	store     storage.Store
	retention int
	filter    Filter
	now       func() time.Time
	log       logx.Logger
}

func New(store storage.Store, opt Options, log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.RetentionDays <= 0 {
		opt.RetentionDays = DefaultRetentionDays
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	return &Log{store: store, retention: opt.RetentionDays, filter: opt.Filter, now: opt.Now, log: log}
}

// Count is one /stats row.
type Count struct {
	Contact  string
	Messages int
}

// Last is one /lastpost row. OK is false when the contact has no entries.
type Last struct {
	Contact string
	Day     time.Time
	OK      bool
}

// Record counts body for contact in today's bucket and prunes expired buckets.
// It reports whether the message was counted.
func (l *Log) Record(ctx context.Context, contact, body string) (bool, error) {
	if l.filter != nil && !l.filter(body) {
		return false, nil
	}
	now := l.now()
	if err := l.store.Increment(ctx, contact, storage.Day(now), 1); err != nil {
		return false, goerr.Wrap(errs.ErrPersistence, "failed to record activity", goerr.V("contact", contact), goerr.V("cause", err.Error()))
	}
	if _, err := l.prune(ctx, now); err != nil {
		return true, err
	}
	return true, nil
}

// Prune drops buckets older than the retention window.
func (l *Log) Prune(ctx context.Context) (int, error) {
	n, err := l.prune(ctx, l.now())
	if err == nil && n > 0 {
		l.log.Info("activity pruned", logx.Int("buckets", n))
	}
	return n, err
}

func (l *Log) prune(ctx context.Context, now time.Time) (int, error) {
	cutoff := storage.Day(now.AddDate(0, 0, -l.retention))
	n, err := l.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, goerr.Wrap(errs.ErrPersistence, "failed to prune activity", goerr.V("cutoff", cutoff), goerr.V("cause", err.Error()))
	}
	return n, nil
}

// Forget drops every bucket of contact.
func (l *Log) Forget(ctx context.Context, contact string) error {
	if err := l.store.DeleteContact(ctx, contact); err != nil {
		return goerr.Wrap(errs.ErrPersistence, "failed to delete activity", goerr.V("contact", contact), goerr.V("cause", err.Error()))
	}
	return nil
}

// Stats sums each contact's buckets dated within [today-windowDays, today].
func (l *Log) Stats(ctx context.Context, contacts []string, windowDays int) ([]Count, error) {
	if windowDays < 1 || windowDays > l.retention {
		return nil, goerr.Wrap(errs.ErrValidation, "window out of range", goerr.V("days", windowDays), goerr.V("max", l.retention))
	}
	now := l.now()
	from, to := storage.Day(now.AddDate(0, 0, -windowDays)), storage.Day(now)

	all, err := l.read(ctx, contacts)
	if err != nil {
		return nil, err
	}
	out := make([]Count, 0, len(contacts))
	for _, c := range contacts {
		sum := 0
		for day, n := range all[c] {
			if day >= from && day <= to {
				sum += n
			}
		}
		out = append(out, Count{Contact: c, Messages: sum})
	}
	return out, nil
}

// LastPost returns each contact's most recent bucket date.
func (l *Log) LastPost(ctx context.Context, contacts []string) ([]Last, error) {
	all, err := l.read(ctx, contacts)
	if err != nil {
		return nil, err
	}
	out := make([]Last, 0, len(contacts))
	for _, c := range contacts {
		row := Last{Contact: c}
		latest := ""
		for day, n := range all[c] {
			if n > 0 && day > latest {
				latest = day
			}
		}
		if latest != "" {
			if t, err := time.Parse(storage.DayLayout, latest); err == nil {
				row.Day, row.OK = t, true
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// read loads the buckets of contacts. A single contact is read on its own;
// anything else loads the whole log in one pass.
func (l *Log) read(ctx context.Context, contacts []string) (map[string]storage.Buckets, error) {
	if len(contacts) == 1 {
		b, err := l.store.Buckets(ctx, contacts[0])
		if err != nil {
			return nil, goerr.Wrap(errs.ErrPersistence, "failed to read activity", goerr.V("contact", contacts[0]), goerr.V("cause", err.Error()))
		}
		return map[string]storage.Buckets{contacts[0]: b}, nil
	}
	all, err := l.store.All(ctx)
	if err != nil {
		return nil, goerr.Wrap(errs.ErrPersistence, "failed to read activity", goerr.V("cause", err.Error()))
	}
	return all, nil
}
