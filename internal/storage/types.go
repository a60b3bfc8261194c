package storage

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// DayLayout is the bucket key format.
const DayLayout = "2006-01-02"

// Config configures storage.
//
// Driver values: "memory", "file", "sqlite", "postgres". Empty means "file".
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Buckets maps a day (DayLayout) to a message count.
type Buckets map[string]int

// Store is the persistence API used by the activity log.
type Store interface {
	// Increment adds n to contact's bucket for day, creating it if needed.
	Increment(ctx context.Context, contact, day string, n int) error
	// Buckets returns contact's buckets; nil when the contact has none.
	Buckets(ctx context.Context, contact string) (Buckets, error)
	// All returns every contact's buckets.
	All(ctx context.Context) (map[string]Buckets, error)
	// PruneBefore drops buckets whose day sorts before day and reports how many.
	PruneBefore(ctx context.Context, day string) (int, error)
	// DeleteContact drops every bucket of contact.
	DeleteContact(ctx context.Context, contact string) error
	Close() error
}

// Day formats t as a bucket key in UTC.
func Day(t time.Time) string {
	return t.UTC().Format(DayLayout)
}
