package storage

import (
	"context"
	"database/sql"
	"embed"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	logx "relaybot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// queries holds the dialect-specific statements. Both dialects share the
// schema in migrations.sql.
type queries struct {
	increment     string
	buckets       string
	all           string
	pruneBefore   string
	deleteContact string
}

var sqliteQueries = queries{
	increment: `INSERT INTO activity(contact, day, count) VALUES(?,?,?)
		ON CONFLICT(contact, day) DO UPDATE SET count = activity.count + excluded.count`,
	buckets:       `SELECT day, count FROM activity WHERE contact = ?`,
	all:           `SELECT contact, day, count FROM activity`,
	pruneBefore:   `DELETE FROM activity WHERE day < ?`,
	deleteContact: `DELETE FROM activity WHERE contact = ?`,
}

var postgresQueries = queries{
	increment: `INSERT INTO activity(contact, day, count) VALUES($1,$2,$3)
		ON CONFLICT(contact, day) DO UPDATE SET count = activity.count + EXCLUDED.count`,
	buckets:       `SELECT day, count FROM activity WHERE contact = $1`,
	all:           `SELECT contact, day, count FROM activity`,
	pruneBefore:   `DELETE FROM activity WHERE day < $1`,
	deleteContact: `DELETE FROM activity WHERE contact = $1`,
}

// sqlStore implements Store over database/sql.
type sqlStore struct {
	db  *sql.DB
	q   queries
	log logx.Logger
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return goerr.Wrap(err, "migration failed")
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Increment(ctx context.Context, contact, day string, n int) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q.increment, contact, day, n)
	return err
}

func (s *sqlStore) Buckets(ctx context.Context, contact string) (Buckets, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.q.buckets, contact)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out Buckets
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		if out == nil {
			out = Buckets{}
		}
		out[day] = n
	}
	return out, rows.Err()
}

func (s *sqlStore) All(ctx context.Context) (map[string]Buckets, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, s.q.all)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]Buckets{}
	for rows.Next() {
		var contact, day string
		var n int
		if err := rows.Scan(&contact, &day, &n); err != nil {
			return nil, err
		}
		b := out[contact]
		if b == nil {
			b = Buckets{}
			out[contact] = b
		}
		b[day] = n
	}
	return out, rows.Err()
}

func (s *sqlStore) PruneBefore(ctx context.Context, day string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, s.q.pruneBefore, day)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (s *sqlStore) DeleteContact(ctx context.Context, contact string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, s.q.deleteContact, contact)
	return err
}
