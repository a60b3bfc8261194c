package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"

	logx "relaybot/pkg/logx"
)

const defaultBusyTimeout = time.Second

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, goerr.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create sqlite directory", goerr.V("path", path))
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	return openSQL("sqlite", path, sqliteQueries, log, func(db *sql.DB) error {
		// One writer at a time; the activity log only ever increments counters.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		for _, pragma := range []string{
			fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
		} {
			if _, err := db.Exec(pragma); err != nil {
				return goerr.Wrap(err, "sqlite pragma failed", goerr.V("pragma", pragma))
			}
		}
		return nil
	})
}

// openSQL opens a database/sql pool, applies tune, checks connectivity and
// runs the migrations.
func openSQL(driver, dsn string, q queries, log logx.Logger, tune func(*sql.DB) error) (Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database", goerr.V("driver", driver))
	}
	if tune != nil {
		if err := tune(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, goerr.Wrap(err, "database unreachable", goerr.V("driver", driver))
	}
	st := &sqlStore{db: db, q: q, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("activity store opened")
	return st, nil
}
