package app

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/config"
	"relaybot/internal/storage"
)

const defaultActivityFile = "activity.json"

// mapStorageConfig turns the storage section into a storage.Config. Without a
// storage section the activity log is a JSON file next to the subscriber file.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{
			Driver: "file",
			Path:   filepath.Join(filepath.Dir(cfg.Subscribers.Path), defaultActivityFile),
		}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		if path == "" {
			path = filepath.Join(filepath.Dir(cfg.Subscribers.Path), defaultActivityFile)
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, goerr.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(sc.DSN) == "" {
			return storage.Config{}, goerr.New("storage.dsn is required when storage.driver=postgres")
		}
		return storage.Config{Driver: "postgres", DSN: sc.DSN}, nil
	case "memory", "none":
		return storage.Config{Driver: driver}, nil
	default:
		return storage.Config{}, goerr.New("unknown storage.driver: " + sc.Driver)
	}
}
