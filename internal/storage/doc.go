// Package storage persists the activity log: per-contact day -> message count
// buckets.
//
// Drivers:
//   - memory   in-process maps (tests, throwaway runs)
//   - file     snapshot + append-only journal, compacted periodically
//   - sqlite   modernc.org/sqlite (pure Go), WAL mode
//   - postgres pgx via database/sql
package storage
