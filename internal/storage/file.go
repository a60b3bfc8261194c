package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	logx "relaybot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.activity.snapshot.json (periodic snapshot)
//   - <prefix>.activity.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes, after
// each prune and on Close.
type fileStore struct {
	memStore
	log logx.Logger

	snapshotPath string
	journal      *os.File

	writes int
}

const compactEvery = 500

type journalOp string

const (
	opInc    journalOp = "inc"
	opDelete journalOp = "del"
)

type journalRecord struct {
	Op      journalOp `json:"op"`
	Contact string    `json:"contact,omitempty"`
	Day     string    `json:"day,omitempty"`
	N       int       `json:"n,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".activity.snapshot.json"
	journalPath := prefix + ".activity.journal.jsonl"

	data := map[string]Buckets{}
	if err := loadSnapshot(snapPath, data); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, goerr.Wrap(err, "failed to read activity snapshot", goerr.V("path", snapPath))
	}
	st := &fileStore{memStore: memStore{data: data}, log: log, snapshotPath: snapPath}
	if err := st.replay(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, goerr.Wrap(err, "failed to replay activity journal", goerr.V("path", journalPath))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st.journal = jf
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err1 := s.compactLocked()
	err2 := s.journal.Close()
	s.journal = nil
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) Increment(_ context.Context, contact, day string, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opInc, Contact: contact, Day: day, N: n}); err != nil {
		return err
	}
	s.incLocked(contact, day, n)
	return nil
}

func (s *fileStore) PruneBefore(_ context.Context, day string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, errors.New("activity journal closed")
	}
	n := s.pruneLocked(day)
	if n == 0 {
		return 0, nil
	}
	return n, s.compactLocked()
}

func (s *fileStore) DeleteContact(_ context.Context, contact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opDelete, Contact: contact}); err != nil {
		return err
	}
	delete(s.data, contact)
	return nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journal == nil {
		return errors.New("activity journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort compact; the journal still holds every record.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("activity compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *fileStore) replay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case opInc:
			if r.Contact != "" && r.Day != "" {
				s.incLocked(r.Contact, r.Day, r.N)
			}
		case opDelete:
			delete(s.data, r.Contact)
		}
	}
	return sc.Err()
}

func loadSnapshot(path string, out map[string]Buckets) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Buckets
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}
