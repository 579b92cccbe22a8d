package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "pierre/pkg/logx"
)

// FileStore is a dependency-free durable backend with MemStore semantics.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot, JSON array)
//   - <prefix>.journal.jsonl (append-only journal of creates/deletes)
//
// The journal is compacted into the snapshot every compactEvery writes.
// T and K must round-trip through encoding/json.
type FileStore[T Keyed[K], K comparable] struct {
	log logx.Logger

	mu sync.Mutex

	items []T

	snapshotPath string
	journal      *os.File

	writes       int
	compactEvery int
}

type journalRecord[T any, K any] struct {
	Op   string `json:"op"` // "put" | "del"
	Item *T     `json:"item,omitempty"`
	Key  *K     `json:"key,omitempty"`
}

func OpenFileStore[T Keyed[K], K comparable](path string, log logx.Logger) (*FileStore[T, K], error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &FileStore[T, K]{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		compactEvery: 500,
	}
	journalPath := prefix + ".journal.jsonl"

	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *FileStore[T, K]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *FileStore[T, K]) List(ctx context.Context) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]T(nil), s.items...), nil
}

func (s *FileStore[T, K]) Find(ctx context.Context, key K) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.Key() == key {
			return it, true, nil
		}
	}
	return zero, false, nil
}

func (s *FileStore[T, K]) Create(ctx context.Context, item T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord[T, K]{Op: "put", Item: &item}); err != nil {
		return err
	}
	s.items = append(s.items, item)
	s.maybeCompactLocked()
	return nil
}

func (s *FileStore[T, K]) Delete(ctx context.Context, key K) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord[T, K]{Op: "del", Key: &key}); err != nil {
		return err
	}
	s.items = removeFirst(s.items, key)
	s.maybeCompactLocked()
	return nil
}

func (s *FileStore[T, K]) appendLocked(r journalRecord[T, K]) error {
	if s.journal == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	return nil
}

// maybeCompactLocked must run after the write is applied to s.items, since
// compaction snapshots s.items and drops the journal.
func (s *FileStore[T, K]) maybeCompactLocked() {
	if s.compactEvery <= 0 || s.writes%s.compactEvery != 0 {
		return
	}
	// Best-effort; the journal stays authoritative if this fails.
	if err := s.compactLocked(); err != nil {
		s.log.Debug("journal compact failed", logx.Err(err))
	}
}

// compactLocked writes the current items to the snapshot and truncates the journal.
func (s *FileStore[T, K]) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.items); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func (s *FileStore[T, K]) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var items []T
	if err := json.NewDecoder(f).Decode(&items); err != nil {
		return err
	}
	s.items = items
	return nil
}

func (s *FileStore[T, K]) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord[T, K]
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// A torn final line after a crash is expected; skip it.
			continue
		}
		switch {
		case r.Op == "put" && r.Item != nil:
			s.items = append(s.items, *r.Item)
		case r.Op == "del" && r.Key != nil:
			s.items = removeFirst(s.items, *r.Key)
		}
	}
	return sc.Err()
}
