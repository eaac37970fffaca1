// Package store persists call records as one JSON document per call under
// <dir>/calls/<call_id>.json. Writes go through a temp file plus rename so a
// crash leaves either the previous document or the new one, never a torn file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"callsight/internal/record"
)

var (
	// ErrNotFound means no record exists for the call id.
	ErrNotFound = errors.New("store: call not found")
	// ErrConflict means a record already exists for the call id.
	ErrConflict = errors.New("store: call already exists")
)

// Store is a durable keyed store of call records. Section writes on the same
// record are serialized by a per-record lock; writes on different records do
// not contend.
type Store struct {
	callsDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open prepares the store under dataDir, creating the calls directory.
func Open(dataDir string) (*Store, error) {
	callsDir := filepath.Join(dataDir, "calls")
	if err := os.MkdirAll(callsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create calls dir: %w", err)
	}
	return &Store{
		callsDir: callsDir,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Create persists a new record with empty sections. It fails with ErrConflict
// when the call id is already known, so re-ingesting a recording is cheap.
func (s *Store) Create(meta record.CallMetadata, transcript record.Transcript) (*record.CallRecord, error) {
	if err := checkCallID(meta.CallID); err != nil {
		return nil, err
	}
	lock := s.recordLock(meta.CallID)
	lock.Lock()
	defer lock.Unlock()

	path := s.pathFor(meta.CallID)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrConflict, meta.CallID)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat record: %w", err)
	}

	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}
	rec := &record.CallRecord{
		Metadata:   meta,
		Transcript: transcript,
	}
	if err := s.write(path, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get loads the record for callID.
func (s *Store) Get(callID string) (*record.CallRecord, error) {
	if err := checkCallID(callID); err != nil {
		return nil, err
	}
	return s.read(s.pathFor(callID))
}

// Has reports whether a record exists for callID.
func (s *Store) Has(callID string) bool {
	if checkCallID(callID) != nil {
		return false
	}
	_, err := os.Stat(s.pathFor(callID))
	return err == nil
}

// UpsertSection commits one section into the record, leaving every other
// section untouched. The whole read-modify-write runs under the record lock,
// so concurrent stage commits for the same call cannot interleave.
func (s *Store) UpsertSection(callID string, sec *record.Section) (*record.CallRecord, error) {
	if err := checkCallID(callID); err != nil {
		return nil, err
	}
	if sec == nil || !sec.Kind.Valid() {
		return nil, errors.New("store: invalid section")
	}

	lock := s.recordLock(callID)
	lock.Lock()
	defer lock.Unlock()

	path := s.pathFor(callID)
	rec, err := s.read(path)
	if err != nil {
		return nil, err
	}
	rec.SetSection(sec)
	if err := s.write(path, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ForEach calls fn for every stored record, ordered by call id. Iteration
// stops at the first error fn returns.
func (s *Store) ForEach(fn func(*record.CallRecord) error) error {
	ids, err := s.IDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		rec, err := s.Get(id)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// List loads every stored record, ordered by call id.
func (s *Store) List() ([]*record.CallRecord, error) {
	var out []*record.CallRecord
	err := s.ForEach(func(rec *record.CallRecord) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// IDs returns every known call id, sorted.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.callsDir)
	if err != nil {
		return nil, fmt.Errorf("read calls dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	ids, err := s.IDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Store) pathFor(callID string) string {
	return filepath.Join(s.callsDir, callID+".json")
}

func (s *Store) recordLock(callID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[callID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[callID] = lock
	}
	return lock
}

func (s *Store) read(path string) (*record.CallRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSuffix(filepath.Base(path), ".json"))
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	var rec record.CallRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

// write serializes rec to a temp file in the calls directory, syncs it, and
// renames it over the target path.
func (s *Store) write(path string, rec *record.CallRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	tmp, err := os.CreateTemp(s.callsDir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

func checkCallID(callID string) error {
	if callID == "" {
		return errors.New("store: empty call id")
	}
	if strings.ContainsAny(callID, "/\\") || strings.Contains(callID, "..") {
		return fmt.Errorf("store: invalid call id %q", callID)
	}
	return nil
}
