package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileFormatVersion is the current on-disk format of FileRegistry.
const FileFormatVersion = 1

// fileData is the on-disk document. Entries stay raw so a single damaged
// entry is only reported when its key is read.
type fileData struct {
	Version int                        `json:"version"`
	Entries map[string]json.RawMessage `json:"entries"`
}

// FileRegistry keeps deployment records in a single JSON file with atomic
// persistence.
type FileRegistry struct {
	mu   sync.RWMutex
	path string
	data *fileData
	now  func() time.Time
}

// NewFileRegistry creates or opens a registry at the given path.
// If the file doesn't exist, a new empty registry is created on first write.
// If the directory doesn't exist, it is created with 0700 permissions.
func NewFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{
		path: path,
		data: &fileData{
			Version: FileFormatVersion,
			Entries: make(map[string]json.RawMessage),
		},
		now: func() time.Time { return time.Now().UTC() },
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	if err := r.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return r, nil
}

// load reads the document from disk.
// Returns os.ErrNotExist if the file doesn't exist.
func (r *FileRegistry) load() error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	// Empty file is valid - treat as empty registry
	if len(raw) == 0 {
		return nil
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupted, r.path, err)
	}
	if data.Version > FileFormatVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupted, data.Version)
	}
	if data.Entries == nil {
		data.Entries = make(map[string]json.RawMessage)
	}

	r.data = &data
	return nil
}

// syncLocked writes the document atomically using temp file + rename.
// Must be called with write lock held.
func (r *FileRegistry) syncLocked() error {
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	tmpPath := r.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrPersist, err)
	}

	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write: %v", ErrPersist, err)
	}

	// Fsync to ensure data is on disk before rename
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: fsync: %v", ErrPersist, err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: close: %v", ErrPersist, err)
	}

	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: rename: %v", ErrPersist, err)
	}

	return nil
}

// Path returns the registry file path.
func (r *FileRegistry) Path() string {
	return r.path
}

// entryLocked decodes the entry for key. Returns (nil, nil) when absent.
func (r *FileRegistry) entryLocked(key string) (*Entry, error) {
	raw, ok := r.data.Entries[key]
	if !ok {
		return nil, nil
	}
	return decodeEntry(key, raw)
}

// storeLocked replaces the entry for key and persists the document. The
// in-memory state is rolled back if the write fails.
func (r *FileRegistry) storeLocked(key string, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	prev, existed := r.data.Entries[key]
	r.data.Entries[key] = raw
	if err := r.syncLocked(); err != nil {
		if existed {
			r.data.Entries[key] = prev
		} else {
			delete(r.data.Entries, key)
		}
		return err
	}
	return nil
}

func (r *FileRegistry) Lookup(ctx context.Context, network, contractName string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, err := r.entryLocked(Key(network, contractName))
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notFound(network, contractName)
	}
	return e.Current.Clone(), nil
}

func (r *FileRegistry) Record(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := rec.Key()
	e, err := r.entryLocked(key)
	if err != nil {
		return err
	}
	if e == nil {
		e = &Entry{}
	}

	changed, _ := e.apply(rec, r.now())
	if !changed {
		return nil
	}
	return r.storeLocked(key, e)
}

func (r *FileRegistry) MarkConfirmed(ctx context.Context, network, contractName string, blockNumber uint64) error {
	return r.update(network, contractName, func(e *Entry, now time.Time) (bool, error) {
		return e.confirm(blockNumber, now)
	})
}

func (r *FileRegistry) MarkFailed(ctx context.Context, network, contractName, reason string) error {
	return r.update(network, contractName, func(e *Entry, now time.Time) (bool, error) {
		return e.fail(reason, now)
	})
}

func (r *FileRegistry) update(network, contractName string, fn func(*Entry, time.Time) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key(network, contractName)
	e, err := r.entryLocked(key)
	if err != nil {
		return err
	}
	if e == nil {
		return notFound(network, contractName)
	}

	changed, err := fn(e, r.now())
	if err != nil || !changed {
		return err
	}
	return r.storeLocked(key, e)
}

func (r *FileRegistry) History(ctx context.Context, network, contractName string) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, err := r.entryLocked(Key(network, contractName))
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notFound(network, contractName)
	}
	return copyRecords(e.History), nil
}

func (r *FileRegistry) List(ctx context.Context) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.data.Entries))
	for key := range r.data.Entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	records := make([]*Record, 0, len(keys))
	var errs []error
	for _, key := range keys {
		e, err := r.entryLocked(key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, e.Current.Clone())
	}
	return records, errors.Join(errs...)
}

// Close releases resources. Every write is already on disk.
func (r *FileRegistry) Close() error {
	return nil
}

var _ Registry = (*FileRegistry)(nil)
