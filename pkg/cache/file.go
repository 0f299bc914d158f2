package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
)

// IndexFileName is the name of the JSON index under the storage directory.
const IndexFileName = "analysis_cache.json"

// FileIndex keeps the whole map in one JSON file and rewrites it on every
// register. Concurrent processes sharing the file get last-write-wins.
type FileIndex struct {
	path   string
	logger logging.Logger
	mu     sync.Mutex
}

// NewFileIndex returns an index stored at path.
func NewFileIndex(path string, logger logging.Logger) *FileIndex {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FileIndex{
		path:   path,
		logger: logger.With(logging.F("component", "cache"), logging.F("backend", "file")),
	}
}

// Path returns the index file location.
func (f *FileIndex) Path() string { return f.path }

// load reads the map. A missing file is an empty map.
func (f *FileIndex) load() (map[string]Entry, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", f.path, err, vlerrors.ErrCacheIO)
	}

	entries := map[string]Entry{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %v: %w", f.path, err, vlerrors.ErrCacheIO)
	}
	return entries, nil
}

func (f *FileIndex) save(entries map[string]Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache index: %v: %w", err, vlerrors.ErrCacheIO)
	}
	if err := writeFileAtomic(f.path, data); err != nil {
		return fmt.Errorf("write %s: %v: %w", f.path, err, vlerrors.ErrCacheIO)
	}
	return nil
}

func (f *FileIndex) Lookup(_ context.Context, fingerprint string) (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		f.logger.Warn("cache index unreadable, treating as miss", logging.Err(err))
		return Entry{}, false
	}
	entry, ok := entries[fingerprint]
	if !ok {
		return Entry{}, false
	}
	if !dirExists(entry.AnalysisDir) {
		f.logger.Info("cache entry points at a missing directory, ignoring",
			logging.F("fingerprint", fingerprint),
			logging.F("analysis_dir", entry.AnalysisDir),
		)
		return Entry{}, false
	}
	return entry, true
}

// Register upserts fingerprint. A corrupt index is replaced rather than
// blocking the write.
func (f *FileIndex) Register(_ context.Context, fingerprint string, entry Entry) error {
	if fingerprint == "" || entry.AnalysisDir == "" {
		return fmt.Errorf("register requires a fingerprint and a directory: %w", vlerrors.ErrValidation)
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().Unix()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		f.logger.Warn("cache index unreadable, starting a new one", logging.Err(err))
		entries = map[string]Entry{}
	}
	entries[fingerprint] = entry
	return f.save(entries)
}

func (f *FileIndex) List(_ context.Context) ([]Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(entries))
	for fp, e := range entries {
		if dirExists(e.AnalysisDir) {
			out = append(out, Listing{Fingerprint: fp, Entry: e})
		}
	}
	sortListings(out)
	return out, nil
}

func (f *FileIndex) Remove(_ context.Context, fingerprint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := entries[fingerprint]; !ok {
		return fmt.Errorf("cache entry %s: %w", fingerprint, vlerrors.ErrNotFound)
	}
	delete(entries, fingerprint)
	return f.save(entries)
}

// Prune drops entries whose directories are gone and returns how many were removed.
func (f *FileIndex) Prune(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return 0, err
	}
	removed := 0
	for fp, e := range entries {
		if !dirExists(e.AnalysisDir) {
			delete(entries, fp)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, f.save(entries)
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
