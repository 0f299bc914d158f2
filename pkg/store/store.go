// Package store persists per-segment analysis records under a video's
// analysis directory and reloads them in temporal order.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// Layout of a video directory.
const (
	AnalysisSubdir = "analysis"
	SegmentsSubdir = "segments"
	FramesSubdir   = "frames"
	ManifestFile   = "manifest.json"
)

var recordName = regexp.MustCompile(`^segment_(\d+)_analysis\.json$`)

// RecordFileName returns the file name for a 1-based segment number. The zero
// padding keeps lexical and numeric order identical up to 9999 segments.
func RecordFileName(segment int) string {
	return fmt.Sprintf("segment_%04d_analysis.json", segment)
}

// Store reads and writes analysis records.
type Store struct {
	logger logging.Logger
}

// New creates a Store.
func New(logger logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{logger: logger.With(logging.F("component", "store"))}
}

// Persist writes rec under videoDir/analysis. The write is atomic, so a
// record file is either absent or complete.
func (s *Store) Persist(videoDir string, rec video.Record) error {
	if rec.Segment < 1 {
		return fmt.Errorf("record segment number must be 1-based, got %d: %w", rec.Segment, vlerrors.ErrValidation)
	}
	dir := filepath.Join(videoDir, AnalysisSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create analysis dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode segment %d: %w", rec.Segment, err)
	}
	path := filepath.Join(dir, RecordFileName(rec.Segment))
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write segment %d: %w", rec.Segment, err)
	}
	return nil
}

// LoadAll returns every readable record in videoDir ordered by segment
// number. Unreadable or corrupt files are skipped with a warning. A missing
// analysis directory yields ErrNotFound.
func (s *Store) LoadAll(videoDir string) ([]video.Record, error) {
	dir := filepath.Join(videoDir, AnalysisSubdir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("analysis directory %s: %w", dir, vlerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	records := make([]video.Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := recordName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])

		rec, err := readRecord(filepath.Join(dir, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable analysis record", logging.F("file", e.Name()), logging.Err(err))
			continue
		}
		if rec.Segment == 0 {
			rec.Segment = n
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Segment < records[j].Segment })
	return records, nil
}

// Load returns the record for one 1-based segment number.
func (s *Store) Load(videoDir string, segment int) (video.Record, error) {
	path := filepath.Join(videoDir, AnalysisSubdir, RecordFileName(segment))
	rec, err := readRecord(path)
	if errors.Is(err, os.ErrNotExist) {
		return video.Record{}, fmt.Errorf("segment %d: %w", segment, vlerrors.ErrNotFound)
	}
	return rec, err
}

// Clear removes every record under videoDir so a fresh run cannot mix with
// records left by an earlier one.
func (s *Store) Clear(videoDir string) error {
	if err := os.RemoveAll(filepath.Join(videoDir, AnalysisSubdir)); err != nil {
		return fmt.Errorf("clear analysis dir: %w", err)
	}
	return nil
}

// Previous returns the record before 1-based segment n. The first segment
// has no predecessor and yields ErrNotFound.
func (s *Store) Previous(videoDir string, n int) (video.Record, error) {
	if n <= 1 {
		return video.Record{}, fmt.Errorf("segment %d has no predecessor: %w", n, vlerrors.ErrNotFound)
	}
	return s.Load(videoDir, n-1)
}

func readRecord(path string) (video.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return video.Record{}, err
	}
	var rec video.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return video.Record{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return rec, nil
}

func writeFileAtomic(path string, data []byte) error {
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
