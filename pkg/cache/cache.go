// Package cache maps content fingerprints to directories holding a finished
// analysis, so the same video is not analyzed twice.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// Entry is one cache record. Exactly one of the file or URL identity groups is set.
type Entry struct {
	Kind video.SourceKind `json:"kind"`

	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`

	URL       string  `json:"url,omitempty"`
	Title     string  `json:"title,omitempty"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`

	AnalysisDir string `json:"analysis_dir"`
	RunID       string `json:"run_id,omitempty"`
	// Timestamp is the registration time in Unix seconds.
	Timestamp int64 `json:"timestamp"`
}

// DisplayName returns a short human label for listings.
func (e Entry) DisplayName() string {
	switch {
	case e.Kind == video.SourceURL && e.Title != "":
		return fmt.Sprintf("%s (%s-%ss)", e.Title, video.FormatSeconds(e.StartTime), video.FormatSeconds(e.EndTime))
	case e.Kind == video.SourceURL:
		return e.URL
	default:
		return e.Filename
	}
}

// CreatedAt returns Timestamp as a time.
func (e Entry) CreatedAt() time.Time { return time.Unix(e.Timestamp, 0) }

// Listing pairs an entry with its fingerprint.
type Listing struct {
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
	Entry       `yaml:",inline"`
}

// Index is a fingerprint to analysis directory map.
type Index interface {
	// Lookup returns the entry when it exists and its directory is still on
	// disk. Unreadable indexes are reported as a miss.
	Lookup(ctx context.Context, fingerprint string) (Entry, bool)
	// Register inserts or replaces the entry for fingerprint.
	Register(ctx context.Context, fingerprint string, entry Entry) error
	// List returns live entries, newest first.
	List(ctx context.Context) ([]Listing, error)
	// Remove deletes the entry for fingerprint, if any.
	Remove(ctx context.Context, fingerprint string) error
}

// FingerprintFile hashes everything read from r. The result depends only on
// the bytes, not on the file name.
func FingerprintFile(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FingerprintURL hashes a URL with an already resolved, absolute range, so a
// whole-video request and an explicit 0..duration request share one key.
func FingerprintURL(url string, r video.Range) string {
	key := strings.TrimSpace(url) + "|" + video.FormatSeconds(r.Start) + "|" + video.FormatSeconds(r.End)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns the cache key for a resolved source and range.
func Fingerprint(src video.Source, r video.Range) string {
	if src.Kind == video.SourceURL {
		return FingerprintURL(src.URL, r)
	}
	return src.ContentHash
}

// NewEntry builds the entry registered after a run over src.
func NewEntry(src video.Source, r video.Range, dir, runID string, now time.Time) Entry {
	e := Entry{
		Kind:        src.Kind,
		AnalysisDir: dir,
		RunID:       runID,
		Timestamp:   now.Unix(),
		StartTime:   r.Start,
		EndTime:     r.End,
	}
	if src.Kind == video.SourceURL {
		e.URL = src.URL
		e.Title = src.Title
	} else {
		e.Filename = src.Name
		e.Size = src.Size
	}
	return e
}

func dirExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func sortListings(ls []Listing) {
	sort.SliceStable(ls, func(i, j int) bool {
		if ls[i].Timestamp != ls[j].Timestamp {
			return ls[i].Timestamp > ls[j].Timestamp
		}
		return ls[i].Fingerprint < ls[j].Fingerprint
	})
}
