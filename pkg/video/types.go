// Package video defines the value types shared by the analysis pipeline:
// sources, analysis windows, segments, persisted records, chat turns and the
// processing and chat configuration.
package video

import (
	"fmt"
	"math"
	"strings"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
)

// SourceKind distinguishes local files from remote URLs.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceURL  SourceKind = "url"
)

// Source is a resolved video. It is immutable once resolution succeeds.
type Source struct {
	Kind SourceKind `json:"kind"`

	// Path is the working copy of a local file. Name is the original base name.
	Path        string `json:"path,omitempty"`
	Name        string `json:"name,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`

	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`

	Duration float64 `json:"duration"`
	FPS      float64 `json:"fps,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	HasAudio bool    `json:"has_audio"`
}

// DisplayName returns the title for URLs and the file name for files.
func (s Source) DisplayName() string {
	if s.Kind == SourceURL {
		if s.Title != "" {
			return s.Title
		}
		return s.URL
	}
	return s.Name
}

// Window restricts analysis to part of a video. End == 0 means "to the end".
type Window struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Start   float64 `yaml:"start" json:"start"`
	End     float64 `yaml:"end" json:"end"`
}

// Range is a resolved, absolute [Start, End) interval in seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Length returns End - Start.
func (r Range) Length() float64 { return r.End - r.Start }

// Resolve validates the window against a known duration and returns the
// absolute range to analyze. A disabled window covers the whole video; an end
// of zero or past the duration is clamped to the duration.
func (w Window) Resolve(duration float64) (Range, error) {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return Range{}, fmt.Errorf("video duration %v: %w", duration, vlerrors.ErrValidation)
	}
	if !w.Enabled {
		return Range{Start: 0, End: duration}, nil
	}
	if w.Start < 0 || w.End < 0 {
		return Range{}, fmt.Errorf("window bounds must be non-negative (start=%v end=%v): %w", w.Start, w.End, vlerrors.ErrValidation)
	}

	end := w.End
	if end == 0 || end > duration {
		end = duration
	}
	if w.Start >= end {
		return Range{}, fmt.Errorf("window start %v must be before end %v: %w", w.Start, end, vlerrors.ErrValidation)
	}
	return Range{Start: w.Start, End: end}, nil
}

// Segment is a contiguous slice of the analyzed range. Index is 0-based.
type Segment struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Number returns the 1-based segment number used in file names and records.
func (s Segment) Number() int { return s.Index + 1 }

// Duration returns End - Start.
func (s Segment) Duration() float64 { return s.End - s.Start }

// Label formats the segment bounds as used in file names, e.g. "10-20" or "10.5-20".
func (s Segment) Label() string {
	return formatSeconds(s.Start) + "-" + formatSeconds(s.End)
}

// PlanSegments splits r into contiguous steps of interval seconds. The final
// segment may be shorter; an empty or inverted range yields no segments.
func PlanSegments(r Range, interval int) []Segment {
	if interval <= 0 || r.End <= r.Start {
		return nil
	}
	step := float64(interval)
	count := int(math.Ceil(r.Length() / step))

	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		start := r.Start + float64(i)*step
		end := math.Min(start+step, r.End)
		segments = append(segments, Segment{Index: i, Start: start, End: end})
	}
	return segments
}

// Record is the persisted analysis of one segment.
type Record struct {
	Segment       int     `json:"segment"`
	StartTime     float64 `json:"start_time"`
	EndTime       float64 `json:"end_time"`
	Analysis      string  `json:"analysis"`
	Transcription *string `json:"transcription,omitempty"`
}

// HasTranscription reports whether a non-empty transcription is attached.
func (r Record) HasTranscription() bool {
	return r.Transcription != nil && strings.TrimSpace(*r.Transcription) != ""
}

// Role is the speaker of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn is one entry of a chat session's history.
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func formatSeconds(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%d", int64(v))
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", v), "0"), ".")
}

// FormatSeconds renders a second offset without trailing zeros.
func FormatSeconds(v float64) string { return formatSeconds(v) }
