package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// SegmentFailure notes a segment that did not produce a record.
type SegmentFailure struct {
	Segment int    `json:"segment"`
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

// Manifest describes the run that produced a video directory.
type Manifest struct {
	RunID       string           `json:"run_id"`
	Source      video.Source     `json:"source"`
	Range       video.Range      `json:"range"`
	Interval    int              `json:"interval"`
	FPS         float64          `json:"fps"`
	Transcribed bool             `json:"transcribed"`
	Status      string           `json:"status"`
	Segments    int              `json:"segments"`
	Failures    []SegmentFailure `json:"failures,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// SaveManifest writes m to videoDir/manifest.json.
func SaveManifest(videoDir string, m Manifest) error {
	if err := os.MkdirAll(videoDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(videoDir, ManifestFile), data)
}

// LoadManifest reads videoDir/manifest.json.
func LoadManifest(videoDir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(videoDir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, fmt.Errorf("manifest in %s: %w", videoDir, vlerrors.ErrNotFound)
	}
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
