package media

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
)

// AudioClip is the extracted audio of one segment. Absent is set when the
// segment carries no audio track; Path is empty in that case.
type AudioClip struct {
	Path   string
	Absent bool
}

// AbsentAudio is returned for segments without an audio track.
var AbsentAudio = AudioClip{Absent: true}

// ExtractAudio writes the segment's audio next to it as a low-bitrate mp3.
func (e *Extractor) ExtractAudio(ctx context.Context, segmentPath string) (AudioClip, error) {
	info, err := e.Probe(ctx, segmentPath)
	if err != nil {
		return AudioClip{}, fmt.Errorf("probe segment audio: %w: %w", err, vlerrors.ErrSegmentExtraction)
	}
	if !info.HasAudio {
		e.logger.Debug("segment has no audio track", logging.F("segment", filepath.Base(segmentPath)))
		return AbsentAudio, nil
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	out := strings.TrimSuffix(segmentPath, filepath.Ext(segmentPath)) + ".mp3"
	_, err = e.runner.Run(ctx, e.tools.FFmpeg,
		"-y", "-v", "error",
		"-i", segmentPath,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", "32k",
		out,
	)
	if err != nil {
		return AudioClip{}, fmt.Errorf("extract audio: %w: %w", err, vlerrors.ErrSegmentExtraction)
	}
	return AudioClip{Path: out}, nil
}
