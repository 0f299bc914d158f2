package media

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// FrameStride returns how many native frames separate two samples.
func FrameStride(nativeFPS, targetFPS float64) int {
	if nativeFPS <= 0 || targetFPS <= 0 {
		return 1
	}
	stride := int(math.Floor(nativeFPS / targetFPS))
	if stride < 1 {
		return 1
	}
	return stride
}

// frameFilter builds the -vf expression keeping every stride-th frame from
// frame 0 and optionally shrinking by an integer ratio.
func frameFilter(stride, resize int) string {
	filter := fmt.Sprintf(`select=not(mod(n\,%d))`, stride)
	if resize > 1 {
		filter += fmt.Sprintf(",scale=trunc(iw/%d):trunc(ih/%d)", resize, resize)
	}
	return filter
}

// SampleFrames decodes segmentPath and returns JPEG-encoded frames in temporal
// order. Each call decodes from the start, so repeated calls return the same
// frames.
func (e *Extractor) SampleFrames(ctx context.Context, segmentPath string, fps float64, resize int) ([][]byte, error) {
	info, err := e.Probe(ctx, segmentPath)
	if err != nil {
		return nil, fmt.Errorf("probe segment: %w: %w", err, vlerrors.ErrSegmentExtraction)
	}
	stride := FrameStride(info.FPS, fps)

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	out, err := e.runner.Run(ctx, e.tools.FFmpeg,
		"-v", "error",
		"-i", segmentPath,
		"-vf", frameFilter(stride, resize),
		"-vsync", "vfr",
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
	if err != nil {
		return nil, fmt.Errorf("sample frames: %w: %w", err, vlerrors.ErrSegmentExtraction)
	}

	frames := splitJPEGs(out)
	if len(frames) == 0 {
		return nil, fmt.Errorf("sample frames: no frames decoded: %w", vlerrors.ErrSegmentExtraction)
	}
	e.logger.Debug("sampled frames",
		logging.F("segment", filepath.Base(segmentPath)),
		logging.F("frames", len(frames)),
		logging.F("stride", stride),
	)
	return frames, nil
}

// splitJPEGs cuts an mjpeg image2pipe stream into individual images.
// Entropy-coded data byte-stuffs 0xFF, so EOI only appears as a marker.
func splitJPEGs(stream []byte) [][]byte {
	var frames [][]byte
	for {
		start := bytes.Index(stream, jpegSOI)
		if start < 0 {
			return frames
		}
		end := bytes.Index(stream[start+2:], jpegEOI)
		if end < 0 {
			return frames
		}
		end += start + 2 + len(jpegEOI)

		frame := make([]byte, end-start)
		copy(frame, stream[start:end])
		frames = append(frames, frame)
		stream = stream[end:]
	}
}

// SaveFrames writes frames as frame_0001.jpg... under dir.
func SaveFrames(dir string, frames [][]byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, f := range frames {
		name := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", i+1))
		if err := os.WriteFile(name, f, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
