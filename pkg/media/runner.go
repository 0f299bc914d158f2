// Package media wraps the external tools vidlens drives: ffprobe for probing,
// ffmpeg for sub-clips, frame sampling and audio extraction, and yt-dlp for
// remote metadata and ranged downloads.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run executes name with args. On failure the error carries the tail of stderr.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", name, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w: %s", name, err, tail(stderr.String(), 512))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// Tools names the executables to run.
type Tools struct {
	FFmpeg  string
	FFprobe string
	YTDLP   string
}

// DefaultTools resolves every tool from PATH.
func DefaultTools() Tools {
	return Tools{FFmpeg: "ffmpeg", FFprobe: "ffprobe", YTDLP: "yt-dlp"}
}

func (t Tools) withDefaults() Tools {
	d := DefaultTools()
	if t.FFmpeg == "" {
		t.FFmpeg = d.FFmpeg
	}
	if t.FFprobe == "" {
		t.FFprobe = d.FFprobe
	}
	if t.YTDLP == "" {
		t.YTDLP = d.YTDLP
	}
	return t
}

// CheckTools reports which configured tools are missing from PATH.
func CheckTools(t Tools, needURL bool) []string {
	t = t.withDefaults()
	names := []string{t.FFmpeg, t.FFprobe}
	if needURL {
		names = append(names, t.YTDLP)
	}
	var missing []string
	for _, n := range names {
		if _, err := exec.LookPath(n); err != nil {
			missing = append(missing, n)
		}
	}
	return missing
}
