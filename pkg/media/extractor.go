package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/otherjamesbrown/vidlens/pkg/cache"
	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// DefaultTimeout bounds each external tool invocation.
const DefaultTimeout = 5 * time.Minute

// urlFormat prefers modern codecs and falls back to the best muxed stream.
const urlFormat = "(bestvideo[vcodec^=av01]/bestvideo[vcodec^=vp9]/bestvideo)+bestaudio/best"

// Extractor resolves sources and cuts, samples and demuxes segments.
type Extractor struct {
	runner  Runner
	tools   Tools
	timeout time.Duration
	logger  logging.Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(e *Extractor) { e.runner = r }
}

// WithTools sets the executable names or paths.
func WithTools(t Tools) Option {
	return func(e *Extractor) { e.tools = t.withDefaults() }
}

// WithTimeout sets the per-invocation timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor creates an Extractor that shells out to the default tools.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		runner:  ExecRunner{},
		tools:   DefaultTools(),
		timeout: DefaultTimeout,
		logger:  logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logging.F("component", "media"))
	return e
}

func (e *Extractor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

// ResolveFile stages a local video into workDir, hashing it in the same pass,
// and probes the staged copy. The returned Source points at the staged copy.
func (e *Extractor) ResolveFile(ctx context.Context, path, workDir string) (video.Source, error) {
	src, err := os.Open(path)
	if err != nil {
		return video.Source{}, fmt.Errorf("open %s: %v: %w", path, err, vlerrors.ErrSourceUnavailable)
	}
	defer src.Close()

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return video.Source{}, fmt.Errorf("create work dir: %v: %w", err, vlerrors.ErrSourceUnavailable)
	}
	stagedPath := filepath.Join(workDir, "source"+strings.ToLower(filepath.Ext(path)))
	staged, err := os.Create(stagedPath)
	if err != nil {
		return video.Source{}, fmt.Errorf("stage %s: %v: %w", path, err, vlerrors.ErrSourceUnavailable)
	}

	counter := &countingWriter{w: staged}
	hash, err := cache.FingerprintFile(io.TeeReader(src, counter))
	if closeErr := staged.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(stagedPath)
		return video.Source{}, fmt.Errorf("read %s: %v: %w", path, err, vlerrors.ErrSourceUnavailable)
	}

	info, err := e.Probe(ctx, stagedPath)
	if err != nil {
		os.Remove(stagedPath)
		return video.Source{}, fmt.Errorf("probe %s: %v: %w", path, err, vlerrors.ErrSourceUnavailable)
	}
	if info.Duration <= 0 {
		os.Remove(stagedPath)
		return video.Source{}, fmt.Errorf("probe %s: unknown duration: %w", path, vlerrors.ErrSourceUnavailable)
	}

	e.logger.Debug("resolved local source",
		logging.F("name", filepath.Base(path)),
		logging.F("duration", info.Duration),
		logging.F("fps", info.FPS),
		logging.F("has_audio", info.HasAudio),
	)

	return video.Source{
		Kind:        video.SourceFile,
		Path:        stagedPath,
		Name:        filepath.Base(path),
		Size:        counter.n,
		ContentHash: hash,
		Duration:    info.Duration,
		FPS:         info.FPS,
		Width:       info.Width,
		Height:      info.Height,
		HasAudio:    info.HasAudio,
	}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type ytdlpInfo struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Formats  []struct {
		VCodec string `json:"vcodec"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	} `json:"formats"`
}

// IsURL reports whether input names a remote video rather than a local path.
func IsURL(input string) bool {
	u, err := neturl.Parse(strings.TrimSpace(input))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ResolveURL queries remote metadata without downloading the video.
func (e *Extractor) ResolveURL(ctx context.Context, url string) (video.Source, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	out, err := e.runner.Run(ctx, e.tools.YTDLP, "-J", "--no-playlist", "--skip-download", "--no-warnings", url)
	if err != nil {
		return video.Source{}, fmt.Errorf("fetch metadata for %s: %v: %w", url, err, vlerrors.ErrSourceUnavailable)
	}

	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return video.Source{}, fmt.Errorf("parse metadata for %s: %v: %w", url, err, vlerrors.ErrSourceUnavailable)
	}
	if info.Duration <= 0 {
		return video.Source{}, fmt.Errorf("metadata for %s has no duration (live stream?): %w", url, vlerrors.ErrSourceUnavailable)
	}

	width, height := info.Width, info.Height
	for _, f := range info.Formats {
		if f.VCodec == "none" {
			continue
		}
		if f.Height > height {
			width, height = f.Width, f.Height
		}
	}

	title := info.Title
	if title == "" {
		title = "video"
	}

	return video.Source{
		Kind:     video.SourceURL,
		URL:      url,
		Title:    title,
		Duration: info.Duration,
		Width:    width,
		Height:   height,
		HasAudio: true,
	}, nil
}

// MaterializeSegment writes the segment's clip into dir and returns its path.
// Local sources are cut without re-encoding; URL sources are downloaded for the
// segment's interval only.
func (e *Extractor) MaterializeSegment(ctx context.Context, src video.Source, seg video.Segment, dir string) (string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create segment dir: %v: %w", err, vlerrors.ErrSegmentExtraction)
	}
	base := filepath.Join(dir, "segment_"+seg.Label())

	switch src.Kind {
	case video.SourceFile:
		ext := filepath.Ext(src.Path)
		if ext == "" {
			ext = ".mp4"
		}
		out := base + ext
		_, err := e.runner.Run(ctx, e.tools.FFmpeg,
			"-y", "-v", "error",
			"-ss", formatArg(seg.Start),
			"-i", src.Path,
			"-t", formatArg(seg.Duration()),
			"-c", "copy",
			"-avoid_negative_ts", "make_zero",
			out,
		)
		if err != nil {
			return "", fmt.Errorf("cut segment %d: %w: %w", seg.Number(), err, vlerrors.ErrSegmentExtraction)
		}
		return out, nil

	case video.SourceURL:
		_, err := e.runner.Run(ctx, e.tools.YTDLP,
			"-f", urlFormat,
			"--download-sections", fmt.Sprintf("*%s-%s", formatArg(seg.Start), formatArg(seg.End)),
			"--force-keyframes-at-cuts",
			"--no-playlist", "--quiet", "--no-warnings",
			"-o", base+".%(ext)s",
			src.URL,
		)
		if err != nil {
			return "", fmt.Errorf("download segment %d: %w: %w", seg.Number(), err, vlerrors.ErrSegmentExtraction)
		}
		for _, ext := range []string{".mp4", ".webm", ".mkv"} {
			if _, statErr := os.Stat(base + ext); statErr == nil {
				return base + ext, nil
			}
		}
		return "", fmt.Errorf("download segment %d: output file not found: %w", seg.Number(), vlerrors.ErrSegmentExtraction)
	}

	return "", fmt.Errorf("unknown source kind %q: %w", src.Kind, vlerrors.ErrSegmentExtraction)
}

func formatArg(v float64) string {
	return video.FormatSeconds(v)
}
