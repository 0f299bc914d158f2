package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

type call struct {
	name string
	args []string
}

// fakeRunner answers each command through handle and records every call.
type fakeRunner struct {
	calls  []call
	handle func(name string, args []string) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return f.handle(name, args)
}

func (f *fakeRunner) callsTo(name string) []call {
	var out []call
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

const probeWithAudio = `{
  "streams": [
    {"codec_type": "video", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001", "r_frame_rate": "30000/1001"},
    {"codec_type": "audio"}
  ],
  "format": {"duration": "25.000000"}
}`

const probeSilent = `{
  "streams": [{"codec_type": "video", "width": 640, "height": 360, "avg_frame_rate": "25/1"}],
  "format": {"duration": "10.0"}
}`

func fakeJPEG(payload string) []byte {
	b := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	b = append(b, []byte(payload)...)
	return append(b, 0xFF, 0xD9)
}

func TestParseRate(t *testing.T) {
	assert.InDelta(t, 29.97, parseRate("30000/1001"), 0.001)
	assert.Equal(t, 25.0, parseRate("25/1"))
	assert.Equal(t, 24.0, parseRate("24"))
	assert.Equal(t, 0.0, parseRate("0/0"))
	assert.Equal(t, 0.0, parseRate("abc"))
	assert.Equal(t, 0.0, parseRate(""))
}

func TestParseProbe(t *testing.T) {
	info, err := parseProbe([]byte(probeWithAudio))
	require.NoError(t, err)
	assert.Equal(t, 25.0, info.Duration)
	assert.Equal(t, 1920, info.Width)
	assert.True(t, info.HasAudio)
	assert.InDelta(t, 29.97, info.FPS, 0.01)

	_, err = parseProbe([]byte(`{"streams":[{"codec_type":"audio"}],"format":{"duration":"3"}}`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestFrameStride(t *testing.T) {
	tests := []struct {
		native, target float64
		want           int
	}{
		{30, 1, 30},
		{29.97, 1, 29},
		{25, 2, 12},
		{24, 30, 1},
		{30, 0.5, 60},
		{0, 1, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FrameStride(tt.native, tt.target), "native=%v target=%v", tt.native, tt.target)
	}
}

func TestFrameFilter(t *testing.T) {
	assert.Equal(t, `select=not(mod(n\,30))`, frameFilter(30, 0))
	assert.Equal(t, `select=not(mod(n\,30))`, frameFilter(30, 1))
	assert.Equal(t, `select=not(mod(n\,12)),scale=trunc(iw/4):trunc(ih/4)`, frameFilter(12, 4))
}

func TestSplitJPEGs(t *testing.T) {
	a, b, c := fakeJPEG("one"), fakeJPEG("two"), fakeJPEG("three")
	stream := bytes.Join([][]byte{a, b, c}, nil)

	frames := splitJPEGs(stream)
	require.Len(t, frames, 3)
	assert.Equal(t, a, frames[0])
	assert.Equal(t, b, frames[1])
	assert.Equal(t, c, frames[2])

	truncated := append(append([]byte{}, a...), 0xFF, 0xD8, 'x')
	assert.Len(t, splitJPEGs(truncated), 1)
	assert.Empty(t, splitJPEGs([]byte("garbage")))
}

func TestSampleFrames(t *testing.T) {
	runner := &fakeRunner{handle: func(name string, args []string) ([]byte, error) {
		if name == "ffprobe" {
			return []byte(probeWithAudio), nil
		}
		return bytes.Join([][]byte{fakeJPEG("f0"), fakeJPEG("f1")}, nil), nil
	}}
	e := NewExtractor(WithRunner(runner))

	frames, err := e.SampleFrames(context.Background(), "/tmp/segment_0-10.mp4", 1, 4)
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	ff := runner.callsTo("ffmpeg")
	require.Len(t, ff, 1)
	assert.Equal(t, `select=not(mod(n\,29)),scale=trunc(iw/4):trunc(ih/4)`, argAfter(ff[0].args, "-vf"))
	assert.Equal(t, "image2pipe", argAfter(ff[0].args, "-f"))

	again, err := e.SampleFrames(context.Background(), "/tmp/segment_0-10.mp4", 1, 4)
	require.NoError(t, err)
	assert.Equal(t, frames, again)
}

func TestSampleFrames_NoFrames(t *testing.T) {
	runner := &fakeRunner{handle: func(name string, args []string) ([]byte, error) {
		if name == "ffprobe" {
			return []byte(probeSilent), nil
		}
		return nil, nil
	}}
	_, err := NewExtractor(WithRunner(runner)).SampleFrames(context.Background(), "x.mp4", 1, 0)
	assert.True(t, vlerrors.IsSegmentExtraction(err))
}

func TestExtractAudio(t *testing.T) {
	t.Run("absent track short-circuits", func(t *testing.T) {
		runner := &fakeRunner{handle: func(name string, args []string) ([]byte, error) {
			return []byte(probeSilent), nil
		}}
		clip, err := NewExtractor(WithRunner(runner)).ExtractAudio(context.Background(), "/w/segment_0-10.mp4")
		require.NoError(t, err)
		assert.Equal(t, AbsentAudio, clip)
		assert.Empty(t, runner.callsTo("ffmpeg"))
	})

	t.Run("audio written next to segment", func(t *testing.T) {
		runner := &fakeRunner{handle: func(name string, args []string) ([]byte, error) {
			if name == "ffprobe" {
				return []byte(probeWithAudio), nil
			}
			return nil, nil
		}}
		clip, err := NewExtractor(WithRunner(runner)).ExtractAudio(context.Background(), "/w/segment_0-10.mp4")
		require.NoError(t, err)
		assert.Equal(t, "/w/segment_0-10.mp3", clip.Path)
		assert.False(t, clip.Absent)

		ff := runner.callsTo("ffmpeg")
		require.Len(t, ff, 1)
		assert.Equal(t, "32k", argAfter(ff[0].args, "-b:a"))
	})

	t.Run("ffmpeg failure", func(t *testing.T) {
		runner := &fakeRunner{handle: func(name string, args []string) ([]byte, error) {
			if name == "ffprobe" {
				return []byte(probeWithAudio), nil
			}
			return nil, errors.New("exit status 1")
		}}
		_, err := NewExtractor(WithRunner(runner)).ExtractAudio(context.Background(), "/w/s.mp4")
		assert.True(t, vlerrors.IsSegmentExtraction(err))
	})
}

func TestResolveFile_HashesWhileStaging(t *testing.T) {
	dir := t.TempDir()
	content := []byte("not really a video but bytes are bytes")
	input := filepath.Join(dir, "My Clip.MP4")
	require.NoError(t, os.WriteFile(input, content, 0o644))

	runner := &fakeRunner{handle: func(name string, args []string) ([]byte, error) {
		return []byte(probeWithAudio), nil
	}}
	work := filepath.Join(dir, "work")
	src, err := NewExtractor(WithRunner(runner)).ResolveFile(context.Background(), input, work)
	require.NoError(t, err)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), src.ContentHash)
	assert.Equal(t, video.SourceFile, src.Kind)
	assert.Equal(t, "My Clip.MP4", src.Name)
	assert.Equal(t, int64(len(content)), src.Size)
	assert.Equal(t, 25.0, src.Duration)
	assert.Equal(t, filepath.Join(work, "source.mp4"), src.Path)

	staged, err := os.ReadFile(src.Path)
	require.NoError(t, err)
	assert.Equal(t, content, staged)
	assert.Equal(t, src.Path, runner.calls[0].args[len(runner.calls[0].args)-1])
}

func TestResolveFile_Failures(t *testing.T) {
	dir := t.TempDir()
	e := NewExtractor(WithRunner(&fakeRunner{handle: func(string, []string) ([]byte, error) {
		return nil, errors.New("Invalid data found when processing input")
	}}))

	_, err := e.ResolveFile(context.Background(), filepath.Join(dir, "missing.mp4"), dir)
	assert.True(t, vlerrors.IsSourceUnavailable(err))

	input := filepath.Join(dir, "corrupt.mp4")
	require.NoError(t, os.WriteFile(input, []byte("junk"), 0o644))
	work := filepath.Join(dir, "work")
	_, err = e.ResolveFile(context.Background(), input, work)
	assert.True(t, vlerrors.IsSourceUnavailable(err))

	entries, _ := os.ReadDir(work)
	assert.Empty(t, entries, "staged copy should be removed on failure")
}

func TestResolveURL(t *testing.T) {
	meta := `{"title":"Launch Keynote","duration":3725.5,"width":1280,"height":720,
	  "formats":[{"vcodec":"none","height":0},{"vcodec":"vp9","width":3840,"height":2160},{"vcodec":"avc1","width":1920,"height":1080}]}`
	runner := &fakeRunner{handle: func(name string, args []string) ([]byte, error) {
		return []byte(meta), nil
	}}

	src, err := NewExtractor(WithRunner(runner)).ResolveURL(context.Background(), "https://example.com/watch?v=1")
	require.NoError(t, err)
	assert.Equal(t, video.SourceURL, src.Kind)
	assert.Equal(t, "Launch Keynote", src.Title)
	assert.Equal(t, 3725.5, src.Duration)
	assert.Equal(t, 3840, src.Width)
	assert.Equal(t, 2160, src.Height)

	c := runner.calls[0]
	assert.Equal(t, "yt-dlp", c.name)
	assert.Contains(t, c.args, "--skip-download")
	assert.Contains(t, c.args, "-J")
}

func TestResolveURL_Failures(t *testing.T) {
	for name, handle := range map[string]func(string, []string) ([]byte, error){
		"network": func(string, []string) ([]byte, error) { return nil, errors.New("unable to download webpage") },
		"live":    func(string, []string) ([]byte, error) { return []byte(`{"title":"live","duration":0}`), nil },
		"garbage": func(string, []string) ([]byte, error) { return []byte(`<html>`), nil },
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewExtractor(WithRunner(&fakeRunner{handle: handle})).ResolveURL(context.Background(), "https://x")
			assert.True(t, vlerrors.IsSourceUnavailable(err))
		})
	}
}

func TestMaterializeSegment_File(t *testing.T) {
	runner := &fakeRunner{handle: func(string, []string) ([]byte, error) { return nil, nil }}
	dir := t.TempDir()
	src := video.Source{Kind: video.SourceFile, Path: "/w/source.mov"}

	out, err := NewExtractor(WithRunner(runner)).MaterializeSegment(context.Background(), src, video.Segment{Index: 2, Start: 20, End: 25}, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "segment_20-25.mov"), out)

	args := runner.calls[0].args
	assert.Equal(t, "20", argAfter(args, "-ss"))
	assert.Equal(t, "5", argAfter(args, "-t"))
	assert.Equal(t, "copy", argAfter(args, "-c"))
	assert.Equal(t, "/w/source.mov", argAfter(args, "-i"))
}

func TestMaterializeSegment_URL(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{handle: func(name string, args []string) ([]byte, error) {
		out := strings.Replace(argAfter(args, "-o"), ".%(ext)s", ".webm", 1)
		return nil, os.WriteFile(out, []byte("clip"), 0o644)
	}}
	src := video.Source{Kind: video.SourceURL, URL: "https://example.com/v"}

	out, err := NewExtractor(WithRunner(runner)).MaterializeSegment(context.Background(), src, video.Segment{Start: 10, End: 20}, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "segment_10-20.webm"), out)
	assert.Equal(t, "*10-20", argAfter(runner.calls[0].args, "--download-sections"))
	assert.Contains(t, runner.calls[0].args, "--force-keyframes-at-cuts")
}

func TestMaterializeSegment_Failures(t *testing.T) {
	dir := t.TempDir()
	ok := &fakeRunner{handle: func(string, []string) ([]byte, error) { return nil, nil }}
	_, err := NewExtractor(WithRunner(ok)).MaterializeSegment(context.Background(),
		video.Source{Kind: video.SourceURL, URL: "https://x"}, video.Segment{Start: 0, End: 10}, dir)
	assert.True(t, vlerrors.IsSegmentExtraction(err), "missing download output")

	failing := &fakeRunner{handle: func(string, []string) ([]byte, error) { return nil, errors.New("exit status 1") }}
	_, err = NewExtractor(WithRunner(failing)).MaterializeSegment(context.Background(),
		video.Source{Kind: video.SourceFile, Path: "/w/s.mp4"}, video.Segment{Start: 0, End: 10}, dir)
	assert.True(t, vlerrors.IsSegmentExtraction(err))
}

func TestSaveFrames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames", "segment_1")
	require.NoError(t, SaveFrames(dir, [][]byte{fakeJPEG("a"), fakeJPEG("b")}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "frame_0001.jpg", entries[0].Name())
	assert.Equal(t, "frame_0002.jpg", entries[1].Name())
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Launch Keynote 2024":       "Launch_Keynote_2024",
		"Café / Crème brûlée":       "Cafe_Creme_brulee",
		"  ../../etc/passwd  ":      "etc_passwd",
		"???":                       "video",
		"":                          "video",
		"already_fine-name.v2":      "already_fine-name.v2",
		"Tabs\tand\nnewlines   end": "Tabs_and_newlines_end",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}

	long := Slugify(strings.Repeat("abcdefghij ", 20))
	assert.LessOrEqual(t, len(long), maxSlugLen)
	assert.False(t, strings.HasSuffix(long, "_"))
}

func TestIsURL(t *testing.T) {
	assert.True(t, IsURL("https://www.youtube.com/watch?v=abc"))
	assert.True(t, IsURL(" http://example.com/v.mp4 "))
	assert.False(t, IsURL("/home/me/video.mp4"))
	assert.False(t, IsURL("video.mp4"))
	assert.False(t, IsURL("https://"))
	assert.False(t, IsURL("ftp://example.com/v.mp4"))
}
