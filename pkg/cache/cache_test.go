package cache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

func TestFingerprintFile_ContentOnly(t *testing.T) {
	dir := t.TempDir()
	content := []byte("identical bytes in two differently named files")
	a := filepath.Join(dir, "holiday.mp4")
	b := filepath.Join(dir, "copy of holiday (1).mp4")
	require.NoError(t, os.WriteFile(a, content, 0o644))
	require.NoError(t, os.WriteFile(b, content, 0o644))

	fpA := fingerprintPath(t, a)
	fpB := fingerprintPath(t, b)
	assert.Equal(t, fpA, fpB)
	assert.Len(t, fpA, 64)

	other, err := FingerprintFile(bytes.NewReader(append(content, '!')))
	require.NoError(t, err)
	assert.NotEqual(t, fpA, other)
}

func fingerprintPath(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	fp, err := FingerprintFile(f)
	require.NoError(t, err)
	return fp
}

func TestFingerprintURL_NormalizedWindow(t *testing.T) {
	const url = "https://www.youtube.com/watch?v=abc"
	const duration = 312.0

	whole, err := video.Window{}.Resolve(duration)
	require.NoError(t, err)
	openEnded, err := video.Window{Enabled: true, Start: 0, End: 0}.Resolve(duration)
	require.NoError(t, err)
	explicit, err := video.Window{Enabled: true, Start: 0, End: duration}.Resolve(duration)
	require.NoError(t, err)
	overshoot, err := video.Window{Enabled: true, Start: 0, End: 9999}.Resolve(duration)
	require.NoError(t, err)

	key := FingerprintURL(url, whole)
	assert.Equal(t, key, FingerprintURL(url, openEnded))
	assert.Equal(t, key, FingerprintURL(url, explicit))
	assert.Equal(t, key, FingerprintURL(" "+url+" ", overshoot))

	assert.NotEqual(t, key, FingerprintURL(url, video.Range{Start: 10, End: duration}))
	assert.NotEqual(t, key, FingerprintURL(url+"&t=1", whole))
}

func TestFingerprint_BySourceKind(t *testing.T) {
	r := video.Range{Start: 0, End: 60}
	assert.Equal(t, "abc123", Fingerprint(video.Source{Kind: video.SourceFile, ContentHash: "abc123"}, r))
	assert.Equal(t, FingerprintURL("https://x", r), Fingerprint(video.Source{Kind: video.SourceURL, URL: "https://x"}, r))
}

func TestNewEntryAndDisplayName(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	fileEntry := NewEntry(video.Source{Kind: video.SourceFile, Name: "talk.mp4", Size: 42}, video.Range{End: 30}, "/v/talk", "rf-1", now)
	assert.Equal(t, "talk.mp4", fileEntry.Filename)
	assert.Equal(t, int64(42), fileEntry.Size)
	assert.Equal(t, now.Unix(), fileEntry.Timestamp)
	assert.Equal(t, "talk.mp4", fileEntry.DisplayName())

	urlEntry := NewEntry(video.Source{Kind: video.SourceURL, URL: "https://x", Title: "Talk"}, video.Range{Start: 5, End: 65.5}, "/v/t", "ru-1", now)
	assert.Equal(t, "Talk (5-65.5s)", urlEntry.DisplayName())
	assert.Equal(t, now, urlEntry.CreatedAt())
}

func newAnalysisDir(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func TestFileIndex_RegisterLookupIdempotent(t *testing.T) {
	root := t.TempDir()
	idx := NewFileIndex(filepath.Join(root, IndexFileName), nil)
	ctx := context.Background()
	dir := newAnalysisDir(t, root, "x_analysis")

	_, ok := idx.Lookup(ctx, "abc123")
	assert.False(t, ok, "empty index is a miss")

	entry := Entry{Kind: video.SourceFile, Filename: "x.mp4", AnalysisDir: dir, Timestamp: 100}
	require.NoError(t, idx.Register(ctx, "abc123", entry))
	require.NoError(t, idx.Register(ctx, "abc123", entry))

	got, ok := idx.Lookup(ctx, "abc123")
	require.True(t, ok)
	assert.Equal(t, dir, got.AnalysisDir)

	list, err := idx.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFileIndex_LastWriteWins(t *testing.T) {
	root := t.TempDir()
	idx := NewFileIndex(filepath.Join(root, IndexFileName), nil)
	ctx := context.Background()
	first := newAnalysisDir(t, root, "first")
	second := newAnalysisDir(t, root, "second")

	require.NoError(t, idx.Register(ctx, "fp", Entry{AnalysisDir: first}))
	require.NoError(t, idx.Register(ctx, "fp", Entry{AnalysisDir: second}))

	got, ok := idx.Lookup(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, second, got.AnalysisDir)
	assert.NotZero(t, got.Timestamp, "timestamp defaults to now")
}

func TestFileIndex_SelfHealing(t *testing.T) {
	root := t.TempDir()
	idx := NewFileIndex(filepath.Join(root, IndexFileName), nil)
	ctx := context.Background()
	dir := newAnalysisDir(t, root, "gone")

	require.NoError(t, idx.Register(ctx, "fp", Entry{AnalysisDir: dir}))
	require.NoError(t, os.RemoveAll(dir))

	_, ok := idx.Lookup(ctx, "fp")
	assert.False(t, ok)

	list, err := idx.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	removed, err := idx.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestFileIndex_CorruptIndexIsMiss(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, IndexFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	idx := NewFileIndex(path, nil)
	ctx := context.Background()

	_, ok := idx.Lookup(ctx, "fp")
	assert.False(t, ok)

	_, err := idx.List(ctx)
	assert.True(t, vlerrors.IsCacheIO(err))

	dir := newAnalysisDir(t, root, "fresh")
	require.NoError(t, idx.Register(ctx, "fp", Entry{AnalysisDir: dir}), "register replaces a corrupt index")
	_, ok = idx.Lookup(ctx, "fp")
	assert.True(t, ok)
}

func TestFileIndex_ListNewestFirstAndRemove(t *testing.T) {
	root := t.TempDir()
	idx := NewFileIndex(filepath.Join(root, "nested", IndexFileName), nil)
	ctx := context.Background()

	for i, name := range []string{"old", "newest", "middle"} {
		ts := map[string]int64{"old": 100, "newest": 300, "middle": 200}[name]
		require.NoError(t, idx.Register(ctx, name, Entry{AnalysisDir: newAnalysisDir(t, root, name), Timestamp: ts}), i)
	}

	list, err := idx.List(ctx)
	require.NoError(t, err)
	var order []string
	for _, l := range list {
		order = append(order, l.Fingerprint)
	}
	assert.Equal(t, []string{"newest", "middle", "old"}, order)

	require.NoError(t, idx.Remove(ctx, "middle"))
	assert.True(t, vlerrors.IsNotFound(idx.Remove(ctx, "middle")))

	data, err := os.ReadFile(idx.Path())
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), `"middle"`))
}

func TestFileIndex_RegisterValidation(t *testing.T) {
	idx := NewFileIndex(filepath.Join(t.TempDir(), IndexFileName), nil)
	assert.True(t, vlerrors.IsValidation(idx.Register(context.Background(), "", Entry{AnalysisDir: "/x"})))
	assert.True(t, vlerrors.IsValidation(idx.Register(context.Background(), "fp", Entry{})))
}

// TestRedisIndex runs against a real server when VIDLENS_TEST_REDIS_ADDR is set.
func TestRedisIndex(t *testing.T) {
	addr := os.Getenv("VIDLENS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VIDLENS_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := DialRedis(ctx, addr, "", 0)
	require.NoError(t, err)
	defer client.Close()

	key := "vidlens:test:" + t.Name()
	defer client.Del(ctx, key)

	var _ redis.Cmdable = client
	idx := NewRedisIndex(client, key, nil)
	root := t.TempDir()
	dir := newAnalysisDir(t, root, "a")

	require.NoError(t, idx.Register(ctx, "fp1", Entry{AnalysisDir: dir, Timestamp: 10}))
	require.NoError(t, idx.Register(ctx, "fp2", Entry{AnalysisDir: filepath.Join(root, "missing"), Timestamp: 20}))

	got, ok := idx.Lookup(ctx, "fp1")
	require.True(t, ok)
	assert.Equal(t, dir, got.AnalysisDir)

	_, ok = idx.Lookup(ctx, "fp2")
	assert.False(t, ok)

	list, err := idx.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	removed, err := idx.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	require.NoError(t, idx.Remove(ctx, "fp1"))
	assert.True(t, vlerrors.IsNotFound(idx.Remove(ctx, "fp1")))
}
