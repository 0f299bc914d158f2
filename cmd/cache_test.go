package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/vidlens/config"
	"github.com/otherjamesbrown/vidlens/pkg/cache"
	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

const (
	fpTalk  = "abcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"
	fpDemo  = "abcdef9876543210abcdef9876543210abcdef9876543210abcdef9876543210"
	fpOther = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

func TestNewCacheCommand(t *testing.T) {
	c := NewCacheCommand(newTestEnv(t).deps)
	assert.Equal(t, "cache", c.Use)
	assert.ElementsMatch(t, []string{"list", "show", "remove", "prune"}, subcommandNames(c))

	rm, _, err := c.Find([]string{"rm"})
	require.NoError(t, err)
	assert.Equal(t, "remove", rm.Name())
}

func TestFindEntry(t *testing.T) {
	env := newTestEnv(t)
	env.seedAnalysis(t, fpTalk, "talk")
	env.seedAnalysis(t, fpDemo, "demo")
	env.seedAnalysis(t, fpOther, "other")
	b := &Backend{Index: env.index}
	ctx := context.Background()

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr error
	}{
		{"full fingerprint", fpTalk, fpTalk, nil},
		{"unique prefix", "abcdef12", fpTalk, nil},
		{"upper case prefix", "ABCDEF98", fpDemo, nil},
		{"other prefix", "012345", fpOther, nil},
		{"ambiguous prefix", "abcdef", "", vlerrors.ErrValidation},
		{"too short", "abc", "", vlerrors.ErrValidation},
		{"no match", "ffffffff", "", vlerrors.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findEntry(ctx, b, tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Fingerprint)
		})
	}
}

func TestCacheList(t *testing.T) {
	env := newTestEnv(t)

	out, _, err := execute(NewCacheCommand(env.deps), "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No cached analyses.")

	env.seedAnalysis(t, fpTalk, "talk")
	env.seedAnalysis(t, fpOther, "other")

	out, _, err = execute(NewCacheCommand(env.deps), "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "FINGERPRINT")
	assert.Contains(t, out, fpTalk[:12])
	assert.Contains(t, out, "talk.mp4")
	assert.Contains(t, out, "other.mp4")
	assert.NotContains(t, out, fpTalk[:13])
}

func TestCacheList_JSON(t *testing.T) {
	env := newTestEnv(t)
	dir := env.seedAnalysis(t, fpTalk, "talk")

	out, _, err := execute(NewCacheCommand(env.deps), "", "list", "-o", "json")
	require.NoError(t, err)

	var listings []cache.Listing
	require.NoError(t, json.Unmarshal([]byte(out), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, fpTalk, listings[0].Fingerprint)
	assert.Equal(t, dir, listings[0].AnalysisDir)
	assert.Equal(t, video.SourceFile, listings[0].Kind)
}

func TestCacheList_YAML(t *testing.T) {
	env := newTestEnv(t)
	env.seedAnalysis(t, fpTalk, "talk")

	out, _, err := execute(NewCacheCommand(env.deps), "", "list", "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "fingerprint: "+fpTalk)
}

func TestCacheShow(t *testing.T) {
	env := newTestEnv(t)
	dir := env.seedAnalysis(t, fpTalk, "talk", sampleRecords()...)

	out, _, err := execute(NewCacheCommand(env.deps), "", "show", fpTalk[:10])
	require.NoError(t, err)
	assert.Contains(t, out, "Fingerprint: "+fpTalk)
	assert.Contains(t, out, "Video:       talk.mp4")
	assert.Contains(t, out, "Size:        1024 bytes")
	assert.Contains(t, out, "Window:      0-20 seconds")
	assert.Contains(t, out, "Directory:   "+dir)
	assert.Contains(t, out, "Records:     2")
}

func TestCacheShow_JSON(t *testing.T) {
	env := newTestEnv(t)
	env.seedAnalysis(t, fpTalk, "talk", sampleRecords()...)

	out, _, err := execute(NewCacheCommand(env.deps), "", "show", fpTalk, "-o", "json")
	require.NoError(t, err)

	var res CacheShowResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, fpTalk, res.Fingerprint)
	assert.Equal(t, 2, res.Records)
	assert.Nil(t, res.Manifest)
}

func TestCacheShow_AfterAnalyze(t *testing.T) {
	env := newTestEnv(t)
	res := runAnalyzeJSON(t, env, "/videos/talk.mp4")

	out, _, err := execute(NewCacheCommand(env.deps), "", "show", res.Fingerprint[:8])
	require.NoError(t, err)
	assert.Contains(t, out, "Records:     3")
	assert.Contains(t, out, "Run "+res.RunID)
}

func TestCacheShow_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.seedAnalysis(t, fpTalk, "talk")
	env.seedAnalysis(t, fpDemo, "demo")

	_, _, err := execute(NewCacheCommand(env.deps), "", "show", "abcdef")
	assert.ErrorIs(t, err, vlerrors.ErrValidation)
	assert.Contains(t, err.Error(), "matches 2 analyses")

	_, _, err = execute(NewCacheCommand(env.deps), "", "show", "fffffff")
	assert.True(t, vlerrors.IsNotFound(err))

	_, _, err = execute(NewCacheCommand(env.deps), "", "show")
	assert.Error(t, err)
}

func TestCacheRemove(t *testing.T) {
	env := newTestEnv(t)
	dir := env.seedAnalysis(t, fpTalk, "talk", sampleRecords()...)

	out, _, err := execute(NewCacheCommand(env.deps), "", "remove", fpTalk[:8])
	require.NoError(t, err)
	assert.Contains(t, out, "Removed "+fpTalk[:12]+" (talk.mp4)")

	_, ok := env.index.Lookup(context.Background(), fpTalk)
	assert.False(t, ok)
	assert.DirExists(t, dir, "files kept without --delete-files")
}

func TestCacheRemove_DeleteFiles(t *testing.T) {
	env := newTestEnv(t)
	dir := env.seedAnalysis(t, fpTalk, "talk", sampleRecords()...)

	_, _, err := execute(NewCacheCommand(env.deps), "", "rm", fpTalk, "--delete-files")
	require.NoError(t, err)
	assert.NoDirExists(t, dir)
}

func TestCachePrune(t *testing.T) {
	env := newTestEnv(t)
	env.seedAnalysis(t, fpTalk, "talk")
	gone := env.seedAnalysis(t, fpOther, "other")
	require.NoError(t, os.RemoveAll(gone))

	out, _, err := execute(NewCacheCommand(env.deps), "", "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 1 stale entries")

	data, err := os.ReadFile(filepath.Join(env.baseDir, cache.IndexFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(data), fpOther)
	assert.Contains(t, string(data), fpTalk)
}

type listOnlyIndex struct{ cache.Index }

func TestCachePrune_Unsupported(t *testing.T) {
	env := newTestEnv(t)
	env.deps.OpenBackend = func(context.Context, *config.Config, logging.Logger) (*Backend, error) {
		return &Backend{Index: listOnlyIndex{env.index}}, nil
	}

	_, _, err := execute(NewCacheCommand(env.deps), "", "prune")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support prune")
}
