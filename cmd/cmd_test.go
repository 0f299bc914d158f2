package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/vidlens/config"
	"github.com/otherjamesbrown/vidlens/credentials"
	"github.com/otherjamesbrown/vidlens/pkg/cache"
	"github.com/otherjamesbrown/vidlens/pkg/llm"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/media"
	"github.com/otherjamesbrown/vidlens/pkg/pipeline"
	"github.com/otherjamesbrown/vidlens/pkg/store"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

const (
	testContentHash = "abababababababababababababababababababababababababababababababab"
	testKeyEnv      = "VIDLENS_TEST_ENCRYPTION_KEY"
)

// fakeMedia serves a 25 second file without running ffmpeg.
type fakeMedia struct {
	duration float64
}

func (f *fakeMedia) ResolveFile(ctx context.Context, path, workDir string) (video.Source, error) {
	staged := filepath.Join(workDir, "source.mp4")
	if err := os.WriteFile(staged, []byte("video bytes"), 0o644); err != nil {
		return video.Source{}, err
	}
	return video.Source{
		Kind:        video.SourceFile,
		Path:        staged,
		Name:        filepath.Base(path),
		Size:        11,
		ContentHash: testContentHash,
		Duration:    f.duration,
		FPS:         30,
	}, nil
}

func (f *fakeMedia) ResolveURL(ctx context.Context, url string) (video.Source, error) {
	return video.Source{Kind: video.SourceURL, URL: url, Title: "Remote Talk", Duration: f.duration}, nil
}

func (f *fakeMedia) MaterializeSegment(ctx context.Context, src video.Source, seg video.Segment, dir string) (string, error) {
	path := filepath.Join(dir, "segment_"+seg.Label()+".mp4")
	return path, os.WriteFile(path, []byte("clip"), 0o644)
}

func (f *fakeMedia) SampleFrames(ctx context.Context, segmentPath string, fps float64, resize int) ([][]byte, error) {
	return [][]byte{[]byte("frame")}, nil
}

func (f *fakeMedia) ExtractAudio(ctx context.Context, segmentPath string) (media.AudioClip, error) {
	return media.AbsentAudio, nil
}

// fakeChat answers analyses with "analysis N" and streams chat answers from
// its chunks.
type fakeChat struct {
	mu        sync.Mutex
	completes int
	streams   int
	chunks    []string
	streamErr error
}

func (f *fakeChat) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	return &llm.CompletionResponse{Content: fmt.Sprintf("analysis %d", f.completes), FinishReason: "stop"}, nil
}

func (f *fakeChat) Stream(ctx context.Context, req llm.CompletionRequest, onDelta func(string)) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.streams++
	chunks, streamErr := f.chunks, f.streamErr
	f.mu.Unlock()

	if streamErr != nil {
		return nil, streamErr
	}
	for _, c := range chunks {
		onDelta(c)
	}
	return &llm.CompletionResponse{Content: strings.Join(chunks, ""), FinishReason: "stop"}, nil
}

func (f *fakeChat) counts() (completes, streams int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completes, f.streams
}

// testEnv is a command environment backed by temp directories and fakes.
type testEnv struct {
	deps    *CommandDeps
	chat    *fakeChat
	index   *cache.FileIndex
	baseDir string
	credDir string
	pinged  int
	pingErr error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	for _, name := range append(append([]string{}, completionKeyEnv...), transcriptionKeyEnv...) {
		t.Setenv(name, "")
	}
	t.Setenv(testKeyEnv, strings.Repeat("0f", 32))

	base := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.BaseDir = base
	cfg.Processing.AudioTranscription = false
	cfg.API.Completion.APIKey = "sk-test-completion"

	env := &testEnv{
		chat:    &fakeChat{chunks: []string{"The speaker ", "mentions the budget."}},
		index:   cache.NewFileIndex(filepath.Join(base, cache.IndexFileName), nil),
		baseDir: base,
		credDir: t.TempDir(),
	}
	env.deps = (&CommandDeps{
		Config: cfg,
		NewServices: func(*config.Config, llm.BuildOptions) (llm.ServiceClients, error) {
			return llm.NewServiceClients(env.chat, "gpt-4o", nil, ""), nil
		},
		NewMedia: func(*config.Config, logging.Logger) pipeline.MediaExtractor {
			return &fakeMedia{duration: 25}
		},
		OpenBackend: func(context.Context, *config.Config, logging.Logger) (*Backend, error) {
			return &Backend{Index: env.index}, nil
		},
		OpenCredentials: func() (*credentials.Store, error) {
			return credentials.NewStoreWithKeyProvider(env.credDir, credentials.NewEnvKeyProvider(testKeyEnv))
		},
		PingCompletion: func(context.Context, *config.Config) error {
			env.pinged++
			return env.pingErr
		},
		Interactive: func() bool { return false },
	}).withDefaults()
	return env
}

// credentialStore opens the environment's credential store.
func (e *testEnv) credentialStore(t *testing.T) *credentials.Store {
	t.Helper()
	s, err := e.deps.OpenCredentials()
	require.NoError(t, err)
	return s
}

// seedAnalysis writes records into a new analysis directory and registers it.
func (e *testEnv) seedAnalysis(t *testing.T, fingerprint, name string, records ...video.Record) string {
	t.Helper()
	dir := filepath.Join(e.baseDir, name+"_"+fingerprint[:8]+"_analysis")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	st := store.New(nil)
	for _, rec := range records {
		require.NoError(t, st.Persist(dir, rec))
	}
	require.NoError(t, e.index.Register(context.Background(), fingerprint, cache.Entry{
		Kind:        video.SourceFile,
		Filename:    name + ".mp4",
		Size:        1024,
		EndTime:     20,
		AnalysisDir: dir,
		RunID:       "rf-test",
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Unix(),
	}))
	return dir
}

func sampleRecords() []video.Record {
	speech := "Our budget grew."
	return []video.Record{
		{Segment: 1, StartTime: 0, EndTime: 10, Analysis: "A speaker walks on stage."},
		{Segment: 2, StartTime: 10, EndTime: 20, Analysis: "The speaker shows the budget slide.", Transcription: &speech},
	}
}

// execute runs c with args and returns stdout and stderr.
func execute(c *cobra.Command, stdin string, args ...string) (string, string, error) {
	var out, errOut bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&errOut)
	c.SetIn(strings.NewReader(stdin))
	c.SetArgs(args)
	err := c.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func subcommandNames(c *cobra.Command) []string {
	var names []string
	for _, sub := range c.Commands() {
		names = append(names, sub.Name())
	}
	return names
}

func TestNewCommands_WithNilDeps(t *testing.T) {
	tests := []struct {
		use string
		new func(*CommandDeps) *cobra.Command
	}{
		{"analyze <file|url>", NewAnalyzeCommand},
		{"chat <video-dir|fingerprint|file|url>", NewChatCommand},
		{"cache", NewCacheCommand},
		{"auth", NewAuthCommand},
		{"config", NewConfigCommand},
	}
	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			c := tt.new(nil)
			require.NotNil(t, c)
			assert.Equal(t, tt.use, c.Use)
		})
	}
}

func TestWithDefaults_KeepsProvidedFields(t *testing.T) {
	env := newTestEnv(t)
	d := env.deps

	assert.NotNil(t, d.Logger)
	assert.NotNil(t, d.Registry)
	assert.NotNil(t, d.Metrics)
	assert.NotNil(t, d.Tracer)
	assert.NotNil(t, d.LoadConfig)
	assert.False(t, d.Interactive())

	cfg, err := d.config()
	require.NoError(t, err)
	assert.Same(t, d.Config, cfg)
}

func TestConfig_LoadsOnce(t *testing.T) {
	calls := 0
	d := (&CommandDeps{LoadConfig: func() (*config.Config, error) {
		calls++
		return config.DefaultConfig(), nil
	}}).withDefaults()

	first, err := d.config()
	require.NoError(t, err)
	second, err := d.config()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestServices_PassesRetryLimit(t *testing.T) {
	var got llm.BuildOptions
	d := (&CommandDeps{NewServices: func(_ *config.Config, opts llm.BuildOptions) (llm.ServiceClients, error) {
		got = opts
		return llm.ServiceClients{}, nil
	}}).withDefaults()

	cfg := config.DefaultConfig()
	cfg.API.MaxRetries = 4
	cfg.API.Timeout = 90 * time.Second
	_, err := d.services(cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, got.Retry.MaxRetries)
	assert.Equal(t, 90*time.Second, got.Timeout)
	assert.Same(t, d.Metrics, got.Metrics)
}

func TestOpenBackend_FileIndexInBaseDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.BaseDir = t.TempDir()

	b, err := openBackend(context.Background(), cfg, logging.NewNopLogger())
	require.NoError(t, err)
	defer b.close()

	idx, ok := b.Index.(*cache.FileIndex)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(cfg.Storage.BaseDir, cache.IndexFileName), idx.Path())
	assert.Nil(t, b.Publisher)
}

func TestBackendClose_NilSafe(t *testing.T) {
	assert.NoError(t, (&Backend{}).close())
}

func TestOutputFormat(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputFormat = config.OutputFormatYAML

	f, err := outputFormat("", cfg)
	require.NoError(t, err)
	assert.Equal(t, config.OutputFormatYAML, f)

	f, err = outputFormat("json", cfg)
	require.NoError(t, err)
	assert.Equal(t, config.OutputFormatJSON, f)

	_, err = outputFormat("xml", cfg)
	assert.Error(t, err)
}

func TestWriteStructured(t *testing.T) {
	v := map[string]int{"segments": 3}

	var buf bytes.Buffer
	require.NoError(t, WriteStructured(&buf, config.OutputFormatJSON, v))
	assert.JSONEq(t, `{"segments": 3}`, buf.String())

	buf.Reset()
	require.NoError(t, WriteStructured(&buf, config.OutputFormatYAML, v))
	assert.Equal(t, "segments: 3\n", buf.String())

	assert.Error(t, WriteStructured(&buf, config.OutputFormatText, v))
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		def   bool
		want  bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"", true, true},
		{"maybe\n", true, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q/%v", tt.input, tt.def), func(t *testing.T) {
			var out bytes.Buffer
			got := confirm(strings.NewReader(tt.input), &out, "Reuse it?", tt.def)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Reuse it?")
		})
	}
}

func TestTruncateLine(t *testing.T) {
	assert.Equal(t, "short", truncateLine("short", 10))
	assert.Equal(t, "a b c", truncateLine("a\n b\t\tc", 10))
	assert.Equal(t, "abcdefg...", truncateLine("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", truncateLine("éééééééé", 6))
}
