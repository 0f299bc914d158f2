package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogWriter struct {
	mu      sync.Mutex
	batches [][]LogEntry
	err     error
}

func (m *mockLogWriter) WriteBatch(ctx context.Context, entries []LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]LogEntry, len(entries))
	copy(cp, entries)
	m.batches = append(m.batches, cp)
	return m.err
}

func (m *mockLogWriter) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestAsyncSink_BatchesAndFlush(t *testing.T) {
	w := &mockLogWriter{}
	sink := NewAsyncSink(AsyncSinkConfig{Writer: w, BatchSize: 3, FlushInterval: time.Hour})
	defer sink.Close()

	for i := 0; i < 7; i++ {
		sink.Write(LogEntry{Message: fmt.Sprintf("entry %d", i)})
	}
	require.NoError(t, sink.Flush(context.Background()))

	assert.Equal(t, 7, w.total())
	w.mu.Lock()
	for _, b := range w.batches {
		assert.LessOrEqual(t, len(b), 3)
	}
	w.mu.Unlock()
}

func TestAsyncSink_PeriodicFlush(t *testing.T) {
	w := &mockLogWriter{}
	sink := NewAsyncSink(AsyncSinkConfig{Writer: w, BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	defer sink.Close()

	sink.Write(LogEntry{Message: "tick"})
	assert.Eventually(t, func() bool { return w.total() == 1 }, time.Second, 10*time.Millisecond)
}

func TestAsyncSink_CloseDrainsAndIgnoresLateWrites(t *testing.T) {
	w := &mockLogWriter{}
	sink := NewAsyncSink(AsyncSinkConfig{Writer: w, BatchSize: 100, FlushInterval: time.Hour})

	for i := 0; i < 5; i++ {
		sink.Write(LogEntry{Message: "queued"})
	}
	require.NoError(t, sink.Close())
	assert.Equal(t, 5, w.total())

	sink.Write(LogEntry{Message: "late"})
	assert.Equal(t, 5, w.total())
	assert.NoError(t, sink.Close())
	assert.NoError(t, sink.Flush(context.Background()))
}

func TestAsyncSink_WriterErrorReturnedFromFlush(t *testing.T) {
	w := &mockLogWriter{err: errors.New("disk full")}
	sink := NewAsyncSink(AsyncSinkConfig{Writer: w, FlushInterval: time.Hour})
	defer sink.Close()

	sink.Write(LogEntry{Message: "x"})
	assert.EqualError(t, sink.Flush(context.Background()), "disk full")
}

func TestNewAsyncSink_RequiresWriter(t *testing.T) {
	assert.Panics(t, func() { NewAsyncSink(AsyncSinkConfig{}) })
}

func TestFileWriter_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	path := RunLogPath(filepath.Join(dir, "logs"), started)
	assert.Equal(t, "vidlens_20260304_050607.log", filepath.Base(path))

	fw, err := NewFileWriter(path)
	require.NoError(t, err)

	sink := NewAsyncSink(AsyncSinkConfig{Writer: fw, FlushInterval: time.Hour})
	log := NewLogger(&Config{Level: LevelInfo, ServiceName: "vidlens", JSONFormat: true, Output: &discard{}, Sinks: []Sink{sink}})
	log.Info("first", F("segment", 1))
	log.Error("second")
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var msgs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e LogEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		msgs = append(msgs, e.Level+":"+e.Message)
	}
	assert.Equal(t, []string{"info:first", "error:second"}, msgs)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
