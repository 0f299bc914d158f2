package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// LogEntry represents a log entry to be written to a sink.
type LogEntry struct {
	Timestamp time.Time         `json:"time"`
	Level     string            `json:"level"`
	Service   string            `json:"service"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RunID     string            `json:"run_id,omitempty"`
	Caller    string            `json:"caller,omitempty"`
}

// LogWriter persists batches of log entries.
type LogWriter interface {
	WriteBatch(ctx context.Context, entries []LogEntry) error
}

// Sink is an interface for components that receive log entries.
type Sink interface {
	// Write queues a log entry for async processing.
	Write(entry LogEntry)
	// Flush blocks until all queued entries are written.
	Flush(ctx context.Context) error
	// Close shuts down the sink gracefully.
	Close() error
}

// AsyncSink buffers entries and hands them to a LogWriter in batches from a
// background goroutine, so logging never blocks on disk.
type AsyncSink struct {
	writer    LogWriter
	entryChan chan LogEntry
	flushChan chan chan error
	ticker    *time.Ticker
	batchSize int
	timeout   time.Duration
	wg        sync.WaitGroup
	done      chan struct{}
	mu        sync.Mutex
	closed    bool
}

// AsyncSinkConfig configures an AsyncSink.
type AsyncSinkConfig struct {
	Writer LogWriter
	// BufferSize is the channel capacity (default: 1000).
	BufferSize int
	// BatchSize is the max entries per batch write (default: 100).
	BatchSize int
	// FlushInterval is how often buffered entries are written (default: 1s).
	FlushInterval time.Duration
}

// NewAsyncSink creates a sink and starts its background writer.
func NewAsyncSink(cfg AsyncSinkConfig) *AsyncSink {
	if cfg.Writer == nil {
		panic("AsyncSink requires a non-nil Writer")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	s := &AsyncSink{
		writer:    cfg.Writer,
		entryChan: make(chan LogEntry, cfg.BufferSize),
		flushChan: make(chan chan error),
		ticker:    time.NewTicker(cfg.FlushInterval),
		batchSize: cfg.BatchSize,
		timeout:   5 * time.Second,
		done:      make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Write queues an entry. When the buffer is full the entry is dropped with a
// note on stderr.
func (s *AsyncSink) Write(entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	select {
	case s.entryChan <- entry:
	default:
		fmt.Fprintf(os.Stderr, "[logsink] buffer full, dropping entry: %s\n", entry.Message)
	}
}

// Flush writes everything queued so far.
func (s *AsyncSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	errChan := make(chan error, 1)
	select {
	case s.flushChan <- errChan:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.timeout):
		return fmt.Errorf("flush timeout after %v", s.timeout)
	}
}

// Close drains the buffer and stops the background writer.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.ticker.Stop()
	s.wg.Wait()

	if c, ok := s.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (s *AsyncSink) run() {
	defer s.wg.Done()

	batch := make([]LogEntry, 0, s.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		err := s.writer.WriteBatch(ctx, batch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[logsink] failed to write batch of %d entries: %v\n", len(batch), err)
		}
		batch = batch[:0]
		return err
	}

	// drainQueued moves everything already buffered into batch.
	drainQueued := func() {
		for {
			select {
			case entry := <-s.entryChan:
				batch = append(batch, entry)
				if len(batch) >= s.batchSize {
					flush()
				}
			default:
				return
			}
		}
	}

	for {
		select {
		case entry := <-s.entryChan:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}

		case <-s.ticker.C:
			flush()

		case errChan := <-s.flushChan:
			drainQueued()
			errChan <- flush()

		case <-s.done:
			drainQueued()
			flush()
			return
		}
	}
}

// FileWriter appends entries as JSON lines to a single log file.
type FileWriter struct {
	mu   sync.Mutex
	file *os.File
	buf  *bufio.Writer
}

// NewFileWriter opens (creating if needed) path for appending.
func NewFileWriter(path string) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &FileWriter{file: f, buf: bufio.NewWriter(f)}, nil
}

// RunLogPath returns the per-run log file name under dir.
func RunLogPath(dir string, started time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("vidlens_%s.log", started.Format("20060102_150405")))
}

// WriteBatch implements LogWriter.
func (w *FileWriter) WriteBatch(_ context.Context, entries []LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	enc := json.NewEncoder(w.buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return w.buf.Flush()
}

// Close flushes and closes the file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// getCaller returns file:line for the frame skip levels up.
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
