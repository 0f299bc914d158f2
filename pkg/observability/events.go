package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ChannelStageEvents is the Redis pub/sub channel stage events are published to.
const ChannelStageEvents = "vidlens.events.stage"

// StageEvent is emitted after each pipeline stage finishes.
type StageEvent struct {
	EventID    string    `json:"event_id"`
	RunID      string    `json:"run_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Segment    int       `json:"segment,omitempty"`
	Stage      string    `json:"stage"`
	Status     string    `json:"status"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StageStatus values
const (
	StageStatusCompleted = "completed"
	StageStatusFailed    = "failed"
	StageStatusSkipped   = "skipped"
)

// Stage names
const (
	StageResolve     = "resolve"
	StageCacheLookup = "cache_lookup"
	StageMaterialize = "materialize"
	StageFrames      = "frames"
	StageAudio       = "audio"
	StageTranscribe  = "transcribe"
	StageAnalyze     = "analyze"
	StagePersist     = "persist"
	StageRegister    = "register"
	StageSummarize   = "summarize"
	StageChat        = "chat"
)

// NewStageEvent creates a new stage event with a generated ID.
func NewStageEvent(runID string, segment int, stage, status string, durationMs int64) *StageEvent {
	return &StageEvent{
		EventID:    uuid.New().String(),
		RunID:      runID,
		Segment:    segment,
		Stage:      stage,
		Status:     status,
		DurationMs: durationMs,
		Timestamp:  time.Now(),
	}
}

// WithTrace sets the trace ID from ctx.
func (e *StageEvent) WithTrace(ctx context.Context) *StageEvent {
	e.TraceID = GetTraceID(ctx)
	return e
}

// WithError marks the event failed and records err.
func (e *StageEvent) WithError(err error) *StageEvent {
	if err != nil {
		e.Status = StageStatusFailed
		e.Error = err.Error()
	}
	return e
}

// JSON returns the wire form of the event.
func (e *StageEvent) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventPublisher delivers stage events somewhere outside the process.
type EventPublisher interface {
	Publish(ctx context.Context, event *StageEvent) error
}

// RedisPublisher publishes stage events on a Redis channel.
type RedisPublisher struct {
	client  redis.Cmdable
	channel string
}

// NewRedisPublisher returns a publisher on channel. An empty channel uses
// ChannelStageEvents.
func NewRedisPublisher(client redis.Cmdable, channel string) *RedisPublisher {
	if channel == "" {
		channel = ChannelStageEvents
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event *StageEvent) error {
	data, err := event.JSON()
	if err != nil {
		return fmt.Errorf("encode stage event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish stage event: %w", err)
	}
	return nil
}
