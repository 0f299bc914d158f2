package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for analysis operations.
	TracerName = "vidlens"
)

// Span attribute keys
const (
	AttrRunID        = "run_id"
	AttrSourceKind   = "source_kind"
	AttrSource       = "source"
	AttrSegment      = "segment"
	AttrSegmentStart = "segment_start"
	AttrSegmentEnd   = "segment_end"
	AttrStage        = "stage"
	AttrOperation    = "operation"
	AttrModel        = "model"
	AttrDurationMs   = "duration_ms"
	AttrInputTokens  = "input_tokens"
	AttrOutputTokens = "output_tokens"
	AttrErrorType    = "error_type"
	AttrRetryable    = "retryable"
	AttrCacheHit     = "cache_hit"
)

// Span names
const (
	SpanRun     = "vidlens.run"
	SpanSegment = "vidlens.segment"
	SpanLLMCall = "vidlens.llm_call"
	SpanChat    = "vidlens.chat"
)

// Tracer provides tracing for analysis runs. Without a registered
// TracerProvider every span is a no-op.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new tracer from the global provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// StartRunSpan starts a root span for one analysis run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID, sourceKind, source string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRun,
		trace.WithAttributes(
			attribute.String(AttrRunID, runID),
			attribute.String(AttrSourceKind, sourceKind),
			attribute.String(AttrSource, source),
		),
	)
}

// StartSegmentSpan starts a span covering all stages of one segment.
func (t *Tracer) StartSegmentSpan(ctx context.Context, segment int, start, end float64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanSegment,
		trace.WithAttributes(
			attribute.Int(AttrSegment, segment),
			attribute.Float64(AttrSegmentStart, start),
			attribute.Float64(AttrSegmentEnd, end),
		),
	)
}

// StartStageSpan starts a span for a pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, fmt.Sprintf("vidlens.stage.%s", stage),
		trace.WithAttributes(
			attribute.String(AttrStage, stage),
		),
	)
}

// StartLLMSpan starts a span for a service call.
func (t *Tracer) StartLLMSpan(ctx context.Context, operation, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanLLMCall,
		trace.WithAttributes(
			attribute.String(AttrOperation, operation),
			attribute.String(AttrModel, model),
		),
	)
}

// StartChatSpan starts a span for answering one question.
func (t *Tracer) StartChatSpan(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanChat,
		trace.WithAttributes(
			attribute.String(AttrModel, model),
		),
	)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetDuration sets the duration attribute.
func (h *SpanHelper) SetDuration(durationMs int64) {
	h.span.SetAttributes(attribute.Int64(AttrDurationMs, durationMs))
}

// SetCacheHit records whether a run was served from the cache.
func (h *SpanHelper) SetCacheHit(hit bool) {
	h.span.SetAttributes(attribute.Bool(AttrCacheHit, hit))
}

// SetLLMResult sets LLM result attributes.
func (h *SpanHelper) SetLLMResult(inputTokens, outputTokens int, latencyMs int64) {
	h.span.SetAttributes(
		attribute.Int(AttrInputTokens, inputTokens),
		attribute.Int(AttrOutputTokens, outputTokens),
		attribute.Int64(AttrDurationMs, latencyMs),
	)
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, errorType string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorType, errorType),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span.
func (h *SpanHelper) AddEvent(name string, attrs ...attribute.KeyValue) {
	h.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
