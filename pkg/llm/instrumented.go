package llm

import (
	"context"
	"time"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/observability"
)

type instrumentedChat struct {
	inner   ChatService
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Instrument records metrics and spans for every call through svc. Either
// metrics or tracer may be nil.
func Instrument(svc ChatService, metrics *observability.Metrics, tracer *observability.Tracer) ChatService {
	if tracer == nil {
		tracer = observability.NewTracer()
	}
	return &instrumentedChat{inner: svc, metrics: metrics, tracer: tracer}
}

func (c *instrumentedChat) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, span := c.tracer.StartLLMSpan(ctx, req.Operation, req.Model)
	defer span.End()

	start := time.Now()
	resp, err := c.inner.Complete(ctx, req)
	record(c.metrics, observability.NewSpanHelper(span), req.Operation, start, resp, err)
	return resp, err
}

func (c *instrumentedChat) Stream(ctx context.Context, req CompletionRequest, onDelta func(string)) (*CompletionResponse, error) {
	ctx, span := c.tracer.StartLLMSpan(ctx, req.Operation, req.Model)
	defer span.End()

	start := time.Now()
	resp, err := c.inner.Stream(ctx, req, onDelta)
	record(c.metrics, observability.NewSpanHelper(span), req.Operation, start, resp, err)
	return resp, err
}

type instrumentedTranscriber struct {
	inner   Transcriber
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// InstrumentTranscriber records metrics and spans for every transcription.
func InstrumentTranscriber(t Transcriber, metrics *observability.Metrics, tracer *observability.Tracer) Transcriber {
	if tracer == nil {
		tracer = observability.NewTracer()
	}
	return &instrumentedTranscriber{inner: t, metrics: metrics, tracer: tracer}
}

func (t *instrumentedTranscriber) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	ctx, span := t.tracer.StartLLMSpan(ctx, OpTranscribe, req.Model)
	defer span.End()

	start := time.Now()
	text, err := t.inner.Transcribe(ctx, req)
	record(t.metrics, observability.NewSpanHelper(span), OpTranscribe, start, nil, err)
	return text, err
}

func record(m *observability.Metrics, h *observability.SpanHelper, op string, start time.Time, resp *CompletionResponse, err error) {
	elapsed := time.Since(start)
	status := "ok"
	if err != nil {
		pe := classify(err, op)
		status = string(pe.Code)
		h.SetError(err, string(pe.Code), vlerrors.IsRetryable(pe.Code))
	} else {
		h.SetSuccess()
	}

	var usage TokenUsage
	if resp != nil {
		usage = resp.TokensUsed
	}
	h.SetLLMResult(usage.Prompt, usage.Completion, elapsed.Milliseconds())

	if m == nil {
		return
	}
	m.RecordLLMCall(op, status, elapsed.Seconds())
	if usage.Total > 0 {
		m.RecordLLMTokens(op, usage.Prompt, usage.Completion)
	}
}
