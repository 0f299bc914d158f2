// Package chat assembles prompt context from segment analyses and answers
// questions about a video with a streaming completion.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/otherjamesbrown/vidlens/pkg/llm"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/observability"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

const (
	contextHeader = "Video Analysis Context:\n\n"
	summaryHeader = "Overall Summary:\n"

	summaryInstruction  = "Summarize the following video analysis segments into a coherent overview:\n\n"
	summarySystemPrompt = "Create a concise summary of the video based on these segment analyses."

	// SummaryExcerptChars is how much of each analysis the summary call sees.
	SummaryExcerptChars = 500
	// SummaryMaxTokens bounds the summary response.
	SummaryMaxTokens = 500
)

// Assistant builds chat context and answers questions over it.
type Assistant struct {
	svc     llm.ChatService
	model   string
	logger  logging.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Assistant) {
		a.logger = logger
	}
}

// WithMetrics records chat queries into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Assistant) {
		a.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(a *Assistant) {
		a.tracer = t
	}
}

// New creates an assistant. model is used when a ChatConfig leaves Model empty.
func New(svc llm.ChatService, model string, opts ...Option) *Assistant {
	a := &Assistant{
		svc:    svc,
		model:  model,
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observability.NewMetrics(nil)
	}
	if a.tracer == nil {
		a.tracer = observability.NewTracer()
	}
	a.logger = a.logger.With(logging.F("component", "chat"))
	return a
}

func (a *Assistant) modelFor(cfg video.ChatConfig) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return a.model
}

// Retain returns the first max records in segment order.
func Retain(records []video.Record, max int) []video.Record {
	sorted := make([]video.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Segment < sorted[j].Segment })
	if max > 0 && len(sorted) > max {
		sorted = sorted[:max]
	}
	return sorted
}

// BuildContext renders records as prompt context. With SummarizeFirst and more
// than one retained record, an overall summary is requested first and
// prepended; a failed summary is logged and left out.
func (a *Assistant) BuildContext(ctx context.Context, records []video.Record, cfg video.ChatConfig) string {
	kept := Retain(records, cfg.MaxContextSegments)

	var b strings.Builder
	b.WriteString(contextHeader)

	if cfg.SummarizeFirst && len(kept) > 1 {
		summary, err := a.Summarize(ctx, kept, cfg)
		if err != nil {
			a.logger.Warn("overall summary failed, continuing without it", logging.Err(err))
		} else if summary != "" {
			b.WriteString(summaryHeader)
			b.WriteString(summary)
			b.WriteString("\n\n")
		}
	}

	for _, rec := range kept {
		b.WriteString(segmentHeading(rec))
		b.WriteString(rec.Analysis)
		b.WriteString("\n")
		if cfg.IncludeTranscription && rec.HasTranscription() {
			b.WriteString("Transcription: ")
			b.WriteString(strings.TrimSpace(*rec.Transcription))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Summarize asks for a short overview of records, each cut to
// SummaryExcerptChars.
func (a *Assistant) Summarize(ctx context.Context, records []video.Record, cfg video.ChatConfig) (string, error) {
	var prompt strings.Builder
	prompt.WriteString(summaryInstruction)
	for _, rec := range records {
		prompt.WriteString(segmentHeading(rec))
		prompt.WriteString(excerpt(rec.Analysis, SummaryExcerptChars))
		prompt.WriteString("...\n\n")
	}

	resp, err := a.svc.Complete(ctx, llm.CompletionRequest{
		Operation: llm.OpSummarize,
		Model:     a.modelFor(cfg),
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: summarySystemPrompt},
			{Role: llm.RoleUser, Text: prompt.String()},
		},
		Temperature: cfg.Temperature,
		MaxTokens:   SummaryMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func segmentHeading(rec video.Record) string {
	return fmt.Sprintf("Segment %d (%s-%s seconds):\n",
		rec.Segment, video.FormatSeconds(rec.StartTime), video.FormatSeconds(rec.EndTime))
}

// excerpt cuts s to at most n runes.
func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
