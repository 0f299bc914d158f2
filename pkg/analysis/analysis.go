// Package analysis asks a multimodal completion service to describe one
// segment, carrying the previous segment's analysis forward as context.
package analysis

import (
	"context"
	"fmt"
	"strings"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/llm"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// MaxOutputTokens bounds every segment analysis.
const MaxOutputTokens = 4096

// ErrorPrefix marks an analysis that is a failure message, not a description.
const ErrorPrefix = "ERROR: "

// IsErrorMarked reports whether text is a failed analysis.
func IsErrorMarked(text string) bool {
	return strings.HasPrefix(text, ErrorPrefix)
}

// Input is everything needed to analyze one segment.
type Input struct {
	Frames          [][]byte
	Transcription   string
	PreviousSummary string
	Segment         video.Segment
	TotalDuration   float64
	SystemPrompt    string
	UserPrompt      string
	Temperature     float64
}

// Analyzer turns segment inputs into analysis text.
type Analyzer struct {
	svc              llm.Completer
	model            string
	maxPreviousChars int
	logger           logging.Logger
}

// New creates an Analyzer. maxPreviousChars caps the carried summary; 0
// carries it whole.
func New(svc llm.Completer, model string, maxPreviousChars int, logger logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Analyzer{
		svc:              svc,
		model:            model,
		maxPreviousChars: maxPreviousChars,
		logger:           logger.With(logging.F("component", "analysis")),
	}
}

// Analyze returns the analysis for in. On a service failure the text is an
// ErrorPrefix message and err describes the failure; the text is always
// suitable for persisting.
func (a *Analyzer) Analyze(ctx context.Context, in Input) (string, error) {
	req := BuildRequest(a.model, in, a.maxPreviousChars)
	resp, err := a.svc.Complete(ctx, req)
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = fmt.Errorf("empty response (finish reason %q)", resp.FinishReason)
	}
	if err != nil {
		a.logger.Warn("segment analysis failed",
			logging.F("segment", in.Segment.Number()),
			logging.Err(err),
		)
		return ErrorPrefix + err.Error(), fmt.Errorf("analyze segment %d: %w: %w", in.Segment.Number(), err, vlerrors.ErrAnalysisService)
	}

	if resp.FinishReason == "length" {
		a.logger.Info("segment analysis hit the token limit", logging.F("segment", in.Segment.Number()))
	}
	return resp.Content, nil
}

// BuildRequest assembles the completion request: the system prompt, the user
// prompt, then one user message holding every frame in order followed by the
// segment context text.
func BuildRequest(model string, in Input, maxPreviousChars int) llm.CompletionRequest {
	in.PreviousSummary = Truncate(in.PreviousSummary, maxPreviousChars)
	return llm.CompletionRequest{
		Operation: llm.OpAnalyze,
		Model:     model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Text: in.SystemPrompt},
			{Role: llm.RoleUser, Text: in.UserPrompt},
			{Role: llm.RoleUser, Images: in.Frames, Text: SegmentContext(in)},
		},
		Temperature: in.Temperature,
		MaxTokens:   MaxOutputTokens,
	}
}

// SegmentContext is the text block sent after the frames.
func SegmentContext(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyzing segment from %s to %s seconds of a %s second video.",
		video.FormatSeconds(in.Segment.Start),
		video.FormatSeconds(in.Segment.End),
		video.FormatSeconds(in.TotalDuration),
	)
	if in.PreviousSummary != "" {
		b.WriteString("\nPrevious segment summary: ")
		b.WriteString(in.PreviousSummary)
	}
	if strings.TrimSpace(in.Transcription) != "" {
		b.WriteString("\nAudio transcription: ")
		b.WriteString(in.Transcription)
	}
	return b.String()
}

// Truncate cuts s to at most max runes, marking the cut with an ellipsis.
// A max of 0 leaves s unchanged.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
