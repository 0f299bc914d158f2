package chat

import (
	"context"
	"fmt"
	"strings"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/llm"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/observability"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

const contextPreamble = "Here is the video analysis to reference:\n"

// DefaultMaxTokens bounds an answer when the config leaves MaxTokens unset.
const DefaultMaxTokens = 1000

// Delta is one piece of a streamed answer. The last delta of a failed answer
// carries Err and no text.
type Delta struct {
	Text string
	Err  error
}

// BuildMessages returns [system, context, history..., query]. History turns
// with any role other than user or assistant are dropped.
func BuildMessages(query, promptContext string, history []video.ChatTurn, cfg video.ChatConfig) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+3)
	msgs = append(msgs,
		llm.Message{Role: llm.RoleSystem, Text: cfg.WithDefaults().SystemPrompt},
		llm.Message{Role: llm.RoleUser, Text: contextPreamble + promptContext},
	)
	for _, turn := range history {
		switch turn.Role {
		case video.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Text: turn.Content})
		case video.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Text: turn.Content})
		}
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Text: query})
}

// Answer streams the answer to query. The channel is closed after the last
// delta; a service failure ends the stream with exactly one Delta{Err}.
// Callers that stop reading early must cancel ctx: that closes the upstream
// stream and lets the producer exit.
func (a *Assistant) Answer(ctx context.Context, query, promptContext string, history []video.ChatTurn, cfg video.ChatConfig) <-chan Delta {
	out := make(chan Delta)
	cfg = cfg.WithDefaults()

	req := llm.CompletionRequest{
		Operation:   llm.OpChat,
		Model:       a.modelFor(cfg),
		Messages:    BuildMessages(query, promptContext, history, cfg),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	go func() {
		defer close(out)
		ctx, span := a.tracer.StartChatSpan(ctx, req.Model)
		defer span.End()
		helper := observability.NewSpanHelper(span)

		send := func(d Delta) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if strings.TrimSpace(query) == "" {
			send(Delta{Err: fmt.Errorf("empty question: %w", vlerrors.ErrValidation)})
			return
		}

		resp, err := a.svc.Stream(ctx, req, func(text string) {
			if text != "" {
				send(Delta{Text: text})
			}
		})
		if err != nil {
			pe := vlerrors.ClassifyError(err, "chat")
			helper.SetError(err, string(pe.Code), vlerrors.IsRetryable(pe.Code))
			a.metrics.RecordChatQuery("error")
			a.logger.Warn("chat answer failed", logging.F("error_code", string(pe.Code)), logging.Err(err))
			send(Delta{Err: fmt.Errorf("%w: %w", vlerrors.ErrChatService, err)})
			return
		}

		helper.SetSuccess()
		a.metrics.RecordChatQuery("ok")
		a.logger.Debug("chat answer complete",
			logging.F("chars", len(resp.Content)),
			logging.F("finish_reason", resp.FinishReason),
		)
	}()
	return out
}
