// Package llm defines the language and speech service contracts used by the
// analysis pipeline and the chat session, and an OpenAI/Azure implementation.
package llm

import (
	"context"
)

// Role of a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Operation names used for metrics, spans and logs.
const (
	OpAnalyze    = "analyze"
	OpSummarize  = "summarize"
	OpChat       = "chat"
	OpTranscribe = "transcribe"
	OpPing       = "ping"
)

// Message is one chat message. Images are JPEG bytes sent before Text, in order.
type Message struct {
	Role   Role
	Text   string
	Images [][]byte
}

// CompletionRequest represents a request to the completion service.
type CompletionRequest struct {
	// Operation labels the call for metrics and tracing.
	Operation string `json:"operation"`

	// Model is the model or Azure deployment name.
	Model string `json:"model"`

	Messages []Message `json:"-"`

	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `json:"temperature"`

	// MaxTokens limits response length (0 = service default).
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionResponse represents a response from the completion service.
type CompletionResponse struct {
	// Content is the text of the first choice.
	Content string `json:"content"`

	// TokensUsed tracks token consumption.
	TokensUsed TokenUsage `json:"tokens_used"`

	// LatencyMs is the response time in milliseconds.
	LatencyMs int `json:"latency_ms"`

	// Model is the actual model used (may differ from requested).
	Model string `json:"model"`

	// FinishReason indicates why the model stopped generating.
	// "stop" = natural end, "length" = hit max_tokens limit.
	FinishReason string `json:"finish_reason,omitempty"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// TranscriptionRequest asks for the text of one audio file.
type TranscriptionRequest struct {
	Model     string
	AudioPath string
	// Language is an optional ISO-639-1 hint.
	Language string
}

// Completer runs a single non-streaming completion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Streamer runs a streaming completion, calling onDelta with each text
// fragment in arrival order. The returned response carries the full text.
type Streamer interface {
	Stream(ctx context.Context, req CompletionRequest, onDelta func(string)) (*CompletionResponse, error)
}

// ChatService is a completion service that can also stream.
type ChatService interface {
	Completer
	Streamer
}

// Transcriber converts speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
}
