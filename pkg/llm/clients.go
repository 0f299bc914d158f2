package llm

import (
	"fmt"
	"time"

	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/observability"
)

// ServiceClients is the pair of services a run or chat session uses. It is a
// value: replacing a client returns a new ServiceClients and never affects a
// run already holding the old one.
type ServiceClients struct {
	chat               ChatService
	chatModel          string
	transcriber        Transcriber
	transcriptionModel string
}

// NewServiceClients bundles the completion and transcription services. The
// transcriber may be nil when transcription is not configured.
func NewServiceClients(chat ChatService, chatModel string, tr Transcriber, trModel string) ServiceClients {
	return ServiceClients{
		chat:               chat,
		chatModel:          chatModel,
		transcriber:        tr,
		transcriptionModel: trModel,
	}
}

// WithCompletion returns a copy using chat for completions.
func (s ServiceClients) WithCompletion(chat ChatService, model string) ServiceClients {
	s.chat = chat
	s.chatModel = model
	return s
}

// WithTranscription returns a copy using tr for transcription.
func (s ServiceClients) WithTranscription(tr Transcriber, model string) ServiceClients {
	s.transcriber = tr
	s.transcriptionModel = model
	return s
}

func (s ServiceClients) Chat() ChatService          { return s.chat }
func (s ServiceClients) ChatModel() string          { return s.chatModel }
func (s ServiceClients) Transcriber() Transcriber   { return s.transcriber }
func (s ServiceClients) TranscriptionModel() string { return s.transcriptionModel }

// HasTranscription reports whether a transcription service is configured.
func (s ServiceClients) HasTranscription() bool { return s.transcriber != nil }

// BuildOptions controls how BuildServiceClients wraps the raw clients.
type BuildOptions struct {
	Timeout time.Duration
	Retry   RetryPolicy
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Logger  logging.Logger
}

// BuildServiceClients dials completion and, when it has a key, transcription.
// Each client is wrapped with retries outside instrumentation, so every
// attempt is observed.
func BuildServiceClients(completion, transcription Endpoint, opts BuildOptions) (ServiceClients, error) {
	retrier := NewRetrier(opts.Retry, opts.Logger)

	cc, err := NewOpenAIClient(completion, opts.Timeout)
	if err != nil {
		return ServiceClients{}, fmt.Errorf("completion service: %w", err)
	}
	chat := WithRetry(Instrument(cc, opts.Metrics, opts.Tracer), retrier)
	clients := NewServiceClients(chat, completion.Model, nil, "")

	if transcription.APIKey == "" {
		return clients, nil
	}
	tc, err := NewOpenAIClient(transcription, opts.Timeout)
	if err != nil {
		return ServiceClients{}, fmt.Errorf("transcription service: %w", err)
	}
	tr := WithTranscriptionRetry(InstrumentTranscriber(tc, opts.Metrics, opts.Tracer), retrier)
	return clients.WithTranscription(tr, transcription.Model), nil
}
