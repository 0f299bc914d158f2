package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
)

// Providers
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

// DefaultAzureAPIVersion is used when an Azure endpoint has no explicit version.
const DefaultAzureAPIVersion = "2024-06-01"

// Endpoint configures one service connection.
type Endpoint struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"-"`
	BaseURL    string `yaml:"base_url,omitempty"`
	Endpoint   string `yaml:"endpoint,omitempty"`
	APIVersion string `yaml:"api_version,omitempty"`
	Model      string `yaml:"model"`
}

// Validate checks that the endpoint can be dialled.
func (e Endpoint) Validate() error {
	if e.APIKey == "" {
		return fmt.Errorf("%s endpoint has no API key: %w", e.providerName(), vlerrors.ErrValidation)
	}
	if e.Model == "" {
		return fmt.Errorf("%s endpoint has no model: %w", e.providerName(), vlerrors.ErrValidation)
	}
	switch e.providerName() {
	case ProviderOpenAI:
		return nil
	case ProviderAzure:
		_, err := NormalizeAzureEndpoint(e.Endpoint)
		return err
	default:
		return fmt.Errorf("unknown provider %q: %w", e.Provider, vlerrors.ErrValidation)
	}
}

func (e Endpoint) providerName() string {
	if e.Provider == "" {
		return ProviderOpenAI
	}
	return strings.ToLower(e.Provider)
}

// NormalizeAzureEndpoint checks for an https://<resource>.openai.azure.com
// address and returns it with a trailing slash.
func NormalizeAzureEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.HasPrefix(endpoint, "https://") {
		return "", fmt.Errorf("azure endpoint %q must start with https://: %w", endpoint, vlerrors.ErrValidation)
	}
	trimmed := strings.TrimSuffix(endpoint, "/")
	if !strings.HasSuffix(trimmed, ".openai.azure.com") {
		return "", fmt.Errorf("azure endpoint %q should look like https://RESOURCE.openai.azure.com/: %w", endpoint, vlerrors.ErrValidation)
	}
	return trimmed + "/", nil
}

// OpenAIClient talks to OpenAI or Azure OpenAI through openai-go.
type OpenAIClient struct {
	client   openai.Client
	provider string
}

// NewOpenAIClient creates a client for ep. Retries are left to the caller.
func NewOpenAIClient(ep Endpoint, timeout time.Duration) (*OpenAIClient, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}

	switch ep.providerName() {
	case ProviderAzure:
		endpoint, _ := NormalizeAzureEndpoint(ep.Endpoint)
		version := ep.APIVersion
		if version == "" {
			version = DefaultAzureAPIVersion
		}
		opts = append(opts, azure.WithEndpoint(endpoint, version), azure.WithAPIKey(ep.APIKey))
	default:
		opts = append(opts, option.WithAPIKey(ep.APIKey))
		if ep.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(ep.BaseURL))
		}
	}

	return &OpenAIClient{
		client:   openai.NewClient(opts...),
		provider: ep.providerName(),
	}, nil
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string { return c.provider }

func (c *OpenAIClient) params(req CompletionRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    toMessageParams(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", c.provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s completion returned no choices", c.provider)
	}
	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		LatencyMs:    int(time.Since(start).Milliseconds()),
		TokensUsed: TokenUsage{
			Prompt:     int(resp.Usage.PromptTokens),
			Completion: int(resp.Usage.CompletionTokens),
			Total:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest, onDelta func(string)) (*CompletionResponse, error) {
	start := time.Now()
	stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(req))
	defer stream.Close()

	out := &CompletionResponse{Model: req.Model}
	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Model != "" {
			out.Model = chunk.Model
		}
		if chunk.Usage.TotalTokens > 0 {
			out.TokensUsed = TokenUsage{
				Prompt:     int(chunk.Usage.PromptTokens),
				Completion: int(chunk.Usage.CompletionTokens),
				Total:      int(chunk.Usage.TotalTokens),
			}
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				out.FinishReason = string(choice.FinishReason)
			}
			if choice.Delta.Content == "" {
				continue
			}
			text.WriteString(choice.Delta.Content)
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
	}
	out.Content = text.String()
	out.LatencyMs = int(time.Since(start).Milliseconds())
	if err := stream.Err(); err != nil {
		return out, fmt.Errorf("%s stream: %w", c.provider, err)
	}
	return out, nil
}

func (c *OpenAIClient) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	f, err := os.Open(req.AudioPath)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(req.Model),
	}
	if req.Language != "" {
		params.Language = openai.String(req.Language)
	}
	resp, err := c.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%s transcription: %w", c.provider, err)
	}
	return resp.Text, nil
}

// Ping sends a tiny completion to verify credentials and deployment.
func (c *OpenAIClient) Ping(ctx context.Context, model string) error {
	_, err := c.Complete(ctx, CompletionRequest{
		Operation: OpPing,
		Model:     model,
		Messages:  []Message{{Role: RoleUser, Text: "Hello, this is a connection test"}},
		MaxTokens: 10,
	})
	return err
}

func toMessageParams(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text))
		default:
			if len(m.Images) == 0 {
				out = append(out, openai.UserMessage(m.Text))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Images)+1)
			for _, img := range m.Images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img),
				}))
			}
			if m.Text != "" {
				parts = append(parts, openai.TextContentPart(m.Text))
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

// classify maps service failures to pipeline error codes, preferring the HTTP
// status of an API error over message matching.
func classify(err error, stage string) *vlerrors.PipelineError {
	pe := vlerrors.ClassifyError(err, stage)
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return pe
	}
	switch code := apiErr.StatusCode; {
	case code == 429:
		pe.Code = vlerrors.ErrRateLimit
	case code == 408 || code == 504:
		pe.Code = vlerrors.ErrTimeout
	case code == 401 || code == 403:
		pe.Code = vlerrors.ErrAuth
	case code == 413:
		pe.Code = vlerrors.ErrContentTooLarge
	case code >= 500:
		pe.Code = vlerrors.ErrUnavailable
	}
	return pe
}
