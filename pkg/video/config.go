package video

import (
	"fmt"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
)

// Default prompts used when the configuration leaves them empty.
const (
	DefaultSystemPrompt = `You are an expert video analyst. You are shown frames sampled in order from one segment of a longer video, optionally with an audio transcription and a summary of the previous segment.
Describe what happens in this segment: the setting, people and objects, actions and events, any visible text, and how it continues from the previous segment. Be specific and factual.`

	DefaultUserPrompt = "Analyze these frames from the video segment and describe what is happening."

	DefaultChatSystemPrompt = `You are a helpful assistant answering questions about a video. You are given segment-by-segment analyses of the video, with timestamps, and sometimes audio transcriptions and an overall summary.
Answer using only that material. Cite the segment times you rely on. If the analyses do not contain the answer, say so.`
)

// ProcessingConfig controls how a video is segmented and analyzed.
type ProcessingConfig struct {
	SegmentInterval    int     `yaml:"interval"`
	FramesPerSecond    float64 `yaml:"fps"`
	ResizeRatio        int     `yaml:"resize"`
	AudioTranscription bool    `yaml:"transcribe_audio"`
	SaveFrames         bool    `yaml:"save_frames"`
	Window             Window  `yaml:"window"`
	Temperature        float64 `yaml:"temperature"`
	SystemPrompt       string  `yaml:"system_prompt"`
	UserPrompt         string  `yaml:"user_prompt"`
	// MaxPreviousChars caps the carried summary; 0 carries it whole.
	MaxPreviousChars int `yaml:"max_previous_chars"`
}

// DefaultProcessingConfig returns the defaults for a new analysis.
func DefaultProcessingConfig() ProcessingConfig {
	return ProcessingConfig{
		SegmentInterval:    10,
		FramesPerSecond:    1,
		ResizeRatio:        4,
		AudioTranscription: true,
		Temperature:        0.5,
		SystemPrompt:       DefaultSystemPrompt,
		UserPrompt:         DefaultUserPrompt,
	}
}

// Validate checks the ranges of every field.
func (c ProcessingConfig) Validate() error {
	switch {
	case c.SegmentInterval < 1:
		return fmt.Errorf("segment interval must be at least 1 second, got %d: %w", c.SegmentInterval, vlerrors.ErrValidation)
	case c.FramesPerSecond <= 0 || c.FramesPerSecond > 30:
		return fmt.Errorf("frames per second must be in (0, 30], got %v: %w", c.FramesPerSecond, vlerrors.ErrValidation)
	case c.ResizeRatio < 0:
		return fmt.Errorf("resize ratio must be non-negative, got %d: %w", c.ResizeRatio, vlerrors.ErrValidation)
	case c.Temperature < 0 || c.Temperature > 1:
		return fmt.Errorf("temperature must be in [0, 1], got %v: %w", c.Temperature, vlerrors.ErrValidation)
	case c.MaxPreviousChars < 0:
		return fmt.Errorf("max previous chars must be non-negative, got %d: %w", c.MaxPreviousChars, vlerrors.ErrValidation)
	case c.Window.Enabled && (c.Window.Start < 0 || c.Window.End < 0):
		return fmt.Errorf("window bounds must be non-negative: %w", vlerrors.ErrValidation)
	case c.Window.Enabled && c.Window.End != 0 && c.Window.Start >= c.Window.End:
		return fmt.Errorf("window start %v must be before end %v: %w", c.Window.Start, c.Window.End, vlerrors.ErrValidation)
	}
	return nil
}

// WithDefaults fills empty prompts.
func (c ProcessingConfig) WithDefaults() ProcessingConfig {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.UserPrompt == "" {
		c.UserPrompt = DefaultUserPrompt
	}
	return c
}

// ChatConfig controls how chat context is assembled and answered.
type ChatConfig struct {
	Model                string  `yaml:"model"`
	Temperature          float64 `yaml:"temperature"`
	SummarizeFirst       bool    `yaml:"summarize_first"`
	IncludeTranscription bool    `yaml:"include_transcription"`
	MaxContextSegments   int     `yaml:"max_context_segments"`
	MaxTokens            int     `yaml:"max_tokens"`
	SystemPrompt         string  `yaml:"system_prompt"`
}

// DefaultChatConfig returns the chat defaults.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		Model:                "gpt-4o",
		Temperature:          0.7,
		SummarizeFirst:       false,
		IncludeTranscription: true,
		MaxContextSegments:   5,
		MaxTokens:            1000,
		SystemPrompt:         DefaultChatSystemPrompt,
	}
}

// Validate checks the ranges of every field.
func (c ChatConfig) Validate() error {
	switch {
	case c.Temperature < 0 || c.Temperature > 1:
		return fmt.Errorf("chat temperature must be in [0, 1], got %v: %w", c.Temperature, vlerrors.ErrValidation)
	case c.MaxContextSegments < 1:
		return fmt.Errorf("max context segments must be at least 1, got %d: %w", c.MaxContextSegments, vlerrors.ErrValidation)
	case c.MaxTokens < 0:
		return fmt.Errorf("max tokens must be non-negative, got %d: %w", c.MaxTokens, vlerrors.ErrValidation)
	}
	return nil
}

// WithDefaults fills empty prompt and token limit.
func (c ChatConfig) WithDefaults() ChatConfig {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultChatSystemPrompt
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1000
	}
	return c
}
