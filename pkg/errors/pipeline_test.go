package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestClassifyError_Nil(t *testing.T) {
	result := ClassifyError(nil, "analyze")
	if result != nil {
		t.Errorf("Expected nil for nil error, got %v", result)
	}
}

func TestClassifyError_DeadlineExceeded(t *testing.T) {
	err := fmt.Errorf("chat completion: %w", context.DeadlineExceeded)
	result := ClassifyError(err, "analyze")

	if result == nil {
		t.Fatal("Expected non-nil PipelineError")
	}
	if result.Code != ErrTimeout {
		t.Errorf("Expected ErrTimeout, got %s", result.Code)
	}
	if result.Stage != "analyze" {
		t.Errorf("Expected stage 'analyze', got %s", result.Stage)
	}
	if result.Message != "operation timed out" {
		t.Errorf("Expected 'operation timed out', got %s", result.Message)
	}
	if result.Cause != err {
		t.Errorf("Expected cause to be original error")
	}
}

func TestClassifyError_Canceled(t *testing.T) {
	result := ClassifyError(context.Canceled, "segment")
	if result.Code != ErrContextCancelled {
		t.Errorf("Expected ErrContextCancelled, got %s", result.Code)
	}
}

func TestClassifyError_Patterns(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorCode
	}{
		{"POST /chat/completions: 429 Too Many Requests", ErrRateLimit},
		{"Rate limit reached for gpt-4o", ErrRateLimit},
		{"dial tcp 10.0.0.1:443: connection refused", ErrUnavailable},
		{"HTTP 503 Service Unavailable", ErrUnavailable},
		{"lookup api.example.com: no such host", ErrUnavailable},
		{"request timed out", ErrTimeout},
		{"HTTP 401 Unauthorized", ErrAuth},
		{"response blocked by content_filter", ErrContentFiltered},
		{"This model's maximum context length is 128000 tokens", ErrContentTooLarge},
		{`exec: "ffmpeg": executable file not found in $PATH`, ErrToolMissing},
		{"something odd happened", ErrProcessingError},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			result := ClassifyError(errors.New(tt.msg), "analyze")
			if result.Code != tt.want {
				t.Errorf("ClassifyError(%q) = %s, want %s", tt.msg, result.Code, tt.want)
			}
			if result.Message != tt.msg {
				t.Errorf("Expected message %q, got %q", tt.msg, result.Message)
			}
		})
	}
}

func TestClassifyError_LocalSentinelsNotTransient(t *testing.T) {
	err := fmt.Errorf("probe clip.mp4: %w", ErrSourceUnavailable)
	result := ClassifyError(err, "resolve")
	if result.Code != ErrProcessingError {
		t.Errorf("Expected ErrProcessingError, got %s", result.Code)
	}
	if IsErrorRetryable(err) {
		t.Errorf("source errors should not be retryable")
	}
}

func TestClassifyError_KeepsExistingForSameStage(t *testing.T) {
	pe := &PipelineError{Code: ErrRateLimit, Stage: "analyze", Message: "slow down"}
	wrapped := fmt.Errorf("segment 3: %w", pe)

	if got := ClassifyError(wrapped, "analyze"); got != pe {
		t.Errorf("Expected existing PipelineError to be returned")
	}
	if got := ClassifyError(wrapped, "transcribe"); got == pe {
		t.Errorf("Expected a new PipelineError for a different stage")
	}
}

func TestPipelineError_Error(t *testing.T) {
	tests := []struct {
		name string
		pe   *PipelineError
		want string
	}{
		{
			name: "timeout with segment",
			pe:   &PipelineError{Code: ErrTimeout, Stage: "analyze", Segment: 4, Duration: 90 * time.Second, Timeout: 90 * time.Second},
			want: "timeout: analyze[segment 4] timed out after 1m30s (limit: 1m30s)",
		},
		{
			name: "stage only",
			pe:   &PipelineError{Code: ErrRateLimit, Stage: "transcribe", Message: "quota exceeded"},
			want: "rate_limit: transcribe: quota exceeded",
		},
		{
			name: "no stage",
			pe:   &PipelineError{Code: ErrProcessingError, Message: "something went wrong"},
			want: "processing_error: something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pe.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPipelineError_Unwrap(t *testing.T) {
	pe := &PipelineError{Code: ErrProcessingError, Cause: ErrAnalysisService}
	if !errors.Is(pe, ErrAnalysisService) {
		t.Errorf("Expected errors.Is to see the cause")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(&PipelineError{Code: ErrTimeout}) {
		t.Errorf("timeout code should be a timeout")
	}
	if IsTimeout(&PipelineError{Code: ErrRateLimit}) {
		t.Errorf("rate limit code should not be a timeout")
	}
	if IsTimeout(errors.New("plain")) {
		t.Errorf("plain error should not be a timeout")
	}
}

func TestIsErrorRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"classified rate limit", &PipelineError{Code: ErrRateLimit}, true},
		{"classified auth", &PipelineError{Code: ErrAuth}, false},
		{"plain 503", errors.New("503 service unavailable"), true},
		{"plain deadline", context.DeadlineExceeded, true},
		{"plain cancel", context.Canceled, false},
		{"unknown", errors.New("bad request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsErrorRetryable(tt.err); got != tt.want {
				t.Errorf("IsErrorRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
