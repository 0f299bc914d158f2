package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified failure of an external call or pipeline stage.
type ErrorCode string

const (
	ErrTimeout          ErrorCode = "timeout"
	ErrRateLimit        ErrorCode = "rate_limit"
	ErrUnavailable      ErrorCode = "service_unavailable"
	ErrContextCancelled ErrorCode = "context_cancelled"
	ErrAuth             ErrorCode = "auth_failed"
	ErrContentFiltered  ErrorCode = "content_filtered"
	ErrContentTooLarge  ErrorCode = "content_too_large"
	ErrToolMissing      ErrorCode = "tool_missing"
	ErrProcessingError  ErrorCode = "processing_error"
)

// PipelineError is a structured error for a failed stage. Segment is the
// 1-based segment number, or 0 when the failure is not tied to a segment.
type PipelineError struct {
	Code     ErrorCode
	Stage    string
	Segment  int
	Message  string
	Duration time.Duration
	Timeout  time.Duration
	Cause    error
}

func (e *PipelineError) Error() string {
	stage := e.Stage
	if e.Segment > 0 {
		stage = fmt.Sprintf("%s[segment %d]", e.Stage, e.Segment)
	}
	if e.Timeout > 0 && e.Duration > 0 {
		return fmt.Sprintf("%s: %s timed out after %s (limit: %s)", e.Code, stage, e.Duration.Truncate(time.Second), e.Timeout.Truncate(time.Second))
	}
	if stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// ClassifyError inspects an error and returns a *PipelineError with the appropriate code.
// Unknown errors are classified as ErrProcessingError.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	var existing *PipelineError
	if errors.As(err, &existing) && existing.Stage == stage {
		return existing
	}

	pe := &PipelineError{
		Stage: stage,
		Cause: err,
	}

	if errors.Is(err, context.DeadlineExceeded) {
		pe.Code = ErrTimeout
		pe.Message = "operation timed out"
		return pe
	}

	if errors.Is(err, context.Canceled) {
		pe.Code = ErrContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	pe.Message = msg

	// Local input problems never become transient service codes.
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrSourceUnavailable) {
		pe.Code = ErrProcessingError
		return pe
	}

	switch {
	case strings.Contains(lower, "executable file not found"):
		pe.Code = ErrToolMissing
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "quota exceeded"):
		pe.Code = ErrRateLimit
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") || strings.Contains(lower, "408") || strings.Contains(lower, "504"):
		pe.Code = ErrTimeout
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		pe.Code = ErrAuth
	case strings.Contains(lower, "content_filter") || strings.Contains(lower, "content management policy"):
		pe.Code = ErrContentFiltered
	case strings.Contains(lower, "too large") || strings.Contains(lower, "maximum context length") || strings.Contains(lower, "413"):
		pe.Code = ErrContentTooLarge
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "unavailable") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "no such host") || strings.Contains(lower, "connection reset"):
		pe.Code = ErrUnavailable
	default:
		pe.Code = ErrProcessingError
	}
	return pe
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == ErrTimeout
	}
	return false
}

// IsErrorRetryable returns true if the error is likely transient and worth retrying.
// Plain errors are classified first.
func IsErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *PipelineError
	if !errors.As(err, &pe) {
		pe = ClassifyError(err, "")
	}
	return IsRetryable(pe.Code)
}
