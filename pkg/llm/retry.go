package llm

import (
	"context"
	"errors"
	"time"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
)

// RetryPolicy defines retry behavior for failed service calls.
type RetryPolicy struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
}

// DefaultRetryPolicy retries a retryable failure once.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     1,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
	}
}

// CalculateBackoff calculates the backoff duration for a given retry attempt.
func (p RetryPolicy) CalculateBackoff(retryCount int) time.Duration {
	if retryCount <= 0 {
		return p.InitialBackoff
	}

	backoff := p.InitialBackoff
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		if backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return backoff
}

// ShouldRetry reports whether err is transient and attempts remain.
func (p RetryPolicy) ShouldRetry(err error, retryCount int) bool {
	if retryCount >= p.MaxRetries {
		return false
	}
	var stop *permanentError
	if errors.As(err, &stop) {
		return false
	}
	return vlerrors.IsRetryable(classify(err, "").Code)
}

// permanentError stops the retry loop regardless of classification.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Retrier runs an operation under a RetryPolicy.
type Retrier struct {
	policy RetryPolicy
	logger logging.Logger
	sleep  func(context.Context, time.Duration) error
}

// NewRetrier creates a Retrier.
func NewRetrier(policy RetryPolicy, logger logging.Logger) *Retrier {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Retrier{policy: policy, logger: logger, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, fails permanently, or attempts run out.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !r.policy.ShouldRetry(err, attempt) {
			var stop *permanentError
			if errors.As(err, &stop) {
				return stop.err
			}
			return err
		}

		backoff := r.policy.CalculateBackoff(attempt)
		r.logger.Warn("service call failed, retrying",
			logging.F("operation", operation),
			logging.F("attempt", attempt+1),
			logging.F("backoff", backoff.String()),
			logging.Err(err),
		)
		if serr := r.sleep(ctx, backoff); serr != nil {
			return err
		}
	}
}

type retryingChat struct {
	inner ChatService
	r     *Retrier
}

// WithRetry wraps svc so retryable failures are retried under r. A stream is
// only retried while it has not produced any text.
func WithRetry(svc ChatService, r *Retrier) ChatService {
	return &retryingChat{inner: svc, r: r}
}

func (c *retryingChat) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var resp *CompletionResponse
	err := c.r.Do(ctx, req.Operation, func(ctx context.Context) error {
		var err error
		resp, err = c.inner.Complete(ctx, req)
		return err
	})
	return resp, err
}

func (c *retryingChat) Stream(ctx context.Context, req CompletionRequest, onDelta func(string)) (*CompletionResponse, error) {
	var resp *CompletionResponse
	emitted := false
	err := c.r.Do(ctx, req.Operation, func(ctx context.Context) error {
		var err error
		resp, err = c.inner.Stream(ctx, req, func(s string) {
			emitted = true
			if onDelta != nil {
				onDelta(s)
			}
		})
		if err != nil && emitted {
			return &permanentError{err: err}
		}
		return err
	})
	return resp, err
}

type retryingTranscriber struct {
	inner Transcriber
	r     *Retrier
}

// WithTranscriptionRetry wraps t so retryable failures are retried under r.
func WithTranscriptionRetry(t Transcriber, r *Retrier) Transcriber {
	return &retryingTranscriber{inner: t, r: r}
}

func (t *retryingTranscriber) Transcribe(ctx context.Context, req TranscriptionRequest) (string, error) {
	var text string
	err := t.r.Do(ctx, OpTranscribe, func(ctx context.Context) error {
		var err error
		text, err = t.inner.Transcribe(ctx, req)
		return err
	})
	return text, err
}
