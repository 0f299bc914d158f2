package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeRegistry_Completeness(t *testing.T) {
	allCodes := []ErrorCode{
		ErrTimeout,
		ErrRateLimit,
		ErrUnavailable,
		ErrContextCancelled,
		ErrAuth,
		ErrContentFiltered,
		ErrContentTooLarge,
		ErrToolMissing,
		ErrProcessingError,
	}

	for _, code := range allCodes {
		t.Run(string(code), func(t *testing.T) {
			info, ok := ErrorCodeRegistry[code]
			assert.True(t, ok, "ErrorCode %s should be in registry", code)
			assert.Equal(t, code, info.Code)
			assert.NotEmpty(t, info.Description)
			assert.Greater(t, len(info.SuggestedAction), 15)
		})
	}
}

func TestIsRetryable_ErrorCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected bool
	}{
		{ErrTimeout, true},
		{ErrRateLimit, true},
		{ErrUnavailable, true},
		{ErrContextCancelled, false},
		{ErrAuth, false},
		{ErrContentFiltered, false},
		{ErrContentTooLarge, false},
		{ErrToolMissing, false},
		{ErrProcessingError, false},
		{"unknown_code", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.code))
		})
	}
}

func TestGetSuggestedActionAndDescription(t *testing.T) {
	assert.Contains(t, GetSuggestedAction(ErrAuth), "vidlens auth login")
	assert.Contains(t, GetSuggestedAction("unknown_code"), "log")
	assert.Equal(t, "Unknown error", GetDescription("unknown_code"))
	assert.Equal(t, "API rate limit exceeded", GetDescription(ErrRateLimit))
}
