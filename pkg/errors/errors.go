// Package errors provides the sentinel errors shared by the vidlens packages.
//
// Every failure surfaced by the pipeline wraps one of these sentinels so callers
// can branch with errors.Is regardless of how many layers added context.
//
// Usage:
//
//	import vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
//
//	return fmt.Errorf("probe %s: %w", path, vlerrors.ErrSourceUnavailable)
//
//	if vlerrors.IsValidation(err) {
//	    // reject input
//	}
package errors

import "errors"

// Domain errors.
var (
	// ErrSourceUnavailable indicates the video file or URL could not be read or probed.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrValidation indicates invalid configuration or an empty analysis window.
	ErrValidation = errors.New("validation error")

	// ErrSegmentExtraction indicates a single segment could not be cut or sampled.
	ErrSegmentExtraction = errors.New("segment extraction failed")

	// ErrTranscription indicates the speech-to-text service failed.
	ErrTranscription = errors.New("transcription failed")

	// ErrAnalysisService indicates the multimodal completion service failed.
	ErrAnalysisService = errors.New("analysis service failed")

	// ErrChatService indicates the streaming chat completion failed.
	ErrChatService = errors.New("chat service failed")

	// ErrCacheIO indicates the cache index could not be read or written.
	ErrCacheIO = errors.New("cache io failure")

	// ErrNotFound indicates the requested analysis or cache entry does not exist.
	ErrNotFound = errors.New("not found")
)

// IsSourceUnavailable reports whether any error in err's chain is ErrSourceUnavailable.
func IsSourceUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsSegmentExtraction reports whether any error in err's chain is ErrSegmentExtraction.
func IsSegmentExtraction(err error) bool {
	return errors.Is(err, ErrSegmentExtraction)
}

// IsTranscription reports whether any error in err's chain is ErrTranscription.
func IsTranscription(err error) bool {
	return errors.Is(err, ErrTranscription)
}

// IsAnalysisService reports whether any error in err's chain is ErrAnalysisService.
func IsAnalysisService(err error) bool {
	return errors.Is(err, ErrAnalysisService)
}

// IsChatService reports whether any error in err's chain is ErrChatService.
func IsChatService(err error) bool {
	return errors.Is(err, ErrChatService)
}

// IsCacheIO reports whether any error in err's chain is ErrCacheIO.
func IsCacheIO(err error) bool {
	return errors.Is(err, ErrCacheIO)
}

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
