package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrTimeout: {
		Code:            ErrTimeout,
		Retryable:       true,
		Description:     "Operation exceeded time limit",
		SuggestedAction: "Raise api.timeout or media.timeout in ~/.vidlens/config.yaml",
	},
	ErrRateLimit: {
		Code:            ErrRateLimit,
		Retryable:       true,
		Description:     "API rate limit exceeded",
		SuggestedAction: "Wait and retry, or raise api.max_retries",
	},
	ErrUnavailable: {
		Code:            ErrUnavailable,
		Retryable:       true,
		Description:     "Model endpoint unreachable or overloaded",
		SuggestedAction: "Check the endpoint with: vidlens config show",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Retryable:       false,
		Description:     "Operation cancelled by user or system",
		SuggestedAction: "Re-run the command; completed segments are kept on disk",
	},
	ErrAuth: {
		Code:            ErrAuth,
		Retryable:       false,
		Description:     "API key rejected by the service",
		SuggestedAction: "Store a valid key with: vidlens auth login",
	},
	ErrContentFiltered: {
		Code:            ErrContentFiltered,
		Retryable:       false,
		Description:     "Request blocked by the provider's content filter",
		SuggestedAction: "Adjust the prompts or skip the segment",
	},
	ErrContentTooLarge: {
		Code:            ErrContentTooLarge,
		Retryable:       false,
		Description:     "Request exceeds the model's context or upload limit",
		SuggestedAction: "Lower processing.fps, raise processing.resize, or shorten processing.interval",
	},
	ErrToolMissing: {
		Code:            ErrToolMissing,
		Retryable:       false,
		Description:     "Required external tool (ffmpeg, ffprobe, yt-dlp) not on PATH",
		SuggestedAction: "Install the tool or set media.ffmpeg_path / media.ytdlp_path",
	},
	ErrProcessingError: {
		Code:            ErrProcessingError,
		Retryable:       false,
		Description:     "Unclassified processing failure",
		SuggestedAction: "Re-run with --log-level debug and inspect the log file",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Re-run with --log-level debug and check the log file in logs/"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
