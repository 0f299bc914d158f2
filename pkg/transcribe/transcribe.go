// Package transcribe turns a segment's audio clip into text. It never fails
// the caller: absent audio and service errors become fixed sentences that
// are stored in place of a transcription.
package transcribe

import (
	"context"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/llm"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/media"
)

// Fixed texts stored when no transcription could be produced.
const (
	NoAudio = "No audio found in this segment."
	Failed  = "Audio processing failed."
)

// Outcome says how a transcription was produced.
type Outcome string

const (
	OutcomeTranscribed Outcome = "transcribed"
	OutcomeNoAudio     Outcome = "no_audio"
	OutcomeFailed      Outcome = "failed"
)

// Transcriber wraps a speech service.
type Transcriber struct {
	svc      llm.Transcriber
	model    string
	language string
	logger   logging.Logger
}

// New creates a Transcriber. svc may be nil, in which case every clip with
// audio yields Failed.
func New(svc llm.Transcriber, model, language string, logger logging.Logger) *Transcriber {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Transcriber{
		svc:      svc,
		model:    model,
		language: language,
		logger:   logger.With(logging.F("component", "transcribe")),
	}
}

// Transcribe returns the text for clip and how it was obtained.
func (t *Transcriber) Transcribe(ctx context.Context, clip media.AudioClip) (string, Outcome) {
	if clip.Absent || clip.Path == "" {
		t.logger.Info("no audio track in segment")
		return NoAudio, OutcomeNoAudio
	}
	if t.svc == nil {
		t.logger.Warn("transcription requested but no transcription service is configured",
			logging.Err(vlerrors.ErrTranscription))
		return Failed, OutcomeFailed
	}

	text, err := t.svc.Transcribe(ctx, llm.TranscriptionRequest{
		Model:     t.model,
		AudioPath: clip.Path,
		Language:  t.language,
	})
	if err != nil {
		pe := vlerrors.ClassifyError(err, "transcribe")
		t.logger.Warn("transcription failed",
			logging.F("audio", clip.Path),
			logging.F("error_code", string(pe.Code)),
			logging.Err(err),
		)
		return Failed, OutcomeFailed
	}
	t.logger.Debug("transcription complete", logging.F("audio", clip.Path), logging.F("chars", len(text)))
	return text, OutcomeTranscribed
}
