package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/runid"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// HistoryFileName is written next to the analyses of a video.
const HistoryFileName = "chat_history.json"

// Session is a conversation about one analyzed video. The history only grows,
// except through Clear.
type Session struct {
	ID string

	assistant *Assistant
	records   []video.Record
	cfg       video.ChatConfig

	mu      sync.Mutex
	context string
	built   bool
	history []video.ChatTurn
}

// NewSession starts a conversation over records.
func NewSession(a *Assistant, records []video.Record, cfg video.ChatConfig) (*Session, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no segment analyses to chat about: %w", vlerrors.ErrNotFound)
	}
	return &Session{
		ID:        runid.New(runid.KindChat),
		assistant: a,
		records:   records,
		cfg:       cfg,
	}, nil
}

// Context returns the prompt context, building it on first use.
func (s *Session) Context(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextLocked(ctx)
}

func (s *Session) contextLocked(ctx context.Context) string {
	if !s.built {
		s.context = s.assistant.BuildContext(ctx, s.records, s.cfg)
		s.built = true
	}
	return s.context
}

// Ask answers query, passing each text delta to onDelta, and records both
// turns. On failure the assistant turn holds whatever text arrived followed by
// an error notice, and the error is returned with the partial text.
func (s *Session) Ask(ctx context.Context, query string, onDelta func(string)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query = strings.TrimSpace(query)
	if query == "" {
		return "", fmt.Errorf("empty question: %w", vlerrors.ErrValidation)
	}

	promptContext := s.contextLocked(ctx)
	prior := append([]video.ChatTurn(nil), s.history...)
	s.history = append(s.history, video.ChatTurn{Role: video.RoleUser, Content: query})

	var answer strings.Builder
	var streamErr error
	for d := range s.assistant.Answer(ctx, query, promptContext, prior, s.cfg) {
		if d.Err != nil {
			streamErr = d.Err
			continue
		}
		answer.WriteString(d.Text)
		if onDelta != nil {
			onDelta(d.Text)
		}
	}
	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}

	text := answer.String()
	content := text
	if streamErr != nil {
		notice := "Error generating response: " + streamErr.Error()
		if text != "" {
			content = text + "\n\n" + notice
		} else {
			content = notice
		}
	}
	s.history = append(s.history, video.ChatTurn{Role: video.RoleAssistant, Content: content})
	return text, streamErr
}

// History returns a copy of the conversation so far.
func (s *Session) History() []video.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]video.ChatTurn(nil), s.history...)
}

// Clear forgets the conversation. The built context is kept.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

type historyFile struct {
	SessionID string           `json:"session_id"`
	SavedAt   time.Time        `json:"saved_at"`
	Turns     []video.ChatTurn `json:"turns"`
}

// Save writes the history to videoDir/chat_history.json.
func (s *Session) Save(videoDir string) error {
	s.mu.Lock()
	hf := historyFile{SessionID: s.ID, SavedAt: time.Now().UTC(), Turns: s.history}
	data, err := json.MarshalIndent(hf, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode chat history: %w", err)
	}
	if err := os.WriteFile(filepath.Join(videoDir, HistoryFileName), data, 0o644); err != nil {
		return fmt.Errorf("write chat history: %w", err)
	}
	return nil
}

// Load replaces the history with the one saved in videoDir. A missing file
// yields ErrNotFound.
func (s *Session) Load(videoDir string) error {
	data, err := os.ReadFile(filepath.Join(videoDir, HistoryFileName))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("chat history in %s: %w", videoDir, vlerrors.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read chat history: %w", err)
	}
	var hf historyFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return fmt.Errorf("decode chat history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = hf.Turns
	return nil
}
