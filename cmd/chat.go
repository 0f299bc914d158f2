package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/vidlens/config"
	"github.com/otherjamesbrown/vidlens/pkg/chat"
	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/media"
	"github.com/otherjamesbrown/vidlens/pkg/pipeline"
	"github.com/otherjamesbrown/vidlens/pkg/store"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// chatFlags holds the chat command flags.
type chatFlags struct {
	queries       []string
	model         string
	temperature   float64
	summarize     bool
	transcription bool
	maxSegments   int
	maxTokens     int
	systemPrompt  string
	history       bool
	showContext   bool
}

const replHelp = `Commands:
  /context   show the analysis context sent with each question
  /history   show the conversation so far
  /clear     forget the conversation
  /exit      leave (also /quit or Ctrl-D)`

// NewChatCommand creates the chat command.
func NewChatCommand(deps *CommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	deps.withDefaults()
	f := &chatFlags{}

	cmd := &cobra.Command{
		Use:   "chat <video-dir|fingerprint|file|url>",
		Short: "Ask questions about an analyzed video",
		Long: `Chat about a video using its segment analyses as context.

The target can be an analysis directory, a cache fingerprint (or a unique
prefix of one), or a file or URL. A file or URL that has not been analyzed yet
is analyzed first with the configured processing settings.

Without --query an interactive session starts. Answers stream as they are
generated. Type /help in the session for its commands.

Examples:
  # Interactive session over a finished analysis
  vidlens chat video/talk_01234567_analysis

  # One question, answered and exited
  vidlens chat talk.mp4 -q "When does the speaker mention the budget?"

  # Summarize the whole video first and keep the conversation on disk
  vidlens chat talk.mp4 --summarize --history`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, deps, f, args[0])
		},
	}

	def := video.DefaultChatConfig()
	flags := cmd.Flags()
	flags.StringArrayVarP(&f.queries, "query", "q", nil, "Ask this question and exit (repeatable)")
	flags.StringVar(&f.model, "model", "", "Chat model or deployment (default: chat.model)")
	flags.Float64Var(&f.temperature, "temperature", def.Temperature, "Answer temperature (0.0-1.0)")
	flags.BoolVar(&f.summarize, "summarize", def.SummarizeFirst, "Prepend an overall summary to the context")
	flags.BoolVar(&f.transcription, "transcription", def.IncludeTranscription, "Include audio transcriptions in the context")
	flags.IntVar(&f.maxSegments, "max-segments", def.MaxContextSegments, "Segments included in the context")
	flags.IntVar(&f.maxTokens, "max-tokens", def.MaxTokens, "Maximum tokens per answer")
	flags.StringVar(&f.systemPrompt, "system-prompt", "", "Replace the chat system prompt")
	flags.BoolVar(&f.history, "history", false, "Resume and save the conversation next to the analysis")
	flags.BoolVar(&f.showContext, "show-context", false, "Print the analysis context before chatting")

	return cmd
}

// chatConfig overlays the flags the user set onto the configured defaults.
func (f *chatFlags) chatConfig(cmd *cobra.Command, base video.ChatConfig) video.ChatConfig {
	cfg := base
	changed := cmd.Flags().Changed
	if f.model != "" {
		cfg.Model = f.model
	}
	if changed("temperature") {
		cfg.Temperature = f.temperature
	}
	if changed("summarize") {
		cfg.SummarizeFirst = f.summarize
	}
	if changed("transcription") {
		cfg.IncludeTranscription = f.transcription
	}
	if changed("max-segments") {
		cfg.MaxContextSegments = f.maxSegments
	}
	if changed("max-tokens") {
		cfg.MaxTokens = f.maxTokens
	}
	if f.systemPrompt != "" {
		cfg.SystemPrompt = f.systemPrompt
	}
	return cfg
}

func runChat(cmd *cobra.Command, deps *CommandDeps, f *chatFlags, target string) error {
	ctx := cmd.Context()
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	chatCfg := f.chatConfig(cmd, cfg.Chat)
	if err := chatCfg.Validate(); err != nil {
		return err
	}

	videoDir, records, err := resolveChatTarget(ctx, cmd, deps, cfg, target)
	if err != nil {
		return err
	}

	services, err := deps.services(cfg)
	if err != nil {
		return err
	}
	assistant := chat.New(services.Chat(), services.ChatModel(),
		chat.WithLogger(deps.Logger),
		chat.WithMetrics(deps.Metrics),
		chat.WithTracer(deps.Tracer),
	)
	session, err := chat.NewSession(assistant, records, chatCfg)
	if err != nil {
		return err
	}

	if f.history {
		if err := session.Load(videoDir); err != nil && !vlerrors.IsNotFound(err) {
			deps.Logger.Warn("could not load chat history", logging.Err(err))
		}
	}
	save := func() {
		if !f.history {
			return
		}
		if err := session.Save(videoDir); err != nil {
			deps.Logger.Warn("could not save chat history", logging.Err(err))
		}
	}

	out := cmd.OutOrStdout()
	if f.showContext {
		fmt.Fprintln(out, session.Context(ctx))
	}

	if len(f.queries) > 0 {
		for _, q := range f.queries {
			if _, err := ask(ctx, out, session, q); err != nil {
				save()
				return err
			}
		}
		save()
		return nil
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Chatting about %d analyzed segments in %s. Type /help for commands.\n", len(records), videoDir)
	err = repl(ctx, cmd.InOrStdin(), out, cmd.ErrOrStderr(), session, save)
	save()
	return err
}

// resolveChatTarget finds the analysis directory for target, analyzing a
// file or URL first when nothing is cached for it.
func resolveChatTarget(ctx context.Context, cmd *cobra.Command, deps *CommandDeps, cfg *config.Config, target string) (string, []video.Record, error) {
	st := store.New(deps.Logger)

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		records, err := st.LoadAll(target)
		if err != nil {
			return "", nil, err
		}
		if len(records) == 0 {
			return "", nil, fmt.Errorf("no segment analyses in %s: %w", target, vlerrors.ErrNotFound)
		}
		return target, records, nil
	}

	if !media.IsURL(target) {
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			backend, err := deps.OpenBackend(ctx, cfg, deps.Logger)
			if err != nil {
				return "", nil, err
			}
			defer backend.close()
			entry, err := findEntry(ctx, backend, target)
			if err != nil {
				return "", nil, err
			}
			records, err := st.LoadAll(entry.AnalysisDir)
			if err != nil {
				return "", nil, err
			}
			return entry.AnalysisDir, records, nil
		}
	}

	req := pipeline.Request{Input: target, Config: cfg.Processing, Reuse: pipeline.AlwaysReuse}
	res, err := executeRun(ctx, cmd.ErrOrStderr(), deps, cfg, req, deps.Interactive())
	if err != nil {
		return "", nil, err
	}
	if len(res.Records) == 0 {
		return "", nil, fmt.Errorf("analysis of %s produced no segments: %w", target, vlerrors.ErrNotFound)
	}
	return res.VideoDir, res.Records, nil
}

// ask streams one answer to out.
func ask(ctx context.Context, out io.Writer, session *chat.Session, query string) (string, error) {
	text, err := session.Ask(ctx, query, func(delta string) {
		fmt.Fprint(out, delta)
	})
	if text != "" {
		fmt.Fprintln(out)
	}
	if err != nil {
		return text, fmt.Errorf("generating response: %w", err)
	}
	return text, nil
}

// repl reads questions until EOF, /exit or cancellation. Answer failures are
// reported and the session continues.
func repl(ctx context.Context, in io.Reader, out, errOut io.Writer, session *chat.Session, afterTurn func()) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(errOut, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(errOut)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/help":
			fmt.Fprintln(out, replHelp)
			continue
		case "/clear":
			session.Clear()
			fmt.Fprintln(errOut, "Conversation cleared.")
			continue
		case "/context":
			fmt.Fprintln(out, session.Context(ctx))
			continue
		case "/history":
			printHistory(out, session.History())
			continue
		}

		if _, err := ask(ctx, out, session, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(errOut, "Error generating response: %v\n", err)
		}
		afterTurn()
	}
}

func printHistory(w io.Writer, turns []video.ChatTurn) {
	if len(turns) == 0 {
		fmt.Fprintln(w, "No conversation yet.")
		return
	}
	for _, t := range turns {
		label := "You"
		if t.Role == video.RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(w, "%s: %s\n\n", label, t.Content)
	}
}
