package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/vidlens/credentials"
)

// Environment variables that carry service keys, in precedence order.
var (
	completionKeyEnv    = []string{"OPENAI_API_KEY", "AZURE_OPENAI_API_KEY"}
	transcriptionKeyEnv = []string{"WHISPER_API_KEY"}
)

// authFlags holds the auth login flags.
type authFlags struct {
	completionKey    string
	transcriptionKey string
	nonInteractive   bool
	check            bool
}

// NewAuthCommand creates the auth command with its subcommands.
func NewAuthCommand(deps *CommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage service API keys",
		Long: `Manage the API keys for the completion and transcription services.

Keys are stored encrypted in ~/.vidlens/credentials.yaml. The encryption key is
kept in the system keyring, derived from VIDLENS_CREDENTIALS_PASSPHRASE, or
read from VIDLENS_ENCRYPTION_KEY.

Environment variables (OPENAI_API_KEY, AZURE_OPENAI_API_KEY, WHISPER_API_KEY)
take precedence over stored keys.`,
	}

	cmd.AddCommand(newAuthLoginCommand(deps))
	cmd.AddCommand(newAuthLogoutCommand(deps))
	cmd.AddCommand(newAuthStatusCommand(deps))

	return cmd
}

func newAuthLoginCommand(deps *CommandDeps) *cobra.Command {
	f := &authFlags{}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store API keys",
		Long: `Store API keys for the completion and transcription services.

Without flags the keys are prompted for with hidden input. A key that is not
given keeps its stored value. Leave the transcription key empty to use the
completion key for both services.

Examples:
  # Interactive
  vidlens auth login

  # From flags, verifying the completion key works
  vidlens auth login --completion-key sk-... --check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, deps, f)
		},
	}

	cmd.Flags().StringVar(&f.completionKey, "completion-key", "", "API key for the completion service")
	cmd.Flags().StringVar(&f.transcriptionKey, "transcription-key", "", "API key for the transcription service")
	cmd.Flags().BoolVar(&f.nonInteractive, "non-interactive", false, "Fail instead of prompting for input")
	cmd.Flags().BoolVar(&f.check, "check", false, "Send a test request with the completion key before saving")

	return cmd
}

func runLogin(cmd *cobra.Command, deps *CommandDeps, f *authFlags) error {
	store, err := deps.OpenCredentials()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}

	creds, err := store.Load()
	if errors.Is(err, credentials.ErrNoCredentials) {
		creds = &credentials.Credentials{}
	} else if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	completion, transcription := f.completionKey, f.transcriptionKey
	if completion == "" && transcription == "" {
		if f.nonInteractive {
			return fmt.Errorf("no keys provided and --non-interactive flag set")
		}
		completion, transcription, err = promptForKeys(cmd.InOrStdin(), cmd.ErrOrStderr(), deps.Interactive())
		if err != nil {
			return fmt.Errorf("reading keys: %w", err)
		}
	}

	if completion != "" {
		if err := validateKey(completion); err != nil {
			return fmt.Errorf("invalid completion key: %w", err)
		}
		creds.CompletionAPIKey = completion
	}
	if transcription != "" {
		if err := validateKey(transcription); err != nil {
			return fmt.Errorf("invalid transcription key: %w", err)
		}
		creds.TranscriptionAPIKey = transcription
	}
	if creds.CompletionAPIKey == "" {
		return fmt.Errorf("a completion key is required")
	}

	if f.check {
		cfg, err := deps.config()
		if err != nil {
			return err
		}
		checkCfg := *cfg
		checkCfg.API.Completion.APIKey = creds.CompletionAPIKey
		if err := deps.PingCompletion(cmd.Context(), &checkCfg); err != nil {
			return fmt.Errorf("completion key check failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Completion service responded.")
	}

	if err := store.Save(creds); err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Login successful!")
	fmt.Fprintf(out, "  Completion key:    %s\n", credentials.MaskAPIKey(creds.CompletionAPIKey))
	if creds.TranscriptionAPIKey != "" {
		fmt.Fprintf(out, "  Transcription key: %s\n", credentials.MaskAPIKey(creds.TranscriptionAPIKey))
	} else {
		fmt.Fprintln(out, "  Transcription key: (shares the completion key)")
	}
	fmt.Fprintf(out, "\nCredentials stored in: %s\n", store.Path())
	fmt.Fprintf(out, "Encryption key: %s\n", store.KeyDescription())
	return nil
}

// promptForKeys asks for both keys. On a terminal input is hidden.
func promptForKeys(in io.Reader, out io.Writer, hidden bool) (string, string, error) {
	reader := bufio.NewReader(in)
	read := func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		if hidden {
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(out)
			if err == nil {
				return strings.TrimSpace(string(b)), nil
			}
		}
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				return "", nil
			}
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprintln(out, "Enter the API keys for the analysis services.")
	completion, err := read("Completion API key: ")
	if err != nil {
		return "", "", err
	}
	if completion == "" {
		return "", "", fmt.Errorf("no completion key provided")
	}
	transcription, err := read("Transcription API key (press Enter to share the completion key): ")
	if err != nil {
		return "", "", err
	}
	return completion, transcription, nil
}

// validateKey performs basic validation on an API key.
func validateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("API key is empty")
	case len(key) < 8:
		return fmt.Errorf("API key is too short")
	case strings.ContainsAny(key, " \t\r\n"):
		return fmt.Errorf("API key contains whitespace")
	}
	return nil
}

func newAuthLogoutCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored API keys",
		Long: `Remove stored API keys from the local credential store.

Environment variables are not affected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.OpenCredentials()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}

			out := cmd.OutOrStdout()
			if !store.Exists() {
				fmt.Fprintln(out, "No stored credentials found.")
				return nil
			}
			if err := store.Delete(); err != nil {
				return fmt.Errorf("removing credentials: %w", err)
			}
			fmt.Fprintln(out, "Logged out successfully.")
			fmt.Fprintln(out, "Stored credentials have been removed.")

			for _, name := range append(append([]string{}, completionKeyEnv...), transcriptionKeyEnv...) {
				if os.Getenv(name) != "" {
					fmt.Fprintf(out, "\nNote: %s environment variable is still set.\n", name)
				}
			}
			return nil
		},
	}
}

func newAuthStatusCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which API keys are available and where they come from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Authentication Status")
			fmt.Fprintln(out, "=====================")
			fmt.Fprintln(out)

			var stored *credentials.Credentials
			store, err := deps.OpenCredentials()
			if err != nil {
				fmt.Fprintf(out, "Credential store unavailable: %v\n\n", err)
			} else {
				creds, err := store.Load()
				switch {
				case errors.Is(err, credentials.ErrNoCredentials):
				case err != nil:
					return fmt.Errorf("loading credentials: %w", err)
				default:
					stored = creds
				}
			}

			var storedCompletion, storedTranscription string
			if stored != nil {
				storedCompletion, storedTranscription = stored.CompletionAPIKey, stored.TranscriptionAPIKey
			}
			completionOK := printKeyStatus(out, "Completion", completionKeyEnv, storedCompletion)
			transcriptionOK := printKeyStatus(out, "Transcription", transcriptionKeyEnv, storedTranscription)
			if !transcriptionOK && completionOK {
				fmt.Fprintln(out, "  (the completion key is used when both services are OpenAI)")
			}

			if stored != nil {
				fmt.Fprintf(out, "\nStored in:      %s\n", store.Path())
				fmt.Fprintf(out, "Encryption key: %s\n", store.KeyDescription())
				fmt.Fprintf(out, "Last updated:   %s\n", stored.LastUpdated.Format(time.RFC3339))
			}
			if !completionOK {
				fmt.Fprintln(out, "\nNot authenticated. Run 'vidlens auth login' or set OPENAI_API_KEY.")
			}
			return nil
		},
	}
}

// printKeyStatus reports the active source of one key and whether any is set.
func printKeyStatus(w io.Writer, label string, envVars []string, stored string) bool {
	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			fmt.Fprintf(w, "%s key: %s (from %s)\n", label, credentials.MaskAPIKey(v), name)
			if stored != "" {
				fmt.Fprintf(w, "  stored key %s is overridden\n", credentials.MaskAPIKey(stored))
			}
			return true
		}
	}
	if stored != "" {
		fmt.Fprintf(w, "%s key: %s (stored)\n", label, credentials.MaskAPIKey(stored))
		return true
	}
	fmt.Fprintf(w, "%s key: (none)\n", label)
	return false
}
