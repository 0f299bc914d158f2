// Package main provides the vidlens CLI entry point.
// vidlens analyzes videos segment by segment with a vision model and answers
// questions about them.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/vidlens/cmd"
	"github.com/otherjamesbrown/vidlens/config"
	"github.com/otherjamesbrown/vidlens/pkg/buildinfo"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
)

// rootFlags holds the global flags.
type rootFlags struct {
	configDir string
	baseDir   string
	timeout   time.Duration
	debug     bool
	logJSON   bool
}

// skipsConfig lists commands that run without loading the configuration.
var skipsConfig = map[string]bool{
	"version":    true,
	"help":       true,
	"completion": true,
	"init":       true,
	"path":       true,
}

// newRootCmd builds the command tree around deps. The returned func flushes
// the run log and must be called once the command has finished.
func newRootCmd(deps *cmd.CommandDeps) (*cobra.Command, func() error) {
	f := &rootFlags{}
	var sink *logging.AsyncSink

	root := &cobra.Command{
		Use:   "vidlens",
		Short: "Analyze videos segment by segment and chat about them",
		Long: `vidlens splits a video into fixed-length segments, samples frames from each,
optionally transcribes the audio, and asks a vision model to describe every
segment with the previous segment's description as context. The analyses are
cached by content, and can be queried in a chat that streams its answers.

COMMON WORKFLOWS:
  First run:     vidlens config init  →  vidlens auth login
  Analyze:       vidlens analyze talk.mp4  |  vidlens analyze <url> --start 60 --end 300
  Ask:           vidlens chat talk.mp4  |  vidlens chat talk.mp4 -q "question"
  Housekeeping:  vidlens cache list  →  vidlens cache remove <fingerprint>

External tools: ffmpeg and ffprobe are required; yt-dlp is needed for URLs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			if f.configDir != "" {
				if err := os.Setenv("VIDLENS_CONFIG_DIR", f.configDir); err != nil {
					return err
				}
			}
			if skipsConfig[c.Name()] {
				return nil
			}

			if deps.Config == nil {
				cfg, err := deps.LoadConfig()
				if err != nil {
					return fmt.Errorf("loading configuration: %w", err)
				}
				deps.Config = cfg
			}
			cfg := deps.Config

			if f.baseDir != "" {
				cfg.Storage.BaseDir = f.baseDir
			}
			if f.timeout != 0 {
				cfg.API.Timeout = f.timeout
			}
			if f.debug {
				cfg.Log.Level = string(logging.LevelDebug)
			}
			if f.logJSON {
				cfg.Log.JSON = true
			}

			logger, s, err := newLogger(cfg.Log, c.ErrOrStderr())
			if err != nil {
				return err
			}
			sink = s
			deps.Logger = logger
			logging.SetGlobal(logger)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&f.configDir, "config-dir", "", "configuration directory (default is ~/.vidlens)")
	root.PersistentFlags().StringVar(&f.baseDir, "base-dir", "", "directory for analysis output")
	root.PersistentFlags().DurationVar(&f.timeout, "timeout", 0, "service request timeout (e.g., 30s, 2m)")
	root.PersistentFlags().BoolVar(&f.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&f.logJSON, "log-json", false, "log as JSON lines")

	root.AddGroup(
		&cobra.Group{ID: "video", Title: "Video Analysis:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	analyzeCmd := cmd.NewAnalyzeCommand(deps)
	analyzeCmd.GroupID = "video"
	root.AddCommand(analyzeCmd)

	chatCmd := cmd.NewChatCommand(deps)
	chatCmd.GroupID = "video"
	root.AddCommand(chatCmd)

	cacheCmd := cmd.NewCacheCommand(deps)
	cacheCmd.GroupID = "video"
	root.AddCommand(cacheCmd)

	authCmd := cmd.NewAuthCommand(deps)
	authCmd.GroupID = "setup"
	root.AddCommand(authCmd)

	configCmd := cmd.NewConfigCommand(deps)
	configCmd.GroupID = "setup"
	root.AddCommand(configCmd)

	versionCmd := newVersionCmd()
	versionCmd.GroupID = "setup"
	root.AddCommand(versionCmd)

	root.SetHelpCommandGroupID("setup")
	root.SetCompletionCommandGroupID("setup")

	closeLog := func() error {
		if sink == nil {
			return nil
		}
		return sink.Close()
	}
	return root, closeLog
}

// newLogger builds the console logger and, when a log directory is set, a
// JSON lines file sink for this run.
func newLogger(cfg config.LogConfig, console io.Writer) (logging.Logger, *logging.AsyncSink, error) {
	lc := &logging.Config{
		Level:       logging.ParseLevel(cfg.Level),
		ServiceName: "vidlens",
		JSONFormat:  cfg.JSON,
		Output:      console,
	}

	var sink *logging.AsyncSink
	if cfg.Dir != "" {
		dir, err := config.ExpandPath(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		w, err := logging.NewFileWriter(logging.RunLogPath(dir, time.Now()))
		if err != nil {
			return nil, nil, err
		}
		sink = logging.NewAsyncSink(logging.AsyncSinkConfig{Writer: w})
		lc.Sinks = []logging.Sink{sink}
	}

	return logging.NewLogger(lc), sink, nil
}

func newVersionCmd() *cobra.Command {
	var output string

	c := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, commit hash, and build time of the vidlens CLI.

Examples:
  vidlens version
  vidlens version -o json`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			info := buildinfo.Get()
			switch config.OutputFormat(output) {
			case "", config.OutputFormatText:
				fmt.Fprintf(c.OutOrStdout(), "vidlens %s\n", buildinfo.String())
				fmt.Fprintf(c.OutOrStdout(), "  Go:       %s\n", info.GoVersion)
				fmt.Fprintf(c.OutOrStdout(), "  Platform: %s\n", info.Platform)
				return nil
			case config.OutputFormatJSON, config.OutputFormatYAML:
				return cmd.WriteStructured(c.OutOrStdout(), config.OutputFormat(output), info)
			default:
				return fmt.Errorf("invalid output format %q (must be text, json, or yaml)", output)
			}
		},
	}
	c.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return c
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, closeLog := newRootCmd(cmd.DefaultDeps())
	err := root.ExecuteContext(ctx)
	_ = closeLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
