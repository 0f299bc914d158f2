package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/vidlens/config"
	"github.com/otherjamesbrown/vidlens/pkg/media"
)

// NewConfigCommand creates the config command with its subcommands.
func NewConfigCommand(deps *CommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
		Long: `Show or create the vidlens configuration.

Configuration is read from ~/.vidlens/config.yaml (or $VIDLENS_CONFIG_DIR),
then from .env files, then from environment variables. API keys are never
written to the configuration file.`,
	}

	cmd.AddCommand(newConfigShowCommand(deps))
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigPathCommand())

	return cmd
}

func newConfigShowCommand(deps *CommandDeps) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.config()
			if err != nil {
				return err
			}
			format, err := outputFormat(output, cfg)
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			if format != config.OutputFormatJSON {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			// Re-decode so JSON shows the same keys, and no secrets.
			var doc map[string]any
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("decoding config: %w", err)
			}
			return WriteStructured(cmd.OutOrStdout(), format, doc)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		force   bool
		baseDir string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Long: `Write ~/.vidlens/config.yaml with the default settings and check that
ffmpeg, ffprobe and yt-dlp can be found.

An existing file is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			if baseDir != "" {
				cfg.Storage.BaseDir = baseDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.SaveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintf(out, "Configuration written to %s\n", path)

			if missing := media.CheckTools(media.DefaultTools(), true); len(missing) > 0 {
				fmt.Fprintln(out, "\nMissing tools (install them before analyzing videos):")
				for _, name := range missing {
					fmt.Fprintf(out, "  %s\n", name)
				}
			}
			fmt.Fprintln(out, "\nNext: run 'vidlens auth login' or set OPENAI_API_KEY.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	cmd.Flags().StringVar(&baseDir, "base-dir", "", "Directory for analysis output")
	return cmd
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
