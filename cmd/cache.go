package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/vidlens/config"
	"github.com/otherjamesbrown/vidlens/pkg/cache"
	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/store"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// minPrefix is the shortest fingerprint prefix accepted on the command line.
const minPrefix = 6

// pruner is implemented by indexes that can drop stale entries.
type pruner interface {
	Prune(ctx context.Context) (int, error)
}

// CacheShowResult is the structured output of cache show.
type CacheShowResult struct {
	cache.Listing `yaml:",inline"`
	Manifest      *store.Manifest `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Records       int             `json:"records" yaml:"records"`
}

// NewCacheCommand creates the cache command with its subcommands.
func NewCacheCommand(deps *CommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	deps.withDefaults()

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage cached analyses",
		Long: `Inspect and manage the analysis cache.

Every finished analysis is registered under a fingerprint: the SHA-256 of the
file content, or of the URL and time window. Entries whose directory has been
deleted are ignored and can be dropped with prune.

Fingerprints can be abbreviated to any unique prefix of at least 6 characters.`,
	}

	cmd.AddCommand(newCacheListCommand(deps))
	cmd.AddCommand(newCacheShowCommand(deps))
	cmd.AddCommand(newCacheRemoveCommand(deps))
	cmd.AddCommand(newCachePruneCommand(deps))

	return cmd
}

// withBackend opens the configured backend for the duration of fn.
func withBackend(ctx context.Context, deps *CommandDeps, fn func(*config.Config, *Backend) error) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	backend, err := deps.OpenBackend(ctx, cfg, deps.Logger)
	if err != nil {
		return err
	}
	defer backend.close()
	return fn(cfg, backend)
}

func newCacheListCommand(deps *CommandDeps) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached analyses, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), deps, func(cfg *config.Config, b *Backend) error {
				format, err := outputFormat(output, cfg)
				if err != nil {
					return err
				}
				listings, err := b.Index.List(cmd.Context())
				if err != nil {
					return err
				}
				if format != config.OutputFormatText {
					return WriteStructured(cmd.OutOrStdout(), format, listings)
				}
				printListings(cmd.OutOrStdout(), listings)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newCacheShowCommand(deps *CommandDeps) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show <fingerprint>",
		Short: "Show one cached analysis and the run that produced it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), deps, func(cfg *config.Config, b *Backend) error {
				format, err := outputFormat(output, cfg)
				if err != nil {
					return err
				}
				listing, err := findEntry(cmd.Context(), b, args[0])
				if err != nil {
					return err
				}
				res := CacheShowResult{Listing: listing}
				if m, err := store.LoadManifest(listing.AnalysisDir); err == nil {
					res.Manifest = &m
				}
				records, err := store.New(deps.Logger).LoadAll(listing.AnalysisDir)
				if err != nil {
					return err
				}
				res.Records = len(records)

				if format != config.OutputFormatText {
					return WriteStructured(cmd.OutOrStdout(), format, res)
				}
				printCacheShow(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: text, json, yaml")
	return cmd
}

func newCacheRemoveCommand(deps *CommandDeps) *cobra.Command {
	var deleteFiles bool

	cmd := &cobra.Command{
		Use:     "remove <fingerprint>",
		Aliases: []string{"rm"},
		Short:   "Remove a cache entry",
		Long: `Remove a cache entry so the next analysis of that video starts fresh.

The analysis directory is kept unless --delete-files is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), deps, func(_ *config.Config, b *Backend) error {
				listing, err := findEntry(cmd.Context(), b, args[0])
				if err != nil {
					return err
				}
				if err := b.Index.Remove(cmd.Context(), listing.Fingerprint); err != nil {
					return err
				}
				if deleteFiles {
					if err := os.RemoveAll(listing.AnalysisDir); err != nil {
						return fmt.Errorf("deleting %s: %w", listing.AnalysisDir, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%s)\n", short(listing.Fingerprint), listing.DisplayName())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&deleteFiles, "delete-files", false, "Also delete the analysis directory")
	return cmd
}

func newCachePruneCommand(deps *CommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop entries whose analysis directory no longer exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), deps, func(_ *config.Config, b *Backend) error {
				p, ok := b.Index.(pruner)
				if !ok {
					return fmt.Errorf("cache backend does not support prune")
				}
				n, err := p.Prune(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d stale entries\n", n)
				return nil
			})
		},
	}
}

// findEntry resolves a fingerprint or unique prefix among the live entries.
func findEntry(ctx context.Context, b *Backend, ref string) (cache.Listing, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if len(ref) < minPrefix {
		return cache.Listing{}, fmt.Errorf("fingerprint %q is too short (need at least %d characters): %w", ref, minPrefix, vlerrors.ErrValidation)
	}
	listings, err := b.Index.List(ctx)
	if err != nil {
		return cache.Listing{}, err
	}

	var matches []cache.Listing
	for _, l := range listings {
		if l.Fingerprint == ref {
			return l, nil
		}
		if strings.HasPrefix(l.Fingerprint, ref) {
			matches = append(matches, l)
		}
	}
	switch len(matches) {
	case 0:
		return cache.Listing{}, fmt.Errorf("no cached analysis matches %q: %w", ref, vlerrors.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return cache.Listing{}, fmt.Errorf("fingerprint prefix %q matches %d analyses: %w", ref, len(matches), vlerrors.ErrValidation)
	}
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

func printListings(w io.Writer, listings []cache.Listing) {
	if len(listings) == 0 {
		fmt.Fprintln(w, "No cached analyses.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FINGERPRINT\tKIND\tVIDEO\tCREATED\tDIRECTORY")
	for _, l := range listings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			short(l.Fingerprint), l.Kind, truncateLine(l.DisplayName(), 50),
			l.CreatedAt().Format(time.DateTime), l.AnalysisDir)
	}
	tw.Flush()
}

func printCacheShow(w io.Writer, r CacheShowResult) {
	fmt.Fprintf(w, "Fingerprint: %s\n", r.Fingerprint)
	fmt.Fprintf(w, "Video:       %s\n", r.DisplayName())
	if r.Kind == video.SourceFile {
		fmt.Fprintf(w, "Size:        %d bytes\n", r.Size)
	}
	fmt.Fprintf(w, "Window:      %s-%s seconds\n", video.FormatSeconds(r.StartTime), video.FormatSeconds(r.EndTime))
	fmt.Fprintf(w, "Directory:   %s\n", r.AnalysisDir)
	fmt.Fprintf(w, "Created:     %s\n", r.CreatedAt().Format(time.DateTime))
	fmt.Fprintf(w, "Records:     %d\n", r.Records)

	if m := r.Manifest; m != nil {
		fmt.Fprintf(w, "\nRun %s: %s, %d segments of %ds at %v fps", m.RunID, m.Status, m.Segments, m.Interval, m.FPS)
		if m.Transcribed {
			fmt.Fprint(w, ", transcribed")
		}
		fmt.Fprintln(w)
		for _, f := range m.Failures {
			fmt.Fprintf(w, "  segment %d failed at %s: %s\n", f.Segment, f.Stage, truncateLine(f.Error, 80))
		}
	}
}
