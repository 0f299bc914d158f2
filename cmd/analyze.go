package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/vidlens/config"
	"github.com/otherjamesbrown/vidlens/pkg/cache"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/observability"
	"github.com/otherjamesbrown/vidlens/pkg/pipeline"
	"github.com/otherjamesbrown/vidlens/pkg/store"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// analyzeFlags holds the analyze command flags.
type analyzeFlags struct {
	interval     int
	fps          float64
	resize       int
	transcribe   bool
	saveFrames   bool
	start        float64
	end          float64
	temperature  float64
	systemPrompt string
	userPrompt   string
	maxPrevious  int
	reuse        bool
	force        bool
	resume       bool
	metricsFile  string
	noProgress   bool
	output       string
}

// AnalyzeResult is the structured output of the analyze command.
type AnalyzeResult struct {
	RunID       string                 `json:"run_id" yaml:"run_id"`
	State       string                 `json:"state" yaml:"state"`
	Source      string                 `json:"source" yaml:"source"`
	Start       float64                `json:"start" yaml:"start"`
	End         float64                `json:"end" yaml:"end"`
	VideoDir    string                 `json:"video_dir" yaml:"video_dir"`
	Fingerprint string                 `json:"fingerprint" yaml:"fingerprint"`
	Reused      bool                   `json:"reused" yaml:"reused"`
	Segments    int                    `json:"segments" yaml:"segments"`
	Failures    []store.SegmentFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	DurationMs  int64                  `json:"duration_ms" yaml:"duration_ms"`
	Records     []video.Record         `json:"records,omitempty" yaml:"records,omitempty"`
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(deps *CommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	deps.withDefaults()
	f := &analyzeFlags{}

	cmd := &cobra.Command{
		Use:   "analyze <file|url>",
		Short: "Analyze a video segment by segment",
		Long: `Split a video into fixed-length segments and describe each one with a
vision model. Each segment is analyzed with the previous segment's analysis as
context, and optionally with a transcription of its audio.

Local files and http(s) URLs are supported. Results are written to
<base_dir>/<title>_<fingerprint>_analysis/ and registered in the analysis cache,
so analyzing the same file (or the same URL and time window) again reuses them.

Examples:
  # Analyze a local file with the configured defaults
  vidlens analyze talk.mp4

  # 30 second segments, 2 frames per second, no audio
  vidlens analyze talk.mp4 --interval 30 --fps 2 --transcribe=false

  # Only minutes 5 to 10 of an online video
  vidlens analyze https://www.youtube.com/watch?v=abc --start 300 --end 600

  # Re-run even if a cached analysis exists
  vidlens analyze talk.mp4 --force

  # Continue an interrupted run, keeping finished segments
  vidlens analyze talk.mp4 --force --resume`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, deps, f, args[0])
		},
	}

	def := video.DefaultProcessingConfig()
	flags := cmd.Flags()
	flags.IntVar(&f.interval, "interval", def.SegmentInterval, "Segment length in seconds")
	flags.Float64Var(&f.fps, "fps", def.FramesPerSecond, "Frames sampled per second of video")
	flags.IntVar(&f.resize, "resize", def.ResizeRatio, "Divide frame width and height by this factor (0 keeps full size)")
	flags.BoolVar(&f.transcribe, "transcribe", def.AudioTranscription, "Transcribe each segment's audio")
	flags.BoolVar(&f.saveFrames, "save-frames", def.SaveFrames, "Keep sampled frames as JPEG files")
	flags.Float64Var(&f.start, "start", 0, "Analyze from this second")
	flags.Float64Var(&f.end, "end", 0, "Analyze up to this second (0 means the end)")
	flags.Float64Var(&f.temperature, "temperature", def.Temperature, "Analysis temperature (0.0-1.0)")
	flags.StringVar(&f.systemPrompt, "system-prompt", "", "Replace the analysis system prompt")
	flags.StringVar(&f.userPrompt, "user-prompt", "", "Replace the analysis user prompt")
	flags.IntVar(&f.maxPrevious, "max-previous-chars", 0, "Truncate the carried previous analysis (0 keeps all)")
	flags.BoolVar(&f.reuse, "reuse", false, "Reuse a cached analysis without asking")
	flags.BoolVar(&f.force, "force", false, "Ignore any cached analysis")
	flags.BoolVar(&f.resume, "resume", false, "Keep segments already analyzed in the video directory")
	flags.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	flags.BoolVar(&f.noProgress, "no-progress", false, "Do not draw a progress bar")
	flags.StringVarP(&f.output, "output", "o", "", "Output format: text, json, yaml")
	cmd.MarkFlagsMutuallyExclusive("reuse", "force")

	return cmd
}

// processingConfig overlays the flags the user set onto the configured defaults.
func (f *analyzeFlags) processingConfig(cmd *cobra.Command, base video.ProcessingConfig) video.ProcessingConfig {
	cfg := base
	changed := cmd.Flags().Changed
	if changed("interval") {
		cfg.SegmentInterval = f.interval
	}
	if changed("fps") {
		cfg.FramesPerSecond = f.fps
	}
	if changed("resize") {
		cfg.ResizeRatio = f.resize
	}
	if changed("transcribe") {
		cfg.AudioTranscription = f.transcribe
	}
	if changed("save-frames") {
		cfg.SaveFrames = f.saveFrames
	}
	if changed("start") || changed("end") {
		cfg.Window = video.Window{Enabled: true, Start: f.start, End: f.end}
	}
	if changed("temperature") {
		cfg.Temperature = f.temperature
	}
	if f.systemPrompt != "" {
		cfg.SystemPrompt = f.systemPrompt
	}
	if f.userPrompt != "" {
		cfg.UserPrompt = f.userPrompt
	}
	if changed("max-previous-chars") {
		cfg.MaxPreviousChars = f.maxPrevious
	}
	return cfg
}

func runAnalyze(cmd *cobra.Command, deps *CommandDeps, f *analyzeFlags, input string) error {
	ctx := cmd.Context()
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	format, err := outputFormat(f.output, cfg)
	if err != nil {
		return err
	}

	req := pipeline.Request{
		Input:  input,
		Config: f.processingConfig(cmd, cfg.Processing),
		Resume: f.resume,
	}
	switch {
	case f.force:
		req.Reuse = pipeline.NeverReuse
	case f.reuse || !deps.Interactive():
		req.Reuse = pipeline.AlwaysReuse
	default:
		req.Reuse = askReuse(cmd.InOrStdin(), cmd.ErrOrStderr())
	}

	res, runErr := executeRun(ctx, cmd.ErrOrStderr(), deps, cfg, req, !f.noProgress && format == config.OutputFormatText)

	if f.metricsFile != "" {
		if err := observability.WriteTextfile(deps.Registry, f.metricsFile); err != nil {
			deps.Logger.Warn("could not write metrics file", logging.Err(err))
		}
	}
	if runErr != nil {
		return runErr
	}

	out := AnalyzeResult{
		RunID:       res.RunID,
		State:       string(res.State),
		Source:      res.Source.DisplayName(),
		Start:       res.Range.Start,
		End:         res.Range.End,
		VideoDir:    res.VideoDir,
		Fingerprint: res.Fingerprint,
		Reused:      res.Reused,
		Segments:    len(res.Records),
		Failures:    res.Failures,
		DurationMs:  res.Duration.Milliseconds(),
	}
	if format != config.OutputFormatText {
		out.Records = res.Records
		return WriteStructured(cmd.OutOrStdout(), format, out)
	}
	printAnalyzeText(cmd.OutOrStdout(), out, res.Records)
	return nil
}

// askReuse prompts before reusing a cached analysis.
func askReuse(in io.Reader, out io.Writer) pipeline.ReuseDecider {
	return func(e cache.Entry) bool {
		created := e.CreatedAt().Format(time.DateTime)
		return confirm(in, out, fmt.Sprintf("Found a previous analysis of %s from %s. Reuse it?", e.DisplayName(), created), true)
	}
}

// executeRun builds an orchestrator from deps and runs req, drawing a progress
// bar on w when progress is set.
func executeRun(ctx context.Context, w io.Writer, deps *CommandDeps, cfg *config.Config, req pipeline.Request, progress bool) (*pipeline.Result, error) {
	services, err := deps.services(cfg)
	if err != nil {
		return nil, err
	}
	backend, err := deps.OpenBackend(ctx, cfg, deps.Logger)
	if err != nil {
		return nil, err
	}
	defer backend.close()

	opts := []pipeline.Option{
		pipeline.WithLogger(deps.Logger),
		pipeline.WithMetrics(deps.Metrics),
		pipeline.WithTracer(deps.Tracer),
		pipeline.WithEventHandler(func(e *observability.StageEvent) {
			deps.Logger.Debug("stage event",
				logging.F("stage", e.Stage),
				logging.F("status", e.Status),
				logging.F("segment", e.Segment),
				logging.F("duration_ms", e.DurationMs),
			)
		}),
	}
	if backend.Publisher != nil {
		opts = append(opts, pipeline.WithEventPublisher(backend.Publisher))
	}
	orch := pipeline.New(deps.NewMedia(cfg, deps.Logger), store.New(deps.Logger), backend.Index, services, cfg.BaseDir(), opts...)

	var bar *progressbar.ProgressBar
	if progress {
		req.Progress = func(p pipeline.Progress) {
			if bar == nil {
				bar = progressbar.NewOptions(p.Total,
					progressbar.OptionSetWriter(w),
					progressbar.OptionSetDescription("Analyzing"),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWidth(40),
					progressbar.OptionSetRenderBlankState(true),
					progressbar.OptionClearOnFinish(),
				)
			}
			bar.Describe(fmt.Sprintf("Segment %s", p.Segment.Label()))
			_ = bar.Set(p.Done)
		}
	}

	res, err := orch.Run(ctx, req)
	if bar != nil {
		_ = bar.Finish()
	}
	return res, err
}

func printAnalyzeText(w io.Writer, r AnalyzeResult, records []video.Record) {
	if r.Reused {
		fmt.Fprintf(w, "Reused cached analysis of %s (%s-%s seconds)\n", r.Source, video.FormatSeconds(r.Start), video.FormatSeconds(r.End))
	} else {
		fmt.Fprintf(w, "Analyzed %s (%s-%s seconds)\n", r.Source, video.FormatSeconds(r.Start), video.FormatSeconds(r.End))
	}
	fmt.Fprintf(w, "  State:     %s\n", r.State)
	fmt.Fprintf(w, "  Segments:  %d\n", r.Segments)
	fmt.Fprintf(w, "  Directory: %s\n", r.VideoDir)
	if !r.Reused {
		fmt.Fprintf(w, "  Elapsed:   %s\n", (time.Duration(r.DurationMs) * time.Millisecond).Round(time.Second))
	}

	if len(r.Failures) > 0 {
		fmt.Fprintf(w, "\nFailed segments:\n")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %d  %-12s %s\n", f.Segment, f.Stage, truncateLine(f.Error, 80))
		}
	}

	if len(records) > 0 {
		fmt.Fprintln(w)
		for _, rec := range records {
			fmt.Fprintf(w, "[%s-%ss] %s\n", video.FormatSeconds(rec.StartTime), video.FormatSeconds(rec.EndTime), truncateLine(rec.Analysis, 100))
		}
	}
}
