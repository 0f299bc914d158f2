// Package pipeline provides the analysis run orchestrator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/otherjamesbrown/vidlens/pkg/analysis"
	"github.com/otherjamesbrown/vidlens/pkg/cache"
	vlerrors "github.com/otherjamesbrown/vidlens/pkg/errors"
	"github.com/otherjamesbrown/vidlens/pkg/llm"
	"github.com/otherjamesbrown/vidlens/pkg/logging"
	"github.com/otherjamesbrown/vidlens/pkg/media"
	"github.com/otherjamesbrown/vidlens/pkg/observability"
	"github.com/otherjamesbrown/vidlens/pkg/runid"
	"github.com/otherjamesbrown/vidlens/pkg/store"
	"github.com/otherjamesbrown/vidlens/pkg/transcribe"
	"github.com/otherjamesbrown/vidlens/pkg/video"
)

// State of a run.
type State string

const (
	StateIdle            State = "idle"
	StateResolving       State = "resolving"
	StateSegmenting      State = "segmenting"
	StateProcessing      State = "processing"
	StateCompleted       State = "completed"
	StatePartiallyFailed State = "partially_failed"
	StateFailed          State = "failed"
)

// MediaExtractor is the part of media.Extractor the orchestrator uses.
type MediaExtractor interface {
	ResolveFile(ctx context.Context, path, workDir string) (video.Source, error)
	ResolveURL(ctx context.Context, url string) (video.Source, error)
	MaterializeSegment(ctx context.Context, src video.Source, seg video.Segment, dir string) (string, error)
	SampleFrames(ctx context.Context, segmentPath string, fps float64, resize int) ([][]byte, error)
	ExtractAudio(ctx context.Context, segmentPath string) (media.AudioClip, error)
}

// ReuseDecider is asked whether a cached analysis should be reused.
type ReuseDecider func(entry cache.Entry) bool

// AlwaysReuse reuses every cache hit.
func AlwaysReuse(cache.Entry) bool { return true }

// NeverReuse ignores the cache and re-analyzes.
func NeverReuse(cache.Entry) bool { return false }

// Progress is reported after each segment.
type Progress struct {
	Done    int
	Total   int
	Segment video.Segment
	Failed  bool
}

// Request describes one run.
type Request struct {
	// Input is a local path or an http(s) URL.
	Input  string
	Config video.ProcessingConfig
	// Reuse decides on cache hits. Nil reuses.
	Reuse ReuseDecider
	// Resume keeps records already in the video directory and skips their
	// segments.
	Resume   bool
	Progress func(Progress)
}

// Result describes a finished run.
type Result struct {
	RunID       string
	State       State
	Source      video.Source
	Range       video.Range
	VideoDir    string
	Fingerprint string
	Records     []video.Record
	Failures    []store.SegmentFailure
	Reused      bool
	Duration    time.Duration
}

// Orchestrator runs analyses.
type Orchestrator struct {
	media     MediaExtractor
	store     *store.Store
	index     cache.Index
	services  llm.ServiceClients
	baseDir   string
	logger    logging.Logger
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	publisher observability.EventPublisher
	onEvent   func(*observability.StageEvent)
	now       func() time.Time
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics records run metrics into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithEventPublisher publishes every stage event through p.
func WithEventPublisher(p observability.EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithEventHandler calls fn with every stage event.
func WithEventHandler(fn func(*observability.StageEvent)) Option {
	return func(o *Orchestrator) {
		o.onEvent = fn
	}
}

// New creates an orchestrator writing video directories under baseDir.
func New(m MediaExtractor, st *store.Store, idx cache.Index, services llm.ServiceClients, baseDir string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		media:    m,
		store:    st,
		index:    idx,
		services: services,
		baseDir:  baseDir,
		logger:   logging.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observability.NewMetrics(nil)
	}
	if o.tracer == nil {
		o.tracer = observability.NewTracer()
	}
	o.logger = o.logger.With(logging.F("component", "pipeline"))
	return o
}

// run carries the per-run state through the stages.
type run struct {
	id        string
	cfg       video.ProcessingConfig
	src       video.Source
	rng       video.Range
	videoDir  string
	logger    logging.Logger
	analyzer  *analysis.Analyzer
	transcr   *transcribe.Transcriber
	failures  []store.SegmentFailure
	persisted int
}

// Run analyzes req.Input. A returned error means the run reached StateFailed;
// per-segment failures are reported in Result.Failures instead.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	started := o.now()
	cfg := req.Config.WithDefaults()

	kind := runid.KindFileRun
	if media.IsURL(req.Input) {
		kind = runid.KindURLRun
	}
	r := &run{id: runid.New(kind), cfg: cfg}
	ctx = context.WithValue(ctx, logging.RunIDKey, r.id)
	r.logger = o.logger.WithContext(ctx)
	res := &Result{RunID: r.id, State: StateIdle}

	ctx, span := o.tracer.StartRunSpan(ctx, r.id, kind, req.Input)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	fail := func(err error) (*Result, error) {
		res.State = StateFailed
		res.Duration = o.now().Sub(started)
		pe := vlerrors.ClassifyError(err, "run")
		helper.SetError(err, string(pe.Code), vlerrors.IsRetryable(pe.Code))
		o.metrics.RecordRun(string(StateFailed), string(r.src.Kind))
		r.logger.Error("analysis run failed", logging.F("state", string(res.State)), logging.Err(err))
		return res, err
	}

	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	if err := os.MkdirAll(o.baseDir, 0o755); err != nil {
		return fail(fmt.Errorf("create output dir: %w", err))
	}
	workDir, err := os.MkdirTemp(o.baseDir, ".work-")
	if err != nil {
		return fail(fmt.Errorf("create work dir: %w", err))
	}
	defer os.RemoveAll(workDir)

	// Resolving
	res.State = StateResolving
	err = o.stage(ctx, r, 0, observability.StageResolve, func(ctx context.Context) error {
		var rerr error
		if kind == runid.KindURLRun {
			r.src, rerr = o.media.ResolveURL(ctx, strings.TrimSpace(req.Input))
		} else {
			r.src, rerr = o.media.ResolveFile(ctx, req.Input, workDir)
		}
		return rerr
	})
	if err != nil {
		if !vlerrors.IsSourceUnavailable(err) {
			err = fmt.Errorf("%w: %w", err, vlerrors.ErrSourceUnavailable)
		}
		return fail(err)
	}
	res.Source = r.src

	// Segmenting
	res.State = StateSegmenting
	r.rng, err = cfg.Window.Resolve(r.src.Duration)
	if err != nil {
		return fail(err)
	}
	segments := video.PlanSegments(r.rng, cfg.SegmentInterval)
	if len(segments) == 0 {
		return fail(fmt.Errorf("range %s-%s yields no segments: %w",
			video.FormatSeconds(r.rng.Start), video.FormatSeconds(r.rng.End), vlerrors.ErrValidation))
	}
	res.Range = r.rng
	res.Fingerprint = cache.Fingerprint(r.src, r.rng)

	if reused, ok := o.tryReuse(ctx, r, res, req.Reuse); ok {
		res.Duration = o.now().Sub(started)
		helper.SetCacheHit(true)
		o.metrics.RecordRun("reused", string(r.src.Kind))
		return reused, nil
	}
	helper.SetCacheHit(false)

	r.videoDir = filepath.Join(o.baseDir, videoDirName(r.src, res.Fingerprint))
	res.VideoDir = r.videoDir
	resume := req.Resume
	if resume && !o.resumable(r.videoDir, cfg.SegmentInterval, segments) {
		r.logger.Info("existing records follow a different segment plan, starting over", logging.F("video_dir", r.videoDir))
		resume = false
	}
	if !resume {
		if err := o.store.Clear(r.videoDir); err != nil {
			return fail(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(r.videoDir, store.SegmentsSubdir), 0o755); err != nil {
		return fail(fmt.Errorf("create segments dir: %w", err))
	}

	services := o.services
	if cfg.AudioTranscription && !services.HasTranscription() {
		r.logger.Warn("audio transcription enabled but no transcription service is configured, skipping it")
		r.cfg.AudioTranscription = false
	}
	r.analyzer = analysis.New(services.Chat(), services.ChatModel(), cfg.MaxPreviousChars, r.logger)
	r.transcr = transcribe.New(services.Transcriber(), services.TranscriptionModel(), "", r.logger)

	r.logger.Info("starting analysis",
		logging.F("source", r.src.DisplayName()),
		logging.F("video_dir", r.videoDir),
		logging.F("segments", len(segments)),
		logging.F("interval", cfg.SegmentInterval),
		logging.F("transcribe", r.cfg.AudioTranscription),
	)

	// Processing
	res.State = StateProcessing
	previous, havePrevious := "", false
	cancelled := false
	for i, seg := range segments {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		if resume {
			if rec, err := o.store.Load(r.videoDir, seg.Number()); err == nil && sameBounds(rec, seg) && !analysis.IsErrorMarked(rec.Analysis) {
				r.logger.Debug("segment already analyzed, skipping", logging.F("segment", seg.Number()))
				previous, havePrevious = rec.Analysis, true
				r.persisted++
				o.report(req.Progress, i+1, len(segments), seg, false)
				continue
			}
		}

		if i > 0 && !havePrevious {
			if rec, err := o.store.Previous(r.videoDir, seg.Number()); err == nil {
				previous, havePrevious = rec.Analysis, true
			}
		}

		rec := o.processSegment(ctx, r, seg, previous)
		if rec != nil {
			previous, havePrevious = rec.Analysis, true
		} else {
			previous, havePrevious = "", false
		}
		o.report(req.Progress, i+1, len(segments), seg, rec == nil || analysis.IsErrorMarked(rec.Analysis))
	}
	if ctx.Err() != nil {
		cancelled = true
	}

	if r.src.Kind == video.SourceFile {
		if err := os.Remove(r.src.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("could not remove staged source copy", logging.F("path", r.src.Path), logging.Err(err))
		}
	}

	res.Failures = r.failures
	res.Duration = o.now().Sub(started)
	if records, err := o.store.LoadAll(r.videoDir); err == nil {
		res.Records = records
	}

	if cancelled {
		o.saveManifest(r, res, started, "cancelled", len(segments))
		return fail(fmt.Errorf("analysis cancelled after %d of %d segments: %w", len(res.Records), len(segments), ctx.Err()))
	}

	if r.persisted > 0 {
		_ = o.stage(ctx, r, 0, observability.StageRegister, func(ctx context.Context) error {
			entry := cache.NewEntry(r.src, r.rng, r.videoDir, r.id, o.now())
			if err := o.index.Register(ctx, res.Fingerprint, entry); err != nil {
				r.logger.Warn("could not register analysis in cache", logging.Err(err))
				return err
			}
			return nil
		})
	}

	res.State = StateCompleted
	if len(r.failures) > 0 {
		res.State = StatePartiallyFailed
	}
	o.saveManifest(r, res, started, string(res.State), len(segments))
	o.metrics.RecordRun(string(res.State), string(r.src.Kind))
	helper.SetSuccess()

	r.logger.Info("analysis finished",
		logging.F("state", string(res.State)),
		logging.F("records", len(res.Records)),
		logging.F("failures", len(res.Failures)),
		logging.F("elapsed", res.Duration),
	)
	return res, nil
}

// resumable reports whether the records already in videoDir belong to the
// same segment plan, so a resumed run can keep them.
func (o *Orchestrator) resumable(videoDir string, interval int, segments []video.Segment) bool {
	if m, err := store.LoadManifest(videoDir); err == nil && m.Interval != 0 && m.Interval != interval {
		return false
	}
	records, err := o.store.LoadAll(videoDir)
	if err != nil {
		return true
	}
	for _, rec := range records {
		i := rec.Segment - 1
		if i < 0 || i >= len(segments) || !sameBounds(rec, segments[i]) {
			return false
		}
	}
	return true
}

func sameBounds(rec video.Record, seg video.Segment) bool {
	return rec.StartTime == seg.Start && rec.EndTime == seg.End
}

// tryReuse returns a completed result from the cache when there is a live
// entry the decider accepts.
func (o *Orchestrator) tryReuse(ctx context.Context, r *run, res *Result, decide ReuseDecider) (*Result, bool) {
	if o.index == nil {
		return nil, false
	}
	var entry cache.Entry
	var hit bool
	_ = o.stage(ctx, r, 0, observability.StageCacheLookup, func(ctx context.Context) error {
		entry, hit = o.index.Lookup(ctx, res.Fingerprint)
		return nil
	})
	o.metrics.RecordCacheLookup(hit)
	if !hit {
		return nil, false
	}
	if decide == nil {
		decide = AlwaysReuse
	}
	if !decide(entry) {
		r.logger.Info("cached analysis found, re-analyzing as requested", logging.F("analysis_dir", entry.AnalysisDir))
		return nil, false
	}

	records, err := o.store.LoadAll(entry.AnalysisDir)
	if err != nil || len(records) == 0 {
		r.logger.Warn("cached analysis could not be loaded, re-analyzing",
			logging.F("analysis_dir", entry.AnalysisDir), logging.Err(err))
		return nil, false
	}

	r.logger.Info("reusing cached analysis",
		logging.F("analysis_dir", entry.AnalysisDir),
		logging.F("records", len(records)),
	)
	res.State = StateCompleted
	res.Reused = true
	res.Range = video.Range{Start: entry.StartTime, End: entry.EndTime}
	res.VideoDir = entry.AnalysisDir
	res.Records = records
	return res, true
}

// processSegment runs every stage for seg. It returns the persisted record,
// or nil when the segment produced none.
func (o *Orchestrator) processSegment(ctx context.Context, r *run, seg video.Segment, previous string) *video.Record {
	n := seg.Number()
	ctx, span := o.tracer.StartSegmentSpan(ctx, n, seg.Start, seg.End)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	failed := func(stage string, err error) *video.Record {
		r.addFailure(n, stage, err)
		o.metrics.RecordSegment("failed")
		pe := vlerrors.ClassifyError(err, stage)
		helper.SetError(err, string(pe.Code), vlerrors.IsRetryable(pe.Code))
		return nil
	}

	var segPath string
	err := o.stage(ctx, r, n, observability.StageMaterialize, func(ctx context.Context) error {
		var err error
		segPath, err = o.media.MaterializeSegment(ctx, r.src, seg, filepath.Join(r.videoDir, store.SegmentsSubdir))
		return err
	})
	if err != nil {
		return failed(observability.StageMaterialize, err)
	}

	var frames [][]byte
	err = o.stage(ctx, r, n, observability.StageFrames, func(ctx context.Context) error {
		var err error
		frames, err = o.media.SampleFrames(ctx, segPath, r.cfg.FramesPerSecond, r.cfg.ResizeRatio)
		return err
	})
	if err != nil {
		return failed(observability.StageFrames, err)
	}
	if r.cfg.SaveFrames {
		dir := filepath.Join(r.videoDir, store.FramesSubdir, "segment_"+seg.Label())
		if err := media.SaveFrames(dir, frames); err != nil {
			r.logger.Warn("could not save frames", logging.F("segment", n), logging.Err(err))
		}
	}

	var transcription *string
	if r.cfg.AudioTranscription {
		text := o.transcribeSegment(ctx, r, n, segPath)
		transcription = &text
	}

	in := analysis.Input{
		Frames:          frames,
		PreviousSummary: previous,
		Segment:         seg,
		TotalDuration:   r.src.Duration,
		SystemPrompt:    r.cfg.SystemPrompt,
		UserPrompt:      r.cfg.UserPrompt,
		Temperature:     r.cfg.Temperature,
	}
	if transcription != nil {
		in.Transcription = *transcription
	}
	var text string
	analyzeErr := o.stage(ctx, r, n, observability.StageAnalyze, func(ctx context.Context) error {
		var err error
		text, err = r.analyzer.Analyze(ctx, in)
		return err
	})
	if ctx.Err() != nil {
		r.logger.Debug("run cancelled during analysis, discarding segment", logging.F("segment", n))
		return nil
	}

	rec := video.Record{
		Segment:       n,
		StartTime:     seg.Start,
		EndTime:       seg.End,
		Analysis:      text,
		Transcription: transcription,
	}
	err = o.stage(ctx, r, n, observability.StagePersist, func(ctx context.Context) error {
		return o.store.Persist(r.videoDir, rec)
	})
	if err != nil {
		if analyzeErr != nil {
			r.addFailure(n, observability.StageAnalyze, analyzeErr)
		}
		return failed(observability.StagePersist, err)
	}
	r.persisted++

	if analyzeErr != nil {
		failed(observability.StageAnalyze, analyzeErr)
		return &rec
	}
	o.metrics.RecordSegment("completed")
	helper.SetSuccess()
	return &rec
}

// transcribeSegment never fails the segment: extraction and service errors
// become the fixed failure text.
func (o *Orchestrator) transcribeSegment(ctx context.Context, r *run, n int, segPath string) string {
	var clip media.AudioClip
	err := o.stage(ctx, r, n, observability.StageAudio, func(ctx context.Context) error {
		var err error
		clip, err = o.media.ExtractAudio(ctx, segPath)
		return err
	})
	if err != nil {
		return transcribe.Failed
	}
	if clip.Path != "" {
		defer os.Remove(clip.Path)
	}

	var text string
	var outcome transcribe.Outcome
	_ = o.stage(ctx, r, n, observability.StageTranscribe, func(ctx context.Context) error {
		text, outcome = r.transcr.Transcribe(ctx, clip)
		if outcome == transcribe.OutcomeFailed {
			return vlerrors.ErrTranscription
		}
		return nil
	})
	return text
}

// stage wraps fn in a timer, a span, a latency observation and a stage event.
func (o *Orchestrator) stage(ctx context.Context, r *run, segment int, name string, fn func(context.Context) error) error {
	ctx, span := o.tracer.StartStageSpan(ctx, name)
	defer span.End()

	fields := []logging.Field{}
	if segment > 0 {
		fields = append(fields, logging.F("segment", segment))
	}
	timer := logging.StartTimer(r.logger, name, fields...)
	err := fn(ctx)
	elapsed := timer.Stop(err)
	o.metrics.RecordStageLatency(name, elapsed.Seconds())

	helper := observability.NewSpanHelper(span)
	helper.SetDuration(elapsed.Milliseconds())
	if err != nil {
		pe := vlerrors.ClassifyError(err, name)
		helper.SetError(err, string(pe.Code), vlerrors.IsRetryable(pe.Code))
	} else {
		helper.SetSuccess()
	}

	event := observability.NewStageEvent(r.id, segment, name, observability.StageStatusCompleted, elapsed.Milliseconds()).
		WithTrace(ctx).
		WithError(err)
	o.emit(ctx, r, event)
	return err
}

func (o *Orchestrator) emit(ctx context.Context, r *run, event *observability.StageEvent) {
	if o.onEvent != nil {
		o.onEvent(event)
	}
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		r.logger.Debug("could not publish stage event", logging.F("stage", event.Stage), logging.Err(err))
	}
}

func (o *Orchestrator) report(fn func(Progress), done, total int, seg video.Segment, failed bool) {
	if fn != nil {
		fn(Progress{Done: done, Total: total, Segment: seg, Failed: failed})
	}
}

func (r *run) addFailure(segment int, stage string, err error) {
	pe := vlerrors.ClassifyError(err, stage)
	r.failures = append(r.failures, store.SegmentFailure{
		Segment: segment,
		Stage:   stage,
		Code:    string(pe.Code),
		Error:   err.Error(),
	})
}

func (o *Orchestrator) saveManifest(r *run, res *Result, started time.Time, status string, segments int) {
	m := store.Manifest{
		RunID:       r.id,
		Source:      r.src,
		Range:       r.rng,
		Interval:    r.cfg.SegmentInterval,
		FPS:         r.cfg.FramesPerSecond,
		Transcribed: r.cfg.AudioTranscription,
		Status:      status,
		Segments:    segments,
		Failures:    res.Failures,
		StartedAt:   started,
		FinishedAt:  o.now(),
	}
	if err := store.SaveManifest(r.videoDir, m); err != nil {
		r.logger.Warn("could not write manifest", logging.Err(err))
	}
}

// videoDirName names a video directory after the source title and the first
// characters of its fingerprint, so different videos with the same title or
// different windows of one URL never share a directory.
func videoDirName(src video.Source, fingerprint string) string {
	title := src.Title
	if src.Kind == video.SourceFile {
		title = strings.TrimSuffix(src.Name, filepath.Ext(src.Name))
	}
	short := fingerprint
	if len(short) > 8 {
		short = short[:8]
	}
	return media.Slugify(title) + "_" + short + "_analysis"
}
