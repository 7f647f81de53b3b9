// Package pipeline drives one document through validation, splitting,
// recognition, asset download and merging.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Lllllllleong/docuconvert/internal/assembler"
	"github.com/Lllllllleong/docuconvert/internal/assets"
	"github.com/Lllllllleong/docuconvert/internal/config"
	"github.com/Lllllllleong/docuconvert/internal/metrics"
	"github.com/Lllllllleong/docuconvert/internal/models"
	"github.com/Lllllllleong/docuconvert/internal/recognition"
	"github.com/Lllllllleong/docuconvert/internal/splitter"
	"github.com/google/uuid"
)

// ErrValidation marks a request that cannot be processed as submitted.
var ErrValidation = errors.New("validation failed")

// Planner turns a paginated document into ordered sub-documents.
type Planner interface {
	Plan(ctx context.Context, inputPath, tempDir string, limits splitter.Limits) (splitter.Plan, error)
}

// Recognizer converts one (sub-)document into page fragments and assets.
type Recognizer interface {
	Recognize(ctx context.Context, docPath string) (models.RecognitionResult, error)
}

// AssetFetcher downloads an asset map under an output directory.
type AssetFetcher interface {
	FetchAssets(ctx context.Context, assetMap map[string]string, outputDir string) (int, []models.AssetWarning)
}

// Options configures an Orchestrator. Zero values fall back to defaults.
type Options struct {
	Limits  splitter.Limits
	TempDir string
	Logger  *slog.Logger
	// OnStateChange is called synchronously on every transition.
	OnStateChange func(Transition)
}

// Orchestrator runs documents through the pipeline. One Orchestrator may serve
// concurrent runs; every run gets its own temp directory.
type Orchestrator struct {
	planner    Planner
	recognizer Recognizer
	fetcher    AssetFetcher
	opts       Options
	logger     *slog.Logger
}

// New returns an Orchestrator over the given stages.
func New(planner Planner, recognizer Recognizer, fetcher AssetFetcher, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Limits.MaxPages < 1 {
		opts.Limits.MaxPages = config.DefaultMaxPages
	}
	if opts.Limits.MaxBytes < 1 {
		opts.Limits.MaxBytes = config.DefaultMaxSplitBytes
	}
	return &Orchestrator{
		planner:    planner,
		recognizer: recognizer,
		fetcher:    fetcher,
		opts:       opts,
		logger:     opts.Logger.With("component", "pipeline"),
	}
}

// NewFromConfig wires the pdfcpu splitter, the recognition client and the
// asset fetcher from cfg.
func NewFromConfig(cfg config.Config, logger *slog.Logger, onStateChange func(Transition)) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	client, err := recognition.New(recognition.OptionsFromConfig(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create recognition client: %w", err)
	}
	fetcher := assets.New(assets.Options{
		Concurrency: cfg.AssetConcurrency,
		Timeout:     cfg.AssetTimeout,
		Logger:      logger,
	})
	return New(splitter.New(logger), client, fetcher, Options{
		Limits:        splitter.Limits{MaxPages: cfg.MaxPages, MaxBytes: cfg.MaxSplitBytes},
		TempDir:       cfg.TempDir,
		Logger:        logger,
		OnStateChange: onStateChange,
	}), nil
}

// run carries the per-invocation state of ProcessDocument.
type run struct {
	id     string
	req    models.ProcessingRequest
	start  time.Time
	logCtx *slog.Logger
	parts  int

	fetched  int
	warnings []models.AssetWarning
	known    map[string]string
}

// ProcessDocument converts req.InputPath into <OutputDir>/<base>.md. It never
// returns an error: every failure, including cancellation, is folded into the
// outcome. The run's temp directory is removed before returning.
func (o *Orchestrator) ProcessDocument(ctx context.Context, req models.ProcessingRequest) models.ProcessingOutcome {
	r := &run{
		id:    uuid.NewString(),
		req:   req,
		start: time.Now(),
		known: make(map[string]string),
	}
	r.logCtx = o.logger.With("runId", r.id, "inputPath", req.InputPath)
	r.logCtx.Info("Starting document processing.", "outputDir", req.OutputDir)

	metrics.IncrementActiveRuns()
	defer metrics.DecrementActiveRuns()

	o.transition(r, StateIdle, 0)
	outputPath, err := o.process(ctx, r)
	elapsed := time.Since(r.start)

	if err != nil {
		outcome := o.failure(err, elapsed)
		if outcome.Cancelled {
			o.transition(r, StateCancelled, 0)
			metrics.CapturePipelineRun("cancelled", elapsed)
			r.logCtx.Warn("Processing cancelled.", "elapsed", elapsed.String())
		} else {
			o.transition(r, StateFailed, 0)
			metrics.CapturePipelineRun("failed", elapsed)
			r.logCtx.Error("Processing failed.", "elapsed", elapsed.String(), "statusCode", outcome.StatusCode, "authError", outcome.AuthError, "error", err)
		}
		return outcome
	}

	o.transition(r, StateDone, 0)
	metrics.CapturePipelineRun("success", elapsed)
	r.logCtx.Info("Processing complete.", "outputPath", outputPath, "elapsed", elapsed.String(), "assetsFetched", r.fetched, "assetWarnings", len(r.warnings))
	return models.Succeeded(outputPath, elapsed, r.fetched, r.warnings)
}

func (o *Orchestrator) process(ctx context.Context, r *run) (string, error) {
	o.transition(r, StateValidating, 0)
	size, err := o.validate(r.req)
	if err != nil {
		return "", err
	}

	var tempDir string
	if splitter.IsPaginated(r.req.InputPath) {
		tempDir = filepath.Join(o.opts.TempDir, "docuconvert-"+r.id)
		if err := os.MkdirAll(tempDir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create temp directory: %w", err)
		}
		defer func() {
			if err := os.RemoveAll(tempDir); err != nil {
				r.logCtx.Warn("Failed to remove temp directory.", "tempDir", tempDir, "error", err)
			}
		}()
	}

	paths, err := o.plan(ctx, r, tempDir, size)
	if err != nil {
		return "", err
	}

	texts := make([]string, 0, len(paths))
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := o.processPart(ctx, r, i+1, path)
		if err != nil {
			return "", err
		}
		texts = append(texts, text)
	}
	// Asset downloads of the last part may have been cut short.
	if err := ctx.Err(); err != nil {
		return "", err
	}

	o.transition(r, StateMerging, 0)
	merged := assembler.Merge(texts)
	outputPath := assembler.OutputPath(r.req.InputPath, r.req.OutputDir)
	if err := assembler.WriteMarkdown(outputPath, merged); err != nil {
		return "", err
	}
	for _, ref := range assembler.UnresolvedImages(merged, r.known, r.req.OutputDir) {
		r.logCtx.Warn("Markdown references an image that was not downloaded.", "image", ref)
	}
	return outputPath, nil
}

// validate checks the input and prepares the output directory. It returns the
// input size.
func (o *Orchestrator) validate(req models.ProcessingRequest) (int64, error) {
	if req.InputPath == "" {
		return 0, fmt.Errorf("%w: input path is empty", ErrValidation)
	}
	fi, err := os.Stat(req.InputPath)
	if err != nil {
		return 0, fmt.Errorf("%w: input file not found: %s", ErrValidation, req.InputPath)
	}
	if fi.IsDir() {
		return 0, fmt.Errorf("%w: input is a directory: %s", ErrValidation, req.InputPath)
	}
	if fi.Size() == 0 {
		return 0, fmt.Errorf("%w: input file is empty: %s", ErrValidation, req.InputPath)
	}
	if !splitter.IsPaginated(req.InputPath) && fi.Size() > o.opts.Limits.MaxBytes {
		return 0, fmt.Errorf("%w: %s is %d bytes, over the %d byte limit, and only PDFs can be split",
			ErrValidation, filepath.Base(req.InputPath), fi.Size(), o.opts.Limits.MaxBytes)
	}
	if req.OutputDir == "" {
		return 0, fmt.Errorf("%w: output directory is empty", ErrValidation)
	}
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return 0, fmt.Errorf("%w: cannot create output directory %s: %v", ErrValidation, req.OutputDir, err)
	}
	return fi.Size(), nil
}

// plan returns the ordered sub-document paths for the run.
func (o *Orchestrator) plan(ctx context.Context, r *run, tempDir string, size int64) ([]string, error) {
	if !splitter.IsPaginated(r.req.InputPath) {
		r.parts = 1
		o.transition(r, StateSingleShot, 0)
		return []string{r.req.InputPath}, nil
	}
	plan, err := o.planner.Plan(ctx, r.req.InputPath, tempDir, o.opts.Limits)
	if err != nil {
		return nil, fmt.Errorf("failed to plan %s: %w", filepath.Base(r.req.InputPath), err)
	}
	r.parts = len(plan.Parts)
	metrics.ObserveSplitParts(r.parts)
	if plan.IsSingleton() {
		o.transition(r, StateSingleShot, 0)
	} else {
		o.transition(r, StateSplitting, 0)
		r.logCtx.Info("Document split.", "parts", r.parts, "totalPages", plan.TotalPages, "sizeBytes", size)
	}
	return plan.Paths(), nil
}

func (o *Orchestrator) processPart(ctx context.Context, r *run, part int, path string) (string, error) {
	o.transition(r, StateRecognizing, part)
	result, err := o.recognizer.Recognize(ctx, path)
	if err != nil {
		if r.parts > 1 {
			return "", fmt.Errorf("sub-document %d of %d failed: %w", part, r.parts, err)
		}
		return "", err
	}

	o.transition(r, StateFetchingAssets, part)
	fetched, warnings := o.fetcher.FetchAssets(ctx, result.Assets, r.req.OutputDir)
	r.fetched += fetched
	r.warnings = append(r.warnings, warnings...)
	for rel, url := range result.Assets {
		r.known[rel] = url
	}
	r.logCtx.Info("Sub-document processed.", "part", part, "parts", r.parts, "pages", len(result.Fragments), "assetsFetched", fetched)
	return result.Text(), nil
}

func (o *Orchestrator) failure(err error, elapsed time.Duration) models.ProcessingOutcome {
	if recognition.IsCancelled(err) || errors.Is(err, context.Canceled) {
		return models.Failed("processing cancelled", elapsed, 0, false, false, true)
	}
	return models.Failed(err.Error(), elapsed, recognition.StatusCodeOf(err), recognition.IsAuth(err), true, false)
}

func (o *Orchestrator) transition(r *run, state State, part int) {
	r.logCtx.Debug("State change.", "state", state.String(), "part", part, "parts", r.parts)
	if o.opts.OnStateChange != nil {
		o.opts.OnStateChange(Transition{RunID: r.id, State: state, Part: part, Parts: r.parts})
	}
}
