// Package reporter wires the report generation pipeline together:
// ingest a raw test run, aggregate it, fan it out to the configured
// formats, and persist the resulting artifacts.
package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-reporter/aggregator"
	"github.com/ethereum-optimism/infra/op-reporter/artifacts"
	"github.com/ethereum-optimism/infra/op-reporter/dispatch"
	"github.com/ethereum-optimism/infra/op-reporter/exitcodes"
	"github.com/ethereum-optimism/infra/op-reporter/metrics"
	"github.com/ethereum-optimism/infra/op-reporter/storage"
	"github.com/ethereum-optimism/infra/op-reporter/stream"
	"github.com/ethereum-optimism/infra/op-reporter/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// reporter implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &reporter{}

// reporter is the report generation service.
type reporter struct {
	ctx       context.Context
	config    *Config
	version   string
	cache     *artifacts.Cache
	processor *stream.Processor[types.RawSuite, types.RawSuite]
	dispatch  *dispatch.Dispatcher
	store     *storage.Store
	scheduler Scheduler
	result    *GenerationResult

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// ArtifactRecord is one generated (or failed) artifact in a generation.
type ArtifactRecord struct {
	Format    types.Format
	Path      string
	SizeBytes int64
	Duration  time.Duration
	Err       error
}

// GenerationResult is the outcome of one full pipeline run.
type GenerationResult struct {
	RunID     string
	Data      *types.AggregatedTestData
	Artifacts []ArtifactRecord
	FlushErr  error // Non-nil when the final storage flush failed
	Duration  time.Duration
}

// FailedCount counts artifacts that could not be produced. A failed
// storage flush counts as one failure because the affected subset of
// queued writes is not individually attributable.
func (r *GenerationResult) FailedCount() int {
	failed := 0
	for _, a := range r.Artifacts {
		if a.Err != nil {
			failed++
		}
	}
	if r.FlushErr != nil {
		failed++
	}
	return failed
}

func (r *GenerationResult) String() string {
	return fmt.Sprintf("generated %d/%d artifacts for run %s in %.1fs",
		len(r.Artifacts)-r.FailedCount(), len(r.Artifacts), r.RunID, r.Duration.Seconds())
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*reporter, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Formats) == 0 {
		return nil, errors.New("at least one report format is required")
	}

	config.Log.Debug("Creating reporter with config",
		"inputPath", config.InputPath,
		"outputDir", config.OutputDir,
		"formats", len(config.Formats),
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	cache := artifacts.NewCache(artifacts.Config{
		MaxBytes: config.CacheMaxBytes,
		TTL:      config.CacheTTL,
		Log:      config.Log,
	})

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		Concurrency: config.Concurrency,
		TaskTimeout: config.TaskTimeout,
		Log:         config.Log,
		OnProgress: func(ev dispatch.ProgressEvent) {
			config.Log.Debug("Render progress",
				"format", ev.Format, "state", ev.State, "completed", ev.Completed, "total", ev.Total)
		},
	}, cache)

	store := storage.New(storage.Config{
		MaxAttempts: config.RetryAttempts,
		Log:         config.Log,
	})

	processor := stream.NewProcessor[types.RawSuite, types.RawSuite](stream.Config{
		BatchSize:        config.BatchSize,
		MemoryLimitBytes: config.MemoryLimitBytes,
		Log:              config.Log,
	})

	r := &reporter{
		ctx:              ctx,
		config:           config,
		version:          version,
		cache:            cache,
		processor:        processor,
		dispatch:         dispatcher,
		store:            store,
		scheduler:        NewDefaultScheduler(config.RunInterval, config.RunOnce, config.Log),
		shutdownCallback: shutdownCallback,
	}
	config.Log.Info("reporter.New: created generation pipeline")
	return r, nil
}

// Start runs the generation pipeline, periodically when an interval is
// configured. Start implements the cliapp.Lifecycle interface.
func (r *reporter) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if rec := recover(); rec != nil {
			r.config.Log.Error("Runtime error occurred", "error", rec)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	r.ctx = ctx
	r.running.Store(true)
	r.scheduler.RegisterCallback(r.runGeneration)

	if r.config.RunOnce {
		r.config.Log.Info("Starting op-reporter in run-once mode")
	} else {
		r.config.Log.Info("Starting op-reporter in continuous mode", "interval", r.config.RunInterval)
	}

	// The scheduler runs the first generation synchronously.
	if err := r.scheduler.Start(ctx); err != nil {
		r.config.Log.Error("Runtime error generating reports", "error", err)
		return cli.Exit(err.Error(), 2)
	}

	if r.config.RunOnce {
		r.config.Log.Info("Generation completed, exiting (run-once mode)")

		if r.result != nil && r.result.FailedCount() > 0 {
			r.config.Log.Warn("Run-once generation completed with failures, returning exit code 1")
			return NewGenerationFailureError(r.result.String())
		}

		// Only need to call this when we're in run-once mode and every artifact landed
		go func() {
			r.shutdownCallback(nil)
		}()
		return nil // Success (exit code 0)
	}

	r.config.Log.Debug("op-reporter started successfully")
	return nil
}

// runGeneration executes one full pipeline pass and records the result.
func (r *reporter) runGeneration() error {
	start := time.Now()
	r.config.Log.Info("Generating reports...", "input", r.config.InputPath)

	run, err := r.loadRun()
	if err != nil {
		r.config.Log.Error("Runtime error loading test run", "error", err)
		return NewRuntimeError(err)
	}

	data, err := r.aggregate(run)
	if err != nil {
		r.config.Log.Error("Runtime error aggregating test run", "error", err)
		return NewRuntimeError(err)
	}

	result := &GenerationResult{RunID: data.BuildMetadata.RunID, Data: data}
	r.renderAndPersist(data, result)
	result.Duration = time.Since(start)
	r.result = result

	r.printGenerationTable(result)
	fmt.Println(result.String())
	r.config.Log.Info("Generation completed",
		"run_id", result.RunID,
		"artifacts", len(result.Artifacts),
		"failed", result.FailedCount())
	return nil
}

// loadRun reads and decodes the raw run file. Gzip inputs are detected by
// their extension.
func (r *reporter) loadRun() (*types.RawRun, error) {
	// The execution engine rewrites the input between scheduled runs, so it
	// is always read fresh, never through the read cache.
	content, err := r.store.Read(r.ctx, r.config.InputPath, storage.ReadOptions{
		Decompress: strings.HasSuffix(r.config.InputPath, ".gz"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read input file '%s': %w", r.config.InputPath, err)
	}

	var run types.RawRun
	if err := json.Unmarshal(content, &run); err != nil {
		return nil, fmt.Errorf("failed to parse input file '%s': %w", r.config.InputPath, err)
	}
	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid test run: %w", err)
	}
	return &run, nil
}

// aggregate folds the suites through the streaming processor, so arbitrarily
// large runs stay within the memory ceiling, and then reduces them.
func (r *reporter) aggregate(run *types.RawRun) (*types.AggregatedTestData, error) {
	suites, err := r.processor.Process(r.ctx, run.Suites, normalizeSuites)
	if err != nil {
		return nil, fmt.Errorf("failed to stream suites: %w", err)
	}
	run.Suites = suites
	r.config.Log.Debug("Streamed suites",
		"suites", r.processor.Stats().TotalProcessed(),
		"batches", r.processor.Stats().BatchesProcessed(),
		"forcedFlushes", r.processor.Stats().ForcedFlushes())

	data, err := aggregator.Aggregate(run, r.version)
	if err != nil {
		return nil, err
	}
	metrics.RecordAggregate(data.BuildMetadata.RunID,
		data.Summary.TotalTests, data.Summary.Passed, data.Summary.Failed, data.Summary.Skipped)
	return data, nil
}

// normalizeSuites canonicalizes case statuses batch by batch. The batch
// buffer is reused by the engine, so suites are copied out.
func normalizeSuites(batch []types.RawSuite) ([]types.RawSuite, error) {
	out := make([]types.RawSuite, len(batch))
	copy(out, batch)
	for i := range out {
		cases := make([]types.RawCase, len(out[i].Cases))
		copy(cases, out[i].Cases)
		for j := range cases {
			cases[j].Status = string(types.NormalizeCaseStatus(cases[j].Status))
		}
		out[i].Cases = cases
	}
	return out, nil
}

// renderAndPersist dispatches the configured formats and writes the
// artifacts that rendered successfully. Failed formats are recorded but do
// not stop their siblings.
func (r *reporter) renderAndPersist(data *types.AggregatedTestData, result *GenerationResult) {
	requests := make([]dispatch.RenderRequest, 0, len(r.config.Formats))
	configByFormat := make(map[types.Format]types.FormatConfig, len(r.config.Formats))
	for _, cfg := range r.config.Formats {
		requests = append(requests, dispatch.RenderRequest{Format: cfg.Format(), Config: cfg})
		configByFormat[cfg.Format()] = cfg
	}

	renders, err := r.dispatch.Dispatch(r.ctx, data, requests)
	if err != nil {
		// Per-format failures are carried in the results; this is the
		// everything-failed case.
		r.config.Log.Error("Dispatch failed", "error", err)
	}

	for _, render := range renders {
		record := ArtifactRecord{
			Format:   render.Format,
			Duration: render.ProcessingTime,
			Err:      render.Err,
		}
		if render.Err == nil {
			filename := configByFormat[render.Format].Filename()
			if filename == "" {
				filename = render.Format.DefaultFilename()
			}
			path := filepath.Join(r.config.OutputDir, filename)
			written, werr := r.store.Write(r.ctx, path, []byte(render.Artifact), storage.WriteOptions{
				Compress: r.config.Compress,
			})
			record.Path = written
			record.SizeBytes = int64(len(render.Artifact))
			record.Err = werr
		}
		result.Artifacts = append(result.Artifacts, record)
	}

	if err := r.store.Flush(r.ctx); err != nil {
		r.config.Log.Error("Failed to flush artifact writes", "error", err)
		result.FlushErr = err
	}
}

// Stop stops the op-reporter service.
// Stop implements the cliapp.Lifecycle interface.
func (r *reporter) Stop(ctx context.Context) error {
	r.config.Log.Info("Stopping op-reporter")

	// Check if we're already stopped
	if !r.running.Load() {
		r.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	// Update running state first to prevent new generations
	r.running.Store(false)

	if err := r.scheduler.Stop(); err != nil {
		r.config.Log.Error("Error stopping scheduler", "error", err)
	}
	if err := r.store.Close(ctx); err != nil {
		r.config.Log.Error("Error closing storage", "error", err)
	}
	r.cache.Close()

	r.config.Log.Info("op-reporter stopped successfully")
	return nil
}

// Stopped returns true if the op-reporter service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (r *reporter) Stopped() bool {
	return !r.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (r *reporter) WaitForShutdown(ctx context.Context) error {
	return r.scheduler.WaitForShutdown(ctx)
}
