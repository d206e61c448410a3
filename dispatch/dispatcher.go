// Package dispatch fans one aggregate out to the requested report formats
// concurrently. Cheap formats are admitted first, heavy renders go through
// a bounded worker pool, and a single failing format never aborts its
// siblings.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/artifacts"
	"github.com/ethereum-optimism/infra/op-reporter/metrics"
	"github.com/ethereum-optimism/infra/op-reporter/render"
	"github.com/ethereum-optimism/infra/op-reporter/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultTaskTimeout bounds a single render. Renders are CPU-bound
	// and uncancellable, so a timed-out render goroutine is abandoned.
	DefaultTaskTimeout = 30 * time.Second

	// DefaultInlineCostLimit routes tasks at or below this estimated cost
	// onto the dispatching goroutine instead of the worker pool.
	DefaultInlineCostLimit = 500

	maxConcurrency = 8
)

// ProgressEvent is delivered to the progress callback on every task state
// transition. Completed counts both successes and failures.
type ProgressEvent struct {
	TaskID    string
	Format    types.Format
	State     TaskState
	Completed int
	Total     int
	Err       error
}

// RendererFactory builds the renderer for a format. Swappable in tests.
type RendererFactory func(format types.Format) (render.Renderer, error)

// Config controls dispatch behavior. The zero value gets sensible defaults
// from NewDispatcher.
type Config struct {
	// Concurrency is the worker pool ceiling for pooled render tasks.
	// Defaults to NumCPU, capped at 8.
	Concurrency int

	// TaskTimeout is the per-task render budget.
	TaskTimeout time.Duration

	// InlineCostLimit is the routing threshold: tasks whose estimated
	// cost (test count × format weight) is at or below it run inline.
	InlineCostLimit int

	// OnProgress, when set, receives an event per task state transition.
	// It is called from dispatcher goroutines and must be fast.
	OnProgress func(ProgressEvent)

	// OnResourceWarning receives advisory warnings from the resource
	// monitor while a dispatch is in flight.
	OnResourceWarning func(ResourceWarning)

	Log log.Logger
}

// Dispatcher renders an aggregate into every requested format using a
// bounded pool. It is safe for concurrent use; overlapping Dispatch calls
// share one concurrency budget.
type Dispatcher struct {
	cfg         Config
	log         log.Logger
	newRenderer RendererFactory
	sem         *semaphore.Weighted
	monitor     *ResourceMonitor

	// heapAlloc is swappable in tests.
	heapAlloc func() uint64
}

// NewDispatcher builds a dispatcher whose renderers share the given
// artifact cache.
func NewDispatcher(cfg Config, cache *artifacts.Cache) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = min(runtime.NumCPU(), maxConcurrency)
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.InlineCostLimit <= 0 {
		cfg.InlineCostLimit = DefaultInlineCostLimit
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	logger := cfg.Log.New("component", "dispatcher")

	d := &Dispatcher{
		cfg: cfg,
		log: logger,
		newRenderer: func(format types.Format) (render.Renderer, error) {
			return render.NewRenderer(format, cache)
		},
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		heapAlloc: readHeapAlloc,
	}
	d.monitor = NewResourceMonitor(MonitorConfig{
		Log:    logger,
		OnWarn: cfg.OnResourceWarning,
	})
	return d
}

// Dispatch renders the aggregate into every requested format and returns
// exactly one result per request, in settlement order. Individual task
// failures are reported in their results; Dispatch itself errors only on
// invalid input or when every task fails.
func (d *Dispatcher) Dispatch(ctx context.Context, data *types.AggregatedTestData, requests []RenderRequest) ([]ProcessingResult, error) {
	if data == nil {
		return nil, fmt.Errorf("no aggregate to dispatch")
	}
	if err := validateRequests(requests); err != nil {
		return nil, err
	}

	start := time.Now()
	tasks := d.buildTasks(data, requests)

	stopMonitor := d.monitor.Start(ctx)
	defer stopMonitor()

	var inline, pooled []ProcessingTask
	for _, task := range tasks {
		d.emitProgress(task, TaskStateQueued, 0, len(tasks), nil)
		if estimatedCost(task) <= d.cfg.InlineCostLimit {
			inline = append(inline, task)
		} else {
			pooled = append(pooled, task)
		}
	}
	d.log.Info("Dispatching render tasks",
		"tasks", len(tasks),
		"inline", len(inline),
		"pooled", len(pooled),
		"concurrency", d.cfg.Concurrency)

	var completed atomic.Int64
	resultChan := make(chan ProcessingResult, len(pooled))

	// Admit pooled tasks in priority order. The semaphore bounds how many
	// render goroutines run at once, across overlapping Dispatch calls.
	var wg sync.WaitGroup
	go func() {
		for _, task := range pooled {
			if err := d.sem.Acquire(ctx, 1); err != nil {
				d.emitProgress(task, TaskStateErrored, int(completed.Add(1)), len(tasks), err)
				resultChan <- ProcessingResult{TaskID: task.ID, Format: task.Format, Err: err}
				continue
			}
			wg.Add(1)
			go func(task ProcessingTask) {
				defer wg.Done()
				defer d.sem.Release(1)
				resultChan <- d.runTask(ctx, task, &completed, len(tasks))
			}(task)
		}
		wg.Wait()
		close(resultChan)
	}()

	// Inline tasks run on the dispatching goroutine while the pool works.
	results := make([]ProcessingResult, 0, len(tasks))
	for _, task := range inline {
		results = append(results, d.runTask(ctx, task, &completed, len(tasks)))
	}
	for res := range resultChan {
		results = append(results, res)
	}

	succeeded := 0
	for _, res := range results {
		if res.Success() {
			succeeded++
		} else {
			d.log.Error("Render task failed", "format", res.Format, "task", res.TaskID, "error", res.Err)
		}
	}
	d.log.Info("Dispatch complete",
		"duration", time.Since(start),
		"succeeded", succeeded,
		"failed", len(results)-succeeded)

	if succeeded == 0 {
		return results, fmt.Errorf("all %d render tasks failed", len(results))
	}
	return results, nil
}

func (d *Dispatcher) buildTasks(data *types.AggregatedTestData, requests []RenderRequest) []ProcessingTask {
	tasks := make([]ProcessingTask, 0, len(requests))
	for _, req := range requests {
		tasks = append(tasks, ProcessingTask{
			ID:       uuid.New().String(),
			Format:   req.Format,
			Data:     data,
			Config:   req.Config,
			Priority: priorityFor(req.Format),
		})
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority < tasks[j].Priority
	})
	return tasks
}

// runTask executes one render under the task timeout and always produces
// a result.
func (d *Dispatcher) runTask(ctx context.Context, task ProcessingTask, completed *atomic.Int64, total int) ProcessingResult {
	d.emitProgress(task, TaskStateRunning, int(completed.Load()), total, nil)

	start := time.Now()
	heapBefore := d.heapAlloc()

	tctx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
	defer cancel()

	type renderOut struct {
		artifact string
		err      error
	}
	done := make(chan renderOut, 1)
	go func() {
		renderer, err := d.newRenderer(task.Format)
		if err != nil {
			done <- renderOut{err: err}
			return
		}
		artifact, err := renderer.Render(task.Data, task.Config)
		done <- renderOut{artifact: artifact, err: err}
	}()

	res := ProcessingResult{TaskID: task.ID, Format: task.Format}
	select {
	case out := <-done:
		res.Artifact = out.artifact
		res.Err = out.err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			res.Err = fmt.Errorf("%s render exceeded %s: %w", task.Format, d.cfg.TaskTimeout, ErrTaskTimeout)
		} else {
			res.Err = tctx.Err()
		}
	}

	res.ProcessingTime = time.Since(start)
	if heapAfter := d.heapAlloc(); heapAfter > heapBefore {
		res.MemoryUsed = int64(heapAfter - heapBefore)
	}

	metrics.RecordReport(task.Data.BuildMetadata.RunID, string(task.Format), res.Success(), res.ProcessingTime)
	if res.Err != nil {
		metrics.RecordErrorDetails("dispatch."+string(task.Format), res.Err)
	}

	doneCount := int(completed.Add(1))
	if res.Success() {
		d.emitProgress(task, TaskStateCompleted, doneCount, total, nil)
	} else {
		d.emitProgress(task, TaskStateErrored, doneCount, total, res.Err)
	}
	return res
}

func (d *Dispatcher) emitProgress(task ProcessingTask, state TaskState, completed, total int, err error) {
	if d.cfg.OnProgress == nil {
		return
	}
	d.cfg.OnProgress(ProgressEvent{
		TaskID:    task.ID,
		Format:    task.Format,
		State:     state,
		Completed: completed,
		Total:     total,
		Err:       err,
	})
}

func readHeapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
