package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/aggregator"
	"github.com/ethereum-optimism/infra/op-reporter/artifacts"
	"github.com/ethereum-optimism/infra/op-reporter/render"
	"github.com/ethereum-optimism/infra/op-reporter/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAggregate(t *testing.T) *types.AggregatedTestData {
	t.Helper()
	run := &types.RawRun{
		Suites: []types.RawSuite{
			{
				FilePath: "tests/unit/codec.test.ts",
				Cases: []types.RawCase{
					{Title: "encodes", Status: "passed", Duration: 5 * time.Millisecond},
					{Title: "decodes", Status: "passed", Duration: 7 * time.Millisecond},
					{Title: "rejects overflow", Status: "failed", Duration: 11 * time.Millisecond,
						FailureMessages: []string{"value out of range"}},
				},
			},
		},
	}
	data, err := aggregator.Aggregate(run, "v0.1.0")
	require.NoError(t, err)
	return data
}

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	cache := artifacts.NewCache(artifacts.Config{SweepInterval: time.Hour})
	t.Cleanup(cache.Close)
	return NewDispatcher(cfg, cache)
}

func allFormatRequests(t *testing.T) []RenderRequest {
	t.Helper()
	requests := make([]RenderRequest, 0, len(types.Formats))
	for _, format := range types.Formats {
		cfg, err := types.DefaultConfigFor(format)
		require.NoError(t, err)
		requests = append(requests, RenderRequest{Format: format, Config: cfg})
	}
	return requests
}

type stubRenderer struct {
	format types.Format
	render func() (string, error)
}

func (s stubRenderer) Format() types.Format { return s.format }

func (s stubRenderer) Render(*types.AggregatedTestData, types.FormatConfig) (string, error) {
	return s.render()
}

func TestDispatch_AllFormats(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	data := sampleAggregate(t)

	results, err := d.Dispatch(context.Background(), data, allFormatRequests(t))
	require.NoError(t, err)
	require.Len(t, results, len(types.Formats))

	seen := make(map[types.Format]bool)
	for _, res := range results {
		require.NoError(t, res.Err)
		assert.NotEmpty(t, res.Artifact)
		assert.NotEmpty(t, res.TaskID)
		seen[res.Format] = true
	}
	assert.Len(t, seen, len(types.Formats))
}

func TestDispatch_PartialFailure(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	cache := artifacts.NewCache(artifacts.Config{SweepInterval: time.Hour})
	t.Cleanup(cache.Close)
	d.newRenderer = func(format types.Format) (render.Renderer, error) {
		if format == types.FormatMarkdown {
			return stubRenderer{format: format, render: func() (string, error) {
				return "", fmt.Errorf("markdown renderer broke")
			}}, nil
		}
		return render.NewRenderer(format, cache)
	}

	results, err := d.Dispatch(context.Background(), sampleAggregate(t), allFormatRequests(t))
	require.NoError(t, err, "one failing format must not fail the dispatch")
	require.Len(t, results, len(types.Formats))

	failed := 0
	for _, res := range results {
		if !res.Success() {
			failed++
			assert.Equal(t, types.FormatMarkdown, res.Format)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestDispatch_AllTasksFailed(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	d.newRenderer = func(format types.Format) (render.Renderer, error) {
		return stubRenderer{format: format, render: func() (string, error) {
			return "", fmt.Errorf("renderer unavailable")
		}}, nil
	}

	results, err := d.Dispatch(context.Background(), sampleAggregate(t), allFormatRequests(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all")
	// Per-task results are still returned for inspection.
	require.Len(t, results, len(types.Formats))
	for _, res := range results {
		assert.Error(t, res.Err)
	}
}

func TestDispatch_InvalidRequests(t *testing.T) {
	d := newTestDispatcher(t, Config{})
	data := sampleAggregate(t)

	_, err := d.Dispatch(context.Background(), data, nil)
	require.Error(t, err)

	_, err = d.Dispatch(context.Background(), data, []RenderRequest{
		{Format: types.FormatHTML, Config: types.JSONConfig{}},
	})
	require.Error(t, err)

	_, err = d.Dispatch(context.Background(), nil, allFormatRequests(t))
	require.Error(t, err)
}

func TestDispatch_TaskTimeout(t *testing.T) {
	d := newTestDispatcher(t, Config{TaskTimeout: 20 * time.Millisecond})
	d.newRenderer = func(format types.Format) (render.Renderer, error) {
		return stubRenderer{format: format, render: func() (string, error) {
			time.Sleep(500 * time.Millisecond)
			return "late", nil
		}}, nil
	}

	results, err := d.Dispatch(context.Background(), sampleAggregate(t), []RenderRequest{
		{Format: types.FormatJSON, Config: types.JSONConfig{}},
		{Format: types.FormatHTML, Config: types.HTMLConfig{}},
	})
	require.Error(t, err, "every task timed out")
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.TimedOut(), "expected timeout, got: %v", res.Err)
		assert.GreaterOrEqual(t, res.ProcessingTime, 20*time.Millisecond)
	}
}

func TestDispatch_PriorityOrder(t *testing.T) {
	// Cost limit 1 forces every task through the pool; concurrency 1
	// makes admission order observable.
	d := newTestDispatcher(t, Config{Concurrency: 1, InlineCostLimit: 1})

	var mu sync.Mutex
	var started []types.Format
	d.newRenderer = func(format types.Format) (render.Renderer, error) {
		return stubRenderer{format: format, render: func() (string, error) {
			mu.Lock()
			started = append(started, format)
			mu.Unlock()
			return "ok", nil
		}}, nil
	}

	// Submit in reverse priority order.
	_, err := d.Dispatch(context.Background(), sampleAggregate(t), []RenderRequest{
		{Format: types.FormatHTML, Config: types.HTMLConfig{}},
		{Format: types.FormatMarkdown, Config: types.MarkdownConfig{}},
		{Format: types.FormatJSON, Config: types.JSONConfig{}},
	})
	require.NoError(t, err)
	require.Equal(t, []types.Format{types.FormatJSON, types.FormatMarkdown, types.FormatHTML}, started)
}

func TestDispatch_OneResultPerRequest(t *testing.T) {
	d := newTestDispatcher(t, Config{})

	results, err := d.Dispatch(context.Background(), sampleAggregate(t), []RenderRequest{
		{Format: types.FormatJSON, Config: types.JSONConfig{}},
		{Format: types.FormatJSON, Config: types.JSONConfig{Indent: true}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEqual(t, results[0].TaskID, results[1].TaskID)
}

func TestDispatch_CancelledContextSettlesAllTasks(t *testing.T) {
	var mu sync.Mutex
	var events []ProgressEvent
	d := newTestDispatcher(t, Config{
		InlineCostLimit: 1, // force every task through the pool
		OnProgress: func(ev ProgressEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := d.Dispatch(ctx, sampleAggregate(t), allFormatRequests(t))
	require.Error(t, err)
	require.Len(t, results, len(types.Formats))
	for _, res := range results {
		assert.False(t, res.Success())
	}

	// Even when admission fails, every task must still settle through a
	// terminal progress event so observers see the completed count reach
	// the total.
	mu.Lock()
	defer mu.Unlock()
	queued := make(map[string]bool)
	terminal := make(map[string]TaskState)
	maxCompleted := 0
	for _, ev := range events {
		switch ev.State {
		case TaskStateQueued:
			queued[ev.TaskID] = true
		case TaskStateCompleted, TaskStateErrored:
			terminal[ev.TaskID] = ev.State
		}
		if ev.Completed > maxCompleted {
			maxCompleted = ev.Completed
		}
	}
	assert.Len(t, queued, len(types.Formats))
	assert.Len(t, terminal, len(types.Formats))
	for _, state := range terminal {
		assert.Equal(t, TaskStateErrored, state)
	}
	assert.Equal(t, len(types.Formats), maxCompleted)
}

func TestDispatch_ProgressEvents(t *testing.T) {
	var mu sync.Mutex
	var events []ProgressEvent
	d := newTestDispatcher(t, Config{
		OnProgress: func(ev ProgressEvent) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		},
	})

	_, err := d.Dispatch(context.Background(), sampleAggregate(t), allFormatRequests(t))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	terminal := make(map[string]TaskState)
	running := make(map[string]bool)
	maxCompleted := 0
	for _, ev := range events {
		assert.Equal(t, len(types.Formats), ev.Total)
		switch ev.State {
		case TaskStateRunning:
			running[ev.TaskID] = true
		case TaskStateCompleted, TaskStateErrored:
			terminal[ev.TaskID] = ev.State
		}
		if ev.Completed > maxCompleted {
			maxCompleted = ev.Completed
		}
	}
	assert.Len(t, running, len(types.Formats))
	assert.Len(t, terminal, len(types.Formats))
	assert.Equal(t, len(types.Formats), maxCompleted)
}

func TestDispatch_Concurrent(t *testing.T) {
	d := newTestDispatcher(t, Config{Concurrency: 2})
	data := sampleAggregate(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := d.Dispatch(context.Background(), data, allFormatRequests(t))
			assert.NoError(t, err)
			assert.Len(t, results, len(types.Formats))
		}()
	}
	wg.Wait()
}
