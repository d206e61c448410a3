package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/types"
)

// TaskState is the per-task lifecycle: queued → running → completed or
// errored. Both end states are terminal; a timed-out task lands in
// errored with ErrTaskTimeout, never in a separate cancelled state.
type TaskState string

const (
	TaskStateQueued    TaskState = "queued"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateErrored   TaskState = "errored"
)

// ErrTaskTimeout marks a render task that exceeded its budget.
var ErrTaskTimeout = errors.New("render task timed out")

// RenderRequest is one caller-supplied (format, config) pair.
type RenderRequest struct {
	Format types.Format
	Config types.FormatConfig
}

// ProcessingTask is the internal unit of dispatch. The aggregate is a
// shared read-only reference; tasks never copy or mutate it.
type ProcessingTask struct {
	ID       string
	Format   types.Format
	Data     *types.AggregatedTestData
	Config   types.FormatConfig
	Priority int
}

// ProcessingResult is produced exactly once per submitted task, success
// or failure. Results arrive in settlement order, not submission order;
// correlate by TaskID or Format.
type ProcessingResult struct {
	TaskID         string
	Format         types.Format
	Artifact       string
	Err            error
	ProcessingTime time.Duration
	MemoryUsed     int64
}

// Success reports whether the task produced an artifact.
func (r ProcessingResult) Success() bool {
	return r.Err == nil
}

// TimedOut reports whether the task failed on its timeout budget.
func (r ProcessingResult) TimedOut() bool {
	return errors.Is(r.Err, ErrTaskTimeout)
}

// formatPriority is the static admission order: cheapest formats first.
var formatPriority = map[types.Format]int{
	types.FormatJSON:     1,
	types.FormatMarkdown: 2,
	types.FormatHTML:     3,
}

// formatComplexity weights the inline-vs-worker routing heuristic.
var formatComplexity = map[types.Format]int{
	types.FormatJSON:     1,
	types.FormatMarkdown: 2,
	types.FormatHTML:     3,
}

func priorityFor(format types.Format) int {
	if p, ok := formatPriority[format]; ok {
		return p
	}
	return len(formatPriority) + 1
}

// estimatedCost scores a task for routing: payload size times format
// complexity.
func estimatedCost(task ProcessingTask) int {
	weight, ok := formatComplexity[task.Format]
	if !ok {
		weight = 2
	}
	payload := 1
	if task.Data != nil {
		payload += task.Data.Summary.TotalTests
	}
	return payload * weight
}

func validateRequests(requests []RenderRequest) error {
	if len(requests) == 0 {
		return fmt.Errorf("at least one render format must be requested")
	}
	for i, req := range requests {
		if req.Config == nil {
			return fmt.Errorf("request %d (%s) has no config", i, req.Format)
		}
		if req.Config.Format() != req.Format {
			return fmt.Errorf("request %d: config is for %s, not %s", i, req.Config.Format(), req.Format)
		}
	}
	return nil
}
