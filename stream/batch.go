// Package stream provides a memory-bounded batch engine for folding large
// item sequences through a transform without materializing every
// intermediate result at once.
package stream

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultBatchSize = 100

	// DefaultMemoryLimitBytes forces an early flush when heap usage crosses
	// this ceiling, regardless of batch fill level.
	DefaultMemoryLimitBytes = 512 << 20
)

// Stats exposes running counters for observability. Safe for concurrent
// reads while a stream is in flight.
type Stats struct {
	totalProcessed   atomic.Int64
	batchesProcessed atomic.Int64
	forcedFlushes    atomic.Int64
	startTime        time.Time
}

func (s *Stats) TotalProcessed() int64   { return s.totalProcessed.Load() }
func (s *Stats) BatchesProcessed() int64 { return s.batchesProcessed.Load() }
func (s *Stats) ForcedFlushes() int64    { return s.forcedFlushes.Load() }

// Throughput returns items processed per second since the last Process
// call started.
func (s *Stats) Throughput() float64 {
	elapsed := time.Since(s.startTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.totalProcessed.Load()) / elapsed
}

// Config controls batching behavior.
type Config struct {
	BatchSize        int
	MemoryLimitBytes uint64
	Log              log.Logger
}

// Transform converts one drained batch into results. It must not retain
// the batch slice; the engine reuses the underlying buffer.
type Transform[T, R any] func(batch []T) ([]R, error)

// Processor drains a finite item sequence through a transform in bounded
// batches. Each Process call owns its own buffer; the processor itself
// only carries configuration and stats, so it can be reused across calls
// but a single call is strictly sequential.
type Processor[T, R any] struct {
	cfg   Config
	stats Stats
	log   log.Logger

	// heapInUse is swappable for tests.
	heapInUse func() uint64
}

// NewProcessor creates a batch processor, applying defaults for zero
// config values.
func NewProcessor[T, R any](cfg Config) *Processor[T, R] {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MemoryLimitBytes == 0 {
		cfg.MemoryLimitBytes = DefaultMemoryLimitBytes
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	return &Processor[T, R]{
		cfg:       cfg,
		log:       logger.New("component", "stream-processor"),
		heapInUse: readHeapInUse,
	}
}

// Stats returns the running counters for the most recent Process call.
func (p *Processor[T, R]) Stats() *Stats {
	return &p.stats
}

// Process drains items through transform. The buffer is flushed when it
// reaches the configured batch size, when heap usage crosses the memory
// ceiling (forced early flush, acting as backpressure), and
// once more at stream end for any partial batch. Results are returned in
// input order. A transform error aborts the stream immediately with no
// partial results.
func (p *Processor[T, R]) Process(ctx context.Context, items []T, transform Transform[T, R]) ([]R, error) {
	p.stats.totalProcessed.Store(0)
	p.stats.batchesProcessed.Store(0)
	p.stats.forcedFlushes.Store(0)
	p.stats.startTime = time.Now()

	if transform == nil {
		return nil, fmt.Errorf("transform cannot be nil")
	}

	results := make([]R, 0, len(items))
	buffer := make([]T, 0, p.cfg.BatchSize)

	flush := func() error {
		if len(buffer) == 0 {
			return nil
		}
		out, err := transform(buffer)
		if err != nil {
			return fmt.Errorf("batch transform failed after %d items: %w", p.stats.totalProcessed.Load(), err)
		}
		results = append(results, out...)
		p.stats.totalProcessed.Add(int64(len(buffer)))
		p.stats.batchesProcessed.Add(1)
		buffer = buffer[:0]
		return nil
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buffer = append(buffer, item)

		if len(buffer) >= p.cfg.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}

		if p.heapInUse() > p.cfg.MemoryLimitBytes {
			p.log.Debug("Memory ceiling crossed, forcing early flush",
				"buffered", len(buffer), "limitBytes", p.cfg.MemoryLimitBytes)
			p.stats.forcedFlushes.Add(1)
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

	// Final partial batch.
	if err := flush(); err != nil {
		return nil, err
	}

	p.log.Debug("Stream complete",
		"processed", p.stats.totalProcessed.Load(),
		"batches", p.stats.batchesProcessed.Load(),
		"throughput", fmt.Sprintf("%.0f/s", p.stats.Throughput()))

	return results, nil
}

func readHeapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}
