// Package storage provides batched, retried, optionally compressed file
// I/O with a bounded read cache. Writes are queued and flushed on a batch
// threshold or a short idle delay; each individual attempt is retried with
// exponential backoff. Nothing here is persisted across process restarts;
// the queue and caches are process-lifetime only.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/infra/op-reporter/metrics"
	"github.com/ethereum-optimism/optimism/op-service/retry"
	"github.com/ethereum/go-ethereum/log"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/klauspost/compress/gzip"
	"github.com/sourcegraph/conc/pool"
)

const (
	DefaultBatchSize   = 10
	DefaultFlushDelay  = 100 * time.Millisecond
	DefaultMaxAttempts = 3

	DefaultReadCacheEntries = 128
	DefaultReadCacheTTL     = 5 * time.Minute

	// Values above this are served but never cached, keeping the read
	// cache's memory footprint proportional to entry count.
	maxCachedValueBytes = 4 << 20

	// CompressedExt is appended to paths written with compression.
	CompressedExt = ".gz"
)

// WriteOptions control a single write.
type WriteOptions struct {
	// Immediate bypasses the batch queue.
	Immediate bool
	// Compress gzips the content before writing and appends CompressedExt
	// to the path.
	Compress bool
}

// ReadOptions control a single read.
type ReadOptions struct {
	UseCache   bool
	Decompress bool
}

// writeOperation is one queued unit of work. At most one attempt per
// operation is in flight at a time; operations retry independently.
type writeOperation struct {
	path     string
	content  []byte
	compress bool
}

// Stats carries storage counters for observability.
type Stats struct {
	writes           atomic.Int64
	retries          atomic.Int64
	flushes          atomic.Int64
	bytesWritten     atomic.Int64
	compressionSaved atomic.Int64
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
}

func (s *Stats) Writes() int64           { return s.writes.Load() }
func (s *Stats) Retries() int64          { return s.retries.Load() }
func (s *Stats) Flushes() int64          { return s.flushes.Load() }
func (s *Stats) BytesWritten() int64     { return s.bytesWritten.Load() }
func (s *Stats) CompressionSaved() int64 { return s.compressionSaved.Load() }
func (s *Stats) CacheHits() int64        { return s.cacheHits.Load() }
func (s *Stats) CacheMisses() int64      { return s.cacheMisses.Load() }

// Config controls batching, retries, compression and the read cache.
type Config struct {
	BatchSize   int
	FlushDelay  time.Duration
	MaxAttempts int

	ReadCacheEntries int
	ReadCacheTTL     time.Duration

	// FlushConcurrency bounds how many queued writes land in parallel
	// during a flush. Defaults to BatchSize.
	FlushConcurrency int

	Log log.Logger

	// RetryStrategy is swappable for tests; defaults to exponential
	// backoff.
	RetryStrategy retry.Strategy
}

// Store is the resilient storage layer. Safe for concurrent use; the
// write queue is the only shared mutable state and is guarded by a single
// lock.
type Store struct {
	cfg   Config
	log   log.Logger
	stats Stats

	mu         sync.Mutex
	queue      []writeOperation
	flushTimer *time.Timer
	closed     bool

	readCache *expirable.LRU[string, []byte]

	// writeFile and readFile are swappable for tests.
	writeFile func(path string, content []byte, perm os.FileMode) error
	readFile  func(path string) ([]byte, error)
}

// New creates a storage layer, applying defaults for zero config values.
func New(cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = DefaultFlushDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ReadCacheEntries <= 0 {
		cfg.ReadCacheEntries = DefaultReadCacheEntries
	}
	if cfg.ReadCacheTTL <= 0 {
		cfg.ReadCacheTTL = DefaultReadCacheTTL
	}
	if cfg.FlushConcurrency <= 0 {
		cfg.FlushConcurrency = cfg.BatchSize
	}
	if cfg.RetryStrategy == nil {
		cfg.RetryStrategy = retry.Exponential()
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}

	return &Store{
		cfg:       cfg,
		log:       logger.New("component", "storage"),
		readCache: expirable.NewLRU[string, []byte](cfg.ReadCacheEntries, nil, cfg.ReadCacheTTL),
		writeFile: os.WriteFile,
		readFile:  os.ReadFile,
	}
}

// Stats returns the running storage counters.
func (s *Store) Stats() *Stats {
	return &s.stats
}

// Write persists content to path. Unless Immediate is set the operation is
// queued; the queue flushes when it reaches the batch size or after the
// idle delay, whichever comes first. The effective path (with compression
// extension when applicable) is returned.
func (s *Store) Write(ctx context.Context, path string, content []byte, opts WriteOptions) (string, error) {
	op := writeOperation{path: path, content: content, compress: opts.Compress}
	effective := op.effectivePath()

	if opts.Immediate {
		return effective, s.performWrite(ctx, op)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", fmt.Errorf("storage layer is closed")
	}
	s.queue = append(s.queue, op)
	shouldFlush := len(s.queue) >= s.cfg.BatchSize
	if !shouldFlush && s.flushTimer == nil {
		s.flushTimer = time.AfterFunc(s.cfg.FlushDelay, func() {
			if err := s.Flush(context.Background()); err != nil {
				s.log.Error("Idle flush failed", "error", err)
				metrics.RecordErrorDetails("storage.idle_flush", err)
			}
		})
	}
	s.mu.Unlock()

	if shouldFlush {
		return effective, s.Flush(ctx)
	}
	return effective, nil
}

// Flush drains the write queue, landing queued operations in parallel up
// to the flush concurrency bound. Each operation retries independently; a
// failed operation does not block its siblings and all failures are
// reported together.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	ops := s.queue
	s.queue = nil
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
	s.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}

	s.stats.flushes.Add(1)
	s.log.Debug("Flushing write queue", "operations", len(ops))

	p := pool.New().WithErrors().WithMaxGoroutines(s.cfg.FlushConcurrency)
	for _, op := range ops {
		p.Go(func() error {
			return s.performWrite(ctx, op)
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("write queue flush: %w", err)
	}
	return nil
}

// performWrite executes one write operation: idempotent directory
// creation (a failure there is permanent and surfaces immediately), then
// retried attempts with exponential backoff.
func (s *Store) performWrite(ctx context.Context, op writeOperation) error {
	if err := os.MkdirAll(filepath.Dir(op.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", op.path, err)
	}

	content := op.content
	target := op.effectivePath()
	if op.compress {
		compressed, err := gzipBytes(op.content)
		if err != nil {
			return fmt.Errorf("failed to compress %s: %w", op.path, err)
		}
		if saved := int64(len(op.content) - len(compressed)); saved > 0 {
			s.stats.compressionSaved.Add(saved)
			metrics.RecordStorageBytes(0, saved)
		}
		content = compressed
	}

	attempt := 0
	_, err := retry.Do(ctx, s.cfg.MaxAttempts, s.cfg.RetryStrategy, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			s.stats.retries.Add(1)
			metrics.RecordStorageRetry("write")
			s.log.Debug("Retrying write", "path", target, "attempt", attempt)
		}
		return struct{}{}, s.writeFile(target, content, 0644)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s after %d attempts: %w", target, attempt, err)
	}

	s.stats.writes.Add(1)
	s.stats.bytesWritten.Add(int64(len(content)))
	metrics.RecordStorageBytes(int64(len(content)), 0)

	// A successful write invalidates any cached reads of the same path.
	for _, key := range readCacheKeys(target) {
		s.readCache.Remove(key)
	}
	return nil
}

// Read loads a file, optionally consulting the bounded TTL read cache and
// transparently reversing compression. Each attempt is retried with the
// same backoff policy as writes.
func (s *Store) Read(ctx context.Context, path string, opts ReadOptions) ([]byte, error) {
	key := readCacheKey(path, opts)
	if opts.UseCache {
		if cached, ok := s.readCache.Get(key); ok {
			s.stats.cacheHits.Add(1)
			out := make([]byte, len(cached))
			copy(out, cached)
			return out, nil
		}
		s.stats.cacheMisses.Add(1)
	}

	attempt := 0
	content, err := retry.Do(ctx, s.cfg.MaxAttempts, s.cfg.RetryStrategy, func() ([]byte, error) {
		attempt++
		if attempt > 1 {
			s.stats.retries.Add(1)
			metrics.RecordStorageRetry("read")
		}
		return s.readFile(path)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s after %d attempts: %w", path, attempt, err)
	}

	if opts.Decompress {
		content, err = gunzipBytes(content)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s: %w", path, err)
		}
	}

	if opts.UseCache && len(content) <= maxCachedValueBytes {
		s.readCache.Add(key, content)
	}
	return content, nil
}

// Stream pipes inPath through an optional transform into outPath without
// materializing the whole file. A nil transform is a plain copy.
func (s *Store) Stream(inPath, outPath string, transform func(dst io.Writer, src io.Reader) error) error {
	in, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", inPath, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", outPath, err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	defer out.Close()

	if transform == nil {
		transform = func(dst io.Writer, src io.Reader) error {
			_, err := io.Copy(dst, src)
			return err
		}
	}
	if err := transform(out, in); err != nil {
		return fmt.Errorf("failed to stream %s to %s: %w", inPath, outPath, err)
	}
	return out.Sync()
}

// Close flushes any queued writes and rejects further queued operations.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush(ctx)
}

func (op writeOperation) effectivePath() string {
	if op.compress {
		return op.path + CompressedExt
	}
	return op.path
}

func readCacheKey(path string, opts ReadOptions) string {
	return fmt.Sprintf("%s|cache=%t|gz=%t", path, opts.UseCache, opts.Decompress)
}

// readCacheKeys enumerates every cache key variant for a path, for
// invalidation after a write.
func readCacheKeys(path string) []string {
	return []string{
		readCacheKey(path, ReadOptions{UseCache: true}),
		readCacheKey(path, ReadOptions{UseCache: true, Decompress: true}),
	}
}

func gzipBytes(content []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(content []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
