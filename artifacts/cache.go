// Package artifacts provides a content-hash-validated cache for compiled
// rendering artifacts (templates). Entries are evicted least-recently-used
// under byte-size and entry-count ceilings, and a background sweep retires
// entries that have been idle past the TTL.
package artifacts

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum-optimism/infra/op-reporter/metrics"
	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultMaxBytes      = 16 << 20
	DefaultMaxEntries    = 64
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Compiled is what a compiler returns: the usable artifact plus its size
// for cache accounting.
type Compiled struct {
	Value     any
	SizeBytes int64
}

// CompileFunc builds an artifact from template source. A failed compile is
// never cached; the next Get retries.
type CompileFunc func(source string) (*Compiled, error)

type entry struct {
	key         string
	value       any
	contentHash uint64
	lastUsed    time.Time
	useCount    int64
	sizeBytes   int64
	lruElem     *list.Element
}

// Config controls cache limits.
type Config struct {
	MaxBytes      int64
	MaxEntries    int
	TTL           time.Duration
	SweepInterval time.Duration
	Log           log.Logger
}

// Cache is safe for concurrent use; a single lock serializes get, insert
// and evict so size accounting can never be corrupted by a race. The
// compiler itself runs under the lock, which means a racing double-compile
// cannot happen either.
type Cache struct {
	cfg Config
	log log.Logger

	mu         sync.Mutex
	entries    map[string]*entry
	lru        *list.List // front = most recently used
	totalBytes int64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewCache creates a cache and starts the background TTL sweep. Call Close
// when the pipeline is done with it.
func NewCache(cfg Config) *Cache {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}

	c := &Cache{
		cfg:     cfg,
		log:     logger.New("component", "artifact-cache"),
		entries: make(map[string]*entry),
		lru:     list.New(),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	go c.sweepLoop()
	return c
}

// Get returns the cached artifact for key when the stored content hash
// still matches source; otherwise it recompiles, evicts LRU entries until
// the new artifact fits under both ceilings, inserts and returns.
func (c *Cache) Get(key, source string, compile CompileFunc) (any, error) {
	if compile == nil {
		return nil, fmt.Errorf("compile function cannot be nil")
	}

	hash := xxhash.Sum64String(source)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if e.contentHash == hash {
			e.lastUsed = time.Now()
			e.useCount++
			c.lru.MoveToFront(e.lruElem)
			metrics.RecordCacheEvent("hit")
			return e.value, nil
		}
		// Source changed under the same key; the stale artifact is dropped
		// before recompiling so a compile failure cannot serve stale data.
		c.log.Debug("Stale artifact detected, recompiling", "key", key)
		c.removeLocked(e)
		metrics.RecordCacheEvent("stale")
	} else {
		metrics.RecordCacheEvent("miss")
	}

	compiled, err := compile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to compile artifact %q: %w", key, err)
	}
	if compiled == nil {
		return nil, fmt.Errorf("compiler returned nil artifact for %q", key)
	}

	size := compiled.SizeBytes
	if size <= 0 {
		size = int64(len(source))
	}

	// Oversized artifacts are returned uncached rather than wiping the
	// whole cache to fit them.
	if size > c.cfg.MaxBytes {
		c.log.Warn("Artifact exceeds cache byte ceiling, not caching",
			"key", key, "sizeBytes", size, "maxBytes", c.cfg.MaxBytes)
		return compiled.Value, nil
	}

	for c.totalBytes+size > c.cfg.MaxBytes || len(c.entries) >= c.cfg.MaxEntries {
		if !c.evictOldestLocked() {
			break
		}
	}

	e := &entry{
		key:         key,
		value:       compiled.Value,
		contentHash: hash,
		lastUsed:    time.Now(),
		useCount:    1,
		sizeBytes:   size,
	}
	e.lruElem = c.lru.PushFront(e)
	c.entries[key] = e
	c.totalBytes += size

	return compiled.Value, nil
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TotalBytes returns the tracked cumulative artifact size.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

// UseCount returns how many times the keyed artifact has been served,
// or zero when absent.
func (c *Cache) UseCount(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		return e.useCount
	}
	return 0
}

// Close stops the background sweep and drops all entries.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.done

		c.mu.Lock()
		c.entries = make(map[string]*entry)
		c.lru.Init()
		c.totalBytes = 0
		c.mu.Unlock()
	})
}

func (c *Cache) sweepLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweepExpired()
		case <-c.stopCh:
			return
		}
	}
}

// sweepExpired removes entries whose idle time exceeds the TTL. It runs
// independently of size-based eviction.
func (c *Cache) sweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.cfg.TTL)
	removed := 0
	for _, e := range c.entries {
		if e.lastUsed.Before(cutoff) {
			c.removeLocked(e)
			removed++
		}
	}
	if removed > 0 {
		c.log.Debug("TTL sweep removed idle artifacts", "removed", removed, "remaining", len(c.entries))
		metrics.RecordCacheEvent("ttl_evict")
	}
}

func (c *Cache) evictOldestLocked() bool {
	oldest := c.lru.Back()
	if oldest == nil {
		return false
	}
	e := oldest.Value.(*entry)
	c.log.Debug("Evicting least-recently-used artifact", "key", e.key, "sizeBytes", e.sizeBytes)
	c.removeLocked(e)
	metrics.RecordCacheEvent("evict")
	return true
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.lru.Remove(e.lruElem)
	c.totalBytes -= e.sizeBytes
}
