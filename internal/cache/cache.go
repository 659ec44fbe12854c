// Package cache provides a TTL-bounded cache of remote documents keyed by
// entity id.
package cache

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/stacklok/toolhive-docsync/internal/docstore"
)

// DefaultTTL is the maximum age of a cached document.
const DefaultTTL = 60 * time.Second

// Lookup outcomes reported to the Recorder.
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupExpired = "expired"
)

// Recorder receives the outcome of every Get.
type Recorder interface {
	RecordCacheLookup(ctx context.Context, outcome string)
}

// Entry is a cached document and the time it was stored.
type Entry struct {
	Document *docstore.Document
	CachedAt time.Time
}

// DocumentCache maps entity ids to their last known remote document. Entries
// are valid while now-CachedAt <= TTL; expired entries are evicted lazily
// on read.
type DocumentCache struct {
	mu       sync.Mutex // Protects entries
	entries  map[string]Entry
	ttl      time.Duration
	clock    clock.PassiveClock
	recorder Recorder
}

// Option is a functional option for configuring the DocumentCache
type Option func(*DocumentCache)

// WithTTL overrides the default TTL
func WithTTL(ttl time.Duration) Option {
	return func(c *DocumentCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source
func WithClock(clk clock.PassiveClock) Option {
	return func(c *DocumentCache) {
		c.clock = clk
	}
}

// WithRecorder sets the lookup recorder
func WithRecorder(r Recorder) Option {
	return func(c *DocumentCache) {
		c.recorder = r
	}
}

// New creates an empty DocumentCache.
func New(opts ...Option) *DocumentCache {
	c := &DocumentCache{
		entries: make(map[string]Entry),
		ttl:     DefaultTTL,
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached document for id, or nil if it is absent
// or expired. Expired entries are removed.
func (c *DocumentCache) Get(ctx context.Context, id string) *docstore.Document {
	c.mu.Lock()
	entry, ok := c.entries[id]
	outcome := LookupHit
	switch {
	case !ok:
		outcome = LookupMiss
	case c.clock.Since(entry.CachedAt) > c.ttl:
		delete(c.entries, id)
		outcome = LookupExpired
	}
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.RecordCacheLookup(ctx, outcome)
	}
	if outcome != LookupHit {
		return nil
	}
	return entry.Document.Clone()
}

// Set stores doc under id with the current time, overwriting any previous entry.
func (c *DocumentCache) Set(id string, doc *docstore.Document) {
	if doc == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = Entry{Document: doc.Clone(), CachedAt: c.clock.Now()}
}

// Invalidate removes the entry for id.
func (c *DocumentCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Clear removes every entry.
func (c *DocumentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of stored entries, including expired ones that have
// not been read yet.
func (c *DocumentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TTL returns the configured time-to-live.
func (c *DocumentCache) TTL() time.Duration {
	return c.ttl
}
