// Package resolver maps entity ids to their remote documents, preferring the
// document cache and falling back to a retried remote lookup.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stacklok/toolhive-docsync/internal/cache"
	"github.com/stacklok/toolhive-docsync/internal/docstore"
	"github.com/stacklok/toolhive-docsync/internal/retry"
)

// Resolver finds the remote document backing an entity.
type Resolver interface {
	// Resolve returns the document for id, or nil with a nil error when the
	// store holds no document for it.
	Resolve(ctx context.Context, id string) (*docstore.Document, error)
}

// twoTier resolves from the cache first and the store second.
type twoTier struct {
	cache *cache.DocumentCache
	store docstore.Store
	retry *retry.Executor
}

var _ Resolver = (*twoTier)(nil)

// New creates a Resolver backed by c and store. Remote lookups run under ex.
func New(c *cache.DocumentCache, store docstore.Store, ex *retry.Executor) (Resolver, error) {
	if c == nil {
		return nil, fmt.Errorf("document cache is required")
	}
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if ex == nil {
		return nil, fmt.Errorf("retry executor is required")
	}
	return &twoTier{cache: c, store: store, retry: ex}, nil
}

// Resolve implements Resolver. Entity ids double as the external lookup key.
func (r *twoTier) Resolve(ctx context.Context, id string) (*docstore.Document, error) {
	if doc := r.cache.Get(ctx, id); doc != nil {
		return doc, nil
	}

	docs, err := retry.Do(ctx, r.retry, "find", func(ctx context.Context) ([]docstore.Document, error) {
		return r.store.Find(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find document for %s: %w", id, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	if len(docs) > 1 {
		slog.WarnContext(ctx, "Multiple documents share an entity key, using the first",
			"entity_id", id,
			"count", len(docs))
	}

	doc := docs[0]
	r.cache.Set(id, &doc)
	return &doc, nil
}
