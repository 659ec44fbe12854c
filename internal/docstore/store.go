// Package docstore defines the contract between the sync layer and the remote
// document store, together with the error taxonomy every adapter maps onto.
package docstore

import (
	"context"
	"maps"
	"time"
)

// KeyField is the document field that carries the external entity key.
const KeyField = "key"

// Patch is a partial set of field updates keyed by field name.
type Patch map[string]any

// Clone returns a shallow copy of the patch.
func (p Patch) Clone() Patch {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}

// Merge copies every field of other into p, overwriting fields that are
// already present. The receiver is returned to allow chaining.
func (p Patch) Merge(other Patch) Patch {
	maps.Copy(p, other)
	return p
}

// Document is the last known remote representation of an entity.
type Document struct {
	// ID is the store's internal identifier, required for updates.
	ID string `json:"id"`

	// Key is the external identifying value the document is looked up by.
	Key string `json:"key"`

	// Fields holds the document body.
	Fields map[string]any `json:"fields"`

	// UpdatedAt is the last modification time reported by the store.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy of the document whose Fields map can be mutated
// without affecting the original.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Fields = maps.Clone(d.Fields)
	return &c
}

// WithPatch returns a copy of the document with the patch applied on top of
// its fields.
func (d *Document) WithPatch(p Patch) *Document {
	c := d.Clone()
	if c.Fields == nil {
		c.Fields = make(map[string]any, len(p))
	}
	maps.Copy(c.Fields, p)
	return c
}

// Store is the minimal document store contract consumed by the sync layer.
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/stacklok/toolhive-docsync/internal/docstore Store
type Store interface {
	// Find returns every document whose external key equals key.
	// An empty result is not an error.
	Find(ctx context.Context, key string) ([]Document, error)

	// Update applies patch to the document with the given internal id and
	// returns the resulting document.
	Update(ctx context.Context, id string, patch Patch) (*Document, error)

	// Create inserts a new document built from patch. The patch must carry
	// the KeyField.
	Create(ctx context.Context, patch Patch) (*Document, error)

	// Probe performs a cheap liveness check against the store.
	Probe(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
