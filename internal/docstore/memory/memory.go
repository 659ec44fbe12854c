// Package memory provides an in-process implementation of the docstore.Store interface
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stacklok/toolhive-docsync/internal/docstore"
)

// ErrUnavailable is returned by every operation while the store is marked unavailable.
var ErrUnavailable = errors.New("memory store unavailable")

// Store keeps documents in a map and is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex // Protects docs, byKey, available
	docs      map[string]*docstore.Document
	byKey     map[string][]string
	available bool
	now       func() time.Time
}

var _ docstore.Store = (*Store)(nil)

// Option is a functional option for configuring the Store
type Option func(*Store)

// WithNow overrides the time source used to stamp documents
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithDocuments seeds the store with the given documents
func WithDocuments(docs ...docstore.Document) Option {
	return func(s *Store) {
		for i := range docs {
			s.putLocked(docs[i].Clone())
		}
	}
}

// New creates an empty, available Store.
func New(opts ...Option) *Store {
	s := &Store{
		docs:      make(map[string]*docstore.Document),
		byKey:     make(map[string][]string),
		available: true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAvailable toggles simulated availability. While unavailable every call,
// including Probe, fails with ErrUnavailable.
func (s *Store) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.available = available
}

// Find returns the documents indexed under key, oldest first. A document
// whose key was changed counts as added to its new key at that time.
func (s *Store) Find(_ context.Context, key string) ([]docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.available {
		return nil, ErrUnavailable
	}
	if key == "" {
		return nil, docstore.NewValidationError(docstore.KeyField, "is required")
	}

	ids := s.byKey[key]
	result := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		result = append(result, *s.docs[id].Clone())
	}
	return result, nil
}

// Update merges patch into the document stored under id.
func (s *Store) Update(_ context.Context, id string, patch docstore.Patch) (*docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available {
		return nil, ErrUnavailable
	}
	if id == "" {
		return nil, docstore.NewValidationError("id", "is required")
	}
	if len(patch) == 0 {
		return nil, docstore.NewValidationError("", "patch is empty")
	}

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, docstore.ErrNotFound)
	}

	updated := doc.WithPatch(patch)
	updated.UpdatedAt = s.now()
	if key, ok := patch[docstore.KeyField].(string); ok && key != doc.Key {
		s.unindexLocked(doc)
		updated.Key = key
	}
	s.putLocked(updated)

	return updated.Clone(), nil
}

// Create inserts a new document keyed by the patch's KeyField.
func (s *Store) Create(_ context.Context, patch docstore.Patch) (*docstore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.available {
		return nil, ErrUnavailable
	}
	key, _ := patch[docstore.KeyField].(string)
	if key == "" {
		return nil, docstore.NewValidationError(docstore.KeyField, "is required")
	}

	doc := &docstore.Document{
		ID:        uuid.NewString(),
		Key:       key,
		Fields:    patch.Clone(),
		UpdatedAt: s.now(),
	}
	s.putLocked(doc)

	return doc.Clone(), nil
}

// Probe succeeds while the store is available.
func (s *Store) Probe(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.available {
		return ErrUnavailable
	}
	return nil
}

// Close is a no-op.
func (*Store) Close() error {
	return nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// putLocked stores doc and indexes it by key. Caller must hold s.mu write lock.
func (s *Store) putLocked(doc *docstore.Document) {
	if _, exists := s.docs[doc.ID]; !exists {
		s.byKey[doc.Key] = append(s.byKey[doc.Key], doc.ID)
	}
	s.docs[doc.ID] = doc
}

// unindexLocked removes doc from the key index and the document map.
// Caller must hold s.mu write lock.
func (s *Store) unindexLocked(doc *docstore.Document) {
	ids := s.byKey[doc.Key]
	for i, id := range ids {
		if id == doc.ID {
			s.byKey[doc.Key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byKey[doc.Key]) == 0 {
		delete(s.byKey, doc.Key)
	}
	delete(s.docs, doc.ID)
}
