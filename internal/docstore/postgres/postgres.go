// Package postgres provides a docstore.Store backed by a PostgreSQL table of
// JSONB documents.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-docsync/internal/docstore"
	"github.com/stacklok/toolhive-docsync/internal/otel"
)

const (
	findQuery = `SELECT id, key, fields, updated_at FROM documents
WHERE key = $1 ORDER BY created_at, id`

	// A patch that carries the key moves the document to the new key
	updateQuery = `UPDATE documents
SET fields = fields || $2::jsonb,
    key = COALESCE($2::jsonb ->> 'key', key),
    updated_at = now()
WHERE id = $1
RETURNING id, key, fields, updated_at`

	createQuery = `INSERT INTO documents (id, key, fields)
VALUES ($1, $2, $3::jsonb)
RETURNING id, key, fields, updated_at`
)

// querier is the subset of *pgxpool.Pool used by the store
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store implements docstore.Store on PostgreSQL.
type Store struct {
	db     querier
	close  func()
	tracer trace.Tracer
}

var _ docstore.Store = (*Store)(nil)

// Option is a functional option for configuring the Store
type Option func(*Store) error

// WithTracer sets the OpenTelemetry tracer. If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) error {
		s.tracer = tracer
		return nil
	}
}

// New creates a Store over pool. Close closes the pool.
func New(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	s := &Store{db: pool, close: pool.Close}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Find returns every document stored under key, oldest first.
func (s *Store) Find(ctx context.Context, key string) (_ []docstore.Document, err error) {
	ctx, span := s.startSpan(ctx, "postgres.Find")
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	if key == "" {
		return nil, docstore.NewValidationError(docstore.KeyField, "must not be empty")
	}

	rows, err := s.db.Query(ctx, findQuery, key)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query documents: %w", err))
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (docstore.Document, error) {
		return scanDocument(row)
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to read documents: %w", err))
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(docs)))
	return docs, nil
}

// Update merges patch into the document's fields.
func (s *Store) Update(ctx context.Context, id string, patch docstore.Patch) (_ *docstore.Document, err error) {
	ctx, span := s.startSpan(ctx, "postgres.Update", otel.AttrDocumentID.String(id))
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	if len(patch) == 0 {
		return nil, docstore.NewValidationError("patch", "must contain at least one field")
	}
	docID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: document %s", docstore.ErrNotFound, id)
	}
	if key, ok := patch[docstore.KeyField]; ok {
		if k, isString := key.(string); !isString || k == "" {
			return nil, docstore.NewValidationError(docstore.KeyField, "must be a non-empty string")
		}
	}

	row := s.db.QueryRow(ctx, updateQuery, docID, map[string]any(patch))
	doc, err := scanDocument(row)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to update document %s: %w", id, err))
	}
	return &doc, nil
}

// Create inserts a new document. fields must carry a non-empty string key.
func (s *Store) Create(ctx context.Context, fields docstore.Patch) (_ *docstore.Document, err error) {
	ctx, span := s.startSpan(ctx, "postgres.Create")
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	key, _ := fields[docstore.KeyField].(string)
	if key == "" {
		return nil, docstore.NewValidationError(docstore.KeyField, "must be a non-empty string")
	}

	row := s.db.QueryRow(ctx, createQuery, uuid.New(), key, map[string]any(fields))
	doc, err := scanDocument(row)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to create document: %w", err))
	}
	return &doc, nil
}

// Probe pings the database.
func (s *Store) Probe(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "postgres.Probe")
	defer span.End()

	if err := s.db.Ping(ctx); err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.close != nil {
		s.close()
	}
	return nil
}

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, s.tracer, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(semconv.DBSystemPostgreSQL, otel.AttrStoreType.String("postgres")),
		trace.WithAttributes(attrs...),
	)
}

func scanDocument(row pgx.Row) (docstore.Document, error) {
	var (
		id        uuid.UUID
		doc       docstore.Document
		updatedAt time.Time
	)
	if err := row.Scan(&id, &doc.Key, &doc.Fields, &updatedAt); err != nil {
		return docstore.Document{}, err
	}
	doc.ID = id.String()
	doc.UpdatedAt = updatedAt
	return doc, nil
}

// mapError translates driver errors into docstore errors. Missing rows are
// not-found; data exceptions (class 22) and integrity violations (class 23)
// are validation failures. Everything else is left for the retry classifier.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", docstore.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23":
			return fmt.Errorf("%w: %w", docstore.ErrValidation, err)
		}
	}
	return err
}
