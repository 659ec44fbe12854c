// Package rest provides a docstore.Store that talks to a remote document
// service over HTTP.
//
// The service is expected to expose:
//
//	GET   {endpoint}/documents?key={key}   -> 200 [Document...]
//	PATCH {endpoint}/documents/{id}        -> 200 Document
//	POST  {endpoint}/documents             -> 201 Document
//	GET   {endpoint}/health                -> 2xx
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-docsync/internal/docstore"
	"github.com/stacklok/toolhive-docsync/internal/otel"
)

const (
	// DefaultTimeout bounds every request when no client timeout is configured
	DefaultTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a response body is read
	maxResponseBytes = 4 << 20

	// maxErrorBodyBytes caps how much of an error body ends up in messages
	maxErrorBodyBytes = 512

	userAgent = "toolhive-docsync/1.0"
)

// Store implements docstore.Store against a REST document service.
type Store struct {
	endpoint *url.URL
	client   *http.Client
	apiKey   string
	timeout  time.Duration
	tracer   trace.Tracer
}

var _ docstore.Store = (*Store)(nil)

// Option is a functional option for configuring the Store
type Option func(*Store) error

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Store) error {
		if client == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		s.client = client
		return nil
	}
}

// WithTimeout sets the per-request timeout. A client passed with
// WithHTTPClient is copied rather than modified.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Store) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", timeout)
		}
		s.timeout = timeout
		return nil
	}
}

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(s *Store) error {
		s.apiKey = key
		return nil
	}
}

// WithTracer sets the OpenTelemetry tracer. If not set, tracing is disabled.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) error {
		s.tracer = tracer
		return nil
	}
}

// New creates a Store for the service rooted at endpoint.
func New(endpoint string, opts ...Option) (*Store, error) {
	u, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("endpoint must use http or https, got %q", endpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("endpoint %q has no host", endpoint)
	}

	s := &Store{
		endpoint: u,
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.timeout > 0 {
		client := *s.client
		client.Timeout = s.timeout
		s.client = &client
	}
	return s, nil
}

// Find returns every document stored under key.
func (s *Store) Find(ctx context.Context, key string) (_ []docstore.Document, err error) {
	ctx, span := s.startSpan(ctx, "rest.Find")
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	if key == "" {
		return nil, docstore.NewValidationError(docstore.KeyField, "must not be empty")
	}

	var docs []docstore.Document
	query := url.Values{docstore.KeyField: []string{key}}
	if err := s.do(ctx, http.MethodGet, "/documents?"+query.Encode(), nil, &docs); err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}
	span.SetAttributes(otel.AttrResultCount.Int(len(docs)))
	return docs, nil
}

// Update sends patch to the document with the given id.
func (s *Store) Update(ctx context.Context, id string, patch docstore.Patch) (_ *docstore.Document, err error) {
	ctx, span := s.startSpan(ctx, "rest.Update", otel.AttrDocumentID.String(id))
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	if id == "" {
		return nil, docstore.NewValidationError("id", "must not be empty")
	}
	if len(patch) == 0 {
		return nil, docstore.NewValidationError("patch", "must contain at least one field")
	}

	var doc docstore.Document
	if err := s.do(ctx, http.MethodPatch, "/documents/"+url.PathEscape(id), patch, &doc); err != nil {
		return nil, fmt.Errorf("failed to update document %s: %w", id, err)
	}
	return &doc, nil
}

// Create posts a new document built from fields.
func (s *Store) Create(ctx context.Context, fields docstore.Patch) (_ *docstore.Document, err error) {
	ctx, span := s.startSpan(ctx, "rest.Create")
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	if key, _ := fields[docstore.KeyField].(string); key == "" {
		return nil, docstore.NewValidationError(docstore.KeyField, "must be a non-empty string")
	}

	var doc docstore.Document
	if err := s.do(ctx, http.MethodPost, "/documents", fields, &doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}
	return &doc, nil
}

// Probe calls the service health endpoint.
func (s *Store) Probe(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "rest.Probe")
	defer func() {
		otel.RecordError(span, err)
		span.End()
	}()

	if err := s.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close releases idle connections.
func (s *Store) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Store) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: failed to encode request: %w", docstore.ErrValidation, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	limited := io.LimitReader(resp.Body, maxResponseBytes)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(limited, maxErrorBodyBytes))
		return statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, limited)
		return nil
	}
	if err := json.NewDecoder(limited).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StatusError is a non-2xx response from the document service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func statusError(code int, body string) error {
	err := &StatusError{StatusCode: code, Body: body}
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %w", docstore.ErrValidation, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", docstore.ErrNotFound, err)
	default:
		return err
	}
}

// IsStatus reports whether err carries a response with the given status code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

func (s *Store) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.StartSpan(ctx, s.tracer, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(otel.AttrStoreType.String("rest")),
		trace.WithAttributes(attrs...),
	)
}
