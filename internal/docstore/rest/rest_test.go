package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-docsync/internal/docstore"
)

func newTestStore(t *testing.T, handler http.HandlerFunc, opts ...Option) *Store {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := New(srv.URL+"/", append([]Option{WithHTTPClient(srv.Client())}, opts...)...)
	require.NoError(t, err)
	return s
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		endpoint string
		opts     []Option
	}{
		{name: "unsupported scheme", endpoint: "ftp://docs.example.com"},
		{name: "missing host", endpoint: "http://"},
		{name: "nil client", endpoint: "http://docs.example.com", opts: []Option{WithHTTPClient(nil)}},
		{name: "zero timeout", endpoint: "http://docs.example.com", opts: []Option{WithTimeout(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.endpoint, tt.opts...)
			require.Error(t, err)
		})
	}

	s, err := New("https://docs.example.com/api/", WithTimeout(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "https://docs.example.com/api", s.endpoint.String())
	assert.Equal(t, 3*time.Second, s.client.Timeout)
}

func TestNew_TimeoutLeavesCallerClientUntouched(t *testing.T) {
	t.Parallel()

	own := &http.Client{}
	s, err := New("https://docs.example.com", WithHTTPClient(own), WithTimeout(2*time.Second))
	require.NoError(t, err)

	assert.Zero(t, own.Timeout)
	assert.Equal(t, 2*time.Second, s.client.Timeout)
	assert.NotSame(t, own, s.client)
}

func TestStore_Find(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/documents", r.URL.Path)
		assert.Equal(t, "user 1", r.URL.Query().Get("key"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "toolhive-docsync/1.0", r.Header.Get("User-Agent"))
		writeJSON(t, w, http.StatusOK, []docstore.Document{
			{ID: "d1", Key: "user 1", Fields: map[string]any{"guild": "g1"}},
		})
	}, WithAPIKey("secret"))

	docs, err := s.Find(context.Background(), "user 1")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "g1", docs[0].Fields["guild"])
}

func TestStore_UpdateAndCreate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/documents/d1":
			writeJSON(t, w, http.StatusOK, docstore.Document{ID: "d1", Key: "u1", Fields: body})
		case r.Method == http.MethodPost && r.URL.Path == "/documents":
			writeJSON(t, w, http.StatusCreated, docstore.Document{ID: "d2", Key: body["key"].(string), Fields: body})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	})

	ctx := context.Background()
	updated, err := s.Update(ctx, "d1", docstore.Patch{"guild": "g2"})
	require.NoError(t, err)
	assert.Equal(t, "g2", updated.Fields["guild"])

	created, err := s.Create(ctx, docstore.Patch{docstore.KeyField: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "d2", created.ID)
	assert.Equal(t, "u2", created.Key)
}

func TestStore_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        int
		wantInvalid   bool
		wantNotFound  bool
		wantRetryable bool
	}{
		{name: "bad request", status: http.StatusBadRequest, wantInvalid: true},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, wantInvalid: true},
		{name: "not found", status: http.StatusNotFound, wantNotFound: true},
		{name: "server error", status: http.StatusInternalServerError, wantRetryable: true},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantRetryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestStore(t, func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, strings.Repeat("x", 2048), tt.status)
			})

			_, err := s.Update(context.Background(), "d1", docstore.Patch{"a": 1})
			require.Error(t, err)
			assert.Equal(t, tt.wantInvalid, docstore.IsValidation(err))
			assert.Equal(t, tt.wantNotFound, docstore.IsNotFound(err))
			assert.Equal(t, tt.wantRetryable, docstore.IsRetryable(err))
			assert.True(t, IsStatus(err, tt.status))
			assert.Less(t, len(err.Error()), 1024)
		})
	}
}

func TestStore_LocalValidation(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, func(_ http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	})
	ctx := context.Background()

	_, err := s.Find(ctx, "")
	assert.True(t, docstore.IsValidation(err))
	_, err = s.Update(ctx, "", docstore.Patch{"a": 1})
	assert.True(t, docstore.IsValidation(err))
	_, err = s.Update(ctx, "d1", nil)
	assert.True(t, docstore.IsValidation(err))
	_, err = s.Create(ctx, docstore.Patch{"a": 1})
	assert.True(t, docstore.IsValidation(err))
}

func TestStore_Probe(t *testing.T) {
	t.Parallel()

	var healthy atomic.Bool
	healthy.Store(true)
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})

	require.NoError(t, s.Probe(context.Background()))
	healthy.Store(false)
	require.Error(t, s.Probe(context.Background()))
	require.NoError(t, s.Close())
}

func TestStore_NetworkErrorIsRetryable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	s, err := New(endpoint)
	require.NoError(t, err)

	err = s.Probe(context.Background())
	require.Error(t, err)
	assert.True(t, docstore.IsRetryable(err))
}
