package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-docsync/internal/cache"
	"github.com/stacklok/toolhive-docsync/internal/docstore"
	"github.com/stacklok/toolhive-docsync/internal/docstore/mocks"
	"github.com/stacklok/toolhive-docsync/internal/retry"
)

func newExecutor(t *testing.T) *retry.Executor {
	t.Helper()
	ex, err := retry.New(retry.WithInitialDelay(time.Millisecond))
	require.NoError(t, err)
	return ex
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	ex := newExecutor(t)

	_, err := New(nil, store, ex)
	require.Error(t, err)
	_, err = New(cache.New(), nil, ex)
	require.Error(t, err)
	_, err = New(cache.New(), store, nil)
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	remote := docstore.Document{ID: "doc-1", Key: "u1", Fields: map[string]any{"guild": "g1"}}

	tests := []struct {
		name       string
		seedCache  bool
		setupMocks func(*mocks.MockStore)
		wantDoc    *docstore.Document
		wantErr    bool
		wantCached bool
	}{
		{
			name:      "cache hit skips the store",
			seedCache: true,
			setupMocks: func(_ *mocks.MockStore) {
				// No store calls expected
			},
			wantDoc:    &remote,
			wantCached: true,
		},
		{
			name: "cache miss falls back to find and populates cache",
			setupMocks: func(m *mocks.MockStore) {
				m.EXPECT().Find(gomock.Any(), "u1").Return([]docstore.Document{remote}, nil)
			},
			wantDoc:    &remote,
			wantCached: true,
		},
		{
			name: "transient find failure is retried",
			setupMocks: func(m *mocks.MockStore) {
				gomock.InOrder(
					m.EXPECT().Find(gomock.Any(), "u1").Return(nil, errors.New("timeout")),
					m.EXPECT().Find(gomock.Any(), "u1").Return([]docstore.Document{remote}, nil),
				)
			},
			wantDoc:    &remote,
			wantCached: true,
		},
		{
			name: "no document returns nil without error",
			setupMocks: func(m *mocks.MockStore) {
				m.EXPECT().Find(gomock.Any(), "u1").Return([]docstore.Document{}, nil)
			},
			wantDoc: nil,
		},
		{
			name: "exhausted retries surface the last error",
			setupMocks: func(m *mocks.MockStore) {
				m.EXPECT().Find(gomock.Any(), "u1").Return(nil, errors.New("timeout")).Times(3)
			},
			wantErr: true,
		},
		{
			name: "validation failure is not retried",
			setupMocks: func(m *mocks.MockStore) {
				m.EXPECT().Find(gomock.Any(), "u1").Return(nil, docstore.ErrValidation).Times(1)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			store := mocks.NewMockStore(ctrl)
			tt.setupMocks(store)

			c := cache.New()
			if tt.seedCache {
				c.Set("u1", &remote)
			}

			r, err := New(c, store, newExecutor(t))
			require.NoError(t, err)

			doc, err := r.Resolve(context.Background(), "u1")
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, doc)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDoc, doc)

			if tt.wantCached {
				cached := c.Get(context.Background(), "u1")
				require.NotNil(t, cached)
				assert.Equal(t, remote.ID, cached.ID)
			} else {
				assert.Equal(t, 0, c.Len())
			}
		})
	}
}
