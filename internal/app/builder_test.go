package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-docsync/internal/config"
	"github.com/stacklok/toolhive-docsync/internal/docstore/memory"
	"github.com/stacklok/toolhive-docsync/internal/docstore/rest"
)

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "port only", addr: ":8080"},
		{name: "localhost", addr: "localhost:9000"},
		{name: "ip", addr: "10.0.0.1:80"},
		{name: "empty", addr: "", wantErr: true},
		{name: "no port", addr: "localhost", wantErr: true},
		{name: "empty port", addr: "localhost:", wantErr: true},
		{name: "bad port", addr: ":http-alt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &docSyncAppConfig{}
			err := WithAddress(tt.addr)(cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, cfg.address)
		})
	}
}

func TestNewDocSyncApp_Defaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, err := NewDocSyncApp(ctx, WithAddress("127.0.0.1:0"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.GetComponents().release(context.Background()) })

	c := app.GetComponents()
	assert.IsType(t, &memory.Store{}, c.Store)
	assert.NotNil(t, c.Cache)
	assert.NotNil(t, c.Monitor)
	assert.NotNil(t, c.Retry)
	assert.NotNil(t, c.Coalescer)
	assert.NotNil(t, c.SyncService)
	assert.Equal(t, config.DefaultCacheTTL, c.Cache.TTL())
	assert.Equal(t, "127.0.0.1:0", app.GetHTTPServer().Addr)
	assert.NotNil(t, app.GetConfig())
}

func TestNewDocSyncApp_RESTStore(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Store = config.StoreConfig{
		Type: config.StoreTypeREST,
		REST: &config.RESTConfig{Endpoint: "http://docs.internal:8081"},
	}

	app, err := NewDocSyncApp(context.Background(), WithConfig(cfg))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.GetComponents().release(context.Background()) })

	assert.IsType(t, &rest.Store{}, app.GetComponents().Store)
}

func TestNewDocSyncApp_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []DocSyncAppOptions
	}{
		{
			name: "postgres without database section",
			opts: []DocSyncAppOptions{WithConfig(&config.Config{Store: config.StoreConfig{Type: config.StoreTypePostgres}})},
		},
		{
			name: "rest with missing api key file",
			opts: []DocSyncAppOptions{WithConfig(&config.Config{Store: config.StoreConfig{
				Type: config.StoreTypeREST,
				REST: &config.RESTConfig{Endpoint: "http://docs.internal", APIKeyFile: "/does/not/exist"},
			}})},
		},
		{
			name: "nil store override",
			opts: []DocSyncAppOptions{WithStore(nil)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewDocSyncApp(context.Background(), tt.opts...)
			require.Error(t, err)
		})
	}
}
