package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-docsync/internal/config"
	"github.com/stacklok/toolhive-docsync/internal/docstore"
	"github.com/stacklok/toolhive-docsync/internal/docstore/memory"
	"github.com/stacklok/toolhive-docsync/internal/docstore/postgres"
	"github.com/stacklok/toolhive-docsync/internal/docstore/rest"
)

// buildStore creates the document store selected by cfg.Store.Type
func buildStore(ctx context.Context, cfg *config.Config, tracer trace.Tracer) (docstore.Store, error) {
	storeType := cfg.Store.GetType()
	slog.Info("Creating document store", "type", storeType)

	switch storeType {
	case config.StoreTypeMemory:
		return memory.New(), nil
	case config.StoreTypePostgres:
		pool, err := buildDatabaseConnectionPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		store, err := postgres.New(pool, postgres.WithTracer(tracer))
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	case config.StoreTypeREST:
		apiKey, err := cfg.Store.REST.GetAPIKey()
		if err != nil {
			return nil, err
		}
		return rest.New(cfg.Store.REST.Endpoint,
			rest.WithTimeout(cfg.Store.REST.GetTimeout()),
			rest.WithAPIKey(apiKey),
			rest.WithTracer(tracer),
		)
	default:
		return nil, fmt.Errorf("unsupported store type %q", storeType)
	}
}

// buildDatabaseConnectionPool creates a database connection pool with proper configuration.
func buildDatabaseConnectionPool(ctx context.Context, dbCfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	if dbCfg == nil {
		return nil, fmt.Errorf("database configuration is required for the postgres store")
	}

	connStr, err := dbCfg.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to build database connection string: %w", err)
	}

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database connection string: %w", err)
	}

	if dbCfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		poolConfig.MinConns = dbCfg.MaxIdleConns
	}
	if lifetime := dbCfg.GetConnMaxLifetime(); lifetime > 0 {
		poolConfig.MaxConnLifetime = lifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	slog.Info("Database connection pool created successfully")
	return pool, nil
}
