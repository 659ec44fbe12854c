package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-docsync/internal/app"
	"github.com/stacklok/toolhive-docsync/internal/config"
)

const defaultGracefulTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the document sync server",
	Long: `Start the document sync server.

The configuration file (--config) selects the document store (memory, postgres
or rest) and tunes debounce, cooldown, cache TTL, probe interval and retry
policy. Without a configuration file an in-memory store is used.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format)")
	serveCmd.Flags().Duration("shutdown-timeout", defaultGracefulTimeout, "Time allowed for in-flight work on shutdown")

	for _, name := range []string{"address", "config", "shutdown-timeout"} {
		if err := viper.BindPFlag(name, serveCmd.Flags().Lookup(name)); err != nil {
			slog.Error("Failed to bind flag", "flag", name, "error", err)
			os.Exit(1)
		}
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadServeConfig(viper.GetString("config"))
	if err != nil {
		return err
	}

	docSync, err := app.NewDocSyncApp(ctx,
		app.WithConfig(cfg),
		app.WithAddress(viper.GetString("address")),
	)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	slog.Info("Starting document sync server",
		"address", viper.GetString("address"),
		"store", cfg.Store.GetType(),
	)
	// Run returns once the signal context is cancelled and shutdown finished
	return docSync.Run(ctx, viper.GetDuration("shutdown-timeout"))
}

func loadServeConfig(path string) (*config.Config, error) {
	if path == "" {
		slog.Warn("No configuration file given, using an in-memory document store")
		return config.Default(), nil
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration", "path", path)
	return cfg, nil
}
