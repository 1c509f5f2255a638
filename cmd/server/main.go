/*
main.go - Application entry point

PURPOSE:
  Command-line entry point for the incapacity reimbursement engine.
  Subcommands are registered from their own files via init().

COMMANDS:
  serve      Run the HTTP API (serve.go)
  expected   Print the expected reimbursement for a leave (expected.go)
  seed       Load demo cases into the configured store (seed.go)

CONFIGURATION:
  --config points at an optional YAML file. Every key can be overridden
  with an INCAP_* environment variable, e.g. INCAP_SERVER_PORT=9090 or
  INCAP_DATABASE_DRIVER=postgres. See config/config.go for defaults.

EXAMPLES:
  # Run with the default SQLite file
  ./server serve

  # Run against PostgreSQL with strict workflow transitions
  INCAP_DATABASE_DRIVER=postgres \
  INCAP_DATABASE_URL=postgres://localhost/incap \
  INCAP_WORKFLOW_STRICT_TRANSITIONS=true ./server serve

  # Preview a reimbursement
  ./server expected --type EG --days 95 --ibc 900000

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/incapacity-engine/config"
	"github.com/warp/incapacity-engine/incapacity"
	"github.com/warp/incapacity-engine/logging"
	"github.com/warp/incapacity-engine/store/postgres"
	"github.com/warp/incapacity-engine/store/sqlite"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "server",
	Short:         "Medical leave reimbursement tracking",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// backend is a store the commands can also ping and close.
type backend interface {
	incapacity.Store
	Ping(ctx context.Context) error
	Close() error
}

// bootstrap loads configuration, builds the logger and opens the store.
func bootstrap(ctx context.Context) (*config.Config, *zap.Logger, backend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		OutputPath: cfg.Logger.OutputPath,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	var store backend
	switch cfg.Database.Driver {
	case "postgres":
		store, err = postgres.New(ctx, postgres.Config{URL: cfg.Database.URL, MaxConns: cfg.Database.MaxConns})
	default:
		store, err = sqlite.New(cfg.Database.Path)
	}
	if err != nil {
		logger.Sync()
		return nil, nil, nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}

	logger.Info("store opened", zap.String("driver", cfg.Database.Driver))
	return cfg, logger, store, nil
}
