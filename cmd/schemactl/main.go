package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	_ "schemamodel/internal/db/extractors"
	"schemamodel/internal/logger"

	"schemamodel/internal/db"
	"schemamodel/internal/model"
	"schemamodel/pkg/config"
)

// options are the flags shared by every command.
type options struct {
	configPath string
	envPath    string
	driver     string
	dsn        string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "schemactl",
		Short:         "Browse and follow the schema of a live database",
		Long:          `schemactl loads the catalog of a PostgreSQL, MySQL, SQL Server, SQLite or Oracle database into an in-memory schema tree, serves it to the diagram web UI and keeps it in step with the database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", filepath.Join(".", "configs", "example.yaml"), "path to config YAML")
	f.StringVar(&opts.envPath, "env", ".env", "optional dotenv file with SCHEMAMODEL_* overrides")
	f.StringVar(&opts.driver, "driver", "", "db driver override (postgres,pgx,mysql,sqlite,sqlserver,godror)")
	f.StringVar(&opts.dsn, "dsn", "", "dsn override")
	f.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")

	root.AddCommand(newServeCmd(opts), newTreeCmd(opts), newWatchCmd(opts))
	return root
}

// load builds the effective config: file, then environment, then flags.
// A missing or broken config file is logged and skipped.
func (o *options) load() (config.AppConfig, error) {
	if err := config.LoadEnv(o.envPath); err != nil {
		return config.AppConfig{}, fmt.Errorf("reading %s: %w", o.envPath, err)
	}
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		logger.Warn("config file %s not used: %v", o.configPath, err)
		cfg = config.Default()
	}
	if err := cfg.ApplyEnv(); err != nil {
		return config.AppConfig{}, err
	}

	if o.driver != "" && o.dsn != "" {
		cfg.Database = config.DBConfig{Type: o.driver, DSN: o.dsn}
	} else if o.driver != "" || o.dsn != "" {
		return config.AppConfig{}, fmt.Errorf("--driver and --dsn go together")
	}

	level := cfg.Log.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	l, err := logger.ParseLevel(level)
	if err != nil {
		return config.AppConfig{}, err
	}
	logger.SetLevel(l)
	return cfg, nil
}

// openTree opens the configured database and returns an unpopulated tree
// over it with the function releasing the pool.
func openTree(ctx context.Context, cfg config.AppConfig) (*model.Database, func(), error) {
	if cfg.Database.Type == "" {
		return nil, nil, fmt.Errorf("no database configured; set --driver and --dsn or a config file")
	}
	driver, dsn, err := config.BuildDriverAndDSN(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.Open(ctx, driver, dsn, cfg.Model.PoolSize, cfg.Model.ConnectTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	release := func() {
		if err := pool.Close(); err != nil {
			logger.Warn("failed to close %s pool: %v", driver, err)
		}
	}
	name := cfg.Database.DatabaseName
	if name == "" {
		name = driver
	}
	return model.NewDatabase(name, pool), release, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
