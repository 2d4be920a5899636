package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/marianozunino/filez/internal/app"
	"github.com/marianozunino/filez/internal/config"
	"github.com/marianozunino/filez/internal/db"
	"github.com/marianozunino/filez/internal/migration"
)

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "filez",
		Short: "FileZ - temporary file sharing server",
		Long: `FileZ shares uploaded files through short links that expire.

Owners can extend a file lifetime a limited number of times, protect
downloads with a password and share links by email. A background sweeper
deletes expired files and warns uploaders before their files go away.

Quick start:
  filez serve --config config.yaml     # Run the HTTP server and the sweeper
  filez sweep --config config.yaml     # Run one expiration sweep and exit
  filez migrate version                # Show the schema version`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.envFile)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to the YAML config file (env: FILEZ_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env",
		"Environment file loaded before reading the config")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newSweepCmd(opts))
	rootCmd.AddCommand(newMigrateCmd(opts))

	return rootCmd
}

// loadEnvFile loads path into the environment. A missing file is ignored.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv("FILEZ_CONFIG")
	}
	if path == "" {
		return config.Default()
	}
	return config.LoadConfig(path)
}

// setup loads the configuration and builds the matching logger
func (o *rootOptions) setup() (*config.Config, *zap.Logger, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := app.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the expiration sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			application, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer application.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return application.Run(ctx)
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired files and send deletion warnings once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			application, err := app.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer application.Close()

			report := application.Sweep(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("%d file(s) could not be processed", report.Failed)
			}
			return nil
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	var steps int

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(m *migration.Manager) error {
				if err := m.Up(); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(m *migration.Manager) error {
				if err := m.Down(steps); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}
	downCmd.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to roll back (0 = all)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(m *migration.Manager) error {
				return printVersion(cmd, m)
			})
		},
	}

	forceCmd := &cobra.Command{
		Use:   "force <version>",
		Short: "Set the schema version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			return withManager(opts, func(m *migration.Manager) error {
				if err := m.Force(version); err != nil {
					return err
				}
				return printVersion(cmd, m)
			})
		},
	}

	migrateCmd.AddCommand(upCmd, downCmd, versionCmd, forceCmd)
	return migrateCmd
}

// withManager opens the configured database without migrating it
func withManager(opts *rootOptions, fn func(*migration.Manager) error) error {
	cfg, logger, err := opts.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := db.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer conn.Close()

	m, err := migration.NewManagerWithDB(conn, logger.Named("migrate"))
	if err != nil {
		return err
	}
	return fn(m)
}

func printVersion(cmd *cobra.Command, m *migration.Manager) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", version)
	return nil
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
