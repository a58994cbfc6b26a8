// Package cmd defines and implements the CLI commands for the shortlink-edge executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/shortlink-edge/internal/config"
	"github.com/JakeFAU/shortlink-edge/internal/server"
	"github.com/JakeFAU/shortlink-edge/internal/storage"
)

var cfgFile string

// cfgKeyType is the key for storing the loaded Config in the context.
type cfgKeyType string

const cfgKey cfgKeyType = "config"

// App is the part of the application the commands use. Tests swap in a fake
// through newApp.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context) error
	BlobStore() storage.BlobStore
	Logger() *zap.Logger
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shortlink-edge",
		Short: "Edge router and cron endpoints for the short-link platform.",
		Long: `shortlink-edge classifies every incoming request by host, path and key,
redirecting or delegating it, and hosts the signed cron routes the job queue
and platform scheduler invoke.`,
		SilenceUsage: true,

		// Runs before every subcommand so each one sees the same configuration.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTriggerCmd())
	cmd.AddCommand(newWellKnownCmd())

	return cmd
}

// loadDotEnv reads .env from the working directory when present.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
