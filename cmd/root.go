// Package cmd defines the CLI commands for the giftlists executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/giftlists/internal/config"
	"github.com/JakeFAU/giftlists/internal/giftlist"
	"github.com/JakeFAU/giftlists/internal/server"
)

var cfgFile string

type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands drive. Tests inject a fake through newApp.
type App interface {
	Run(ctx context.Context) error
	Scrape(ctx context.Context) (giftlist.Document, error)
	Close(ctx context.Context) error
}

var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "giftlists",
		Short: "Scrapes gift wish-lists and serves them as JSON.",
		Long: `giftlists fetches the wish-list page of every registered owner, extracts
the gifts still on offer, and writes one aggregate JSON document. The HTTP
server re-runs the scrape on every GET /api/listes.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newServeCmd(), newScrapeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
