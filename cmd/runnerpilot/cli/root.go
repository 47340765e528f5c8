// Package cli implements the runnerpilot command-line interface using Cobra.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/app"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/observability"
)

var (
	configPath string
	jsonOut    bool
	logLevel   string

	cfg app.Config
)

var rootCmd = &cobra.Command{
	Use:   "runnerpilot",
	Short: "RunnerPilot - self-hosted GitHub Actions runner manager",
	Long: `RunnerPilot downloads and verifies GitHub Actions runner releases, builds
the runner container image and manages runner containers on the local
Docker engine.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.LogLevel = logLevel
		}
		observability.Setup(c.LogLevel, c.LogFormat)
		cfg = c
		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (env: "+envConfig+")")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output JSON and raw NDJSON progress")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// openApp builds the application for a one-shot command. The HTTP server
// stays disabled.
func openApp(ctx context.Context) (*app.App, error) {
	c := cfg
	c.HTTPAddr = ""
	a, err := app.New(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("initializing runnerpilot: %w", err)
	}
	return a, nil
}

// withApp opens the application, runs fn and closes it.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
