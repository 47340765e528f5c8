package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/0xAungkon/RunnerPilot/common/version"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the JSON API, NDJSON progress streams and the /health and /status
endpoints on HTTP_ADDR until interrupted.`,
	Args: cobra.NoArgs,
	RunE: serve,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "RunnerPilot %s\n", version.Info())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	slog.Info("starting RunnerPilot", "version", version.Version, "commit", version.GitCommit)

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing runnerpilot: %w", err)
	}
	defer a.Close()
	return a.Run(ctx)
}
