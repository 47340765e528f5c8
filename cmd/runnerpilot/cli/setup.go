package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/app"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Prepare this host for runners",
	Long: `Check prerequisites, download and verify the latest runner release, pull
the base image and build the runner image. Steps that are already satisfied
are skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return printStream(cmd.OutOrStdout(), a.Setup.Run(ctx), rawOutput())
		})
	},
}

var setupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether setup has completed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			ok, err := a.IsSetup(ctx)
			if err != nil {
				return err
			}
			if rawOutput() {
				return printJSON(cmd.OutOrStdout(), map[string]bool{"is_setup": ok})
			}
			if ok {
				fmt.Fprintln(cmd.OutOrStdout(), "setup complete")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "setup has not completed; run 'runnerpilot setup'")
			}
			return nil
		})
	},
}

var prerequisitesCmd = &cobra.Command{
	Use:     "prerequisites",
	Aliases: []string{"prereq", "doctor"},
	Short:   "Check host prerequisites",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			report := a.Prereqs.Check(ctx)
			if rawOutput() {
				return printJSON(cmd.OutOrStdout(), report)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHECK\tOK\tMANDATORY\tMESSAGE")
			for _, c := range report.Checks {
				fmt.Fprintf(w, "%s\t%t\t%t\t%s\n", c.Key, c.Status, c.Mandatory, c.Message)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
			if !report.Status {
				return errStreamFailed
			}
			return nil
		})
	},
}

func init() {
	setupCmd.AddCommand(setupStatusCmd)
	rootCmd.AddCommand(setupCmd, prerequisitesCmd)
}
