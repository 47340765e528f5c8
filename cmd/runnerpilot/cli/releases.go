package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/app"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/release"
)

var releasesCmd = &cobra.Command{
	Use:     "releases",
	Aliases: []string{"release"},
	Short:   "Manage runner releases",
}

var releasesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List releases from the cache, refreshing it when stale",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			views, err := a.Releases.List(ctx)
			if err != nil {
				return err
			}
			return printReleases(cmd.OutOrStdout(), views)
		})
	},
}

var releasesRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the release feed now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if _, err := a.Releases.Refresh(ctx); err != nil {
				return err
			}
			views, err := a.Releases.List(ctx)
			if err != nil {
				return err
			}
			return printReleases(cmd.OutOrStdout(), views)
		})
	},
}

var releasesPullCmd = &cobra.Command{
	Use:   "pull [version]",
	Short: "Download and verify a release (latest by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version := ""
		if len(args) > 0 {
			version = args[0]
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, err := a.PullRelease(ctx, version)
			if err != nil {
				return err
			}
			return printStream(cmd.OutOrStdout(), s, rawOutput())
		})
	},
}

var releasesDeleteCmd = &cobra.Command{
	Use:   "delete <version>",
	Short: "Delete the downloaded files of a release",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			deleted, err := a.DeleteRelease(ctx, args[0])
			if err != nil {
				return err
			}
			if rawOutput() {
				return printJSON(cmd.OutOrStdout(), map[string]any{"version": args[0], "deleted": deleted})
			}
			for _, name := range deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
			}
			return nil
		})
	},
}

func init() {
	releasesCmd.AddCommand(releasesListCmd, releasesRefreshCmd, releasesPullCmd, releasesDeleteCmd)
	rootCmd.AddCommand(releasesCmd)
}

func printReleases(out io.Writer, views []release.View) error {
	if rawOutput() {
		return printJSON(out, views)
	}
	if len(views) == 0 {
		fmt.Fprintln(out, "No releases found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tPUBLISHED\tSIZE\tPLATFORM\tPULLED")
	for _, v := range views {
		size := "-"
		if v.IsPlatformAvailable {
			size = units.HumanSize(float64(v.Size))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\n",
			v.Name,
			v.PublishedAt.Format("2006-01-02"),
			size,
			v.IsPlatformAvailable,
			v.IsPulled,
		)
	}
	return w.Flush()
}
