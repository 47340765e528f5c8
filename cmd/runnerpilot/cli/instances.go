package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/app"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/instance"
)

var instancesCmd = &cobra.Command{
	Use:     "instances",
	Aliases: []string{"instance", "runners"},
	Short:   "Manage runner instances",
}

var createSpec instance.Spec

var instancesCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a runner and launch its container",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			v, err := a.Instances.Create(ctx, createSpec)
			if err != nil {
				return err
			}
			return printInstances(cmd.OutOrStdout(), v)
		})
	},
}

var instancesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runner instances with their live status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			views, err := a.Instances.List(ctx)
			if err != nil {
				return err
			}
			if rawOutput() {
				return printJSON(cmd.OutOrStdout(), views)
			}
			if len(views) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runner instances")
				return nil
			}
			return printInstances(cmd.OutOrStdout(), views...)
		})
	},
}

// lifecycleCmd builds a command that applies op to one instance ID.
func lifecycleCmd(use, short string, op func(*instance.Orchestrator, context.Context, string) (instance.View, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				v, err := op(a.Instances, ctx, args[0])
				if err != nil {
					return err
				}
				return printInstances(cmd.OutOrStdout(), v)
			})
		},
	}
}

var (
	instancesGetCmd     = lifecycleCmd("get", "Show one runner instance", (*instance.Orchestrator).Get)
	instancesStartCmd   = lifecycleCmd("start", "Start a runner container, recreating it if missing", (*instance.Orchestrator).Start)
	instancesStopCmd    = lifecycleCmd("stop", "Stop and remove a runner container, keeping its record", (*instance.Orchestrator).Stop)
	instancesRestartCmd = lifecycleCmd("restart", "Restart a runner container", (*instance.Orchestrator).Restart)
)

var instancesStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Print the live status of a runner instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			st, err := a.Instances.Status(ctx, args[0])
			if err != nil {
				return err
			}
			if rawOutput() {
				return printJSON(cmd.OutOrStdout(), map[string]any{"id": args[0], "status": st})
			}
			fmt.Fprintln(cmd.OutOrStdout(), st)
			return nil
		})
	},
}

var instancesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a runner container and its record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Instances.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		})
	},
}

var (
	cloneCount int
	cloneToken string
)

var instancesCloneCmd = &cobra.Command{
	Use:   "clone <id>",
	Short: "Create copies of a runner instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Instances.Clone(ctx, args[0], cloneCount, cloneToken)
			if err != nil {
				return err
			}
			if rawOutput() {
				return printJSON(cmd.OutOrStdout(), res)
			}
			if len(res.Created) > 0 {
				if err := printInstances(cmd.OutOrStdout(), res.Created...); err != nil {
					return err
				}
			}
			for _, f := range res.Failed {
				fmt.Fprintf(cmd.OutOrStdout(), "failed %s: %s\n", f.RunnerName, f.Error)
			}
			return nil
		})
	},
}

var logsFollow bool

var instancesLogsCmd = &cobra.Command{
	Use:   "logs <id>",
	Short: "Print runner container logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			s, err := a.Instances.StreamLogs(ctx, args[0], logsFollow)
			if err != nil {
				return err
			}
			return printStream(cmd.OutOrStdout(), s, jsonOut)
		})
	},
}

func init() {
	f := instancesCreateCmd.Flags()
	f.StringVar(&createSpec.SourceURL, "url", "", "repository or organization URL the runner registers with")
	f.StringVar(&createSpec.RegistrationToken, "token", "", "runner registration token")
	f.StringVar(&createSpec.Name, "name", "", "runner name prefix (default: derived from --url)")
	f.StringVar(&createSpec.Labels, "labels", "", "comma-separated runner labels")
	_ = instancesCreateCmd.MarkFlagRequired("url")
	_ = instancesCreateCmd.MarkFlagRequired("token")

	instancesCloneCmd.Flags().IntVarP(&cloneCount, "count", "n", 1, fmt.Sprintf("number of copies (1-%d)", instance.MaxClones))
	instancesCloneCmd.Flags().StringVar(&cloneToken, "token", "", "registration token for the copies (default: the source's)")

	instancesLogsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep streaming new log lines")

	instancesCmd.AddCommand(
		instancesCreateCmd,
		instancesListCmd,
		instancesGetCmd,
		instancesStatusCmd,
		instancesStartCmd,
		instancesStopCmd,
		instancesRestartCmd,
		instancesCloneCmd,
		instancesDeleteCmd,
		instancesLogsCmd,
	)
	rootCmd.AddCommand(instancesCmd)
}

func printInstances(out io.Writer, views ...instance.View) error {
	if rawOutput() {
		if len(views) == 1 {
			return printJSON(out, views[0])
		}
		return printJSON(out, views)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCONTAINER\tCREATED")
	for _, v := range views {
		container := "-"
		if v.Hostname != nil {
			container = shortID(*v.Hostname)
		}
		status := string(v.Status)
		if v.LaunchError != "" {
			status += " (" + v.LaunchError + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s ago\n",
			v.ID,
			v.RunnerName,
			status,
			container,
			units.HumanDuration(time.Since(v.CreatedAt)),
		)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
