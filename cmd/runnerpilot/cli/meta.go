package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/app"
	"github.com/0xAungkon/RunnerPilot/internal/runnerpilot/meta"
)

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Read and write typed settings",
}

var metaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every setting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			vals, err := a.Meta.List(ctx)
			if err != nil {
				return err
			}
			return printMeta(cmd.OutOrStdout(), vals...)
		})
	},
}

var metaGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			v, err := a.Meta.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printMeta(cmd.OutOrStdout(), v)
		})
	},
}

var metaType string

var metaSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := meta.ParseType(metaType)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			v, err := a.Meta.Set(ctx, args[0], args[1], t)
			if err != nil {
				return err
			}
			return printMeta(cmd.OutOrStdout(), v)
		})
	},
}

func init() {
	metaSetCmd.Flags().StringVarP(&metaType, "type", "t", string(meta.TypeString), "value type: string, int, bool, list, json")
	metaCmd.AddCommand(metaListCmd, metaGetCmd, metaSetCmd)
	rootCmd.AddCommand(metaCmd)
}

func printMeta(out io.Writer, vals ...meta.Value) error {
	if rawOutput() {
		if len(vals) == 1 {
			return printJSON(out, vals[0])
		}
		return printJSON(out, vals)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTYPE\tVALUE")
	for _, v := range vals {
		fmt.Fprintf(w, "%s\t%s\t%v\n", v.Key, v.Type, v.Value)
	}
	return w.Flush()
}
