package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/contentflow"
	"github.com/petrijr/contentflow/pkg/api"
)

func newRunsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "runs",
		Short:   "Inspect runs",
		Aliases: []string{"run"},
	}

	cmd.AddCommand(listRunsCmd(cfgPath))
	cmd.AddCommand(showRunCmd(cfgPath))
	cmd.AddCommand(problemsCmd(cfgPath))

	return cmd
}

func listRunsCmd(cfgPath *string) *cobra.Command {
	var instanceID, status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				runs, err := sys.Engine.ListRuns(ctx, api.RunListOptions{
					InstanceID: instanceID,
					Status:     api.RunStatus(status),
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tINSTANCE\tSTATUS\tCREATED\tDETAIL")
				for _, run := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						run.ID, run.InstanceID, run.Status,
						run.CreatedAt.Format(time.RFC3339), runDetail(run))
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().StringVar(&instanceID, "instance", "", "only runs of this instance")
	cmd.Flags().StringVar(&status, "status", "", "only runs with this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")

	return cmd
}

func runDetail(run *api.Run) string {
	switch {
	case run.Error != "":
		return run.Error
	case run.SkipReason != "":
		return run.SkipReason
	case run.Output != nil:
		return run.Output.Title()
	}
	return ""
}

func showRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				run, err := sys.Engine.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), run)
			})
		},
	}
}

func problemsCmd(cfgPath *string) *cobra.Command {
	var threshold int

	cmd := &cobra.Command{
		Use:   "problems",
		Short: "List instances whose recent runs keep failing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				if threshold <= 0 {
					threshold = sys.ProblemThreshold()
				}
				problems, err := sys.Engine.ProblemInstances(ctx, threshold)
				if err != nil {
					return err
				}
				if len(problems) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No problem instances.")
					return nil
				}
				return printJSON(cmd.OutOrStdout(), problems)
			})
		},
	}

	cmd.Flags().IntVar(&threshold, "threshold", 0, "failure streak that flags an instance (default from config)")

	return cmd
}
