package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/contentflow"
	"github.com/petrijr/contentflow/internal/instances"
	"github.com/petrijr/contentflow/pkg/api"
)

func newInstanceCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Short:   "Manage instances",
		Aliases: []string{"instances"},
	}

	cmd.AddCommand(createInstanceCmd(cfgPath))
	cmd.AddCommand(showInstanceCmd(cfgPath))
	cmd.AddCommand(runInstanceCmd(cfgPath))
	cmd.AddCommand(scheduleInstanceCmd(cfgPath))

	return cmd
}

func createInstanceCmd(cfgPath *string) *cobra.Command {
	var templateID, name string
	var sf scheduleFlags

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an instance of a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := sf.schedule()
			if err != nil {
				return err
			}
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				inst, err := sys.Instances.Create(ctx, instances.CreateParams{
					TemplateID: templateID,
					Name:       name,
					Schedule:   schedule,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created instance %q (%s)\n", inst.Name, inst.ID)
				for _, b := range inst.OrderedSteps() {
					fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s (%s)\n", b.ExecutionOrder, b.StepRefID, b.StepType)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&templateID, "template", "", "template ID")
	cmd.Flags().StringVar(&name, "name", "", "instance name")
	_ = cmd.MarkFlagRequired("template")
	_ = cmd.MarkFlagRequired("name")
	sf.register(cmd)

	return cmd
}

// instanceView is the JSON printed by instance show.
type instanceView struct {
	Instance  *api.Instance `json:"instance"`
	NextRunAt *time.Time    `json:"next_run_at,omitempty"`
}

func showInstanceCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <instance-id>",
		Short: "Show an instance and its next run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				inst, err := sys.Instances.Get(ctx, args[0])
				if err != nil {
					return err
				}
				next, err := sys.Scheduler.NextRun(ctx, inst.ID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), instanceView{Instance: inst, NextRunAt: next})
			})
		},
	}
}

func runInstanceCmd(cfgPath *string) *cobra.Command {
	var now bool

	cmd := &cobra.Command{
		Use:   "run <instance-id>",
		Short: "Trigger a run of an instance",
		Long: `Trigger a run of an instance.

By default a one-shot trigger is queued for the workers of a running
"contentflow serve". With --now the run executes in this process using
only the built-in handlers.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				if _, err := sys.Instances.Get(ctx, args[0]); err != nil {
					return err
				}
				if !now {
					if err := sys.Worker.EnqueueRun(ctx, args[0], time.Time{}); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Queued a run of %s\n", args[0])
					return nil
				}
				run, err := sys.Engine.RunInstance(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), run)
			})
		},
	}

	cmd.Flags().BoolVar(&now, "now", false, "execute synchronously in this process")

	return cmd
}

func scheduleInstanceCmd(cfgPath *string) *cobra.Command {
	var sf scheduleFlags

	cmd := &cobra.Command{
		Use:   "schedule <instance-id>",
		Short: "Change the schedule of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := sf.schedule()
			if err != nil {
				return err
			}
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				inst, err := sys.Instances.UpdateSchedule(ctx, args[0], schedule)
				if err != nil {
					return err
				}
				next, err := sys.Scheduler.NextRun(ctx, inst.ID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Schedule of %s is now %s\n", inst.ID, api.SpecOf(inst.Schedule).Kind)
				if next != nil {
					fmt.Fprintf(out, "Next run at %s\n", next.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	sf.register(cmd)

	return cmd
}
