package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petrijr/contentflow"
	"github.com/petrijr/contentflow/internal/queue"
)

func newQueueCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the prompt queue of an instance step",
	}

	cmd.AddCommand(addPromptCmd(cfgPath))
	cmd.AddCommand(listQueueCmd(cfgPath))
	cmd.AddCommand(clearQueueCmd(cfgPath))
	cmd.AddCommand(validateQueueCmd(cfgPath))

	return cmd
}

func addPromptCmd(cfgPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "add <instance-id> <step-ref-id> <prompt...>",
		Short: "Append a prompt to a step queue",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args[2:], " ")
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				idx, err := sys.Queue.Add(ctx, args[0], args[1], prompt, queue.AddOptions{
					SkipContentCheck: force,
				})
				var dup *queue.DuplicateError
				if errors.As(err, &dup) && dup.Content != nil {
					return fmt.Errorf("%w (use --force to queue it anyway)", err)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued at position %d\n", idx)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "skip the produced-content check")

	return cmd
}

func listQueueCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list <instance-id> <step-ref-id>",
		Short: "List queued prompts in order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				items, err := sys.Queue.List(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
					return nil
				}
				for i, item := range items {
					fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", i, item.Prompt)
				}
				return nil
			})
		},
	}
}

func clearQueueCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <instance-id> <step-ref-id>",
		Short: "Remove every queued prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				n, err := sys.Queue.Clear(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d prompts\n", n)
				return nil
			})
		},
	}
}

func validateQueueCmd(cfgPath *string) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "validate <instance-id> <step-ref-id>",
		Short: "Drop queued prompts that match produced content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				report, err := sys.Queue.Validate(ctx, args[0], args[1], dryRun)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report matches without removing them")

	return cmd
}
