package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/petrijr/contentflow"
	"github.com/petrijr/contentflow/pkg/api"
)

// templateFile is the YAML layout read by template import:
//
//	name: Weekly digest
//	steps:
//	  - id: research
//	    type: ai
//	    config:
//	      prompt: Find this week's topic
//	  - id: post
//	    type: publish
type templateFile struct {
	Name  string               `yaml:"name"`
	Steps []api.StepDefinition `yaml:"steps"`
}

func newTemplateCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Short:   "Manage templates",
		Aliases: []string{"templates"},
	}

	cmd.AddCommand(importTemplateCmd(cfgPath))
	cmd.AddCommand(listTemplatesCmd(cfgPath))
	cmd.AddCommand(showTemplateCmd(cfgPath))

	return cmd
}

func readTemplateFile(path string) (*templateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tf templateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &tf, nil
}

func importTemplateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create a template from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := readTemplateFile(args[0])
			if err != nil {
				return err
			}
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				tpl, err := sys.Templates.Create(ctx, tf.Name, tf.Steps)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported template %q (%s) with %d steps\n",
					tpl.Name, tpl.ID, len(tpl.Steps))
				return nil
			})
		},
	}
}

func listTemplatesCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				list, err := sys.Templates.List(ctx)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No templates found.")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tSTEPS")
				for _, tpl := range list {
					fmt.Fprintf(tw, "%s\t%s\t%d\n", tpl.ID, tpl.Name, len(tpl.Steps))
				}
				return tw.Flush()
			})
		},
	}
}

func showTemplateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show a template as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSystem(cmd, cfgPath, func(ctx context.Context, sys *contentflow.System) error {
				tpl, err := sys.Templates.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), tpl)
			})
		},
	}
}
