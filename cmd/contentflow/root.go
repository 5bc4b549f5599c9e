package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/contentflow"
	"github.com/petrijr/contentflow/internal/config"
	"github.com/petrijr/contentflow/pkg/api"
	"github.com/petrijr/contentflow/pkg/log"
)

var ErrScheduleFlags = errors.New("use only one of --interval, --cron, --at and --manual")

func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:           "contentflow",
		Short:         "Run scheduled content pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")

	cmd.AddCommand(newServeCmd(&cfgPath))
	cmd.AddCommand(newTemplateCmd(&cfgPath))
	cmd.AddCommand(newInstanceCmd(&cfgPath))
	cmd.AddCommand(newQueueCmd(&cfgPath))
	cmd.AddCommand(newRunsCmd(&cfgPath))

	return cmd
}

// withSystem loads the configuration, opens the System it describes and
// hands it to fn. Log output goes to the command's error stream.
func withSystem(cmd *cobra.Command, cfgPath *string, fn func(ctx context.Context, sys *contentflow.System) error) error {
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	logger := log.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

	ctx := cmd.Context()
	sys, err := contentflow.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sys.Close() }()

	return fn(ctx, sys)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// scheduleFlags are the schedule options shared by instance create and
// instance schedule.
type scheduleFlags struct {
	interval string
	cron     string
	at       string
	manual   bool
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.interval, "interval", "", "named interval (hourly, daily, ...)")
	cmd.Flags().StringVar(&f.cron, "cron", "", "cron expression")
	cmd.Flags().StringVar(&f.at, "at", "", "one-time run at an RFC 3339 timestamp")
	cmd.Flags().BoolVar(&f.manual, "manual", false, "run only when triggered")
}

// schedule returns the selected schedule; no flag selects manual.
func (f *scheduleFlags) schedule() (api.Schedule, error) {
	set := 0
	for _, on := range []bool{f.interval != "", f.cron != "", f.at != "", f.manual} {
		if on {
			set++
		}
	}
	if set > 1 {
		return nil, ErrScheduleFlags
	}

	switch {
	case f.interval != "":
		return api.ScheduleInterval{Interval: f.interval}, nil
	case f.cron != "":
		return api.ScheduleCron{Expression: f.cron}, nil
	case f.at != "":
		at, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return nil, fmt.Errorf("%w: --at: %w", api.ErrValidation, err)
		}
		return api.ScheduleOneTime{At: at}, nil
	default:
		return api.ScheduleManual{}, nil
	}
}
