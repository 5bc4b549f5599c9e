package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/petrijr/contentflow"
	"github.com/petrijr/contentflow/internal/config"
	"github.com/petrijr/contentflow/pkg/log"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background workers",
		Long: `Run the administrative HTTP API together with the workers that
execute scheduled runs.

On start, runs interrupted by a previous process are marked failed and the
triggers of every scheduled instance are registered again. SIGHUP reloads
the configuration; the log level and problem threshold apply immediately,
everything else on restart.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := config.NewHolder(*cfgPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), holder)
		},
	}
}

func serve(ctx context.Context, holder *config.Holder) error {
	cfg := holder.Get()

	var level slog.LevelVar
	level.Set(log.ParseLevel(cfg.Log.Level))
	logger := log.NewWithLeveler(os.Stderr, &level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := contentflow.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = sys.Close() }()

	if err := sys.Start(ctx); err != nil {
		logger.Warn("System start incomplete", log.Error(err))
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:           sys.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server starting", slog.String("addr", httpServer.Addr))
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return sys.Worker.Run(gctx, cfg.Engine.Workers)
	})
	g.Go(func() error {
		watchReload(gctx, holder, sys, &level, logger)
		return nil
	})

	err = g.Wait()
	logger.Info("Server exited")
	return err
}

// watchReload reloads the configuration on SIGHUP until ctx ends.
func watchReload(ctx context.Context, holder *config.Holder, sys *contentflow.System, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := holder.Reload(); err != nil {
				logger.Error("Configuration reload failed; keeping the current one", log.Error(err))
				continue
			}
			cfg := holder.Get()
			level.Set(log.ParseLevel(cfg.Log.Level))
			sys.SetProblemThreshold(cfg.Engine.ProblemThreshold)
			logger.Info("Configuration reloaded", slog.String("log_level", cfg.Log.Level))
		}
	}
}
