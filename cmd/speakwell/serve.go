package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/speakwell/internal/app"
	"github.com/MrWong99/speakwell/internal/observe"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 15 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	var watchInterval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP scoring service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			logger, levels := newLogger(cmd.ErrOrStderr(), cfg.Server.LogLevel)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			telemetry, err := observe.InitProvider(ctx, cfg.Telemetry, observe.WithServiceVersion(version))
			if err != nil {
				return err
			}
			defer func() {
				if err := telemetry.Shutdown(context.Background()); err != nil {
					slog.Warn("telemetry shutdown error", "err", err)
				}
			}()

			opts := []app.Option{app.WithLevelVar(levels), app.WithMetrics(telemetry.Metrics())}
			if g.configPath != "" {
				opts = append(opts, app.WithConfigWatch(g.configPath, watchInterval))
			}
			application, err := app.New(cfg, opts...)
			if err != nil {
				return err
			}

			slog.Info("speakwell starting",
				"version", version,
				"config", g.configPath,
				"listen_addr", cfg.Server.ListenAddr,
				"sample_rate", cfg.Scoring.SampleRate,
				"pitch_trackers", cfg.Prosody.PitchTrackers,
			)

			runErr := application.Run(ctx)
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				slog.Error("run error", "err", runErr)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			slog.Info("shutdown signal received, stopping")
			if err := application.Shutdown(shutdownCtx); err != nil {
				return err
			}
			slog.Info("goodbye")
			return runErr
		},
	}
	cmd.Flags().DurationVar(&watchInterval, "watch-interval", 5*time.Second, "how often the config file is checked for changes")
	return cmd
}
