package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/relay/pkg/metrics"
	"github.com/ajitpratap0/relay/pkg/observability"
	"github.com/ajitpratap0/relay/pkg/scheduler"
)

const shutdownTimeout = 30 * time.Second

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Schedule every stored integration and run them until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := observability.InitTracing(cfg.Tracing, version)
			if err != nil {
				return err
			}

			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := scheduler.New(a.runner.RunFunc(),
				scheduler.WithConfig(cfg.Scheduler),
				scheduler.WithNotifier(a.notifier))

			integrations, err := a.store.ListIntegrations(ctx)
			if err != nil {
				return err
			}
			for _, in := range integrations {
				if in.Schedule != "" {
					sched.ScheduleIntegration(in.ID, in.Schedule)
				}
			}
			sched.Start()

			var server *http.Server
			if cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(http.StatusOK)
				})
				server = &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						a.logger.Error("metrics server failed", zap.Error(err))
					}
				}()
			}

			a.logger.Info("relay serving",
				zap.String("version", version),
				zap.Int("scheduled", len(sched.GetScheduledTasks())),
				zap.String("metrics_address", cfg.Metrics.Address))
			<-ctx.Done()
			a.logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := sched.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("scheduler shutdown incomplete", zap.Error(err))
			}
			if err := a.runner.Wait(shutdownCtx); err != nil {
				a.logger.Warn("runs still in flight at shutdown", zap.Error(err))
			}
			if server != nil {
				_ = server.Shutdown(shutdownCtx)
			}
			return shutdownTracing(shutdownCtx)
		},
	}
}
