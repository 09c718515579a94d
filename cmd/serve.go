package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook, outreach and dispatch server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Memory != nil {
			env.Memory.Start(ctx, cfg.Cache.SweepInterval)
		}

		if cfg.Monitoring.Enabled {
			collector := monitoring.NewCollector(env.Store, env.Cache, time.Duration(cfg.Monitoring.StuckAfterMinutes)*time.Minute)
			alerter := monitoring.NewAlerter(cfg.Monitoring, env.Notifier)
			go monitoring.NewChecker(collector, alerter, cfg.Monitoring).Run(ctx)
		}

		if env.Coordinator != nil && cfg.Retry.Interval > 0 {
			go env.Coordinator.RunRetries(ctx, cfg.Retry.Interval, cfg.Retry.BatchSize)
		}

		srvHandlers := &server{
			store:      env.Store,
			cache:      env.Cache,
			cacheTTL:   cfg.Cache.TTL,
			dispatcher: env,
			decider:    env.Router,
			origins:    cfg.Server.AllowedOrigins,
		}
		if env.Coordinator != nil {
			srvHandlers.outreach = env.Coordinator
		}
		if cfg.Metrics.Enabled {
			srvHandlers.metricsPath = cfg.Metrics.Path
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srvHandlers.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		shutdownDone := make(chan struct{})
		go func() {
			defer close(shutdownDone)
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
			if env.Coordinator != nil {
				if err := env.Coordinator.Shutdown(shutdownCtx); err != nil {
					zap.L().Warn("outreach requests still running at shutdown", zap.Error(err))
				}
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		<-shutdownDone
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
