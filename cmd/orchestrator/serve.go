package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Aimtara/teachmo-sub002/internal/config"
	"github.com/Aimtara/teachmo-sub002/internal/intake"
	"github.com/Aimtara/teachmo-sub002/internal/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, signal consumer and metrics endpoint",
	Long: `serve runs until interrupted. It starts:
  - the daily, weekly, reap and delivery jobs on their configured schedule
  - the Kafka signal consumer when kafka.brokers is set
  - /metrics on metrics.addr when set
  - a config watcher that hot-reloads scoring weights when --config is set`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	errCh := make(chan error, 3)

	// #region metrics
	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.WithField("addr", cfg.Metrics.Addr).Info("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}
	// #endregion metrics

	// #region scheduler
	sched, err := jobs.NewScheduler(a.runner, cfg.JobSchedule(), logger)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logger.WithError(err).Warn("scheduler shutdown")
		}
	}()
	logger.WithField("jobs", sched.Jobs()).Info("scheduler started")
	// #endregion scheduler

	// #region intake
	if len(cfg.Kafka.Brokers) > 0 {
		reader, err := intake.NewReader(cfg.IntakeConfig())
		if err != nil {
			return err
		}
		consumer := intake.NewConsumer(reader, a.engine, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				errCh <- err
			}
		}()
	}
	// #endregion intake

	// #region watch
	if cfgFile != "" {
		go func() {
			err := config.Watch(ctx, cfgFile, logger, func(next *config.Config) {
				a.engine.SetWeights(next.EngineConfig().Weights)
			})
			if err != nil {
				logger.WithError(err).Warn("config watch disabled")
			}
		}()
	}
	// #endregion watch

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
		logger.WithError(err).Error("component failed, shutting down")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.WithError(serr).Warn("metrics server shutdown")
		}
	}
	return err
}
