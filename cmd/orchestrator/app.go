package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Aimtara/teachmo-sub002/internal/famlock"
	"github.com/Aimtara/teachmo-sub002/internal/jobs"
	"github.com/Aimtara/teachmo-sub002/internal/metrics"
	"github.com/Aimtara/teachmo-sub002/internal/orchestrator"
	"github.com/Aimtara/teachmo-sub002/internal/relay"
	"github.com/Aimtara/teachmo-sub002/internal/store"
)

// #region app

// app is everything a command needs, built from the loaded config.
type app struct {
	store    store.Store
	engine   *orchestrator.Engine
	runner   *jobs.Runner
	registry *prometheus.Registry
	closers  []func() error
}

// openApp opens the store, the optional Redis lock and relay client, and
// wires the engine and job runner around them.
func openApp(ctx context.Context) (*app, error) {
	a := &app{registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	switch cfg.Store.Driver {
	case "sqlite":
		st, err := store.NewSQLiteStore(cfg.Store.Path, cfg.StateDefaults())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		a.store = st
	default:
		a.store = store.NewMemoryStore(cfg.StateDefaults())
	}
	a.closers = append(a.closers, a.store.Close)

	opts := []orchestrator.Option{orchestrator.WithLogger(logger), orchestrator.WithMetrics(m)}
	if cfg.Redis.URL != "" {
		client, err := famlock.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		opts = append(opts, orchestrator.WithLocker(famlock.NewRedis(client, famlock.RedisConfig{Logger: logger})))
		logger.Info("using redis family locks")
	}
	a.engine = orchestrator.New(a.store, cfg.EngineConfig(), opts...)

	var deliverer jobs.Deliverer
	if cfg.Relay.Addr != "" {
		client, err := relay.NewClient(cfg.Relay.Addr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		deliverer = client
	}
	a.runner = jobs.NewRunner(a.engine, a.store, deliverer, cfg.Relay.RatePerSec, m, logger)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.WithError(err).Warn("close failed")
		}
	}
}

// #endregion app

// #region output

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput() bool { return output == "json" }

// #endregion output
