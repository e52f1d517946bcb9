// Package main runs the wallet monitor:
// source account push feed → transfer resolution → wallet classification →
// token creation layout detection, with every event broadcast to the configured sinks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"solana-wallet-monitor/internal/classifier"
	"solana-wallet-monitor/internal/config"
	"solana-wallet-monitor/internal/dedup"
	"solana-wallet-monitor/internal/format"
	"solana-wallet-monitor/internal/listener"
	"solana-wallet-monitor/internal/monitor"
	"solana-wallet-monitor/internal/resolver"
	"solana-wallet-monitor/internal/rotator"
	"solana-wallet-monitor/internal/solana"
	"solana-wallet-monitor/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (optional)")
	accounts := flag.String("accounts", "", "Comma-separated source accounts to monitor (overrides config)")
	rpcURLs := flag.String("rpc", "", "Comma-separated RPC HTTP endpoints (overrides config)")
	useMemory := flag.Bool("use-memory", false, "Persist to in-memory stores instead of PostgreSQL/ClickHouse")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for metrics, health and control (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath, func(c *config.Config) {
		if v := config.SplitList(*accounts); len(v) > 0 {
			c.Monitor.Accounts = v
		}
		if v := config.SplitList(*rpcURLs); len(v) > 0 {
			c.Rotator.Endpoints = c.Rotator.Endpoints[:0]
			for _, u := range v {
				c.Rotator.Endpoints = append(c.Rotator.Endpoints, rotator.EndpointConfig{URL: u})
			}
		}
		if *metricsAddr != "" {
			c.HTTP.MetricsAddr = *metricsAddr
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, *useMemory, logger); err != nil {
		logger.Error("monitor failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, useMemory bool, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rot, err := rotator.New(cfg.RotatorConfig(), logger)
	if err != nil {
		return fmt.Errorf("create rotator: %w", err)
	}
	rpc := rotator.NewClient(rot)

	wsCfg := solana.DefaultWSConfig()
	ws := solana.NewWSClient(rot.NextWebsocketURL, &wsCfg, logger)
	defer ws.Close()

	st, err := openStores(ctx, cfg.Sinks, useMemory, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	sinks, err := buildBroadcaster(ctx, cfg.Sinks, st, logger)
	if err != nil {
		return err
	}
	defer sinks.Close()

	detector := format.NewDetector(cfg.Format.ProgramID, sinks.broadcaster, logger)

	var watcherOpts []watcher.Option
	if st.cursors != nil {
		watcherOpts = append(watcherOpts, watcher.WithCursorStore(st.cursors))
	}
	w := watcher.New(rpc, detector, cfg.WatcherConfig(), logger, watcherOpts...)
	if err := w.Restore(ctx); err != nil {
		logger.Warn("watch set not restored", "error", err)
	}

	cls := classifier.New(rpc, cfg.ClassifierConfig(), logger,
		classifier.WithResultHandler(monitor.ClassificationHandler(sinks.broadcaster, w)),
	)

	mon, err := monitor.New(monitor.Options{
		Listener:    listener.New(ws, cfg.ListenerConfig(), logger),
		Resolver:    resolver.New(rpc, dedup.New(cfg.Dedup.Window, cfg.Dedup.Capacity), cfg.ResolverConfig(), logger),
		Classifier:  cls,
		Broadcaster: sinks.broadcaster,
		Watcher:     w,
		Accounts:    cfg.Monitor.Accounts,
		Shards:      cfg.Monitor.Shards,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.MetricsAddr,
		Handler:           newMux(rot, mon.Ready, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("monitor starting",
		"accounts", len(cfg.Monitor.Accounts),
		"endpoints", len(cfg.Rotator.Endpoints),
		"rotation", cfg.Rotator.Enabled,
	)
	return mon.Run(ctx)
}
