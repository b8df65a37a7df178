// gridbot runs an automated perpetual-futures grid-trading engine with
// optional copy-trading support.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine/engine.go  — orchestrator: wires the exchange feed, grid sessions, and copy-trading
//	internal/grid/bot.go       — one grid-trading session: signal generation, order tracking, P&L
//	internal/grid/signal.go    — translates price crossings into buy/sell signals at each grid level
//	internal/market/book.go    — local mark-price cache fed by REST orderbook snapshots
//	internal/market/validator.go — tick/step/notional normalization and grid config validation
//	internal/exchange/client.go — REST client for order placement, cancellation, and book/position reads
//	internal/exchange/auth.go  — L1 (EIP-712) and L2 (API key) authentication
//	internal/exchange/supervisor.go — private WebSocket feed with circuit-breaker reconnection
//	internal/risk/controller.go — per-follower exposure, concentration, and daily-loss limits
//	internal/copytrade/*.go    — leader trade monitoring and follower execution
//	internal/store/store.go    — JSON file persistence for session summaries and follower state
//	internal/api/*.go          — admin HTTP/WebSocket surface and Prometheus metrics
//
// How it makes money:
//
//	The bot lays a ladder of buy/sell limit orders spanning a price range.
//	Each fill on one side immediately posts a counter-order one grid level
//	away; round-tripping a level captures the grid spacing as profit. A
//	follower account mirrors a leader's fills at a configured ratio, subject
//	to its own risk limits.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polymarket-mm/internal/api"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/engine"
)

const metricsReportInterval = 15 * time.Second

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.Admin.Enabled {
		apiServer = api.NewServer(cfg.Admin, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("admin server failed", "error", err)
			}
		}()
		logger.Info("admin server started", "url", fmt.Sprintf("http://localhost:%d", cfg.Admin.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	stopMetrics := make(chan struct{})
	go reportMetrics(eng, stopMetrics)

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("gridbot started",
		"account", cfg.Account.AccountID,
		"default_grid_count", cfg.Grid.DefaultGridCount,
		"max_followers_per_leader", cfg.CopyTrading.MaxFollowersPerLeader,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	close(stopMetrics)

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop admin server", "error", err)
		}
	}

	eng.Stop()
}

// reportMetrics periodically snapshots session, feed, and risk state into
// the process's Prometheus gauges until stop is closed.
func reportMetrics(eng *engine.Engine, stop <-chan struct{}) {
	ticker := time.NewTicker(metricsReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			eng.RecordSessionMetrics()
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
