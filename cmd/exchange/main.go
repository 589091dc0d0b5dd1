// Command exchange is the entry point for the derivatives exchange core.
//
// Boot sequence:
//
//	main.go                 — load config, wire every component, wait for SIGINT/SIGTERM
//	internal/catalog        — static instrument metadata + mutable mark/last/funding (C1)
//	internal/rate           — external reference-rate cache (C2), fed by internal/feed
//	internal/journal        — append-only event log (C3), opened once and shared
//	internal/orderbook      — per-symbol price-time-priority book (C4), owned by matching
//	internal/matching       — order acceptance + matching (C5)
//	internal/position       — per-user balances, positions, liquidation (C6)
//	internal/risk           — pre-trade checks, rate limits, daily loss limit (C7)
//	internal/margin         — initial/maintenance margin and PnL formulas (C8)
//	internal/circuit        — per-symbol and market-wide halt state (C9)
//	internal/markprice      — composite mark-price formula (C10)
//	internal/sequencer      — single-writer command queue gating every mutation (C11)
//	internal/scheduler      — periodic funding/mark-refresh/daily-reset tasks
//	internal/store          — crash-safe state snapshotting and restore
//	internal/events         — typed pub-sub fan-out, consumed by the admin api's event stream
//	internal/metrics        — Prometheus counters/gauges, exposed over /metrics
//	internal/api            — read-only admin HTTP/WebSocket query + event stream
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/api"
	"polymarket-mm/internal/catalog"
	"polymarket-mm/internal/circuit"
	"polymarket-mm/internal/config"
	"polymarket-mm/internal/events"
	"polymarket-mm/internal/feed"
	"polymarket-mm/internal/journal"
	"polymarket-mm/internal/matching"
	"polymarket-mm/internal/position"
	"polymarket-mm/internal/rate"
	"polymarket-mm/internal/risk"
	"polymarket-mm/internal/scheduler"
	"polymarket-mm/internal/sequencer"
	"polymarket-mm/internal/store"
	"polymarket-mm/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("EXCHANGE_CONFIG"); p != "" {
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

	logger := newLogger(*cfg)

	jrnl, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		logger.Error("failed to open journal", "error", err, "path", cfg.Journal.Path)
		os.Exit(1)
	}
	defer jrnl.Close()

	cat := catalog.New(cfg.Catalog)
	rates := newRateProvider(*cfg)
	bus := events.NewBus(logger)

	posMgr := position.NewManager(cat, jrnl)
	posMgr.SetInsuranceContributionBps(cfg.Risk.InsuranceContributionBps)
	riskMgr := risk.NewManager(cfg.Risk)
	brk := circuit.NewManager(circuitConfigOf(cfg.Circuit))
	engine := matching.New(cat, logger)
	engine.SetPositionSizer(posMgr)

	seq := sequencer.NewWithCapacity(cfg.Sequencer.RingCapacity, engine, posMgr, brk, cat, jrnl, bus, logger)
	seq.SetRiskEngine(riskMgr)

	snapStore, err := store.Open(cfg.Snapshot.DataDir)
	if err != nil {
		logger.Error("failed to open snapshot store", "error", err, "dir", cfg.Snapshot.DataDir)
		os.Exit(1)
	}
	defer snapStore.Close()

	if state, err := snapStore.Load(); err != nil {
		logger.Error("failed to load snapshot", "error", err)
		os.Exit(1)
	} else if state != nil {
		store.Restore(*state, posMgr, cat)
		logger.Info("restored snapshot", "journal_seq", state.JournalSeq, "accounts", len(state.Accounts))
		// Full recovery additionally replays journal records written after
		// state.JournalSeq (internal/journal.OpenReader + Reader.Next) back
		// through the matching engine to reconstruct resting orders; this
		// build restores balances, positions, and marks from the snapshot
		// but does not yet resubmit historical orders, so a restart starts
		// every book flat even when accounts carry open positions.
	}

	sched := scheduler.New(seq, cat, engine, rates, cfg.Scheduler, logger)
	snapWriter := store.NewWriter(snapStore, posMgr, cat, jrnl.LastSequence, cfg.Snapshot.Interval, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go seq.Run(ctx)
	go sched.Run(ctx)
	go snapWriter.Run(ctx)

	if rateFeed := newRateFeed(*cfg, logger); rateFeed != nil {
		go rateFeed.Run(ctx, rates.Update)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(*cfg, logger)
	}

	var adminSrv *api.Server
	if cfg.AdminAPI.Enabled {
		adminSrv = api.NewServer(cfg.AdminAPI, cat, posMgr, brk, bus, logger)
		go func() {
			if err := adminSrv.Start(); err != nil {
				logger.Error("admin api failed", "error", err)
			}
		}()
	}

	logger.Info("exchange started",
		"products", len(cfg.Catalog.Products),
		"journal", cfg.Journal.Path,
		"metrics_enabled", cfg.Metrics.Enabled,
		"admin_api_enabled", cfg.AdminAPI.Enabled,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if adminSrv != nil {
		if err := adminSrv.Stop(); err != nil {
			logger.Error("admin api shutdown failed", "error", err)
		}
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", "error", err)
		}
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
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

// circuitConfigOf adapts the YAML-sourced CircuitConfig into the
// decimal-free circuit.Config the Manager actually runs on, falling back
// to circuit.DefaultConfig for any zero-valued field so an operator can
// override just the fields they care about.
func circuitConfigOf(cfg config.CircuitConfig) circuit.Config {
	out := circuit.DefaultConfig()
	if !cfg.PriceLimitPct.IsZero() {
		out.PriceLimitFraction = config.PriceOf(cfg.PriceLimitPct)
	}
	if !cfg.HaltThresholdPct.IsZero() {
		out.HaltThresholdFraction = config.PriceOf(cfg.HaltThresholdPct)
	}
	if cfg.WindowSeconds != 0 {
		out.WindowSeconds = cfg.WindowSeconds
	}
	if cfg.HaltDurationSec != 0 {
		out.HaltDurationSeconds = cfg.HaltDurationSec
	}
	if cfg.CooldownSeconds != 0 {
		out.CooldownSeconds = cfg.CooldownSeconds
	}
	return out
}

// newRateProvider seeds internal/rate.Provider's compiled-in defaults from
// cfg.RateFeed.FallbackRates, parsed once at startup; a malformed value is
// logged as a warning and skipped rather than stored as a zero rate.
func newRateProvider(cfg config.Config) *rate.Provider {
	defaults := make(map[string]types.Price, len(cfg.RateFeed.FallbackRates))
	for pair, raw := range cfg.RateFeed.FallbackRates {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			slog.Warn("skipping unparseable fallback rate", "pair", pair, "raw", raw, "error", err)
			continue
		}
		defaults[pair] = config.PriceOf(d)
	}
	return rate.New(nil, defaults)
}

// newRateFeed builds the configured external rate feed, or nil if none is
// configured (compiled-in fallbacks and trade-derived marks then carry the
// Rate Provider on their own).
func newRateFeed(cfg config.Config, logger *slog.Logger) feed.RateFeed {
	if cfg.RateFeed.HTTPBaseURL == "" {
		return nil
	}
	pairs := make([]string, 0, len(cfg.Catalog.Products))
	seen := make(map[string]bool)
	for _, p := range cfg.Catalog.Products {
		if p.ExternalRef == "" || seen[p.ExternalRef] {
			continue
		}
		seen[p.ExternalRef] = true
		pairs = append(pairs, p.ExternalRef)
	}
	if len(pairs) == 0 {
		return nil
	}
	interval := cfg.RateFeed.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return feed.NewHTTPRateFeed(cfg.RateFeed.HTTPBaseURL, pairs, interval, logger)
}

func startMetricsServer(cfg config.Config, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := cfg.Metrics.Addr
	if addr == "" {
		addr = ":9090"
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
