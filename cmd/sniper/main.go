// Event Sniper — an event-driven trading bot for Polymarket binary
// prediction markets. It watches market price streams and external news
// feeds, fires rule-based trade signals, and executes them as immediate
// fill-or-kill orders.
//
// Architecture:
//
//	main.go             — entry point: loads config, wires everything, waits for SIGINT/SIGTERM
//	engine/engine.go    — orchestrator: single drain loop pulling events from all sources through the parsers
//	ingest/market.go    — CLOB market WebSocket (book snapshots + price changes) with auto-reconnect
//	ingest/rss.go       — RSS/news poller emitting external events for keyword rules
//	parser/threshold.go — price threshold rules with direction, crossing detection, and cooldowns
//	parser/keyword.go   — keyword matching against news/social event text
//	executor/executor.go— risk-gated FOK execution: book check, aggressive pricing, dry-run simulation
//	portfolio/          — cash and position tracking with pre-trade risk checks
//	discovery/          — Gamma catalog search that auto-subscribes markets and stamps rules
//	exchange/           — REST client + L1 (EIP-712) / L2 (HMAC) auth for the CLOB API
//	store/              — SQLite persistence for trades, orders, positions; JSONL trade journal
//	api/                — HTTP status API and WebSocket event stream for dashboards
//	notify/             — console tables and Telegram trade notifications
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"event-sniper/internal/api"
	"event-sniper/internal/config"
	"event-sniper/internal/discovery"
	"event-sniper/internal/engine"
	"event-sniper/internal/exchange"
	"event-sniper/internal/executor"
	"event-sniper/internal/ingest"
	"event-sniper/internal/notify"
	"event-sniper/internal/parser"
	"event-sniper/internal/portfolio"
	"event-sniper/internal/prices"
	"event-sniper/internal/store"
)

func main() {
	reportMode := flag.Bool("report", false, "print portfolio and recent trades, then exit")
	flag.Parse()

	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("SNIPER_CONFIG"); p != "" {
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

	logger := newLogger(cfg.Logging)

	if *reportMode {
		os.Exit(runReport(cfg, logger))
	}

	rules, err := config.LoadRules(cfg.Bot.RulesFile, cfg.Parser.DefaultCooldown)
	if err != nil {
		logger.Error("failed to load rules", "error", err, "path", cfg.Bot.RulesFile)
		os.Exit(1)
	}

	// Venue client + executor
	auth, err := exchange.NewAuth(*cfg)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		os.Exit(1)
	}
	client := exchange.NewClient(*cfg, auth, logger)
	exec := executor.New(client, cfg.Bot.DryRun, cfg.Bot.MaxPositionSize, logger)

	// Persistence
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.Store.Path)
		os.Exit(1)
	}
	defer db.Close()

	journal, err := store.NewJournal(cfg.Bot.DataDir, logger)
	if err != nil {
		logger.Error("failed to create journal", "error", err, "dir", cfg.Bot.DataDir)
		os.Exit(1)
	}

	book := portfolio.New(db, cfg.Portfolio.MaxPositions, logger)
	priceCache := prices.NewCache()

	// Sources
	marketWS := ingest.NewMarketWS(cfg.API.WSMarketURL, cfg.Ingest, logger)
	sources := []ingest.Source{marketWS}

	rss := ingest.NewRSSSource(cfg.RSS.PollInterval, logger)
	if len(cfg.RSS.Feeds) > 0 {
		if err := rss.Configure(cfg.RSS.Feeds); err != nil {
			logger.Error("failed to configure RSS feeds", "error", err)
			os.Exit(1)
		}
		sources = append(sources, rss)
	}

	// Parsers
	thresholds := parser.NewThresholdParser(rules.ThresholdRules, logger)
	keywords := parser.NewKeywordParser(rules.KeywordRules, logger)
	parsers := []parser.Parser{thresholds, keywords}

	ctx := context.Background()

	// Static subscriptions from the rules file: every market named
	// explicitly, plus every token a threshold rule targets.
	staticTokens := rules.Markets
	for _, r := range rules.ThresholdRules {
		staticTokens = append(staticTokens, r.TokenID)
	}
	if len(staticTokens) > 0 {
		if err := marketWS.Subscribe(ctx, staticTokens); err != nil {
			logger.Error("failed to register static subscriptions", "error", err)
			os.Exit(1)
		}
	}

	// Startup discovery: search the catalog and stamp threshold rules onto
	// matching markets before the engine connects.
	if cfg.Discovery.Enabled && len(rules.Strategies) > 0 {
		catalog := discovery.NewClient(cfg.API.GammaBaseURL, cfg.Discovery.RequestTimeout, logger)
		subs := discovery.NewSubscriptionManager(catalog, marketWS, thresholds, cfg.Discovery.GlobalLimit, logger)
		installed := subs.ExecuteStrategies(ctx, rules.Strategies)
		logger.Info("discovery complete", "strategies", len(rules.Strategies), "rules_installed", installed)
	}

	opts := []engine.Option{
		engine.WithPortfolio(book),
		engine.WithStore(db),
		engine.WithJournal(journal),
		engine.WithPriceCache(priceCache),
	}

	// Status API server
	var apiServer *api.Server
	if cfg.Server.Enabled {
		apiServer = api.NewServer(cfg.Server.ListenAddr, api.ServerDeps{
			Portfolio: book,
			Prices:    priceCache,
			Trades:    db,
			DryRun:    cfg.Bot.DryRun,
		}, logger)
		opts = append(opts, engine.WithObserver(apiServer.Bridge()))
	}

	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, logger)
		if err != nil {
			logger.Error("failed to initialize telegram notifier", "error", err)
			os.Exit(1)
		}
		opts = append(opts, engine.WithObserver(tg))
	}

	eng := engine.New(*cfg, sources, parsers, exec, logger, opts...)

	if apiServer != nil {
		apiServer.SetMetrics(eng)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		logger.Info("status server started", "addr", cfg.Server.ListenAddr)
	}

	// Start blocks in the drain loop; any startup failure surfaces here.
	engineErr := make(chan error, 1)
	go func() {
		engineErr <- eng.Start(ctx)
	}()

	if cfg.Bot.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	logger.Info("event sniper started",
		"threshold_rules", len(rules.ThresholdRules),
		"keyword_rules", len(rules.KeywordRules),
		"subscribed_markets", len(marketWS.SubscribedTokens()),
		"dry_run", cfg.Bot.DryRun,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-engineErr:
		if err != nil {
			logger.Error("engine failed", "error", err)
		} else {
			logger.Info("all sources terminated")
		}
	}

	// Stop the status server first so no client observes a half-stopped engine
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
	}

	eng.Stop()

	// Shutdown summary on stdout, regardless of where logs go.
	reporter := notify.NewConsoleReporter(os.Stdout, book, db)
	if err := reporter.Report(context.Background(), 10); err != nil {
		logger.Error("failed to render shutdown summary", "error", err)
	}
}

// runReport prints the persisted portfolio and recent trades without
// connecting to anything. Useful while the sniper is stopped.
func runReport(cfg *config.Config, logger *slog.Logger) int {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.Store.Path)
		return 1
	}
	defer db.Close()

	book := portfolio.New(db, cfg.Portfolio.MaxPositions, logger)
	if err := book.Load(context.Background(), nil); err != nil {
		logger.Error("failed to load portfolio", "error", err)
		return 1
	}

	reporter := notify.NewConsoleReporter(os.Stdout, book, db)
	if err := reporter.Report(context.Background(), 20); err != nil {
		logger.Error("failed to render report", "error", err)
		return 1
	}
	return 0
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  cfg.MaxSizeMB,
			MaxAge:   cfg.MaxAgeDays,
			Compress: true,
		}
	}

	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
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
