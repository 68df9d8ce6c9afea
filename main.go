package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"scalper-core/internal/api"
	"scalper-core/internal/audit"
	"scalper-core/internal/engine"
	"scalper-core/internal/events"
	"scalper-core/internal/indicators"
	"scalper-core/internal/market"
	"scalper-core/internal/monitor"
	"scalper-core/internal/notify"
	"scalper-core/internal/order"
	"scalper-core/internal/position"
	"scalper-core/internal/reconciliation"
	"scalper-core/internal/risk"
	"scalper-core/internal/state"
	"scalper-core/internal/strategy"
	"scalper-core/pkg/config"
	"scalper-core/pkg/db"
	"scalper-core/pkg/exchanges/bithumb"
	"scalper-core/pkg/exchanges/common"
	"scalper-core/pkg/exchanges/paper"
	"scalper-core/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		var cerr *config.ConfigurationError
		if errors.As(err, &cerr) {
			fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", cerr)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogPretty)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("scalper stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := cfg.Mode()
	log.Info().Str("mode", mode).Str("symbol", cfg.Symbol).Str("strategy", cfg.Strategy).Msg("starting scalper")

	// Database
	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("migrate journal: %w", err)
	}

	trail, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	defer trail.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(reg)
	bus := events.NewBus()

	// Notifications
	var sink notify.Sink = notify.NewLogSink(log)
	if cfg.HasTelegram() {
		tg, err := notify.NewTelegramSink(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err != nil {
			return fmt.Errorf("telegram sink: %w", err)
		}
		sink = tg
	}
	ncfg := notify.DefaultConfig()
	ncfg.WALPath = cfg.NotifyWALPath
	ncfg.QueueSize = cfg.NotifyQueueSize
	ncfg.MaxAttempts = cfg.NotifyMaxAttempts
	ncfg.DedupeWindow = cfg.NotifyDedupeWindow
	notifier, err := notify.NewService(ncfg, sink, log, metrics)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	defer notifier.Close()

	// Venue
	feed, venue, venueName := buildVenue(cfg, mode)
	log.Info().Str("venue", venueName).Bool("mock_feed", cfg.UseMockFeed).Msg("venue ready")

	// Strategy
	stratFile, err := strategy.LoadConfig(cfg.StrategyConfigPath)
	if err != nil {
		return &config.ConfigurationError{Field: "STRATEGY_CONFIG", Reason: err.Error()}
	}
	strat, err := strategy.New(cfg.Strategy, stratFile)
	if err != nil {
		return &config.ConfigurationError{Field: "STRATEGY", Reason: err.Error()}
	}
	indCfg := indicators.DefaultConfig()
	indCfg.FastPeriod = cfg.EMAFast
	indCfg.SlowPeriod = cfg.EMASlow
	indCfg.RSIPeriod = cfg.RSIPeriod

	// Positions, session and risk
	positions := position.NewManager(position.ExitConfig{
		FeeRate:             cfg.FeeRate,
		TakeProfitPct:       cfg.TakeProfitPct,
		StopLossPct:         cfg.StopLossPct,
		TrailingStopPct:     cfg.TrailingStopPct,
		PartialExitFraction: cfg.PartialExitPct,
	})
	session := state.NewSession(0, time.Now())
	kill := risk.NewKillSwitch(cfg.KillSwitchFile, log)
	gate := risk.NewGate(risk.GateConfig{
		DailyTargetPct:       cfg.DailyTargetPct,
		DailyStopLossPct:     cfg.DailyStopLossPct,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		CooldownAfterLoss:    cfg.CooldownAfterLoss,
		HaltOnDailyLimit:     cfg.HaltOnDailyLimit,
		MaxOpenPositions:     cfg.MaxOpenPositions,
	}, kill)
	sizer := risk.NewSizer(risk.SizerConfig{
		MaxPositionPct:  cfg.MaxPositionPct,
		MinOrderValue:   cfg.MinOrderValue,
		MaxOrderValue:   cfg.MaxOrderValue,
		RiskPerTradePct: cfg.RiskPerTradePct,
	})

	executor := order.NewExecutor(order.Config{
		Mode:          mode,
		Symbol:        cfg.Symbol,
		BaseCurrency:  cfg.BaseCurrency,
		QuoteCurrency: cfg.QuoteCurrency,
		FeeRate:       cfg.FeeRate,
		Strategy:      strat.Name(),
		CallTimeout:   cfg.CallTimeout,
	}, order.Deps{
		Venue:     venue,
		Positions: positions,
		Session:   session,
		Journal:   database,
		Audit:     trail,
		Metrics:   metrics,
		Notifier:  notifier,
		Bus:       bus,
		Log:       log,
	})

	ecfg := engine.Config{
		Mode:                 mode,
		Symbol:               cfg.Symbol,
		BaseCurrency:         cfg.BaseCurrency,
		QuoteCurrency:        cfg.QuoteCurrency,
		FeeRate:              cfg.FeeRate,
		PollInterval:         cfg.PollInterval,
		RunFor:               cfg.RunDuration(),
		CallTimeout:          cfg.CallTimeout,
		SummaryEveryTicks:    cfg.SummaryEveryTicks,
		MarketDataAlertAfter: cfg.MarketDataAlertAfter,
		FlushTimeout:         5 * time.Second,
		ScaleInEnabled:       cfg.ScaleInEnabled,
		ScaleInThreshold:     cfg.ScaleInThreshold,
		ScaleInMinStrength:   cfg.ScaleInMinStrength,
		LoadPreexisting:      cfg.LoadPreexisting,
	}
	eng, err := engine.New(ecfg, engine.Deps{
		Feed:       feed,
		Account:    venue,
		Executor:   executor,
		Positions:  positions,
		Session:    session,
		Window:     indicators.NewWindow(cfg.CandleWindow),
		Calculator: indicators.NewCalculator(indCfg),
		Strategy:   strat,
		Sizer:      sizer,
		Gate:       gate,
		Persister:  state.NewFileStore(cfg.StateFile),
		Notifier:   notifier,
		Flusher:    notifier,
		Audit:      trail,
		Metrics:    metrics,
		Bus:        bus,
		Log:        log,
	})
	if err != nil {
		return err
	}

	// The notifier outlives the engine so the session-end messages can be flushed.
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	defer stopNotify()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return notifier.Run(notifyCtx) })

	bootCtx, cancelBoot := context.WithTimeout(ctx, 3*cfg.CallTimeout)
	err = eng.Bootstrap(bootCtx)
	cancelBoot()
	if err != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = notifier.Flush(flushCtx)
		cancel()
		stopNotify()
		_ = g.Wait()
		return fmt.Errorf("bootstrap: %w", err)
	}

	g.Go(func() error {
		if err := kill.Watch(gctx); err != nil {
			// The switch is still polled on every gate evaluation.
			log.Warn().Err(err).Str("file", kill.Path()).Msg("kill switch watcher unavailable")
		}
		return nil
	})

	if cfg.ReconcileInterval > 0 {
		reconciler := reconciliation.NewService(reconciliation.Config{
			Currency: cfg.BaseCurrency,
			Interval: cfg.ReconcileInterval,
		}, venue, eng, notifier, trail, metrics, log)
		g.Go(func() error { return reconciler.Run(gctx) })
	}

	if cfg.EnableAPI {
		server := api.NewServer(api.Options{
			Bus:      bus,
			Engine:   eng,
			Journal:  database,
			Gatherer: reg,
			Meta: api.SystemMeta{
				Mode:      mode,
				Venue:     venueName,
				Symbol:    cfg.Symbol,
				Strategy:  strat.Name(),
				MockFeed:  cfg.UseMockFeed,
				StartedAt: session.StartedAt,
			},
			TickLatency: metrics.TickLatency,
			Delivery:    notifier,
			RatePerSec:  cfg.APIRateLimit,
			Burst:       cfg.APIBurst,
			CORSOrigins: cfg.CORSOrigins,
			Log:         log,
		})
		g.Go(func() error { return server.Start(gctx, cfg.APIAddr) })
	}

	g.Go(func() error {
		defer stopNotify()
		// A session that ends on its own takes the API and watchers down with it.
		defer stop()
		return eng.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("scalper exited cleanly")
	return nil
}

// buildVenue picks the price source and the account/order venue for mode. Live trading uses
// Bithumb for everything; paper trading simulates the account against the Bithumb ticker or
// the mock feed.
func buildVenue(cfg *config.Config, mode string) (common.MarketData, common.Venue, string) {
	client := bithumb.New(bithumb.Config{
		BaseURL:   cfg.BithumbBaseURL,
		APIKey:    cfg.BithumbAPIKey,
		APISecret: cfg.BithumbAPISecret,
		Market:    cfg.Market,
		Timeout:   cfg.CallTimeout,
	})
	if mode == "live" {
		return client, client, "bithumb"
	}

	var feed common.MarketData = client
	if cfg.UseMockFeed {
		feed = market.NewMockFeed(0, 0.002, 0)
	}
	sim := paper.New(paper.Config{
		BaseCurrency:  cfg.BaseCurrency,
		QuoteCurrency: cfg.QuoteCurrency,
		QuoteBalance:  cfg.PaperStartingBalance,
		FeeRate:       cfg.FeeRate,
	}, feed)
	return sim, sim, "paper"
}
