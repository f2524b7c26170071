// Package main runs the intraday pattern trading engine: tick feed in,
// candle aggregation, pattern screening, risk-sized orders out, with an
// operator HTTP surface for probes, metrics and graceful stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"pattern-trader/internal/broker"
	"pattern-trader/internal/config"
	"pattern-trader/internal/domain"
	"pattern-trader/internal/engine"
	"pattern-trader/internal/feed"
	"pattern-trader/internal/market"
	"pattern-trader/internal/observability"
	"pattern-trader/internal/operator"
	"pattern-trader/internal/orders"
	"pattern-trader/internal/retry"
	"pattern-trader/internal/storage"
	chstore "pattern-trader/internal/storage/clickhouse"
	"pattern-trader/internal/storage/memory"
	"pattern-trader/internal/storage/migrations"
	pgstore "pattern-trader/internal/storage/postgres"
)

type stores struct {
	audit      storage.AuditEventStore
	runtimeCfg storage.RuntimeConfigStore
	archive    storage.BarArchiveStore
}

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("ENGINE_CONFIG"), "Path to YAML config file")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	symbols := flag.String("symbols", "", "Comma-separated symbol universe override")
	mode := flag.String("mode", "", "Trading mode override: LIVE or PAPER")
	operatorAddr := flag.String("operator-addr", "", "Operator HTTP listener address override")
	logLevel := flag.String("log-level", "", "Log level override: trace, debug, info, warn, error")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg, *postgresDSN, *clickhouseDSN, *useMemory, *symbols, *mode, *operatorAddr, *logLevel)

	log := newLogger(cfg.App.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	session := cfg.Session
	if err := session.Resolve(); err != nil {
		log.Fatal().Err(err).Msg("session calendar")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics("pattern_trader")

	st, cleanup, err := createStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("storage")
	}
	defer cleanup()

	runtime := loadRuntime(ctx, cfg, st.runtimeCfg, log)

	store := market.NewStore(market.StoreConfig{
		BarInterval:    cfg.Aggregation.BarInterval.Std(),
		TickBufferSize: cfg.Aggregation.TickBufferSize,
		HighWaterPct:   cfg.Aggregation.HighWaterPct,
	}, log, metrics)

	tickFeed, err := createFeed(cfg, log, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("feed")
	}

	brk, err := createBroker(cfg, runtime, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("broker")
	}

	limits := func() domain.RiskLimits { return runtime.Risk }
	manager := orders.NewManager(orders.Options{
		Broker:  brk,
		Prices:  store,
		Audit:   st.audit,
		Logger:  log,
		Metrics: metrics,
		StatusPolicy: retry.Policy{
			MaxAttempts: cfg.Broker.StatusAttempts,
			BaseDelay:   200 * time.Millisecond,
			CapDelay:    2 * time.Second,
			Factor:      2.0,
		},
		OrderTimeout: cfg.Broker.OrderTimeout.Std(),
		Limits:       limits,
	})
	monitor := orders.NewMonitor(orders.MonitorOptions{
		Manager: manager,
		Logger:  log,
		Metrics: metrics,
		Limits:  limits,
	})

	eng, err := engine.New(engine.Options{
		Config:  cfg,
		Runtime: runtime,
		Session: &session,
		Feed:    tickFeed,
		Market:  store,
		Broker:  brk,
		Orders:  manager,
		Monitor: monitor,
		Archive: st.archive,
		Audit:   st.audit,
		Logger:  log,
		Metrics: metrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("engine")
	}

	opSrv := operator.NewServer(operator.Options{
		Addr:   cfg.App.OperatorAddr,
		Engine: eng,
		Stop:   cancel,
		Logger: log,
	})
	go func() {
		if err := opSrv.Start(); err != nil {
			log.Error().Err(err).Msg("operator server failed")
		}
	}()

	// First SIGINT/SIGTERM stops gracefully, a second one forces exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")
		cancel()
		select {
		case sig = <-sigCh:
			log.Warn().Str("signal", sig.String()).Msg("forcing immediate exit")
			os.Exit(1)
		case <-time.After(cfg.Engine.ShutdownGrace.Std() + 30*time.Second):
			log.Error().Msg("graceful shutdown timed out")
			os.Exit(1)
		}
	}()

	err = eng.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if serr := opSrv.Shutdown(shutdownCtx); serr != nil {
		log.Warn().Err(serr).Msg("operator server shutdown")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("engine exited with error")
	}
	log.Info().Msg("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func applyOverrides(cfg *config.Config, postgresDSN, clickhouseDSN string, useMemory bool, symbols, mode, operatorAddr, logLevel string) {
	if postgresDSN != "" {
		cfg.Storage.PostgresDSN = postgresDSN
	}
	if clickhouseDSN != "" {
		cfg.Storage.ClickhouseDSN = clickhouseDSN
	}
	if useMemory {
		cfg.Storage.UseMemory = true
	}
	if symbols != "" {
		var universe []string
		for _, s := range strings.Split(symbols, ",") {
			if s = strings.TrimSpace(s); s != "" {
				universe = append(universe, strings.ToUpper(s))
			}
		}
		cfg.Runtime.Universe = universe
	}
	if mode != "" {
		cfg.Runtime.Mode = domain.TradingMode(strings.ToUpper(mode))
	}
	if operatorAddr != "" {
		cfg.App.OperatorAddr = operatorAddr
	}
	if logLevel != "" {
		cfg.App.LogLevel = logLevel
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

// createStores wires persistence: everything in memory, or audit and
// runtime config on PostgreSQL with the bar archive on ClickHouse.
func createStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, func(), error) {
	if cfg.Storage.UseMemory {
		log.Info().Msg("using in-memory storage")
		return &stores{
			audit:      memory.NewAuditEventStore(),
			runtimeCfg: memory.NewRuntimeConfigStore(),
			archive:    memory.NewBarArchiveStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	cleanup := func() {
		pool.Close()
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("clickhouse close")
		}
	}
	return &stores{
		audit:      pgstore.NewAuditEventStore(pool),
		runtimeCfg: pgstore.NewRuntimeConfigStore(pool),
		archive:    chstore.NewBarArchiveStore(conn),
	}, cleanup, nil
}

// loadRuntime prefers the persisted runtime config, falling back to the
// YAML values and saving them as the initial persisted copy.
func loadRuntime(ctx context.Context, cfg *config.Config, rcs storage.RuntimeConfigStore, log zerolog.Logger) domain.RuntimeConfig {
	saved, err := rcs.Load(ctx)
	if err == nil {
		log.Info().Time("updated_at", saved.UpdatedAt).Msg("runtime config loaded from store")
		return *saved
	}
	if !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Msg("runtime config load failed, using file config")
	}
	if err := rcs.Save(ctx, &cfg.Runtime); err != nil {
		log.Warn().Err(err).Msg("runtime config save failed")
	}
	return cfg.Runtime
}

func createFeed(cfg *config.Config, log zerolog.Logger, metrics *observability.Metrics) (feed.TickFeed, error) {
	switch cfg.Feed.Provider {
	case "stub":
		return feed.NewStubFeed(), nil
	case "websocket":
		wsCfg := feed.DefaultWSFeedConfig()
		wsCfg.APIKey = os.Getenv(cfg.Feed.APIKeyEnv)
		wsCfg.HandshakeTimeout = cfg.Feed.ConnectTimeout.Std()
		wsCfg.PingInterval = cfg.Feed.PingInterval.Std()
		wsCfg.ReadTimeout = cfg.Feed.ReadTimeout.Std()
		wsCfg.Reconnect = retry.Policy{
			MaxAttempts: cfg.Feed.MaxReconnects,
			BaseDelay:   cfg.Feed.ReconnectBase.Std(),
			CapDelay:    cfg.Feed.ReconnectCap.Std(),
			Factor:      2.0,
			Jitter:      0.2,
		}
		return feed.NewWSFeed(cfg.Feed.Endpoint, &wsCfg, log, metrics), nil
	default:
		return nil, fmt.Errorf("unknown feed provider %q", cfg.Feed.Provider)
	}
}

// createBroker returns the paper simulator unless the session is LIVE,
// which requires broker credentials in the environment.
func createBroker(cfg *config.Config, runtime domain.RuntimeConfig, prices broker.PriceSource, log zerolog.Logger) (broker.Broker, error) {
	if runtime.Mode == domain.ModeLive {
		if os.Getenv(cfg.Broker.APIKeyEnv) == "" || os.Getenv(cfg.Broker.APISecretEnv) == "" {
			return nil, fmt.Errorf("live mode requires %s and %s in the environment", cfg.Broker.APIKeyEnv, cfg.Broker.APISecretEnv)
		}
		return nil, fmt.Errorf("no live broker adapter is wired for this build; run in PAPER mode")
	}

	opts := broker.DefaultPaperOptions()
	opts.SlippageBps = cfg.Broker.PaperSlippageBps
	opts.RejectRate = cfg.Broker.PaperRejectRate
	opts.Capital = cfg.Broker.PaperCapital
	return broker.NewPaperBroker(opts, prices, log), nil
}
