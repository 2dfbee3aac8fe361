package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"vaultd/config"
	"vaultd/engine"
	"vaultd/journal"
	"vaultd/observability/logging"
	telemetry "vaultd/observability/otel"
	"vaultd/oracle"
	"vaultd/rpc"
	"vaultd/storage"
	"vaultd/token"
)

func main() {
	var (
		cfgPath   string
		writeInit bool
	)
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to the vaultd configuration file")
	flag.BoolVar(&writeInit, "init", false, "write a default configuration and asset registry, then exit")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("VAULTD_ENV"))
	logger := logging.Setup("vaultd", env)

	if writeInit {
		if err := config.WriteDefault(cfgPath); err != nil {
			log.Fatalf("vaultd: write default config: %v", err)
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatalf("vaultd: reload config: %v", err)
		}
		if err := config.WriteDefaultAssets(cfg.AssetsFile); err != nil {
			log.Fatalf("vaultd: write default assets: %v", err)
		}
		logger.Info("wrote default configuration", "config", cfgPath, "assets", cfg.AssetsFile)
		return
	}

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("vaultd", env))
	if err != nil {
		log.Fatalf("vaultd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("vaultd: load config: %v", err)
	}
	registry, err := config.LoadAssets(cfg.AssetsFile)
	if err != nil {
		log.Fatalf("vaultd: load assets: %v", err)
	}
	logger.Info("configuration loaded",
		"listen", cfg.ListenAddress,
		"assets", len(registry.Assets),
		"sources", len(cfg.Sources),
		"auth", cfg.Auth.Mode,
		logging.MaskField("bearer_token", cfg.Auth.BearerToken),
		logging.MaskField("jwt_secret", cfg.Auth.JWTSecret),
	)

	db, err := storage.NewLevelDB(cfg.StatePath)
	if err != nil {
		log.Fatalf("vaultd: open state database: %v", err)
	}
	defer db.Close()

	dsn, err := journal.FileDSN(cfg.JournalPath)
	if err != nil {
		log.Fatalf("vaultd: resolve journal DSN: %v", err)
	}
	jrnl, err := journal.Open(dsn)
	if err != nil {
		log.Fatalf("vaultd: open journal: %v", err)
	}
	defer jrnl.Close()

	store := storage.NewPositionStore(db)
	zusd := token.NewZUSD(db)
	bank := token.NewBank(db)
	agg := oracle.NewAggregator(oracle.StalenessWindow)

	eng, err := engine.NewEngine(registry.EngineAssets(), registry.FeedSpecs())
	if err != nil {
		log.Fatalf("vaultd: build engine: %v", err)
	}
	pauses := engine.NewPauseSwitch()
	for _, flow := range cfg.PausedFlows {
		pauses.SetPaused(flow, true)
	}
	hub := rpc.NewEventHub(logger)
	eng.SetState(store)
	eng.SetPriceSource(agg)
	eng.SetLiability(zusd)
	eng.SetCollateralBank(bank)
	eng.SetPauses(pauses)
	eng.SetLogger(logger)
	eng.SetEmitter(engine.Fanout(journal.NewEventRecorder(jrnl, logger), hub))

	sourceRegistry := &oracle.Registry{}
	sources := make([]oracle.Source, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		built, err := sourceRegistry.Build(src.Name, src.Type, src.Endpoint, src.APIKey, registry.FeedSpecs())
		if err != nil {
			log.Fatalf("vaultd: build source %s: %v", src.Name, err)
		}
		sources = append(sources, built)
	}
	mgr, err := oracle.NewManager(agg, sources, eng.FeedBindings(),
		cfg.Oracle.Interval.Duration, cfg.Oracle.MaxAge.Duration, cfg.Oracle.MinFeeds,
		oracle.WithLogger(logger), oracle.WithRecorder(jrnl),
	)
	if err != nil {
		log.Fatalf("vaultd: oracle manager: %v", err)
	}

	srv, err := rpc.New(rpc.Config{
		ListenAddress:     cfg.ListenAddress,
		AuthMode:          cfg.Auth.Mode,
		BearerToken:       cfg.Auth.BearerToken,
		JWTSecret:         cfg.Auth.JWTSecret,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
	}, rpc.Deps{
		Engine:  eng,
		Bank:    bank,
		ZUSD:    zusd,
		Journal: jrnl,
		Pauses:  pauses,
		Hub:     hub,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("vaultd: server: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := mgr.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("oracle manager exited", "error", err)
			stop()
		}
	}()

	if err := srv.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("rpc server error", "error", err)
		os.Exit(1)
	}
}
