package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HerbHall/personagen/internal/config"
	"github.com/HerbHall/personagen/internal/event"
	"github.com/HerbHall/personagen/internal/ledger"
	"github.com/HerbHall/personagen/internal/orchestrator"
	"github.com/HerbHall/personagen/internal/server"
	"github.com/HerbHall/personagen/internal/store"
	"github.com/HerbHall/personagen/internal/version"
	"github.com/HerbHall/personagen/internal/webhook"
	"github.com/HerbHall/personagen/internal/ws"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version.Info())
		return
	}

	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "personagen: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	v, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("personagen starting", zap.String("version", version.Short()))
	if f := v.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("component", "config"), zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults", zap.String("component", "config"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []orchestrator.Option{
		orchestrator.WithRegisterer(prometheus.DefaultRegisterer),
		orchestrator.WithModerator(orchestrator.TopicModerator{}),
	}

	// Attempt ledger (optional).
	var (
		db       *store.SQLiteStore
		attempts *ledger.Ledger
		pruner   *ledger.Pruner
	)
	if path := cfg.Database.Path; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return fmt.Errorf("create data directory: %w", err)
		}
		db, err = store.New(path)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer func() { _ = db.Close() }()

		if err := db.CheckVersion(ctx, version.Short()); err != nil {
			return err
		}
		attempts, err = ledger.Open(ctx, db)
		if err != nil {
			return err
		}
		opts = append(opts, orchestrator.WithRecorder(attempts))
		logger.Info("attempt ledger initialized", zap.String("component", "ledger"), zap.String("path", path))

		if cfg.Database.Retention > 0 {
			pruner = ledger.NewPruner(attempts, cfg.Database.Retention, time.Hour, logger.Named("ledger"))
			pruner.Start(ctx)
		}
	} else {
		logger.Warn("database.path is empty, attempt ledger disabled", zap.String("component", "ledger"))
	}

	bus := event.NewBus(logger.Named("event"))
	bus.SubscribeAll(func(_ context.Context, e event.Event) {
		logger.Debug("event",
			zap.String("topic", e.Topic),
			zap.String("source", e.Source),
			zap.String("provider", e.Provider),
		)
	})
	opts = append(opts, orchestrator.WithBus(bus))

	notifier := webhook.New(cfg.Webhook, logger.Named("webhook"))
	if notifier != nil {
		defer notifier.Subscribe(bus)()
		notifier.Start(ctx)
	}

	stream := ws.NewHandler(bus, cfg.Server.StreamOrigins, logger.Named("ws"))
	defer stream.Close()

	providers := orchestrator.BuildProviders(cfg.Providers, logger.Named("providers"))
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	logger.Info("providers registered", zap.Strings("providers", names))

	orc, err := orchestrator.New(providers, cfg.Orchestrator, logger.Named("orchestrator"), opts...)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	orc.Start(ctx)

	srvOpts := server.Options{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		Gatherer:     prometheus.DefaultGatherer,
		Registerer:   prometheus.DefaultRegisterer,
		Routes:       []server.RouteRegistrar{stream},
	}
	if attempts != nil {
		srvOpts.Attempts = attempts
		srvOpts.Ready = func(ctx context.Context) error { return db.DB().PingContext(ctx) }
	}
	srv := server.New(orc, logger.Named("server"), srvOpts)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Info("personagen ready", zap.String("addr", cfg.Server.Addr()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	orc.Stop()
	if notifier != nil {
		notifier.Stop()
	}
	if pruner != nil {
		pruner.Stop()
	}
	logger.Info("personagen stopped")
	return nil
}
