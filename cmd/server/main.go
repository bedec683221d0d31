package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/riddle-dm/riddle-server-go/internal/combat"
	"github.com/riddle-dm/riddle-server-go/internal/command"
	"github.com/riddle-dm/riddle-server-go/internal/config"
	"github.com/riddle-dm/riddle-server-go/internal/dice"
	"github.com/riddle-dm/riddle-server-go/internal/notify"
	"github.com/riddle-dm/riddle-server-go/internal/registry"
	"github.com/riddle-dm/riddle-server-go/internal/server"
	"github.com/riddle-dm/riddle-server-go/internal/storage"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting RIDDLE server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// Create context that listens for termination signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize storage
	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.Error(err))
	}
	defer store.Close()
	logger.Info("storage initialized", zap.String("driver", driverName(cfg.Storage.Driver)))

	// Initialize connection registry
	reg := registry.New(logger, cfg.Registry.SessionTTL, cfg.Registry.SweepInterval)
	logger.Info("connection registry initialized",
		zap.Duration("session_ttl", cfg.Registry.SessionTTL),
		zap.Duration("sweep_interval", cfg.Registry.SweepInterval),
	)

	// Initialize WebSocket hub
	hub := server.NewHub(reg, store, logger)

	// Initialize notification router
	router := notify.NewRouter(reg, hub, logger)
	logger.Info("notification router initialized")

	// Initialize combat engine
	roller := dice.NewTimeRoller()
	engine := combat.NewEngine(store, router, roller, logger)
	logger.Info("combat engine initialized")

	// Initialize command dispatcher
	dispatcher := command.NewDispatcher(engine, router, logger)
	logger.Info("command dispatcher initialized",
		zap.Int("commands", len(dispatcher.Catalog())),
	)

	hub.Bind(dispatcher, router)

	// Start stale-session sweeper
	go reg.Run(ctx, hub.DropSession)

	// Start WebSocket server
	srv := server.NewServer(cfg.Server.Address, hub, store.Ping, logger)
	go func() {
		if serveErr := srv.ListenAndServe(); serveErr != nil {
			logger.Error("websocket server error", zap.Error(serveErr))
		}
	}()

	logger.Info("RIDDLE server initialized",
		zap.String("version", version),
		zap.String("address", cfg.Server.Address),
		zap.String("storage_driver", driverName(cfg.Storage.Driver)),
	)

	// Wait for termination signal
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	logger.Info("shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}

	logger.Info("RIDDLE server stopped")
}

func driverName(driver string) string {
	if driver == "" {
		return storage.DriverMemory
	}
	return driver
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
