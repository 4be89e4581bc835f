package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wagate/internal/config"
	"wagate/internal/constants"
	"wagate/internal/database"
	"wagate/internal/poll"
	"wagate/internal/service"
	"wagate/internal/tracing"
	"wagate/pkg/waengine"

	"github.com/asaskevich/EventBus"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("wagate %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	// Local development convenience; a missing .env file is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Debugf("No .env file loaded: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting wagate")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	// The database file can live on storage that is still mounting at boot;
	// poll until it opens instead of failing the whole process immediately.
	dbResult := poll.Until(ctx, poll.Config{
		MaxDuration:     time.Duration(constants.DefaultDatabaseOpenWaitSec) * time.Second,
		InitialInterval: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
	}, func(ctx context.Context) (*database.Database, error) {
		return database.New(cfg.Database.Path)
	}, func(db *database.Database) bool {
		return db != nil
	}, logger)
	if dbResult.TimedOut || !dbResult.Found {
		return errors.New("failed to open database before deadline")
	}
	db := dbResult.Value
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warnf("Failed to close database: %v", err)
		}
	}()

	engine := waengine.NewClient(
		cfg.Engine.APIBaseURL,
		cfg.Engine.APIKey,
		time.Duration(cfg.Engine.TimeoutSec)*time.Second,
		logger,
	)

	bus := EventBus.New()
	dispatcher := service.NewWebhookDispatcher(cfg.Channels, time.Duration(cfg.Webhook.TimeoutSec)*time.Second, logger)
	if err := dispatcher.Subscribe(bus); err != nil {
		return fmt.Errorf("failed to subscribe webhook dispatcher: %w", err)
	}

	sessions := service.NewSessionManager(db, engine, service.NewBusNotifier(bus), logger)
	server := NewServer(cfg, sessions, engine, bus, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server shutdown error: %v", err)
	}
	sessions.Shutdown(shutdownCtx)

	return nil
}
