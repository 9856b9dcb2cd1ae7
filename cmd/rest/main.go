package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"openrecords-be/internal/bootstrap"
	"openrecords-be/internal/config"
	"openrecords-be/internal/model"
	"openrecords-be/internal/pkg/logger"
	"openrecords-be/internal/server"
	"openrecords-be/internal/tracer"
	"openrecords-be/pkg/database"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// 1. Load Configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	defer sysLogger.Sync()

	shutdownTracer := tracer.InitTracer(sysLogger)
	defer shutdownTracer(context.Background())

	// 2. Initialize Database
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	if err := model.Migrate(gormDB); err != nil {
		log.Fatalf("Unable to migrate database: %v", err)
	}

	// 3. Bootstrap Dependencies (Container)
	container, err := bootstrap.NewContainer(gormDB, cfg, sysLogger)
	if err != nil {
		log.Fatalf("Unable to build container: %v", err)
	}
	defer container.Close()

	srv := server.New(cfg, container)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Run server and background services until a signal arrives
	g, gctx := errgroup.WithContext(ctx)

	// The in-memory queue drops jobs published before a subscriber exists,
	// so subscribe first and then requeue what the last run left unfinished.
	if err := container.ConsumerService.Consume(gctx); err != nil {
		log.Fatalf("Unable to start ingestion consumer: %v", err)
	}
	if _, err := container.IngestionService.ResumePending(gctx); err != nil {
		sysLogger.Error("Main", "Failed to resume pending documents", map[string]interface{}{"error": err.Error()})
	}

	g.Go(func() error {
		return srv.Run()
	})
	g.Go(func() error {
		container.WebSocketHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sysLogger.Info("Main", "Shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		sysLogger.Error("Main", "Stopped with error", map[string]interface{}{"error": err.Error()})
	}
}
