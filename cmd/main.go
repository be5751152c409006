package main

import (
	"context"
	"log"

	"github.com/reportmill/internal/api"
	"github.com/reportmill/internal/config"
	"github.com/reportmill/internal/database"
	"github.com/reportmill/internal/delivery"
	"github.com/reportmill/internal/dispatch"
	"github.com/reportmill/internal/executor"
	"github.com/reportmill/internal/generator"
	"github.com/reportmill/internal/logger"
	"github.com/reportmill/internal/notify"
	"github.com/reportmill/internal/storage"
	"github.com/reportmill/internal/store"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.Error(err))
	}
	defer database.Close(db)

	files, err := storage.New(cfg.Storage.Dir)
	if err != nil {
		zlog.Fatal("failed to initialize artifact storage", zap.Error(err))
	}

	defs := store.NewDefinitions(db)
	runs := store.NewRuns(db)
	deliveries := store.NewDeliveries(db)

	// Generators for the supported report kinds are registered here; the
	// engine only owns the boundary, not the content.
	registry := generator.NewRegistry()

	exec := executor.New(runs, defs, registry, files, executor.Options{
		Workers:        cfg.Executor.Workers,
		QueueSize:      cfg.Executor.QueueSize,
		TenantParallel: int64(cfg.Executor.TenantParallel),
		Timeout:        cfg.RunTimeout(),
		PreviewRows:    cfg.Executor.PreviewRows,
	}, zlog)

	deliverer := delivery.NewDispatcher(deliveries, defs, delivery.Options{
		SMTPHost:       cfg.Delivery.SMTP.Host,
		SMTPPort:       cfg.Delivery.SMTP.Port,
		EmailFrom:      cfg.Delivery.SMTP.From,
		EmailPassword:  cfg.Delivery.SMTP.Password,
		WebhookTimeout: cfg.WebhookTimeout(),
		MaxAttempts:    cfg.Delivery.MaxAttempts,
		BackoffBase:    cfg.BackoffBase(),
	}, zlog)
	exec.OnFinished(deliverer.RunFinished)
	defer deliverer.Wait()

	if notifier := notify.NewSlackNotifier(cfg.Notify.Slack.Token, cfg.Notify.Slack.Channel, zlog); notifier != nil {
		exec.OnFinished(notifier.RunFinished)
	}

	ctx := context.Background()
	if err := exec.Start(ctx); err != nil {
		zlog.Fatal("failed to start executor", zap.Error(err))
	}
	defer exec.Stop()

	dispatcher := dispatch.New(defs, runs, exec, cfg.TickInterval(), zlog)
	dispatcher.Start()
	defer dispatcher.Stop()

	server := api.NewServer(defs, runs, deliveries, exec, zlog)
	if err := server.Start(cfg.Server.Port); err != nil {
		zlog.Fatal("failed to start server", zap.Error(err))
	}
}
