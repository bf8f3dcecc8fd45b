package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/database"
	"github.com/smukkama/welfare-notifier/internal/logger"
	"github.com/smukkama/welfare-notifier/internal/queue"
	"github.com/smukkama/welfare-notifier/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format, "welfare-auditwriter")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		zlog.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := db.RunMigrations("migrations", zlog); err != nil {
		zlog.Fatal("Failed to run migrations", zap.Error(err))
	}

	consumer := queue.NewConsumer(cfg.Kafka)
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	batchWriter := queue.NewBatchWriter(consumer, db, cfg.Kafka.BatchSize, cfg.Kafka.FlushInterval, zlog)
	batchWriter.Start(ctx)

	zlog.Info("Audit writer running",
		zap.String("topic", cfg.Kafka.TopicAudit),
		zap.String("group", cfg.Kafka.ConsumerGroup),
		zap.Int("batch_size", cfg.Kafka.BatchSize),
		zap.Duration("flush_interval", cfg.Kafka.FlushInterval),
	)

	// Print consumer stats periodically
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zlog.Info("Shutting down gracefully")
			batchWriter.Stop()
			zlog.Info("Audit writer stopped")
			return
		case <-ticker.C:
			stats := consumer.Stats()
			zlog.Info("Consumer stats",
				zap.Int64("messages", stats.Messages),
				zap.Int64("bytes", stats.Bytes),
				zap.Int64("errors", stats.Errors),
				zap.Int64("lag", stats.Lag),
			)
		}
	}
}
