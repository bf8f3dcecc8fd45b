package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/acquisition"
	"github.com/smukkama/welfare-notifier/internal/admin"
	"github.com/smukkama/welfare-notifier/internal/alert"
	"github.com/smukkama/welfare-notifier/internal/broadcast"
	"github.com/smukkama/welfare-notifier/internal/cache"
	"github.com/smukkama/welfare-notifier/internal/database"
	"github.com/smukkama/welfare-notifier/internal/dispatch"
	"github.com/smukkama/welfare-notifier/internal/emergency"
	"github.com/smukkama/welfare-notifier/internal/logger"
	"github.com/smukkama/welfare-notifier/internal/notification"
	"github.com/smukkama/welfare-notifier/internal/provider"
	"github.com/smukkama/welfare-notifier/internal/queue"
	"github.com/smukkama/welfare-notifier/internal/retry"
	"github.com/smukkama/welfare-notifier/internal/scheduler"
	"github.com/smukkama/welfare-notifier/internal/sms"
	"github.com/smukkama/welfare-notifier/pkg/config"
)

// Task names shown in scheduler status
const (
	taskEmergencyPoll     = "emergency-poll"
	taskWeatherRefresh    = "weather-refresh"
	taskAirQualityRefresh = "air-quality-refresh"
	taskCacheCleanup      = "cache-cleanup"
	taskDailyBroadcast    = "daily-broadcast"
)

// auditSink records dispatches and processed alerts
type auditSink interface {
	dispatch.Recorder
	emergency.AlertLog
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Service)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("Notifier exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Schedule.Location)
	if err != nil {
		return fmt.Errorf("invalid schedule timezone: %w", err)
	}

	zlog.Info("Starting welfare notifier",
		zap.String("region", cfg.Providers.Region),
		zap.String("timezone", loc.String()),
	)

	// Redis cache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	store := cache.NewStore(rdb, cfg.Redis.KeyPrefix, zlog,
		cache.WithStaleRetention(cfg.Schedule.StaleCacheRetained))

	// Database
	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.RunMigrations("migrations", zlog); err != nil {
		return err
	}

	// Audit goes straight to Postgres unless the Kafka pipeline is enabled
	var audit auditSink = db
	if cfg.Kafka.Enabled {
		if err := queue.EnsureTopic(ctx, cfg.Kafka, 3, 1); err != nil {
			zlog.Warn("Audit topic not ensured", zap.Error(err))
		}
		producer := queue.NewProducer(cfg.Kafka)
		defer producer.Close()
		audit = queue.NewAuditPublisher(producer)
		zlog.Info("Publishing audit events to Kafka", zap.String("topic", cfg.Kafka.TopicAudit))
	}

	// Acquisition
	client := provider.NewClient(cfg.Providers, loc, zlog)
	retrier := retry.New(cfg.Providers.RetryAttempts, cfg.Providers.RetryDelay, cfg.Providers.RetryMultiplier)
	disasterRetrier := retry.New(cfg.Providers.RetryAttempts, cfg.Emergency.FetchRetryDelay, cfg.Providers.RetryMultiplier)
	acq := acquisition.NewService(store, client, retrier, cfg.Providers.Region, cfg.Emergency.LookbackHours, zlog,
		acquisition.WithDisasterRetrier(disasterRetrier))

	rules := alert.DefaultRules(cfg.Providers.Region)
	if cfg.Emergency.RulesPath != "" {
		if rules, err = alert.LoadRules(cfg.Emergency.RulesPath, cfg.Providers.Region); err != nil {
			return err
		}
	}
	classifier := alert.NewClassifier(rules)

	// Delivery
	dispatcher := dispatch.NewDispatcher(sms.NewTransport(cfg.SMS, zlog), audit, dispatch.Config{
		BatchSize:     cfg.Dispatch.BatchSize,
		BatchPause:    cfg.Dispatch.BatchPause,
		SingleRetries: cfg.Dispatch.SingleRetries,
		SingleDelay:   cfg.Dispatch.SingleDelay,
	}, zlog)

	monitor := emergency.NewMonitor(acq, db, classifier, dispatcher, emergency.Config{
		FetchTimeout:   cfg.Emergency.FetchTimeout,
		SLA:            cfg.Emergency.SLA,
		SendRetries:    cfg.Emergency.SendRetries,
		SendRetryDelay: cfg.Emergency.SendRetryDelay,
		LookbackHours:  cfg.Emergency.LookbackHours,
		DedupWindow:    cfg.Emergency.DedupWindow,
		DedupMaxSize:   cfg.Emergency.DedupMaxSize,
	}, zlog,
		emergency.WithAlertLog(audit),
		emergency.WithOpsNotifier(notification.NewEmailNotifier(&cfg.SMTP, zlog)),
	)

	if _, err := monitor.Restore(ctx, db); err != nil {
		zlog.Error("Processed alerts not restored, recent alerts may be resent", zap.Error(err))
	}

	// Scheduling
	runner := scheduler.NewRunner(zlog)
	if err := registerTasks(cfg, loc, runner, acq, store, monitor, broadcast.NewDaily(acq, db, dispatcher, cfg.Providers.Region, zlog)); err != nil {
		return err
	}
	if err := runner.StartAll(); err != nil {
		return err
	}

	var reminderManager admin.ReminderManager
	if cfg.Schedule.RemindersEnabled {
		reminders := broadcast.NewReminders(db, runner, dispatcher, loc, zlog)
		if _, err := reminders.Load(ctx); err != nil {
			zlog.Error("Reminders not loaded", zap.Error(err))
		}
		reminderManager = reminders
	}

	// Check for alerts right away instead of waiting a full interval
	if _, err := runner.RunNow(taskEmergencyPoll); err != nil {
		return err
	}

	// Admin surface
	srv := admin.NewServer(runner, monitor, reminderManager, zlog).HTTPServer(cfg.Admin.Addr)
	srvErr := make(chan error, 1)
	go func() {
		zlog.Info("Admin server listening", zap.String("addr", cfg.Admin.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		zlog.Info("Shutting down gracefully")
	case err := <-srvErr:
		zlog.Error("Admin server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("Admin server shutdown", zap.Error(err))
	}
	if err := runner.Close(shutdownCtx); err != nil {
		zlog.Warn("Scheduled tasks still running at shutdown", zap.Error(err))
	}

	zlog.Info("Welfare notifier stopped")
	return nil
}

func registerTasks(
	cfg *config.Config,
	loc *time.Location,
	runner *scheduler.Runner,
	acq *acquisition.Service,
	store *cache.Store,
	monitor *emergency.Monitor,
	daily *broadcast.Daily,
) error {
	runner.Register(taskEmergencyPoll, scheduler.Every(cfg.Emergency.PollInterval), func(ctx context.Context) error {
		report := monitor.Poll(ctx)
		if report.FetchError != "" {
			return errors.New(report.FetchError)
		}
		return nil
	})

	runner.Register(taskWeatherRefresh, scheduler.Every(cfg.Schedule.WeatherRefresh), func(ctx context.Context) error {
		_, err := acq.WeatherData(ctx, true)
		return err
	})

	runner.Register(taskAirQualityRefresh, scheduler.Every(cfg.Schedule.AirQualityRefresh), func(ctx context.Context) error {
		_, err := acq.AirQualityData(ctx, true)
		return err
	})

	runner.Register(taskCacheCleanup, scheduler.Every(cfg.Schedule.CacheCleanup), func(ctx context.Context) error {
		_, err := store.Cleanup(ctx)
		return err
	})

	if cfg.Schedule.BroadcastEnabled {
		hour, minute, err := config.ParseTimeOfDay(cfg.Schedule.DailyBroadcast)
		if err != nil {
			return err
		}
		runner.Register(taskDailyBroadcast, scheduler.DailyAt(hour, minute, loc), daily.Send)
	}

	return nil
}
