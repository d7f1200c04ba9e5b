package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"lettercast/internal/cache"
	"lettercast/internal/common/logging"
	"lettercast/internal/config"
	"lettercast/internal/delivery"
	"lettercast/internal/invalidation"
	"lettercast/internal/mailer"
	"lettercast/internal/models"
	"lettercast/internal/redis"
	"lettercast/internal/server"
	"lettercast/internal/storage"
	_ "lettercast/internal/storage/postgres"
	_ "lettercast/internal/storage/sqlite"
	"lettercast/internal/tracker"
)

func main() {
	godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logging.InitGlobalLogger()
	logger := logging.GetGlobalLogger()

	// Persistent store (delivery records + subscriber status)
	store, err := newStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Remote cache connection manager; degraded Redis is survivable
	redisManager, err := redis.NewManager(&redis.Config{
		Address:           cfg.RedisAddress(),
		Username:          cfg.RedisUsername,
		Password:          cfg.RedisPassword,
		DB:                cfg.RedisDB,
		ConnectTimeout:    cfg.RedisConnectTimeout,
		CommandTimeout:    cfg.RedisCommandTimeout,
		PingTimeout:       cfg.RedisPingTimeout,
		HealthInterval:    cfg.RedisHealthInterval,
		MaxConnectRetries: cfg.RedisMaxConnectRetries,
		ConnectRetryDelay: cfg.RedisConnectRetryDelay,
		BreakerThreshold:  cfg.RedisBreakerThreshold,
		BreakerCooldown:   cfg.RedisBreakerCooldown,
		ReconnectCooldown: cfg.RedisReconnectCooldown,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize redis manager: %v", err)
	}

	cacheManager := cache.NewManager(cache.Config{
		Namespace:       cfg.CacheNamespace,
		LocalMaxEntries: cfg.CacheLocalMaxEntries,
		SweepInterval:   cfg.CacheSweepInterval,
		DefaultTTL:      cfg.CacheDefaultTTL,
	}, redisManager, logger)
	defer cacheManager.Close()

	// Keeps the cache coherent across subscriber mutations: the
	// unsubscribe endpoint and the bounce path both go through it.
	policy := invalidation.NewPolicy(cacheManager, logger)

	tokens, err := mailer.NewTokenIssuer(cfg.UnsubscribeSecret, 0)
	if err != nil {
		log.Fatalf("Failed to initialize unsubscribe tokens: %v", err)
	}

	generator := mailer.NewContentGenerator(cfg.PublicBaseURL, tokens)

	sender := mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.SMTPFrom,
		FromName:   cfg.SMTPFromName,
		UseTLS:     cfg.SMTPUseTLS,
		UseSSL:     cfg.SMTPUseSSL,
		SkipVerify: cfg.SMTPSkipVerify,
	}, logger)

	deliveryTracker := tracker.New(store, cfg.TrackerRetentionAge, cfg.TrackerRetentionBatch, logger)

	queue := delivery.NewQueue(delivery.Config{
		BatchSize:   cfg.QueueBatchSize,
		BatchDelay:  cfg.QueueBatchDelay,
		MaxAttempts: cfg.QueueMaxAttempts,
		RetryDelay:  cfg.QueueRetryDelay,
	}, sender, tracker.NewRecorder(deliveryTracker), subscriberStatuses{store: store, policy: policy}, logger)

	// Scheduled retention cleanup for delivery records
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.TrackerRetentionSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := deliveryTracker.Cleanup(ctx); err != nil {
			logger.Error("Retention cleanup failed", err)
		}
	}); err != nil {
		log.Fatalf("Invalid retention schedule: %v", err)
	}
	scheduler.Start()

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: server.New(server.Deps{
			Redis:     redisManager,
			Cache:     cacheManager,
			Queue:     queue,
			Tracker:   deliveryTracker,
			Store:     store,
			Tokens:    tokens,
			Generator: generator,
			Policy:    policy,
			BaseURL:   cfg.PublicBaseURL,
			Logger:    logger,
		}).Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Server starting", logging.Field{Key: "port", Value: cfg.Port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", err)
	}

	scheduler.Stop()

	if err := redisManager.Shutdown(ctx); err != nil {
		logger.Warn("Redis disconnect did not complete cleanly",
			logging.Field{Key: "error", Value: err.Error()},
		)
	}

	logger.Info("Shutdown complete")
}

func newStore(cfg *config.Config) (storage.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.DatabaseType {
	case "postgres":
		return storage.New(ctx, "postgres", map[string]string{
			"host":     cfg.PostgresHost,
			"port":     cfg.PostgresPort,
			"database": cfg.PostgresDB,
			"username": cfg.PostgresUser,
			"password": cfg.PostgresPassword,
			"sslmode":  cfg.PostgresSSLMode,
		})
	default:
		return storage.New(ctx, "sqlite", map[string]string{
			"path": cfg.DatabasePath,
		})
	}
}

// subscriberStatuses adapts the store to the queue's status
// collaborator and drops the subscriber's cache entries after every
// status change, so a bounce is visible immediately.
type subscriberStatuses struct {
	store  storage.Store
	policy *invalidation.Policy
}

func (s subscriberStatuses) SetStatus(ctx context.Context, address string, status models.SubscriberStatus) error {
	if err := s.store.SetSubscriberStatus(ctx, address, status); err != nil {
		return err
	}
	s.policy.InvalidateSubscriber(ctx, "", address)
	return nil
}
