package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"startline/internal/client"
	"startline/internal/pricing"
	"startline/internal/repository"
	"startline/internal/service"
	"startline/internal/worker"
	"startline/pkg/config"
	"startline/pkg/database"
	"startline/pkg/kafka"
	"startline/pkg/logger"
	pkgredis "startline/pkg/redis"
	"startline/pkg/retry"
)

// Standalone expiry sweeper. Runs the same sweep the API server embeds,
// for deployments that scale the API horizontally and want exactly one
// dedicated sweeper instead of one sweep loop per replica.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: "expiry-sweeper",
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Expiry Sweeper...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbCfg := &database.PostgresConfig{
		Host:          cfg.Database.Host,
		Port:          cfg.Database.Port,
		User:          cfg.Database.User,
		Password:      cfg.Database.Password,
		Database:      cfg.Database.DBName,
		SSLMode:       cfg.Database.SSLMode,
		MaxConns:      10,
		MinConns:      2,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to database: %v", err))
	}
	defer db.Close()
	appLog.Info("Database connected")

	redisCfg := &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      50,
		MinIdleConns:  10,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	}
	redisClient, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}
	defer redisClient.Close()
	appLog.Info("Redis connected")

	cartRepo := repository.NewPostgresCartRepository(db.Pool())
	catalogRepo := repository.NewPostgresCatalogRepository(db.Pool())
	ledger := repository.NewRedisLedger(redisClient)

	if err := ledger.LoadScripts(ctx); err != nil {
		appLog.Warn(fmt.Sprintf("Failed to pre-load Lua scripts: %v", err))
	} else {
		appLog.Info("Lua scripts pre-loaded into Redis")
	}

	// Kafka carries both cart events and the sweeper's dead letters
	var eventPublisher service.EventPublisher
	var dlqPublisher retry.DLQPublisher
	if cfg.Kafka.Enabled {
		eventPublisher, err = service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			ServiceName: "expiry-sweeper",
			ClientID:    "expiry-sweeper",
		})
		if err != nil {
			appLog.Warn(fmt.Sprintf("Kafka connection failed, using no-op publisher: %v", err))
			eventPublisher = service.NewNoOpEventPublisher()
		} else {
			defer eventPublisher.Close()
		}

		producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
			Brokers:       cfg.Kafka.Brokers,
			ClientID:      "expiry-sweeper-dlq",
			MaxRetries:    3,
			RetryInterval: 2 * time.Second,
		})
		if err != nil {
			appLog.Warn(fmt.Sprintf("DLQ producer unavailable: %v", err))
		} else {
			defer producer.Close()
			dlqPublisher = retry.NewKafkaDLQPublisher(
				&retry.KafkaProducerAdapter{Producer: producer},
				&retry.DLQConfig{Source: "expiry-sweeper"},
			)
		}
	} else {
		eventPublisher = service.NewNoOpEventPublisher()
	}

	cartService := service.NewCartService(
		cartRepo,
		catalogRepo,
		ledger,
		pricing.NewEngine(catalogRepo),
		&client.StaticLicenseVerifier{},
		eventPublisher,
		&service.CartServiceConfig{
			HoldDuration: cfg.Cart.HoldDuration,
			MaxItems:     cfg.Cart.MaxItems,
			Currency:     cfg.Payment.Currency,
		},
	)

	sweeper := worker.NewExpirySweeper(cartService, dlqPublisher, &worker.ExpirySweeperConfig{
		ScanInterval: cfg.Sweeper.ScanInterval,
		BatchSize:    cfg.Sweeper.BatchSize,
	})
	if err := sweeper.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start sweeper: %v", err))
	}

	appLog.Info("Expiry Sweeper started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLog.Info("Shutting down sweeper...")
	sweeper.Stop()
	cancel()

	appLog.Info("Sweeper exited gracefully")
}
