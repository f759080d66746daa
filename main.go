package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"startline/internal/di"
	"startline/internal/metrics"
	"startline/internal/repository"
	"startline/internal/service"
	"startline/internal/worker"
	"startline/pkg/config"
	"startline/pkg/database"
	"startline/pkg/logger"
	"startline/pkg/middleware"
	pkgredis "startline/pkg/redis"
	"startline/pkg/telemetry"
)

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting registration cart service...")

	ctx := context.Background()

	// Tracing
	if cfg.OTel.Enabled {
		if _, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:        true,
			ServiceName:    cfg.OTel.ServiceName,
			ServiceVersion: cfg.App.Version,
			Environment:    cfg.App.Environment,
			CollectorAddr:  cfg.OTel.CollectorAddr,
		}); err != nil {
			appLog.Warn(fmt.Sprintf("Telemetry init failed, continuing without tracing: %v", err))
		} else {
			defer telemetry.Shutdown(context.Background())
		}
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn(fmt.Sprintf("Metrics init failed: %v", err))
	}

	// PostgreSQL holds carts and the race catalog
	dbCfg := &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   1 * time.Second,
	}
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Database connection failed: %v", err))
	}
	defer db.Close()
	appLog.Info(fmt.Sprintf("Database connected (pool: min=%d, max=%d)", dbCfg.MinConns, dbCfg.MaxConns))

	// Redis holds the inventory ledger
	redisCfg := &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		PoolTimeout:   cfg.Redis.PoolTimeout,
	}
	redisClient, err := pkgredis.NewClient(ctx, redisCfg)
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Redis connection failed: %v", err))
	}
	defer redisClient.Close()
	appLog.Info(fmt.Sprintf("Redis connected (pool: %d, minIdle: %d)", redisCfg.PoolSize, redisCfg.MinIdleConns))

	// Kafka event publisher, optional
	var eventPublisher service.EventPublisher
	if cfg.Kafka.Enabled {
		eventPublisher, err = service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			ServiceName: cfg.App.Name,
			ClientID:    cfg.Kafka.ClientID,
		})
		if err != nil {
			appLog.Warn(fmt.Sprintf("Kafka connection failed, using no-op publisher: %v", err))
			eventPublisher = service.NewNoOpEventPublisher()
		} else {
			appLog.Info("Kafka event publisher connected")
			defer eventPublisher.Close()
		}
	} else {
		eventPublisher = service.NewNoOpEventPublisher()
	}

	container, err := di.NewContainer(&di.ContainerConfig{
		Config:         cfg,
		DB:             db,
		Redis:          redisClient,
		EventPublisher: eventPublisher,
	})
	if err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to build container: %v", err))
	}

	// Pre-load ledger Lua scripts into Redis
	if ledger, ok := container.Ledger.(*repository.RedisLedger); ok {
		if err := ledger.LoadScripts(ctx); err != nil {
			appLog.Warn(fmt.Sprintf("Failed to pre-load Lua scripts: %v", err))
		} else {
			appLog.Info("Lua scripts pre-loaded into Redis")
		}
	}

	// In-process sweeper returns lapsed holds to the ledger
	sweeper := worker.NewExpirySweeper(container.CartService, nil, &worker.ExpirySweeperConfig{
		ScanInterval: cfg.Sweeper.ScanInterval,
		BatchSize:    cfg.Sweeper.BatchSize,
	})
	if err := sweeper.Start(ctx); err != nil {
		appLog.Fatal(fmt.Sprintf("Failed to start sweeper: %v", err))
	}
	defer sweeper.Stop()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DisableConsoleColor()

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.OTel.Enabled {
		router.Use(telemetry.TracingMiddleware(cfg.OTel.ServiceName))
	}

	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	router.GET("/metrics", func(c *gin.Context) {
		stats := db.Stats()
		c.JSON(http.StatusOK, gin.H{
			"db_pool": gin.H{
				"total_conns":        stats.TotalConns(),
				"acquired_conns":     stats.AcquiredConns(),
				"idle_conns":         stats.IdleConns(),
				"max_conns":          stats.MaxConns(),
				"constructing_conns": stats.ConstructingConns(),
			},
		})
	})

	v1 := router.Group("/api/v1")
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"version": cfg.App.Version,
				"service": cfg.App.Name,
			})
		})

		// Public catalog browsing
		races := v1.Group("/races")
		{
			races.GET("", container.RaceHandler.ListRaces)
			races.GET("/:id", container.RaceHandler.GetRace)
			races.GET("/:id/availability", container.RaceHandler.GetAvailability)
		}

		// Cart routes require a session
		carts := v1.Group("/carts")
		carts.Use(middleware.SessionMiddleware(container.SessionManager))

		idempotencyConfig := middleware.DefaultIdempotencyConfig(redisClient.Client())
		idempotencyConfig.TTL = cfg.Cart.IdempotencyTTL
		idempotencyConfig.SkipPaths = []string{"/health", "/ready", "/metrics"}

		{
			// Write operations with idempotency
			carts.POST("", middleware.IdempotencyMiddleware(idempotencyConfig), container.CartHandler.CreateCart)
			carts.POST("/:id/items", middleware.IdempotencyMiddleware(idempotencyConfig), container.CartHandler.AddItem)
			carts.POST("/:id/reserve", middleware.IdempotencyMiddleware(idempotencyConfig), container.CartHandler.Reserve)
			carts.POST("/:id/extend", middleware.IdempotencyMiddleware(idempotencyConfig), container.CartHandler.Extend)
			carts.POST("/:id/checkout", middleware.IdempotencyMiddleware(idempotencyConfig), container.CartHandler.Checkout)
			carts.DELETE("/:id/items/:item_id", middleware.IdempotencyMiddleware(idempotencyConfig), container.CartHandler.RemoveItem)
			carts.DELETE("/:id", middleware.IdempotencyMiddleware(idempotencyConfig), container.CartHandler.Cancel)

			// Read operations without idempotency
			carts.GET("", container.CartHandler.ListCarts)
			carts.GET("/:id", container.CartHandler.GetCart)
		}

		// Admin routes
		admin := v1.Group("/admin")
		{
			admin.POST("/sync-inventory", container.AdminHandler.SyncInventory)
			admin.POST("/expire-carts", container.AdminHandler.ExpireCarts)
			admin.GET("/inventory-status", container.AdminHandler.GetInventoryStatus)
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// pprof on a separate port
	go func() {
		pprofAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1000)
		appLog.Info(fmt.Sprintf("pprof server listening on %s", pprofAddr))
		if err := http.ListenAndServe(pprofAddr, nil); err != nil {
			appLog.Error(fmt.Sprintf("pprof server error: %v", err))
		}
	}()

	go func() {
		appLog.Info(fmt.Sprintf("Registration cart service listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal(fmt.Sprintf("Failed to start server: %v", err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Fatal(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	appLog.Info("Server exited gracefully")
}
