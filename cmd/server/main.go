// Package main runs the recordings HTTP API with the engine webhook receiver, the notification fan-out
// and, when enabled, the orphaned-lock collector.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/recordings/config"
	"github.com/aura-webinar/recordings/internal/auth"
	"github.com/aura-webinar/recordings/internal/egress"
	"github.com/aura-webinar/recordings/internal/events"
	"github.com/aura-webinar/recordings/internal/gc"
	"github.com/aura-webinar/recordings/internal/metrics"
	"github.com/aura-webinar/recordings/internal/middleware"
	"github.com/aura-webinar/recordings/internal/preferences"
	"github.com/aura-webinar/recordings/internal/recordings"
	"github.com/aura-webinar/recordings/internal/rooms"
	"github.com/aura-webinar/recordings/pkg/cache"
	"github.com/aura-webinar/recordings/pkg/clock"
	"github.com/aura-webinar/recordings/pkg/dualwrite"
	"github.com/aura-webinar/recordings/pkg/lock"
	"github.com/aura-webinar/recordings/pkg/redis"
	"github.com/aura-webinar/recordings/pkg/response"
	"github.com/aura-webinar/recordings/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	objects, err := storage.New(ctx, storageConfig(cfg), logger)
	if err != nil {
		logger.Fatal("object store", zap.Error(err))
	}

	clk := clock.Real{}
	m := metrics.New()
	kv := cache.NewRedis(rdb.Universal(), "recordings:cache:", logger)
	store := dualwrite.New(objects, kv, cfg.Redis.CacheTTL, logger)
	locks := lock.NewManager(rdb.Universal(), clk, logger)

	engine := egress.NewClient(egress.Config{
		URL:        cfg.Engine.URL,
		APIKey:     cfg.Engine.APIKey,
		APISecret:  cfg.Engine.APISecret,
		RetryCount: cfg.Engine.RetryCount,
		Timeout:    cfg.Engine.Timeout,
	}, nil, logger)

	hub := egress.NewHub(logger)
	fanout := egress.NewRedisFanout(rdb.Universal(), hub, logger)

	var publisher events.Publisher = events.Nop{}
	if cfg.Kafka.Brokers != "" {
		publisher = events.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		logger.Info("recording events enabled", zap.String("topic", cfg.Kafka.Topic))
	}
	defer publisher.Close()

	// Rooms and preferences
	roomRepo := rooms.NewRepository(store)
	roomHandler := rooms.NewHandler(roomRepo, cfg.Server.PublicBaseURL, logger)
	prefRepo := preferences.NewRepository(store)
	prefHandler := preferences.NewHandler(prefRepo, logger)

	// Recordings
	recordingSvc := recordings.NewService(recordings.Deps{
		Repo:        recordings.NewRepository(store, kv),
		Locks:       locks,
		Engine:      engine,
		Hub:         hub,
		Notifier:    fanout,
		Rooms:       roomRepo,
		Preferences: prefRepo,
		Media:       objects,
		Events:      publisher,
		Metrics:     m,
		Clock:       clk,
	}, recordings.Config{
		LockTTL:       cfg.Recording.LockTTL,
		StartTimeout:  cfg.Recording.StartTimeout,
		PresignExpiry: cfg.Storage.PresignExpiry,
	}, logger)
	recordingHandler := recordings.NewHandler(recordingSvc, logger)
	webhookHandler := recordings.NewWebhookHandler(recordingSvc, cfg.Webhook.Secret, cfg.Webhook.MaxAge, clk, logger)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.NoRoute(func(c *gin.Context) { response.NotFound(c, "route not found") })

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	// Engine webhooks (no JWT; signature verified in handler)
	router.POST("/webhooks/egress", webhookHandler.Egress)

	// Media access is authorized by the recording's access secret
	router.GET("/recordings/:recordingId/media-url", recordingHandler.MediaURL)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Rooms
		api.POST("/rooms", middleware.RequireUnscoped(), roomHandler.Create)
		api.GET("/rooms/:roomId", roomHandler.Get)
		api.DELETE("/rooms/:roomId", middleware.RequireUnscoped(), roomHandler.Delete)

		// Preferences
		api.GET("/preferences", prefHandler.Get)
		api.PUT("/preferences", middleware.RequireUnscoped(), middleware.RequireRole(auth.RoleAdmin), prefHandler.Update)

		// Recordings
		api.POST("/recordings", recordingHandler.Start)
		api.GET("/recordings", recordingHandler.List)
		api.DELETE("/recordings", recordingHandler.BulkDelete)
		api.GET("/recordings/:recordingId", recordingHandler.Get)
		api.DELETE("/recordings/:recordingId", recordingHandler.Delete)
		api.POST("/recordings/:recordingId/stop", recordingHandler.Stop)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if err := fanout.Start(bgCtx); err != nil {
		logger.Fatal("notification fan-out", zap.Error(err))
	}

	if cfg.GC.Enabled {
		collector := gc.NewCollector(locks, engine, clk, m, gc.Config{
			Prefix:   recordings.LockPrefix,
			Interval: cfg.GC.Interval,
			Grace:    cfg.GC.Grace,
		}, logger)
		go collector.Run(bgCtx)
		logger.Info("orphaned-lock collector started", zap.Duration("interval", cfg.GC.Interval))
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	bgCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Backend: cfg.Storage.Backend,
		S3: storage.S3Config{
			Region:          cfg.Storage.S3.Region,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			Endpoint:        cfg.Storage.S3.Endpoint,
			ForcePathStyle:  cfg.Storage.S3.ForcePathStyle,
			Bucket:          cfg.Storage.S3.Bucket,
		},
		MinIO: storage.MinIOConfig{
			Endpoint:  cfg.Storage.MinIO.Endpoint,
			AccessKey: cfg.Storage.MinIO.AccessKey,
			SecretKey: cfg.Storage.MinIO.SecretKey,
			UseTLS:    cfg.Storage.MinIO.UseTLS,
			Bucket:    cfg.Storage.MinIO.Bucket,
			Region:    cfg.Storage.S3.Region,
		},
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
