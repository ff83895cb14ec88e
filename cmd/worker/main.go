// Package main runs the orphaned recording-lock collector as a standalone process, for deployments
// that disable the in-process collector of the API server.
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
	"github.com/aura-webinar/recordings/internal/egress"
	"github.com/aura-webinar/recordings/internal/gc"
	"github.com/aura-webinar/recordings/internal/metrics"
	"github.com/aura-webinar/recordings/internal/middleware"
	"github.com/aura-webinar/recordings/internal/recordings"
	"github.com/aura-webinar/recordings/pkg/clock"
	"github.com/aura-webinar/recordings/pkg/lock"
	"github.com/aura-webinar/recordings/pkg/redis"
	"github.com/aura-webinar/recordings/pkg/response"
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

	clk := clock.Real{}
	m := metrics.New()
	engine := egress.NewClient(egress.Config{
		URL:        cfg.Engine.URL,
		APIKey:     cfg.Engine.APIKey,
		APISecret:  cfg.Engine.APISecret,
		RetryCount: cfg.Engine.RetryCount,
		Timeout:    cfg.Engine.Timeout,
	}, nil, logger)
	collector := gc.NewCollector(lock.NewManager(rdb.Universal(), clk, logger), engine, clk, m, gc.Config{
		Prefix:   recordings.LockPrefix,
		Interval: cfg.GC.Interval,
		Grace:    cfg.GC.Grace,
	}, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(m.Handler()))
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		collector.Run(workerCtx)
	}()
	logger.Info("worker started", zap.Duration("interval", cfg.GC.Interval), zap.Duration("grace", cfg.GC.Grace))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	<-done
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
