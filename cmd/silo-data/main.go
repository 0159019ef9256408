package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"silo-data/internal/cache"
	"silo-data/internal/config"
	"silo-data/internal/consumer"
	"silo-data/internal/database"
	httpapi "silo-data/internal/http"
	"silo-data/internal/logger"
	"silo-data/internal/mqtt"
	"silo-data/internal/repository"
	"silo-data/internal/service"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "silo-data")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting silo-data service",
		zap.String("http_addr", cfg.HTTP.Addr),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Bool("mqtt_enabled", cfg.MQTT.Enabled),
	)

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	siloRepo := repository.NewPostgresSiloRepository(db, zapLogger)
	readingRepo := repository.NewPostgresReadingRepository(db, zapLogger)

	// 最新读数缓存（可选）
	var latestCache *cache.LatestReadingCache
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			zapLogger.Warn("Redis enabled but unreachable, running without cache", zap.Error(err))
		} else {
			latestCache = cache.NewLatestReadingCache(cache.NewRedisKVStore(redisClient), zapLogger)
			defer redisClient.Close()
		}
	}

	ingestSvc := service.NewIngestService(siloRepo, readingRepo, cfg.Ingest.TimestampColumn, zapLogger)
	querySvc := service.NewQueryService(siloRepo, readingRepo, latestCache, zapLogger)

	handler := httpapi.NewHandler(ingestSvc, querySvc, cfg.Ingest.MaxUploadBytes, zapLogger)
	router := httpapi.NewRouter(zapLogger)
	router.RegisterSiloRoutes(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MQTT 消费者（可选）
	var mqttConsumer *consumer.MQTTConsumer
	if cfg.MQTT.Enabled {
		mqttClient, err := mqtt.NewClient(&cfg.MQTT, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		defer mqttClient.Disconnect()

		mqttConsumer = consumer.NewMQTTConsumer(cfg, mqttClient, ingestSvc, zapLogger)
		go func() {
			if err := mqttConsumer.Start(ctx); err != nil {
				zapLogger.Error("MQTT consumer stopped with error", zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: router,
	}

	go func() {
		zapLogger.Info("HTTP server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	cancel()
	if mqttConsumer != nil {
		if err := mqttConsumer.Stop(ctx); err != nil {
			zapLogger.Error("Error stopping MQTT consumer", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Error during HTTP shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
