package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	redis_bus "fieldops.dispatch/internal/adapters/bus/redis"
	http_handler "fieldops.dispatch/internal/adapters/handler/http"
	"fieldops.dispatch/internal/adapters/handler/mqtt"
	"fieldops.dispatch/internal/adapters/repository/pg"
	"fieldops.dispatch/internal/config"
	"fieldops.dispatch/internal/core/logger"
	"fieldops.dispatch/internal/core/ports"
	"fieldops.dispatch/internal/core/services"
	"fieldops.dispatch/internal/core/tracing"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting field dispatch server", "version", "0.1.0")

	if cfg.EnableTracing {
		shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("failed to initialize tracing", "error", err)
		} else {
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Error("failed to shutdown tracing", "error", err)
				}
			}()
		}
	}

	repo, err := pg.NewRepository(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to init postgres", "error", err)
		log.Fatalf("failed to init postgres: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// In-process hub, optionally bridged over Redis so a fleet of server
	// instances delivers every event to every connected session.
	hub := http_handler.NewHub()
	var bus ports.GroupBus = hub
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		bridge, client, err := redis_bus.NewBridge(cfg.RedisURL, hub)
		if err != nil {
			logger.Error("failed to init redis bridge", "error", err)
		} else {
			bridge.Start(ctx)
			bus = bridge
			redisClient = client
		}
	}

	if cfg.MQTTBroker != "" {
		publisher, err := mqtt.NewPublisher(cfg.MQTTBroker)
		if err != nil {
			logger.Error("failed to init MQTT publisher", "error", err)
		} else {
			bus = publisher.Tee(bus)
		}
	}

	dispatchService := services.NewDispatchService(repo, repo, repo, repo, bus)
	routingService := services.NewRoutingService(cfg.RoutingURL, cfg.RoutingAPIKey)
	healthService := services.NewHealthService(repo.DB(), redisClient, "0.1.0")

	server := http_handler.NewServer(dispatchService, routingService, healthService, repo, repo, bus)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down gracefully...")
		cancel()
		os.Exit(0)
	}()

	logger.Info("HTTP server starting", "port", cfg.HTTPPort)
	if err := server.Run(":" + cfg.HTTPPort); err != nil {
		logger.Error("HTTP server failed", "error", err)
		log.Fatalf("failed to serve http: %v", err)
	}
}
