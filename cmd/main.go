package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"climatereact/internal/api"
	"climatereact/internal/clock"
	"climatereact/internal/config"
	"climatereact/internal/ha"
	"climatereact/internal/metrics"
	"climatereact/internal/mqttpub"
	"climatereact/internal/react"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	var logger *zap.Logger
	var err error
	if os.Getenv("LOG_LEVEL") == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	haURL := getEnv("HA_URL", "ws://homeassistant.local:8123/api/websocket")
	haToken := os.Getenv("HA_TOKEN")
	if haToken == "" {
		logger.Fatal("HA_TOKEN environment variable is required")
	}
	configFile := getEnv("CONFIG_FILE", "climate_react.yaml")
	readOnly := os.Getenv("READ_ONLY") == "true"

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	logger.Info("Configuration loaded",
		zap.String("file", configFile),
		zap.Int("devices", len(cfg.Devices)),
		zap.Bool("read_only", readOnly))

	client := ha.NewClient(haURL, haToken, logger)
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var publisher *mqttpub.Publisher
	if cfg.MQTT.Broker != "" {
		publisher, err = mqttpub.New(cfg.MQTT, logger)
		if err != nil {
			logger.Warn("MQTT status publishing disabled", zap.Error(err))
		} else {
			defer publisher.Close()
		}
	}

	clk := clock.NewRealClock()
	var controllers []*react.Controller
	for _, dev := range cfg.Devices {
		ctrl := react.NewController(dev, client, clk, logger)
		ctrl.SetMetrics(m)
		ctrl.SetReadOnly(readOnly)
		if publisher != nil {
			ctrl.OnChange(publisher.Publish)
		}
		if err := ctrl.Start(); err != nil {
			logger.Error("Failed to start controller",
				zap.String("room", dev.Room()), zap.Error(err))
			continue
		}
		controllers = append(controllers, ctrl)
	}
	if len(controllers) == 0 {
		logger.Fatal("No device controllers started")
	}

	server := api.NewServer(cfg.HTTPPort, client, controllers, registry, logger)
	server.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	for _, ctrl := range controllers {
		ctrl.Stop()
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
