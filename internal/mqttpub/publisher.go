// Package mqttpub publishes retained per-room status snapshots to an MQTT
// broker, so dashboards can follow the automations without polling the API.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"climatereact/internal/config"
	"climatereact/internal/react"
)

const connectTimeout = 10 * time.Second

// Publisher pushes snapshots to <prefix>/<room>/status as retained JSON.
type Publisher struct {
	client mqtt.Client
	prefix string
	logger *zap.Logger
}

// New connects to the broker. Auto-reconnect is left to the paho client.
func New(cfg config.MQTT, logger *zap.Logger) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(connectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("timeout connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	return &Publisher{
		client: client,
		prefix: cfg.TopicPrefix,
		logger: logger.Named("mqtt"),
	}, nil
}

// Topic returns the status topic for a room.
func Topic(prefix, room string) string {
	return fmt.Sprintf("%s/%s/status", prefix, room)
}

// Publish sends one snapshot. Failures are logged, not returned; the next
// state change publishes a fresh snapshot anyway.
func (p *Publisher) Publish(snap react.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		p.logger.Error("Failed to marshal snapshot", zap.Error(err))
		return
	}

	topic := Topic(p.prefix, snap.Room)
	token := p.client.Publish(topic, 0, true, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.logger.Warn("Failed to publish status",
				zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
