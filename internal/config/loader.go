package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the device configuration file, applying defaults to
// every device block.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("no devices configured in %s", path)
	}

	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "climatereact"
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "climatereact"
	}

	for i := range cfg.Devices {
		cfg.Devices[i].applyDefaults()
	}
	return &cfg, nil
}
