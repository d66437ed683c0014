package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults mirror the behavior of a freshly configured device.
const (
	DefaultMinTemp     = 18.0
	DefaultMaxTemp     = 26.0
	DefaultMinHumidity = 30.0
	DefaultMaxHumidity = 60.0

	DefaultModeLowTemp      = "heat"
	DefaultModeHighTemp     = "cool"
	DefaultModeHighHumidity = "dry"

	DefaultDelayBetweenCommandsMS = 500
	DefaultMinRunTimeMinutes      = 5

	DefaultHTTPPort = 8081
)

// Config is the top-level climate_react.yaml structure.
type Config struct {
	HTTPPort int      `yaml:"http_port"`
	MQTT     MQTT     `yaml:"mqtt"`
	Devices  []Device `yaml:"devices"`
}

// MQTT configures the optional status publisher. An empty broker disables it.
type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// ModeSettings groups the command parameters for one threshold condition.
type ModeSettings struct {
	Mode                string   `yaml:"mode"`
	FanMode             string   `yaml:"fan_mode"`
	SwingMode           string   `yaml:"swing_mode"`
	SwingHorizontalMode string   `yaml:"swing_horizontal_mode"`
	TargetTemp          *float64 `yaml:"target_temp"`
}

// Device configures climate react for one climate entity.
//
// Zero thresholds mean "not configured" and are replaced by defaults, matching
// how an unset option behaves in the UI this replaces.
type Device struct {
	ClimateEntity     string `yaml:"climate_entity"`
	TemperatureSensor string `yaml:"temperature_sensor"`
	UseHumidity       bool   `yaml:"use_humidity"`
	HumiditySensor    string `yaml:"humidity_sensor"`
	HumidifierEntity  string `yaml:"humidifier_entity"`

	MinTemp     float64 `yaml:"min_temp"`
	MaxTemp     float64 `yaml:"max_temp"`
	MinHumidity float64 `yaml:"min_humidity"`
	MaxHumidity float64 `yaml:"max_humidity"`

	LowTemp      ModeSettings `yaml:"low_temp"`
	HighTemp     ModeSettings `yaml:"high_temp"`
	HighHumidity ModeSettings `yaml:"high_humidity"`

	DelayBetweenCommandsMS int  `yaml:"delay_between_commands_ms"`
	MinRunTimeMinutes      int  `yaml:"min_run_time_minutes"`
	Enabled                bool `yaml:"enabled"`
}

// Room derives a short name from the climate entity id, e.g.
// "climate.study" -> "study". Used for API paths and MQTT topics.
func (d *Device) Room() string {
	if i := strings.LastIndex(d.ClimateEntity, "."); i >= 0 {
		return d.ClimateEntity[i+1:]
	}
	return d.ClimateEntity
}

// TemperatureEntity returns the entity whose changes carry the temperature
// reading: the external sensor when configured, otherwise the climate entity
// itself (read from its current_temperature attribute).
func (d *Device) TemperatureEntity() string {
	if d.TemperatureSensor != "" {
		return d.TemperatureSensor
	}
	return d.ClimateEntity
}

// HumidityEntity returns the humidity source entity, or "" when humidity
// handling is disabled.
func (d *Device) HumidityEntity() string {
	if !d.UseHumidity {
		return ""
	}
	if d.HumiditySensor != "" {
		return d.HumiditySensor
	}
	return d.ClimateEntity
}

// CommandDelay is the pause between consecutive service calls of one
// dispatch sequence.
func (d *Device) CommandDelay() time.Duration {
	return time.Duration(d.DelayBetweenCommandsMS) * time.Millisecond
}

// MinRunTime is the minimum elapsed time between two mode changes.
func (d *Device) MinRunTime() time.Duration {
	return time.Duration(d.MinRunTimeMinutes) * time.Minute
}

func (d *Device) applyDefaults() {
	if d.MinTemp == 0 {
		d.MinTemp = DefaultMinTemp
	}
	if d.MaxTemp == 0 {
		d.MaxTemp = DefaultMaxTemp
	}
	if d.MinHumidity == 0 {
		d.MinHumidity = DefaultMinHumidity
	}
	if d.MaxHumidity == 0 {
		d.MaxHumidity = DefaultMaxHumidity
	}
	if d.LowTemp.Mode == "" {
		d.LowTemp.Mode = DefaultModeLowTemp
	}
	if d.HighTemp.Mode == "" {
		d.HighTemp.Mode = DefaultModeHighTemp
	}
	if d.HighHumidity.Mode == "" {
		d.HighHumidity.Mode = DefaultModeHighHumidity
	}
	if d.DelayBetweenCommandsMS == 0 {
		d.DelayBetweenCommandsMS = DefaultDelayBetweenCommandsMS
	}
	if d.MinRunTimeMinutes == 0 {
		d.MinRunTimeMinutes = DefaultMinRunTimeMinutes
	}
}

// Validate reports configuration problems as warnings. Threshold ordering
// issues disable the affected automation rather than failing startup.
func (d *Device) Validate() []string {
	var issues []string

	if d.ClimateEntity == "" {
		issues = append(issues, "climate_entity is required")
	} else if !strings.Contains(d.ClimateEntity, ".") {
		issues = append(issues, fmt.Sprintf("climate_entity %q is not a valid entity id", d.ClimateEntity))
	}

	if d.MinTemp >= d.MaxTemp {
		issues = append(issues, fmt.Sprintf(
			"min_temp (%.1f) >= max_temp (%.1f); temperature automation will not trigger",
			d.MinTemp, d.MaxTemp))
	}
	if d.UseHumidity && d.MinHumidity >= d.MaxHumidity {
		issues = append(issues, fmt.Sprintf(
			"min_humidity (%.1f) >= max_humidity (%.1f); humidity automation will not trigger",
			d.MinHumidity, d.MaxHumidity))
	}
	if !d.UseHumidity && d.HumiditySensor != "" {
		issues = append(issues, "humidity_sensor is set but use_humidity is false")
	}
	return issues
}
