package react

import (
	"fmt"

	"go.uber.org/zap"

	"climatereact/internal/config"
)

// ConditionSettings is the API-facing form of the command settings for one
// threshold condition.
type ConditionSettings struct {
	Mode                string   `json:"mode"`
	FanMode             string   `json:"fan_mode,omitempty"`
	SwingMode           string   `json:"swing_mode,omitempty"`
	SwingHorizontalMode string   `json:"swing_horizontal_mode,omitempty"`
	TargetTemp          *float64 `json:"target_temp,omitempty"`
}

func conditionSettings(ms config.ModeSettings) ConditionSettings {
	return ConditionSettings{
		Mode:                ms.Mode,
		FanMode:             ms.FanMode,
		SwingMode:           ms.SwingMode,
		SwingHorizontalMode: ms.SwingHorizontalMode,
		TargetTemp:          ms.TargetTemp,
	}
}

func (s ConditionSettings) toConfig() config.ModeSettings {
	return config.ModeSettings{
		Mode:                s.Mode,
		FanMode:             s.FanMode,
		SwingMode:           s.SwingMode,
		SwingHorizontalMode: s.SwingHorizontalMode,
		TargetTemp:          s.TargetTemp,
	}
}

// validate checks the chosen values against the device's advertised lists.
func (s ConditionSettings) validate(condition string, caps Capabilities) error {
	if s.Mode == "" {
		return fmt.Errorf("%s: mode is required", condition)
	}
	if !supports(caps.HVACModes, s.Mode) {
		return fmt.Errorf("%s: device does not support hvac mode %q", condition, s.Mode)
	}
	if s.FanMode != "" && !supports(caps.FanModes, s.FanMode) {
		return fmt.Errorf("%s: device does not support fan mode %q", condition, s.FanMode)
	}
	if s.SwingMode != "" && !supports(caps.SwingModes, s.SwingMode) {
		return fmt.Errorf("%s: device does not support swing mode %q", condition, s.SwingMode)
	}
	if s.SwingHorizontalMode != "" && !supports(caps.SwingHorizontalModes, s.SwingHorizontalMode) {
		return fmt.Errorf("%s: device does not support horizontal swing mode %q", condition, s.SwingHorizontalMode)
	}
	return nil
}

// UpdateModes replaces the command settings of the given conditions. Nil
// conditions are left untouched. Every value is validated against the
// device's advertised capabilities before anything is applied; the next
// evaluation uses the new settings.
func (c *Controller) UpdateModes(lowTemp, highTemp, highHumidity *ConditionSettings) error {
	c.mu.Lock()
	caps := c.caps
	c.mu.Unlock()

	conditions := []struct {
		name     string
		settings *ConditionSettings
	}{
		{"low_temp", lowTemp},
		{"high_temp", highTemp},
		{"high_humidity", highHumidity},
	}
	for _, cond := range conditions {
		if cond.settings == nil {
			continue
		}
		if err := cond.settings.validate(cond.name, caps); err != nil {
			return err
		}
	}

	c.mu.Lock()
	if lowTemp != nil {
		c.dev.LowTemp = lowTemp.toConfig()
	}
	if highTemp != nil {
		c.dev.HighTemp = highTemp.toConfig()
	}
	if highHumidity != nil {
		c.dev.HighHumidity = highHumidity.toConfig()
	}
	dev := c.dev
	c.mu.Unlock()

	c.logger.Info("Mode settings updated",
		zap.String("low_temp", dev.LowTemp.Mode),
		zap.String("high_temp", dev.HighTemp.Mode),
		zap.String("high_humidity", dev.HighHumidity.Mode))
	c.warnDeviceLimits(caps, dev)
	c.evaluate()
	return nil
}
