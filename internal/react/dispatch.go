package react

import (
	"strings"

	"go.uber.org/zap"

	"climatereact/internal/clock"
	"climatereact/internal/config"
	"climatereact/internal/ha"
)

// dispatcher turns a Command into the sequence of climate service calls a
// real device tolerates: the mode first, then setpoint and airflow settings,
// pausing between consecutive calls.
type dispatcher struct {
	client ha.HAClient
	clk    clock.Clock
	logger *zap.Logger
	dev    *config.Device
}

type dispatchStep struct {
	service string
	data    map[string]interface{}
}

// dispatch sends cmd to the climate entity after capability filtering.
// It reports whether the hvac mode was changed; a failure on a later step
// leaves the mode change in place and is returned alongside.
func (d *dispatcher) dispatch(cmd Command, caps Capabilities) (bool, error) {
	cmd = caps.Filter(cmd)
	if cmd.Mode == "" {
		d.logger.Warn("Skipping command, mode not supported by device",
			zap.String("entity", d.dev.ClimateEntity))
		return false, nil
	}

	entity := d.dev.ClimateEntity

	if cmd.Mode == "off" {
		if err := d.client.CallService("climate", "turn_off", map[string]interface{}{
			"entity_id": entity,
		}); err != nil {
			return false, err
		}
		return true, nil
	}

	// Some devices ignore set_hvac_mode while off and need waking first.
	if state, err := d.client.GetState(entity); err == nil && state.State == "off" {
		if err := d.client.CallService("climate", "turn_on", map[string]interface{}{
			"entity_id": entity,
		}); err != nil {
			return false, err
		}
		d.clk.Sleep(d.dev.CommandDelay())
	}

	if err := d.client.CallService("climate", "set_hvac_mode", map[string]interface{}{
		"entity_id": entity,
		"hvac_mode": cmd.Mode,
	}); err != nil {
		return false, err
	}

	var steps []dispatchStep
	if cmd.TargetTemp != nil {
		steps = append(steps, dispatchStep{"set_temperature", map[string]interface{}{
			"entity_id":   entity,
			"temperature": caps.ClampTarget(*cmd.TargetTemp),
		}})
	}
	if cmd.FanMode != "" {
		steps = append(steps, dispatchStep{"set_fan_mode", map[string]interface{}{
			"entity_id": entity,
			"fan_mode":  cmd.FanMode,
		}})
	}
	if cmd.SwingMode != "" {
		steps = append(steps, dispatchStep{"set_swing_mode", map[string]interface{}{
			"entity_id":  entity,
			"swing_mode": cmd.SwingMode,
		}})
	}
	if cmd.SwingHorizontalMode != "" {
		steps = append(steps, dispatchStep{"set_swing_horizontal_mode", map[string]interface{}{
			"entity_id":             entity,
			"swing_horizontal_mode": cmd.SwingHorizontalMode,
		}})
	}

	for _, step := range steps {
		d.clk.Sleep(d.dev.CommandDelay())
		if err := d.client.CallService("climate", step.service, step.data); err != nil {
			return true, err
		}
	}
	return true, nil
}

// setHumidifier turns the configured humidifier entity on or off, skipping
// the call when it already matches.
func (d *dispatcher) setHumidifier(on bool) error {
	entity := d.dev.HumidifierEntity
	if entity == "" {
		return nil
	}

	want := "off"
	service := "turn_off"
	if on {
		want = "on"
		service = "turn_on"
	}

	if state, err := d.client.GetState(entity); err == nil && state.State == want {
		return nil
	}

	return d.client.CallService(entityDomain(entity), service, map[string]interface{}{
		"entity_id": entity,
	})
}

func entityDomain(entityID string) string {
	if i := strings.Index(entityID, "."); i > 0 {
		return entityID[:i]
	}
	return "homeassistant"
}
