package react

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"climatereact/internal/clock"
	"climatereact/internal/config"
	"climatereact/internal/ha"
	"climatereact/internal/metrics"
)

// newTestController wires a controller to a mock client seeded with in-range
// readings, so Start itself dispatches nothing.
func newTestController(t *testing.T, dev *config.Device, opts ...func(*Controller)) (*Controller, *ha.MockClient, *clock.MockClock) {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	mock := ha.NewMockClient()
	mock.SetState("climate.study", "off", map[string]interface{}{
		"hvac_modes":  []interface{}{"off", "heat", "cool", "dry"},
		"fan_modes":   []interface{}{"low", "high"},
		"swing_modes": []interface{}{"vertical", "horizontal"},
		"min_temp":    7.0,
		"max_temp":    30.0,
	})
	mock.SetState("sensor.study_temperature", "22.0", nil)
	mock.SetState("sensor.study_humidity", "45", nil)
	mock.SetState("switch.study_humidifier", "off", nil)

	clk := clock.NewMockClock(t0)
	ctrl := NewController(*dev, mock, clk, logger)
	ctrl.SetMetrics(metrics.New(prometheus.NewRegistry()))
	for _, opt := range opts {
		opt(ctrl)
	}
	require.NoError(t, ctrl.Start())
	t.Cleanup(ctrl.Stop)

	mock.ClearServiceCalls()
	return ctrl, mock, clk
}

func TestController_DispatchesHeatSequence(t *testing.T) {
	ctrl, mock, _ := newTestController(t, testDevice())

	mock.SimulateStateChange("sensor.study_temperature", "17.0")

	// The device starts off, so it is woken before the mode change.
	calls := mock.ServiceCalls()
	require.Len(t, calls, 4)
	assert.Equal(t, "turn_on", calls[0].Service)
	assert.Equal(t, "set_hvac_mode", calls[1].Service)
	assert.Equal(t, "heat", calls[1].Data["hvac_mode"])
	assert.Equal(t, "climate.study", calls[1].Data["entity_id"])
	assert.Equal(t, "set_temperature", calls[2].Service)
	assert.Equal(t, 22.0, calls[2].Data["temperature"])
	assert.Equal(t, "set_fan_mode", calls[3].Service)
	assert.Equal(t, "low", calls[3].Data["fan_mode"])

	snap := ctrl.Snapshot()
	assert.Equal(t, StatusHeating, snap.Status)
	assert.Equal(t, "heat", snap.LastMode)
	require.NotNil(t, snap.LastChange)
	// The device echoing our own command must not look like an override.
	assert.True(t, snap.Enabled)
}

func TestController_MinimumRuntime(t *testing.T) {
	ctrl, mock, clk := newTestController(t, testDevice())

	mock.SimulateStateChange("sensor.study_temperature", "17.0")
	require.Equal(t, "heat", ctrl.Snapshot().LastMode)
	mock.ClearServiceCalls()

	clk.Advance(2 * time.Minute)
	mock.SimulateStateChange("sensor.study_temperature", "30.0")

	assert.Empty(t, mock.ServiceCalls())
	snap := ctrl.Snapshot()
	assert.Equal(t, StatusCooling, snap.Status)
	assert.Equal(t, "heat", snap.LastMode)

	entries := ctrl.Log()
	require.NotEmpty(t, entries)
	assert.True(t, entries[0].Suppressed)

	clk.Advance(4 * time.Minute)
	mock.SimulateStateChange("sensor.study_temperature", "30.5")

	calls := mock.ServiceCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "set_hvac_mode", calls[0].Service)
	assert.Equal(t, "cool", calls[0].Data["hvac_mode"])
	assert.Equal(t, "cool", ctrl.Snapshot().LastMode)
}

func TestController_ManualOverrideDisables(t *testing.T) {
	ctrl, mock, clk := newTestController(t, testDevice())

	mock.SimulateStateChange("sensor.study_temperature", "17.0")
	require.Equal(t, "heat", ctrl.Snapshot().LastMode)
	mock.ClearServiceCalls()

	// Someone switches the device by remote.
	mock.SimulateStateChange("climate.study", "cool")

	snap := ctrl.Snapshot()
	assert.False(t, snap.Enabled)
	assert.Equal(t, StatusDisabled, snap.Status)
	assert.Contains(t, ctrl.Log()[0].Reason, "manual override")

	// No auto-recovery: further readings stay inert.
	mock.SimulateStateChange("sensor.study_temperature", "30.0")
	assert.Empty(t, mock.ServiceCalls())

	// Explicit re-enable resumes evaluation.
	clk.Advance(10 * time.Minute)
	ctrl.Enable()
	calls := mock.ServiceCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "cool", calls[0].Data["hvac_mode"])
	assert.True(t, ctrl.Snapshot().Enabled)
}

func TestController_DispatchFailure(t *testing.T) {
	ctrl, mock, _ := newTestController(t, testDevice())

	mock.FailService("climate", "set_hvac_mode", errors.New("service unavailable"))
	mock.SimulateStateChange("sensor.study_temperature", "17.0")

	// Failed mode change mutates nothing; the condition is still shown.
	snap := ctrl.Snapshot()
	assert.Equal(t, StatusHeating, snap.Status)
	assert.Empty(t, snap.LastMode)
	assert.Nil(t, snap.LastChange)

	// The next reading retries naturally.
	mock.FailService("climate", "set_hvac_mode", nil)
	mock.ClearServiceCalls()
	mock.SimulateStateChange("sensor.study_temperature", "16.5")

	var modeSet bool
	for _, call := range mock.ServiceCalls() {
		if call.Service == "set_hvac_mode" {
			modeSet = true
		}
	}
	assert.True(t, modeSet)
	assert.Equal(t, "heat", ctrl.Snapshot().LastMode)
}

func TestController_PartialDispatchFailure(t *testing.T) {
	ctrl, mock, _ := newTestController(t, testDevice())

	mock.FailService("climate", "set_fan_mode", errors.New("boom"))
	mock.SimulateStateChange("sensor.study_temperature", "17.0")

	// The mode change went through, so it is recorded despite the
	// follow-up failure.
	snap := ctrl.Snapshot()
	assert.Equal(t, "heat", snap.LastMode)
	require.NotNil(t, snap.LastChange)
}

func TestController_Dehumidify(t *testing.T) {
	ctrl, mock, _ := newTestController(t, testDevice())
	mock.SetState("switch.study_humidifier", "on", nil)
	mock.ClearServiceCalls()

	mock.SimulateStateChange("sensor.study_humidity", "75")

	var services []string
	for _, call := range mock.ServiceCalls() {
		services = append(services, call.Domain+"."+call.Service)
	}
	assert.Contains(t, services, "climate.set_hvac_mode")
	assert.Contains(t, services, "switch.turn_off")
	assert.Equal(t, StatusDehumidifying, ctrl.Snapshot().Status)
	assert.Equal(t, "dry", ctrl.Snapshot().LastMode)
}

func TestController_Humidify(t *testing.T) {
	ctrl, mock, _ := newTestController(t, testDevice())

	mock.SimulateStateChange("sensor.study_humidity", "20")

	calls := mock.ServiceCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "switch", calls[0].Domain)
	assert.Equal(t, "turn_on", calls[0].Service)
	snap := ctrl.Snapshot()
	assert.Equal(t, StatusHumidifying, snap.Status)
	assert.Empty(t, snap.LastMode, "humidifying must not touch the climate mode")

	// Humidifier already on: no repeat call.
	mock.SimulateStateChange("sensor.study_humidity", "19")
	assert.Len(t, mock.ServiceCalls(), 1)
}

func TestController_UnsupportedModeSkipped(t *testing.T) {
	ctrl, mock, _ := newTestController(t, testDevice())

	// Device without a dry mode.
	mock.SetState("climate.study", "off", map[string]interface{}{
		"hvac_modes": []interface{}{"off", "heat", "cool"},
	})
	mock.SetState("switch.study_humidifier", "on", nil)
	mock.ClearServiceCalls()

	mock.SimulateStateChange("sensor.study_humidity", "75")

	for _, call := range mock.ServiceCalls() {
		assert.NotEqual(t, "climate", call.Domain)
	}
	assert.Empty(t, ctrl.Snapshot().LastMode)
}

func TestController_DisabledByDefault(t *testing.T) {
	dev := testDevice()
	dev.Enabled = false
	ctrl, mock, _ := newTestController(t, dev)

	mock.SimulateStateChange("sensor.study_temperature", "17.0")

	assert.Empty(t, mock.ServiceCalls())
	assert.Equal(t, StatusDisabled, ctrl.Snapshot().Status)

	ctrl.Enable()
	require.NotEmpty(t, mock.ServiceCalls())
	assert.Equal(t, StatusHeating, ctrl.Snapshot().Status)
}

func TestController_ReadOnly(t *testing.T) {
	ctrl, mock, _ := newTestController(t, testDevice(), func(c *Controller) {
		c.SetReadOnly(true)
	})

	mock.SimulateStateChange("sensor.study_temperature", "17.0")

	assert.Empty(t, mock.ServiceCalls())
	snap := ctrl.Snapshot()
	assert.Equal(t, StatusHeating, snap.Status)
	assert.Empty(t, snap.LastMode)
}

func TestController_UpdateThresholds(t *testing.T) {
	ctrl, mock, _ := newTestController(t, testDevice())

	err := ctrl.UpdateThresholds(f(27), nil, nil, nil)
	assert.Error(t, err)

	require.NoError(t, ctrl.UpdateThresholds(f(23), nil, nil, nil))

	// Current reading of 22 is now below the raised minimum.
	var commandedMode string
	for _, call := range mock.ServiceCalls() {
		if call.Service == "set_hvac_mode" {
			commandedMode = call.Data["hvac_mode"].(string)
		}
	}
	assert.Equal(t, "heat", commandedMode)
	assert.Equal(t, 23.0, ctrl.Snapshot().MinTemp)
}

func TestController_UpdateModes(t *testing.T) {
	ctrl, mock, _ := newTestController(t, testDevice())

	// Choices outside the device's advertised lists are rejected.
	err := ctrl.UpdateModes(&ConditionSettings{Mode: "heat", FanMode: "turbo"}, nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fan mode")

	err = ctrl.UpdateModes(nil, &ConditionSettings{Mode: "auto"}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "hvac mode")

	err = ctrl.UpdateModes(nil, nil, &ConditionSettings{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "mode is required")

	// A valid update shows up in the snapshot and drives later commands.
	require.NoError(t, ctrl.UpdateModes(nil, &ConditionSettings{
		Mode:       "cool",
		FanMode:    "high",
		SwingMode:  "horizontal",
		TargetTemp: f(24),
	}, nil))

	snap := ctrl.Snapshot()
	assert.Equal(t, "cool", snap.HighTemp.Mode)
	assert.Equal(t, "horizontal", snap.HighTemp.SwingMode)
	require.NotNil(t, snap.HighTemp.TargetTemp)
	assert.Equal(t, 24.0, *snap.HighTemp.TargetTemp)
	assert.Contains(t, snap.Capabilities.HVACModes, "cool")

	mock.SimulateStateChange("sensor.study_temperature", "30.0")
	var target float64
	for _, call := range mock.ServiceCalls() {
		if call.Service == "set_temperature" {
			target = call.Data["temperature"].(float64)
		}
	}
	assert.Equal(t, 24.0, target)
}

func TestController_TargetTempClampedToDeviceLimits(t *testing.T) {
	ctrl, mock, _ := newTestController(t, testDevice())

	// Device only accepts setpoints up to 20.
	mock.SetState("climate.study", "off", map[string]interface{}{
		"hvac_modes": []interface{}{"off", "heat", "cool", "dry"},
		"min_temp":   16.0,
		"max_temp":   20.0,
	})
	mock.ClearServiceCalls()

	// Configured heat target of 22 exceeds the limit.
	mock.SimulateStateChange("sensor.study_temperature", "17.0")

	var target float64
	for _, call := range mock.ServiceCalls() {
		if call.Service == "set_temperature" {
			target = call.Data["temperature"].(float64)
		}
	}
	assert.Equal(t, 20.0, target)
	assert.Equal(t, "heat", ctrl.Snapshot().LastMode)
}

func TestController_CountdownTimer(t *testing.T) {
	ctrl, mock, clk := newTestController(t, testDevice())

	assert.Error(t, ctrl.SetTimer(-time.Minute, TimerDisable))
	assert.Error(t, ctrl.SetTimer(time.Minute, TimerAction("explode")))

	require.NoError(t, ctrl.SetTimer(30*time.Minute, TimerTurnOff))
	snap := ctrl.Snapshot()
	require.NotNil(t, snap.TimerEnd)
	assert.Equal(t, TimerTurnOff, snap.TimerAction)

	clk.Advance(30 * time.Minute)

	snap = ctrl.Snapshot()
	assert.False(t, snap.Enabled)
	assert.Nil(t, snap.TimerEnd)

	var turnedOff bool
	for _, call := range mock.ServiceCalls() {
		if call.Domain == "climate" && call.Service == "turn_off" {
			turnedOff = true
		}
	}
	assert.True(t, turnedOff)
}

func TestController_CancelTimer(t *testing.T) {
	ctrl, mock, clk := newTestController(t, testDevice())

	require.NoError(t, ctrl.SetTimer(10*time.Minute, TimerDisable))
	ctrl.CancelTimer()
	assert.Nil(t, ctrl.Snapshot().TimerEnd)

	clk.Advance(time.Hour)
	assert.True(t, ctrl.Snapshot().Enabled)
	assert.Empty(t, mock.ServiceCalls())
}

func TestController_WaitingWithoutReadings(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	mock := ha.NewMockClient()
	mock.SetState("climate.study", "off", nil)
	mock.SetState("sensor.study_temperature", "unavailable", nil)
	mock.SetState("sensor.study_humidity", "unknown", nil)

	ctrl := NewController(*testDevice(), mock, clock.NewMockClock(t0), logger)
	require.NoError(t, ctrl.Start())
	defer ctrl.Stop()

	snap := ctrl.Snapshot()
	assert.Equal(t, StatusWaiting, snap.Status)
	assert.Nil(t, snap.Temperature)
	assert.Nil(t, snap.Humidity)
	assert.Empty(t, mock.ServiceCalls())
}
