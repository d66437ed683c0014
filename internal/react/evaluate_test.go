package react

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"climatereact/internal/config"
)

func f(v float64) *float64 { return &v }

// testDevice returns a fully configured device: thresholds 18/26°C and
// 30/60%, heat/cool/dry modes and a 5 minute minimum runtime.
func testDevice() *config.Device {
	return &config.Device{
		ClimateEntity:     "climate.study",
		TemperatureSensor: "sensor.study_temperature",
		UseHumidity:       true,
		HumiditySensor:    "sensor.study_humidity",
		HumidifierEntity:  "switch.study_humidifier",
		MinTemp:           18,
		MaxTemp:           26,
		MinHumidity:       30,
		MaxHumidity:       60,
		LowTemp: config.ModeSettings{
			Mode:       "heat",
			FanMode:    "low",
			TargetTemp: f(22),
		},
		HighTemp: config.ModeSettings{
			Mode:       "cool",
			FanMode:    "high",
			SwingMode:  "vertical",
			TargetTemp: f(23),
		},
		HighHumidity: config.ModeSettings{
			Mode: "dry",
		},
		DelayBetweenCommandsMS: 100,
		MinRunTimeMinutes:      5,
		Enabled:                true,
	}
}

var t0 = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func TestEvaluate_Disabled(t *testing.T) {
	dev := testDevice()
	st := CommandState{Enabled: false}

	for _, r := range []Reading{
		{},
		{Temperature: f(10)},
		{Temperature: f(35), Humidity: f(90)},
	} {
		dec := Evaluate(dev, r, st, t0)
		assert.Equal(t, StatusDisabled, dec.Status)
		assert.Nil(t, dec.Command)
		assert.Nil(t, dec.HumidifierOn)
	}
}

func TestEvaluate_Waiting(t *testing.T) {
	dec := Evaluate(testDevice(), Reading{}, CommandState{Enabled: true}, t0)
	assert.Equal(t, StatusWaiting, dec.Status)
	assert.Nil(t, dec.Command)
}

func TestEvaluate_Heating(t *testing.T) {
	dec := Evaluate(testDevice(), Reading{Temperature: f(17)}, CommandState{Enabled: true}, t0)
	assert.Equal(t, StatusHeating, dec.Status)
	require.NotNil(t, dec.Command)
	assert.Equal(t, "heat", dec.Command.Mode)
	assert.Equal(t, "low", dec.Command.FanMode)
	require.NotNil(t, dec.Command.TargetTemp)
	assert.Equal(t, 22.0, *dec.Command.TargetTemp)
}

func TestEvaluate_Cooling(t *testing.T) {
	dec := Evaluate(testDevice(), Reading{Temperature: f(30)}, CommandState{Enabled: true}, t0)
	assert.Equal(t, StatusCooling, dec.Status)
	require.NotNil(t, dec.Command)
	assert.Equal(t, "cool", dec.Command.Mode)
	assert.Equal(t, "vertical", dec.Command.SwingMode)
}

func TestEvaluate_IdleIsIdempotent(t *testing.T) {
	r := Reading{Temperature: f(22), Humidity: f(45)}
	st := CommandState{Enabled: true}

	for i := 0; i < 3; i++ {
		dec := Evaluate(testDevice(), r, st, t0.Add(time.Duration(i)*time.Minute))
		assert.Equal(t, StatusIdle, dec.Status)
		assert.Nil(t, dec.Command)
		// In range, the humidifier is asked off; the dispatcher skips the
		// call when it already is.
		require.NotNil(t, dec.HumidifierOn)
		assert.False(t, *dec.HumidifierOn)
	}
}

func TestEvaluate_IdleWithoutHumidityReading(t *testing.T) {
	dec := Evaluate(testDevice(), Reading{Temperature: f(22)}, CommandState{Enabled: true}, t0)
	assert.Equal(t, StatusIdle, dec.Status)
	assert.Nil(t, dec.Command)
	assert.Nil(t, dec.HumidifierOn)
}

func TestEvaluate_HumidityBeatsTemperature(t *testing.T) {
	// High humidity wins even while the temperature threshold is crossed.
	dec := Evaluate(testDevice(), Reading{Temperature: f(30), Humidity: f(75)},
		CommandState{Enabled: true}, t0)
	assert.Equal(t, StatusDehumidifying, dec.Status)
	require.NotNil(t, dec.Command)
	assert.Equal(t, "dry", dec.Command.Mode)
	require.NotNil(t, dec.HumidifierOn)
	assert.False(t, *dec.HumidifierOn)
}

func TestEvaluate_LowHumidityUsesHumidifier(t *testing.T) {
	dec := Evaluate(testDevice(), Reading{Temperature: f(22), Humidity: f(20)},
		CommandState{Enabled: true}, t0)
	assert.Equal(t, StatusHumidifying, dec.Status)
	assert.Nil(t, dec.Command, "low humidity must not change the climate mode")
	require.NotNil(t, dec.HumidifierOn)
	assert.True(t, *dec.HumidifierOn)
}

func TestEvaluate_LowHumidityWithoutHumidifier(t *testing.T) {
	dev := testDevice()
	dev.HumidifierEntity = ""
	dec := Evaluate(dev, Reading{Humidity: f(20)}, CommandState{Enabled: true}, t0)
	assert.Equal(t, StatusHumidifying, dec.Status)
	assert.Nil(t, dec.Command)
	assert.Nil(t, dec.HumidifierOn)
}

func TestEvaluate_HumidityIgnoredWhenDisabled(t *testing.T) {
	dev := testDevice()
	dev.UseHumidity = false
	dec := Evaluate(dev, Reading{Temperature: f(30), Humidity: f(75)},
		CommandState{Enabled: true}, t0)
	assert.Equal(t, StatusCooling, dec.Status)
	require.NotNil(t, dec.Command)
	assert.Equal(t, "cool", dec.Command.Mode)
}

func TestEvaluate_MinimumRuntime(t *testing.T) {
	dev := testDevice()
	st := CommandState{Enabled: true}

	// t=0: cold, heat command expected.
	dec := Evaluate(dev, Reading{Temperature: f(17)}, st, t0)
	require.NotNil(t, dec.Command)
	assert.Equal(t, "heat", dec.Command.Mode)
	st.LastMode = "heat"
	st.LastChange = t0

	// t=2min: hot, but the runtime guard holds the crossing. The status
	// still reflects the cooling condition and nothing is queued.
	dec = Evaluate(dev, Reading{Temperature: f(30)}, st, t0.Add(2*time.Minute))
	assert.Nil(t, dec.Command)
	assert.True(t, dec.Suppressed)
	assert.Equal(t, StatusCooling, dec.Status)

	// t=6min: runtime elapsed, the cool command goes out.
	dec = Evaluate(dev, Reading{Temperature: f(30)}, st, t0.Add(6*time.Minute))
	require.NotNil(t, dec.Command)
	assert.Equal(t, "cool", dec.Command.Mode)
	assert.False(t, dec.Suppressed)
}

func TestEvaluate_AlreadyInTargetMode(t *testing.T) {
	st := CommandState{Enabled: true, LastMode: "cool", LastChange: t0}
	dec := Evaluate(testDevice(), Reading{Temperature: f(30)}, st, t0.Add(10*time.Minute))
	assert.Equal(t, StatusCooling, dec.Status)
	assert.Nil(t, dec.Command, "no repeat command while already cooling")
}

func TestEvaluate_FirstCommandSkipsRuntimeGuard(t *testing.T) {
	// With no prior mode change the guard must not block.
	dec := Evaluate(testDevice(), Reading{Temperature: f(30)},
		CommandState{Enabled: true}, t0)
	require.NotNil(t, dec.Command)
	assert.False(t, dec.Suppressed)
}
