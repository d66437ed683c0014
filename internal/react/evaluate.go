// Package react implements the climate react automation: threshold
// evaluation, command dispatch, manual-override detection and the status
// projection served to the API and MQTT publishers.
package react

import (
	"fmt"
	"time"

	"climatereact/internal/config"
)

// Status is the display state of one automation.
type Status string

const (
	StatusDisabled      Status = "disabled"
	StatusWaiting       Status = "waiting"
	StatusHeating       Status = "heating"
	StatusCooling       Status = "cooling"
	StatusDehumidifying Status = "dehumidifying"
	StatusHumidifying   Status = "humidifying"
	StatusIdle          Status = "idle"
)

// AllStatuses lists every status value, used to reset status gauges.
var AllStatuses = []Status{
	StatusDisabled, StatusWaiting, StatusHeating, StatusCooling,
	StatusDehumidifying, StatusHumidifying, StatusIdle,
}

// Reading carries the latest sensor values. Nil fields mean the sensor has
// not reported yet.
type Reading struct {
	Temperature *float64
	Humidity    *float64
}

// CommandState is what evaluation needs to know about past commands.
// LastChange is only advanced after a mode change is acknowledged.
type CommandState struct {
	Enabled    bool
	LastMode   string
	LastChange time.Time
}

// Command is one climate command: the hvac mode plus the airflow settings
// configured for the triggering condition. Empty fields are not sent.
type Command struct {
	Mode                string
	FanMode             string
	SwingMode           string
	SwingHorizontalMode string
	TargetTemp          *float64
}

func commandFrom(ms config.ModeSettings) *Command {
	return &Command{
		Mode:                ms.Mode,
		FanMode:             ms.FanMode,
		SwingMode:           ms.SwingMode,
		SwingHorizontalMode: ms.SwingHorizontalMode,
		TargetTemp:          ms.TargetTemp,
	}
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Status Status

	// Command is the climate command to dispatch, nil when nothing needs
	// to be sent.
	Command *Command

	// HumidifierOn requests the humidifier entity be turned on or off.
	// Nil leaves it alone.
	HumidifierOn *bool

	// Suppressed marks a needed mode change withheld by the
	// minimum-runtime guard. The crossing is dropped, not queued.
	Suppressed bool

	Reason string
}

// Evaluate runs the decision procedure for one reading. Humidity conditions
// take precedence over temperature. The returned command is nil when the
// automation is disabled, the readings are in range or missing, the device
// is already in the target mode, or the minimum runtime has not elapsed.
func Evaluate(dev *config.Device, r Reading, st CommandState, now time.Time) Decision {
	if !st.Enabled {
		return Decision{Status: StatusDisabled, Reason: "automation disabled"}
	}

	var (
		status     Status
		candidate  *Command
		humidifier *bool
		reason     string
	)

	humidity := dev.UseHumidity && r.Humidity != nil
	switch {
	case humidity && *r.Humidity > dev.MaxHumidity:
		status = StatusDehumidifying
		candidate = commandFrom(dev.HighHumidity)
		if dev.HumidifierEntity != "" {
			humidifier = boolPtr(false)
		}
		reason = fmt.Sprintf("humidity %.1f%% above %.1f%%", *r.Humidity, dev.MaxHumidity)

	case humidity && *r.Humidity < dev.MinHumidity:
		// Low humidity is handled by the humidifier entity alone; the
		// climate device keeps whatever it was doing.
		status = StatusHumidifying
		if dev.HumidifierEntity != "" {
			humidifier = boolPtr(true)
		}
		reason = fmt.Sprintf("humidity %.1f%% below %.1f%%", *r.Humidity, dev.MinHumidity)

	case r.Temperature != nil && *r.Temperature < dev.MinTemp:
		status = StatusHeating
		candidate = commandFrom(dev.LowTemp)
		reason = fmt.Sprintf("temperature %.1f°C below %.1f°C", *r.Temperature, dev.MinTemp)

	case r.Temperature != nil && *r.Temperature > dev.MaxTemp:
		status = StatusCooling
		candidate = commandFrom(dev.HighTemp)
		reason = fmt.Sprintf("temperature %.1f°C above %.1f°C", *r.Temperature, dev.MaxTemp)

	case r.Temperature == nil && !humidity:
		return Decision{Status: StatusWaiting, Reason: "no sensor readings yet"}

	default:
		// Back in range: make sure the humidifier is not left running.
		if humidity && dev.HumidifierEntity != "" {
			humidifier = boolPtr(false)
		}
		return Decision{Status: StatusIdle, HumidifierOn: humidifier, Reason: "readings within thresholds"}
	}

	if candidate != nil {
		if candidate.Mode == st.LastMode {
			return Decision{Status: status, HumidifierOn: humidifier, Reason: reason}
		}
		if !st.LastChange.IsZero() && now.Sub(st.LastChange) < dev.MinRunTime() {
			return Decision{
				Status:       status,
				HumidifierOn: humidifier,
				Suppressed:   true,
				Reason:       reason + "; held by minimum runtime",
			}
		}
	}

	return Decision{Status: status, Command: candidate, HumidifierOn: humidifier, Reason: reason}
}

func boolPtr(b bool) *bool { return &b }
