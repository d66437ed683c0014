package react

import (
	"climatereact/internal/ha"
)

// Capabilities lists the values a climate device accepts for each command
// field, read from its state attributes. An empty list means the device did
// not advertise the capability and values pass through unfiltered. MinTemp
// and MaxTemp are the device's setpoint limits, when reported.
type Capabilities struct {
	HVACModes            []string `json:"hvac_modes,omitempty"`
	FanModes             []string `json:"fan_modes,omitempty"`
	SwingModes           []string `json:"swing_modes,omitempty"`
	SwingHorizontalModes []string `json:"swing_horizontal_modes,omitempty"`
	MinTemp              *float64 `json:"min_temp,omitempty"`
	MaxTemp              *float64 `json:"max_temp,omitempty"`
}

// CapabilitiesFromState extracts the capability lists from a climate state.
func CapabilitiesFromState(s *ha.State) Capabilities {
	if s == nil {
		return Capabilities{}
	}
	caps := Capabilities{
		HVACModes:            s.AttrStrings("hvac_modes"),
		FanModes:             s.AttrStrings("fan_modes"),
		SwingModes:           s.AttrStrings("swing_modes"),
		SwingHorizontalModes: s.AttrStrings("swing_horizontal_modes"),
	}
	if v, ok := s.AttrFloat("min_temp"); ok {
		caps.MinTemp = &v
	}
	if v, ok := s.AttrFloat("max_temp"); ok {
		caps.MaxTemp = &v
	}
	return caps
}

func supports(advertised []string, value string) bool {
	if len(advertised) == 0 {
		return true
	}
	for _, v := range advertised {
		if v == value {
			return true
		}
	}
	return false
}

// Filter drops command fields the device does not support. A command whose
// mode is unsupported comes back with an empty Mode; the dispatcher treats
// that as nothing to send.
func (c Capabilities) Filter(cmd Command) Command {
	if cmd.Mode != "" && !supports(c.HVACModes, cmd.Mode) {
		cmd.Mode = ""
	}
	if cmd.FanMode != "" && !supports(c.FanModes, cmd.FanMode) {
		cmd.FanMode = ""
	}
	if cmd.SwingMode != "" && !supports(c.SwingModes, cmd.SwingMode) {
		cmd.SwingMode = ""
	}
	if cmd.SwingHorizontalMode != "" && !supports(c.SwingHorizontalModes, cmd.SwingHorizontalMode) {
		cmd.SwingHorizontalMode = ""
	}
	return cmd
}

// ClampTarget keeps a target temperature inside the device's reported
// setpoint range.
func (c Capabilities) ClampTarget(t float64) float64 {
	if c.MinTemp != nil && t < *c.MinTemp {
		return *c.MinTemp
	}
	if c.MaxTemp != nil && t > *c.MaxTemp {
		return *c.MaxTemp
	}
	return t
}
