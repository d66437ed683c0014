package react

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"climatereact/internal/clock"
	"climatereact/internal/config"
	"climatereact/internal/ha"
	"climatereact/internal/metrics"
)

const decisionLogSize = 50

// LogEntry is one line of the per-device decision log.
type LogEntry struct {
	Time       time.Time `json:"time"`
	Status     Status    `json:"status"`
	Reason     string    `json:"reason"`
	Command    string    `json:"command,omitempty"`
	Suppressed bool      `json:"suppressed,omitempty"`
}

// TimerAction is what happens when the countdown timer expires.
type TimerAction string

const (
	TimerDisable TimerAction = "disable"
	TimerTurnOff TimerAction = "turn_off"
)

// Snapshot is the read-only status projection of one automation.
type Snapshot struct {
	Room          string      `json:"room"`
	ClimateEntity string      `json:"climate_entity"`
	Enabled       bool        `json:"enabled"`
	Status        Status      `json:"status"`
	Temperature   *float64    `json:"temperature,omitempty"`
	Humidity      *float64    `json:"humidity,omitempty"`
	MinTemp       float64     `json:"min_temp"`
	MaxTemp       float64     `json:"max_temp"`
	MinHumidity   float64     `json:"min_humidity,omitempty"`
	MaxHumidity   float64     `json:"max_humidity,omitempty"`

	// Configured command settings per condition and the choices the
	// device offers for changing them.
	LowTemp      ConditionSettings `json:"low_temp"`
	HighTemp     ConditionSettings `json:"high_temp"`
	HighHumidity ConditionSettings `json:"high_humidity"`
	Capabilities Capabilities      `json:"capabilities"`

	LastMode    string      `json:"last_mode,omitempty"`
	LastChange  *time.Time  `json:"last_change,omitempty"`
	TimerEnd    *time.Time  `json:"timer_end,omitempty"`
	TimerAction TimerAction `json:"timer_action,omitempty"`
}

// Controller runs the climate react automation for one device. State change
// handlers are delivered serially by the client, so evaluation is effectively
// single-threaded; the mutex only guards against the API goroutines.
type Controller struct {
	client  ha.HAClient
	clk     clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu          sync.Mutex
	dev         config.Device
	enabled     bool
	lastMode    string
	lastChange  time.Time
	reading     Reading
	status      Status
	caps        Capabilities
	dispatching bool
	timer       clock.Timer
	timerEnd    time.Time
	timerAction TimerAction
	log         []LogEntry
	subs        []ha.Subscription
	readOnly    bool
	onChange    func(Snapshot)
}

// NewController creates a controller for one configured device. Call Start
// to subscribe and begin evaluating.
func NewController(dev config.Device, client ha.HAClient, clk clock.Clock, logger *zap.Logger) *Controller {
	return &Controller{
		client:  client,
		clk:     clk,
		logger:  logger.Named("react").With(zap.String("room", dev.Room())),
		dev:     dev,
		enabled: dev.Enabled,
		status:  StatusWaiting,
	}
}

// SetMetrics attaches Prometheus collectors. Must be called before Start.
func (c *Controller) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// SetReadOnly makes the controller log intended commands without sending
// them. Must be called before Start.
func (c *Controller) SetReadOnly(readOnly bool) { c.readOnly = readOnly }

// OnChange registers a callback invoked with a fresh snapshot after every
// state transition. Must be called before Start.
func (c *Controller) OnChange(fn func(Snapshot)) { c.onChange = fn }

// Room returns the short device name used in API paths and topics.
func (c *Controller) Room() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev.Room()
}

// Start reads the initial entity states, subscribes to changes and runs the
// first evaluation.
func (c *Controller) Start() error {
	for _, issue := range c.dev.Validate() {
		c.logger.Warn("Configuration issue", zap.String("issue", issue))
	}

	c.mu.Lock()
	dev := c.dev
	c.mu.Unlock()

	if state, err := c.client.GetState(dev.ClimateEntity); err != nil {
		c.logger.Warn("Climate entity not available yet", zap.Error(err))
	} else {
		caps := CapabilitiesFromState(state)
		c.mu.Lock()
		c.caps = caps
		c.mu.Unlock()
		c.warnDeviceLimits(caps, dev)
	}
	c.refreshReadings()

	sub, err := c.client.SubscribeStateChanges(dev.ClimateEntity, c.onClimateChange)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", dev.ClimateEntity, err)
	}
	c.subs = append(c.subs, sub)

	if entity := dev.TemperatureEntity(); entity != dev.ClimateEntity {
		sub, err := c.client.SubscribeStateChanges(entity, c.onSensorChange)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", entity, err)
		}
		c.subs = append(c.subs, sub)
	}
	if entity := dev.HumidityEntity(); entity != "" &&
		entity != dev.ClimateEntity && entity != dev.TemperatureEntity() {
		sub, err := c.client.SubscribeStateChanges(entity, c.onSensorChange)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", entity, err)
		}
		c.subs = append(c.subs, sub)
	}

	c.logger.Info("Climate react started",
		zap.String("climate_entity", dev.ClimateEntity),
		zap.Bool("enabled", dev.Enabled),
		zap.Bool("read_only", c.readOnly))

	c.evaluate()
	return nil
}

// Stop unsubscribes and cancels the countdown timer. In-flight dispatches
// are not interrupted.
func (c *Controller) Stop() {
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			c.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}
	c.subs = nil

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
		c.timerEnd = time.Time{}
	}
	c.mu.Unlock()

	c.logger.Info("Climate react stopped")
}

// refreshReadings pulls current sensor values, used at startup before any
// change events arrive.
func (c *Controller) refreshReadings() {
	c.mu.Lock()
	dev := c.dev
	c.mu.Unlock()

	var reading Reading
	if state, err := c.client.GetState(dev.TemperatureEntity()); err == nil {
		reading.Temperature = c.temperatureFrom(&dev, state)
	}
	if entity := dev.HumidityEntity(); entity != "" {
		if state, err := c.client.GetState(entity); err == nil {
			reading.Humidity = c.humidityFrom(&dev, state)
		}
	}

	c.mu.Lock()
	c.reading = reading
	c.recordReadingLocked()
	c.mu.Unlock()
}

// temperatureFrom extracts the temperature reading: the climate entity
// carries it as an attribute, a sensor carries it as its state.
func (c *Controller) temperatureFrom(dev *config.Device, state *ha.State) *float64 {
	if state == nil || state.Unavailable() {
		return nil
	}
	if state.EntityID == dev.ClimateEntity {
		if v, ok := state.AttrFloat("current_temperature"); ok {
			return &v
		}
		return nil
	}
	if v, err := strconv.ParseFloat(state.State, 64); err == nil {
		return &v
	}
	return nil
}

func (c *Controller) humidityFrom(dev *config.Device, state *ha.State) *float64 {
	if state == nil || state.Unavailable() {
		return nil
	}
	if state.EntityID == dev.ClimateEntity {
		if v, ok := state.AttrFloat("current_humidity"); ok {
			return &v
		}
		return nil
	}
	if v, err := strconv.ParseFloat(state.State, 64); err == nil {
		return &v
	}
	return nil
}

// onSensorChange handles external temperature/humidity sensor updates.
func (c *Controller) onSensorChange(entityID string, _, newState *ha.State) {
	c.mu.Lock()
	dev := c.dev
	changed := false
	switch entityID {
	case dev.TemperatureEntity():
		if v := c.temperatureFrom(&dev, newState); v != nil {
			c.reading.Temperature = v
			changed = true
		}
	case dev.HumidityEntity():
		if v := c.humidityFrom(&dev, newState); v != nil {
			c.reading.Humidity = v
			changed = true
		}
	}
	c.recordReadingLocked()
	c.mu.Unlock()

	if changed {
		c.evaluate()
	}
}

// onClimateChange watches the climate device itself: it refreshes the
// capability lists, detects manual overrides and, when the climate entity is
// also the reading source, updates the readings.
func (c *Controller) onClimateChange(_ string, oldState, newState *ha.State) {
	if newState == nil || newState.Unavailable() {
		return
	}
	becameAvailable := oldState.Unavailable()

	c.mu.Lock()
	c.caps = CapabilitiesFromState(newState)
	dev := c.dev
	lastMode := c.lastMode

	override := c.enabled && !c.dispatching &&
		lastMode != "" && newState.State != lastMode
	if override {
		c.enabled = false
		c.lastMode = ""
		c.setStatusLocked(StatusDisabled)
		c.appendLogLocked(LogEntry{
			Time:   c.clk.Now(),
			Status: StatusDisabled,
			Reason: fmt.Sprintf("manual override: device reports %q, expected %q; automation disabled",
				newState.State, lastMode),
		})
	}

	changed := false
	if dev.TemperatureEntity() == dev.ClimateEntity {
		if v := c.temperatureFrom(&dev, newState); v != nil {
			c.reading.Temperature = v
			changed = true
		}
	}
	if dev.HumidityEntity() == dev.ClimateEntity {
		if v := c.humidityFrom(&dev, newState); v != nil {
			c.reading.Humidity = v
			changed = true
		}
	}
	c.recordReadingLocked()
	c.mu.Unlock()

	if override {
		c.logger.Warn("Manual override detected, automation disabled",
			zap.String("reported_mode", newState.State),
			zap.String("last_commanded_mode", lastMode))
		if c.metrics != nil {
			c.metrics.Overrides.WithLabelValues(dev.Room()).Inc()
		}
		c.notifyChange()
		return
	}
	if changed || becameAvailable {
		c.evaluate()
	}
}

// evaluate runs one decision cycle and dispatches the outcome. The lock is
// released around service calls so state echoes can be handled.
func (c *Controller) evaluate() {
	c.mu.Lock()
	dev := c.dev
	dec := Evaluate(&dev, c.reading, CommandState{
		Enabled:    c.enabled,
		LastMode:   c.lastMode,
		LastChange: c.lastChange,
	}, c.clk.Now())

	c.setStatusLocked(dec.Status)
	entry := LogEntry{
		Time:       c.clk.Now(),
		Status:     dec.Status,
		Reason:     dec.Reason,
		Suppressed: dec.Suppressed,
	}
	if dec.Command != nil {
		entry.Command = describeCommand(dec.Command)
	}
	c.appendLogLocked(entry)

	if dec.Suppressed && c.metrics != nil {
		c.metrics.Suppressed.WithLabelValues(dev.Room()).Inc()
	}

	needDispatch := dec.Command != nil || dec.HumidifierOn != nil
	if needDispatch && !c.readOnly {
		c.dispatching = true
	}
	caps := c.caps
	c.mu.Unlock()

	if dec.Suppressed {
		c.logger.Info("Command suppressed by minimum runtime",
			zap.String("reason", dec.Reason))
	}

	if needDispatch && c.readOnly {
		c.logger.Info("Read-only mode, not dispatching",
			zap.String("reason", dec.Reason),
			zap.String("command", entry.Command))
		c.notifyChange()
		return
	}
	if !needDispatch {
		c.notifyChange()
		return
	}

	d := &dispatcher{client: c.client, clk: c.clk, logger: c.logger, dev: &dev}

	var modeChanged bool
	var dispatchErr error
	if dec.Command != nil {
		c.logger.Info("Dispatching climate command",
			zap.String("command", entry.Command),
			zap.String("reason", dec.Reason))
		modeChanged, dispatchErr = d.dispatch(*dec.Command, caps)
	}
	if dec.HumidifierOn != nil {
		if err := d.setHumidifier(*dec.HumidifierOn); err != nil {
			c.logger.Error("Failed to switch humidifier", zap.Error(err))
			if c.metrics != nil {
				c.metrics.DispatchFailures.WithLabelValues(dev.Room()).Inc()
			}
		}
	}

	c.mu.Lock()
	c.dispatching = false
	if modeChanged {
		c.lastMode = dec.Command.Mode
		c.lastChange = c.clk.Now()
		if c.metrics != nil {
			c.metrics.Commands.WithLabelValues(dev.Room(), dec.Command.Mode).Inc()
		}
	}
	c.mu.Unlock()

	if dispatchErr != nil {
		// Next reading change retries naturally; nothing is rolled back.
		c.logger.Error("Command dispatch failed", zap.Error(dispatchErr))
		if c.metrics != nil {
			c.metrics.DispatchFailures.WithLabelValues(dev.Room()).Inc()
		}
	}
	c.notifyChange()
}

// Enable turns the automation on and evaluates immediately.
func (c *Controller) Enable() {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = true
	c.appendLogLocked(LogEntry{Time: c.clk.Now(), Status: c.status, Reason: "automation enabled"})
	c.mu.Unlock()

	c.logger.Info("Automation enabled")
	c.evaluate()
}

// Disable turns the automation off. Re-enabling requires an explicit call.
func (c *Controller) Disable(reason string) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = false
	c.setStatusLocked(StatusDisabled)
	c.appendLogLocked(LogEntry{Time: c.clk.Now(), Status: StatusDisabled, Reason: reason})
	c.mu.Unlock()

	c.logger.Info("Automation disabled", zap.String("reason", reason))
	c.notifyChange()
}

// UpdateThresholds changes the configured thresholds. Nil arguments leave
// the current value in place. The next evaluation uses the new values.
func (c *Controller) UpdateThresholds(minTemp, maxTemp, minHumidity, maxHumidity *float64) error {
	c.mu.Lock()
	dev := c.dev
	if minTemp != nil {
		dev.MinTemp = *minTemp
	}
	if maxTemp != nil {
		dev.MaxTemp = *maxTemp
	}
	if minHumidity != nil {
		dev.MinHumidity = *minHumidity
	}
	if maxHumidity != nil {
		dev.MaxHumidity = *maxHumidity
	}
	if dev.MinTemp >= dev.MaxTemp {
		c.mu.Unlock()
		return fmt.Errorf("min_temp %.1f must be below max_temp %.1f", dev.MinTemp, dev.MaxTemp)
	}
	if dev.UseHumidity && dev.MinHumidity >= dev.MaxHumidity {
		c.mu.Unlock()
		return fmt.Errorf("min_humidity %.1f must be below max_humidity %.1f", dev.MinHumidity, dev.MaxHumidity)
	}
	c.dev = dev
	caps := c.caps
	c.mu.Unlock()

	c.logger.Info("Thresholds updated",
		zap.Float64("min_temp", dev.MinTemp),
		zap.Float64("max_temp", dev.MaxTemp),
		zap.Float64("min_humidity", dev.MinHumidity),
		zap.Float64("max_humidity", dev.MaxHumidity))
	c.warnDeviceLimits(caps, dev)
	c.evaluate()
	return nil
}

// warnDeviceLimits flags configured temperatures that fall outside the
// setpoint range the climate device reports. The automation still runs;
// targets are clamped at dispatch time.
func (c *Controller) warnDeviceLimits(caps Capabilities, dev config.Device) {
	if caps.MinTemp == nil && caps.MaxTemp == nil {
		return
	}
	check := func(name string, value float64) {
		if caps.MinTemp != nil && value < *caps.MinTemp {
			c.logger.Warn("Configured temperature below device limit",
				zap.String("setting", name),
				zap.Float64("value", value),
				zap.Float64("device_min", *caps.MinTemp))
		}
		if caps.MaxTemp != nil && value > *caps.MaxTemp {
			c.logger.Warn("Configured temperature above device limit",
				zap.String("setting", name),
				zap.Float64("value", value),
				zap.Float64("device_max", *caps.MaxTemp))
		}
	}
	check("min_temp", dev.MinTemp)
	check("max_temp", dev.MaxTemp)
	if dev.LowTemp.TargetTemp != nil {
		check("low_temp.target_temp", *dev.LowTemp.TargetTemp)
	}
	if dev.HighTemp.TargetTemp != nil {
		check("high_temp.target_temp", *dev.HighTemp.TargetTemp)
	}
	if dev.HighHumidity.TargetTemp != nil {
		check("high_humidity.target_temp", *dev.HighHumidity.TargetTemp)
	}
}

// Snapshot returns the current status projection.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Room:          c.dev.Room(),
		ClimateEntity: c.dev.ClimateEntity,
		Enabled:       c.enabled,
		Status:        c.status,
		Temperature:   c.reading.Temperature,
		Humidity:      c.reading.Humidity,
		MinTemp:       c.dev.MinTemp,
		MaxTemp:       c.dev.MaxTemp,
		LowTemp:       conditionSettings(c.dev.LowTemp),
		HighTemp:      conditionSettings(c.dev.HighTemp),
		HighHumidity:  conditionSettings(c.dev.HighHumidity),
		Capabilities:  c.caps,
		LastMode:      c.lastMode,
	}
	if c.dev.UseHumidity {
		snap.MinHumidity = c.dev.MinHumidity
		snap.MaxHumidity = c.dev.MaxHumidity
	}
	if !c.lastChange.IsZero() {
		t := c.lastChange
		snap.LastChange = &t
	}
	if !c.timerEnd.IsZero() {
		t := c.timerEnd
		snap.TimerEnd = &t
		snap.TimerAction = c.timerAction
	}
	return snap
}

// Log returns the decision log, newest first.
func (c *Controller) Log() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]LogEntry, len(c.log))
	for i, entry := range c.log {
		entries[len(c.log)-1-i] = entry
	}
	return entries
}

func (c *Controller) setStatusLocked(status Status) {
	c.status = status
	if c.metrics == nil {
		return
	}
	room := c.dev.Room()
	for _, s := range AllStatuses {
		value := 0.0
		if s == status {
			value = 1.0
		}
		c.metrics.Status.WithLabelValues(room, string(s)).Set(value)
	}
}

func (c *Controller) recordReadingLocked() {
	if c.metrics == nil {
		return
	}
	room := c.dev.Room()
	if c.reading.Temperature != nil {
		c.metrics.Temperature.WithLabelValues(room).Set(*c.reading.Temperature)
	}
	if c.reading.Humidity != nil {
		c.metrics.Humidity.WithLabelValues(room).Set(*c.reading.Humidity)
	}
}

// appendLogLocked keeps the log bounded and skips entries identical to the
// previous one so repeated in-range readings do not flood it.
func (c *Controller) appendLogLocked(entry LogEntry) {
	if n := len(c.log); n > 0 {
		last := c.log[n-1]
		if last.Status == entry.Status && last.Reason == entry.Reason &&
			last.Command == entry.Command && last.Suppressed == entry.Suppressed {
			return
		}
	}
	c.log = append(c.log, entry)
	if len(c.log) > decisionLogSize {
		c.log = c.log[len(c.log)-decisionLogSize:]
	}
}

func (c *Controller) notifyChange() {
	if c.onChange == nil {
		return
	}
	c.mu.Lock()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.onChange(snap)
}

func describeCommand(cmd *Command) string {
	desc := cmd.Mode
	if cmd.TargetTemp != nil {
		desc += fmt.Sprintf(" target=%.1f", *cmd.TargetTemp)
	}
	if cmd.FanMode != "" {
		desc += " fan=" + cmd.FanMode
	}
	if cmd.SwingMode != "" {
		desc += " swing=" + cmd.SwingMode
	}
	if cmd.SwingHorizontalMode != "" {
		desc += " swing_h=" + cmd.SwingHorizontalMode
	}
	return desc
}
