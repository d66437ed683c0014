package react

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SetTimer arms the countdown timer. When it expires the automation is
// disabled; with TimerTurnOff the climate device is also switched off.
// An already armed timer is replaced.
func (c *Controller) SetTimer(d time.Duration, action TimerAction) error {
	if d <= 0 {
		return fmt.Errorf("timer duration must be positive")
	}
	switch action {
	case TimerDisable, TimerTurnOff:
	default:
		return fmt.Errorf("unknown timer action %q", action)
	}

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timerEnd = c.clk.Now().Add(d)
	c.timerAction = action
	c.timer = c.clk.AfterFunc(d, c.timerExpired)
	c.mu.Unlock()

	c.logger.Info("Countdown timer set",
		zap.Duration("duration", d),
		zap.String("action", string(action)))
	c.notifyChange()
	return nil
}

// CancelTimer disarms the countdown timer if one is running.
func (c *Controller) CancelTimer() {
	c.mu.Lock()
	if c.timer == nil {
		c.mu.Unlock()
		return
	}
	c.timer.Stop()
	c.timer = nil
	c.timerEnd = time.Time{}
	c.mu.Unlock()

	c.logger.Info("Countdown timer cancelled")
	c.notifyChange()
}

func (c *Controller) timerExpired() {
	c.mu.Lock()
	action := c.timerAction
	dev := c.dev
	c.timer = nil
	c.timerEnd = time.Time{}
	c.mu.Unlock()

	c.logger.Info("Countdown timer expired", zap.String("action", string(action)))
	c.Disable("countdown timer expired")

	if action == TimerTurnOff && !c.readOnly {
		if err := c.client.CallService("climate", "turn_off", map[string]interface{}{
			"entity_id": dev.ClimateEntity,
		}); err != nil {
			c.logger.Error("Failed to turn climate device off", zap.Error(err))
			if c.metrics != nil {
				c.metrics.DispatchFailures.WithLabelValues(dev.Room()).Inc()
			}
		}
	}
}
