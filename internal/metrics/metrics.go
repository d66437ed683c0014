// Package metrics exposes Prometheus instrumentation for the react
// controllers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by all device controllers.
type Metrics struct {
	Temperature *prometheus.GaugeVec
	Humidity    *prometheus.GaugeVec
	Status      *prometheus.GaugeVec

	Commands         *prometheus.CounterVec
	Suppressed       *prometheus.CounterVec
	Overrides        *prometheus.CounterVec
	DispatchFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "climatereact_temperature_celsius",
			Help: "Last temperature reading per room.",
		}, []string{"room"}),
		Humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "climatereact_humidity_percent",
			Help: "Last relative humidity reading per room.",
		}, []string{"room"}),
		Status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "climatereact_status",
			Help: "Current automation status per room (1 for the active status).",
		}, []string{"room", "status"}),
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "climatereact_commands_total",
			Help: "Climate commands dispatched, by target mode.",
		}, []string{"room", "mode"}),
		Suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "climatereact_commands_suppressed_total",
			Help: "Commands withheld by the minimum-runtime guard.",
		}, []string{"room"}),
		Overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "climatereact_manual_overrides_total",
			Help: "Manual overrides detected, each disabling the automation.",
		}, []string{"room"}),
		DispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "climatereact_dispatch_failures_total",
			Help: "Service calls that Home Assistant rejected or timed out.",
		}, []string{"room"}),
	}

	reg.MustRegister(
		m.Temperature, m.Humidity, m.Status,
		m.Commands, m.Suppressed, m.Overrides, m.DispatchFailures,
	)
	return m
}
