// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics defines the Prometheus metrics for the device loop and the
// bridge. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quadrant"

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler for reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds the application metrics
type Metrics struct {
	Commands       *prometheus.CounterVec   // labels: command, result=ok|error
	CommandLatency *prometheus.HistogramVec // labels: command
	Resets         *prometheus.CounterVec   // labels: result=ok|error
	LengthWarnings prometheus.Counter
	Anomalies      *prometheus.CounterVec // labels: type
	LoopState      prometheus.Gauge
	LeverLocked    prometheus.Gauge
	BridgeClients  prometheus.Gauge
	BridgeMessages *prometheus.CounterVec // labels: direction=in|out, result=ok|rejected|error
}

// New registers and returns the application metrics
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Device commands by command and result.",
		}, []string{"command", "result"}),
		CommandLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Round trip time of device commands.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1},
		}, []string{"command"}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_resets_total",
			Help:      "Device reset recoveries by result.",
		}, []string{"result"}),
		LengthWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_length_mismatch_total",
			Help:      "Responses accepted with an unexpected data length.",
		}),
		Anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_anomalies_total",
			Help:      "Suspicious poll values by type.",
		}, []string{"type"}),
		LoopState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_state",
			Help:      "Device loop state (0=initializing 1=polling 2=locked 3=released 4=recovering 5=stopped).",
		}),
		LeverLocked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lever_locked",
			Help:      "1 while the throttle levers are held by the autothrottle.",
		}),
		BridgeClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_clients",
			Help:      "Connected websocket clients.",
		}),
		BridgeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_messages_total",
			Help:      "Bridge websocket messages by direction and result.",
		}, []string{"direction", "result"}),
	}
	reg.MustRegister(m.Commands, m.CommandLatency, m.Resets, m.LengthWarnings, m.Anomalies,
		m.LoopState, m.LeverLocked, m.BridgeClients, m.BridgeMessages)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveCommand records one command round trip
func (m *Metrics) ObserveCommand(command string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command, result(err)).Inc()
	m.CommandLatency.WithLabelValues(command).Observe(d.Seconds())
}

// ObserveReset records one reset recovery
func (m *Metrics) ObserveReset(err error) {
	if m == nil {
		return
	}
	m.Resets.WithLabelValues(result(err)).Inc()
}

// ObserveLengthWarning counts a length mismatch
func (m *Metrics) ObserveLengthWarning() {
	if m == nil {
		return
	}
	m.LengthWarnings.Inc()
}

// ObserveAnomaly counts a suspicious poll value
func (m *Metrics) ObserveAnomaly(kind string) {
	if m == nil {
		return
	}
	m.Anomalies.WithLabelValues(kind).Inc()
}

// SetLoopState publishes the loop state
func (m *Metrics) SetLoopState(state int) {
	if m == nil {
		return
	}
	m.LoopState.Set(float64(state))
}

// SetLeverLocked publishes the lever lock flag
func (m *Metrics) SetLeverLocked(locked bool) {
	if m == nil {
		return
	}
	if locked {
		m.LeverLocked.Set(1)
	} else {
		m.LeverLocked.Set(0)
	}
}

// ClientConnected adjusts the bridge client gauge by delta
func (m *Metrics) ClientConnected(delta int) {
	if m == nil {
		return
	}
	m.BridgeClients.Add(float64(delta))
}

// ObserveMessage counts a bridge message
func (m *Metrics) ObserveMessage(direction, result string) {
	if m == nil {
		return
	}
	m.BridgeMessages.WithLabelValues(direction, result).Inc()
}
