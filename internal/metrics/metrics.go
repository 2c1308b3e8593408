// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Frame outcomes.
const (
	FrameOK                = "ok"
	FrameMalformed         = "malformed"
	FrameDimensionMismatch = "dimension_mismatch"
	FrameDegenerate        = "degenerate"
	FrameZeroEnergy        = "zero_energy"
	FrameCalibration       = "calibration"
)

// Calibration cycle outcomes.
const (
	CalibrationCompleted = "completed"
	CalibrationCancelled = "cancelled"
	CalibrationFailed    = "failed"
)

// Collector bundles the acquisition metrics. All methods are safe on a nil
// receiver so components can run without metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Frames          *prometheus.CounterVec
	Calibrations    *prometheus.CounterVec
	FrameDuration   prometheus.Histogram
	Calibrating     prometheus.Gauge
	HistoryEntries  prometheus.Gauge
	TransportErrors prometheus.Counter
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	frames, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bokobox_frames_total",
		Help: "Serial frames handled by the acquisition loop, labeled by outcome.",
	}, []string{"outcome"}), "bokobox_frames_total")
	if err != nil {
		return nil, err
	}
	cals, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bokobox_calibrations_total",
		Help: "Calibration cycles, labeled by outcome.",
	}, []string{"outcome"}), "bokobox_calibrations_total")
	if err != nil {
		return nil, err
	}
	dur, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bokobox_frame_duration_seconds",
		Help:    "Time spent processing one frame.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
	}), "bokobox_frame_duration_seconds")
	if err != nil {
		return nil, err
	}
	calibrating, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bokobox_calibrating",
		Help: "1 while a calibration cycle is running.",
	}), "bokobox_calibrating")
	if err != nil {
		return nil, err
	}
	hist, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bokobox_history_entries",
		Help: "Centroid estimates currently retained in the history.",
	}), "bokobox_history_entries")
	if err != nil {
		return nil, err
	}
	transport, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bokobox_transport_errors_total",
		Help: "Fatal serial transport failures.",
	}), "bokobox_transport_errors_total")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		Frames:          frames,
		Calibrations:    cals,
		FrameDuration:   dur,
		Calibrating:     calibrating,
		HistoryEntries:  hist,
		TransportErrors: transport,
	}, nil
}

// ObserveFrame counts one frame and its processing time.
func (c *Collector) ObserveFrame(outcome string, took time.Duration) {
	if c == nil {
		return
	}
	c.Frames.WithLabelValues(outcome).Inc()
	c.FrameDuration.Observe(took.Seconds())
}

// ObserveCalibration counts one finished calibration cycle.
func (c *Collector) ObserveCalibration(outcome string) {
	if c == nil {
		return
	}
	c.Calibrations.WithLabelValues(outcome).Inc()
}

// SetCalibrating records the current mode.
func (c *Collector) SetCalibrating(on bool) {
	if c == nil {
		return
	}
	v := 0.0
	if on {
		v = 1
	}
	c.Calibrating.Set(v)
}

// SetHistoryEntries records the history size.
func (c *Collector) SetHistoryEntries(n int) {
	if c == nil {
		return
	}
	c.HistoryEntries.Set(float64(n))
}

// ObserveTransportError counts a fatal transport failure.
func (c *Collector) ObserveTransportError() {
	if c == nil {
		return
	}
	c.TransportErrors.Inc()
}

// Handler exposes a /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}
