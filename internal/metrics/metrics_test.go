// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveFrame(FrameOK, time.Millisecond)
	c.ObserveFrame(FrameOK, time.Millisecond)
	c.ObserveFrame(FrameMalformed, time.Microsecond)
	c.ObserveCalibration(CalibrationCompleted)
	c.SetCalibrating(true)
	c.SetHistoryEntries(7)
	c.ObserveTransportError()

	if got := testutil.ToFloat64(c.Frames.WithLabelValues(FrameOK)); got != 2 {
		t.Fatalf("frames{ok} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Frames.WithLabelValues(FrameMalformed)); got != 1 {
		t.Fatalf("frames{malformed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Calibrations.WithLabelValues(CalibrationCompleted)); got != 1 {
		t.Fatalf("calibrations{completed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Calibrating); got != 1 {
		t.Fatalf("calibrating = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.HistoryEntries); got != 7 {
		t.Fatalf("history_entries = %v, want 7", got)
	}
	if got := testutil.ToFloat64(c.TransportErrors); got != 1 {
		t.Fatalf("transport_errors = %v, want 1", got)
	}
}

func TestCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("first NewCollector: %v", err)
	}
	b, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	a.ObserveFrame(FrameOK, 0)
	if got := testutil.ToFloat64(b.Frames.WithLabelValues(FrameOK)); got != 1 {
		t.Fatalf("second collector does not share counters: %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveFrame(FrameOK, time.Second)
	c.ObserveCalibration(CalibrationFailed)
	c.SetCalibrating(true)
	c.SetHistoryEntries(1)
	c.ObserveTransportError()
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	c.ObserveFrame(FrameZeroEnergy, 0)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `bokobox_frames_total{outcome="zero_energy"} 1`) {
		t.Fatalf("metrics output missing frame counter:\n%s", body)
	}
}
