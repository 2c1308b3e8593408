// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquire

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseCommand(t *testing.T) {
	cases := map[string]Command{
		"calibrate":   CommandCalibrate,
		" C ":         CommandCalibrate,
		"Calibration": CommandCalibrate,
		"g":           CommandAcquire,
		"acquire":     CommandAcquire,
		"cancel":      CommandAcquire,
	}
	for in, want := range cases {
		got, err := ParseCommand(in)
		if err != nil || got != want {
			t.Fatalf("ParseCommand(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseCommand("reboot"); err == nil {
		t.Fatalf("ParseCommand accepted unknown command")
	}
}

func TestModeNext(t *testing.T) {
	if next, ok := Acquiring.Next(CommandCalibrate); !ok || next != Calibrating {
		t.Fatalf("Acquiring.Next(calibrate) = %v, %v", next, ok)
	}
	if next, ok := Calibrating.Next(CommandAcquire); !ok || next != Acquiring {
		t.Fatalf("Calibrating.Next(acquire) = %v, %v", next, ok)
	}
	if _, ok := Acquiring.Next(CommandAcquire); ok {
		t.Fatalf("Acquiring.Next(acquire) should be a no-op")
	}
	if _, ok := Calibrating.Next(CommandCalibrate); ok {
		t.Fatalf("Calibrating.Next(calibrate) should be a no-op")
	}
	if _, ok := Acquiring.Next(Command(42)); ok {
		t.Fatalf("unknown command changed mode")
	}
}

func TestModeJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Mode Mode `json:"mode"`
	}{Calibrating})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"mode":"calibrating"}` {
		t.Fatalf("Marshal = %s", b)
	}
	var m Mode
	if err := m.UnmarshalText([]byte("acquiring")); err != nil || m != Acquiring {
		t.Fatalf("UnmarshalText = %v, %v", m, err)
	}
	if err := m.UnmarshalText([]byte("sleeping")); err == nil {
		t.Fatalf("UnmarshalText accepted unknown mode")
	}
}

func TestSnapshotStale(t *testing.T) {
	now := time.Date(2026, time.March, 1, 0, 0, 10, 0, time.UTC)
	s := &Snapshot{}
	if !s.Stale(now, 3*time.Second) {
		t.Fatalf("snapshot without frames should be stale")
	}
	s.LastFrame = now.Add(-2 * time.Second)
	if s.Stale(now, 3*time.Second) {
		t.Fatalf("recent frame reported stale")
	}
	s.LastFrame = now.Add(-4 * time.Second)
	if !s.Stale(now, 3*time.Second) {
		t.Fatalf("old frame not reported stale")
	}
}
