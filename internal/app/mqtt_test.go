// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/relabs-tech/bokobox/internal/acquire"
	"github.com/relabs-tech/bokobox/internal/logging"
	"github.com/relabs-tech/bokobox/internal/window"
)

func TestDecodeCommand(t *testing.T) {
	cases := map[string]acquire.Command{
		"calibrate":              acquire.CommandCalibrate,
		"  g\n":                  acquire.CommandAcquire,
		`{"action":"calibrate"}`: acquire.CommandCalibrate,
		`{"mode":"acquire"}`:     acquire.CommandAcquire,
	}
	for in, want := range cases {
		got, err := decodeCommand([]byte(in))
		if err != nil || got != want {
			t.Fatalf("decodeCommand(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "{", `{"action":"reboot"}`} {
		if _, err := decodeCommand([]byte(bad)); err == nil {
			t.Fatalf("decodeCommand(%q) succeeded", bad)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMQTTBridgePublishesAndAppliesCommands(t *testing.T) {
	ctl := newFakeController()
	ctl.publish(&acquire.Snapshot{Calibration: ctl.Calibration()})
	broker := newFakeBroker()
	bridge := NewMQTTBridge(broker, ctl, "bokobox/snapshot", "bokobox/command", logging.Noop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- bridge.Run(ctx) }()

	waitFor(t, "initial snapshot", func() bool { return len(broker.messages("bokobox/snapshot")) == 1 })
	first := broker.messages("bokobox/snapshot")[0]
	if !first.retained {
		t.Fatalf("snapshot published without retain flag")
	}

	if !broker.deliver("bokobox/command", []byte("calibrate")) {
		t.Fatalf("bridge did not subscribe to the command topic")
	}
	broker.deliver("bokobox/command", []byte("bogus"))
	if got := ctl.Commands(); len(got) != 1 || got[0] != acquire.CommandCalibrate {
		t.Fatalf("applied commands = %v, want [calibrate]", got)
	}

	waitFor(t, "calibrating snapshot", func() bool { return len(broker.messages("bokobox/snapshot")) == 2 })
	var s acquire.Snapshot
	if err := json.Unmarshal(broker.messages("bokobox/snapshot")[1].payload, &s); err != nil {
		t.Fatalf("decode published snapshot: %v", err)
	}
	if s.Mode != acquire.Calibrating || s.Progress == nil {
		t.Fatalf("published snapshot = %+v", s)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("bridge did not stop")
	}
	if broker.subscribed("bokobox/command") {
		t.Fatalf("command topic still subscribed after stop")
	}
	if ctl.subscribers() != 0 {
		t.Fatalf("snapshot subscription leaked")
	}
}

func TestFormatSnapshot(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	s := &acquire.Snapshot{
		Mode:        acquire.Acquiring,
		LastFrame:   now.Add(-time.Second),
		Estimate:    &acquire.Estimate{Centroid: acquire.Point{X: 0.25, Y: -0.5}, Nearest: "P7"},
		HistoryMean: &acquire.Point{X: 0.25, Y: -0.5},
		HistoryStd:  &acquire.Point{},
		History:     make([]acquire.HistoryPoint, 2),
	}
	s.Stats = []window.ChannelStats{{Mean: 1.5, StdDev: 0.25}}
	lines := formatSnapshot(s, now)
	if len(lines) != 3 {
		t.Fatalf("formatSnapshot() = %q, want 3 lines", lines)
	}
	if !strings.Contains(lines[0], "1.500000 ± 0.250000") {
		t.Fatalf("stats line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "nearest=P7") || !strings.Contains(lines[2], "n=2") {
		t.Fatalf("lines = %q", lines)
	}

	cal := formatSnapshot(&acquire.Snapshot{Mode: acquire.Calibrating, Progress: progress(1, 3, 4, 5)}, now)
	if len(cal) != 1 || !strings.Contains(cal[0], "channel 2/4") || !strings.Contains(cal[0], "sample 3/5") {
		t.Fatalf("calibration lines = %q", cal)
	}
}

func TestFormatSnapshotBlanksWhenIdle(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	s := &acquire.Snapshot{
		Mode:      acquire.Acquiring,
		LastFrame: now.Add(-5 * time.Second),
		Estimate:  &acquire.Estimate{Nearest: "P1"},
		Stats:     []window.ChannelStats{{Mean: 1}},
	}
	lines := formatSnapshot(s, now)
	if len(lines) != 1 || !strings.Contains(lines[0], "no frames for 5s") {
		t.Fatalf("idle lines = %q", lines)
	}

	lines = formatSnapshot(&acquire.Snapshot{Mode: acquire.Acquiring}, now)
	if len(lines) != 1 || !strings.Contains(lines[0], "waiting for frames") {
		t.Fatalf("lines before any frame = %q", lines)
	}
}
