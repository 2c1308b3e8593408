// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONLoggerCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(Component("acquire"))

	log.Warn(context.Background(), "malformed frame", String("line", "1 2 x"), Int("channels", 4))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal log record: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "malformed frame" {
		t.Fatalf("msg = %v, want malformed frame", rec["msg"])
	}
	if rec["component"] != "acquire" || rec["line"] != "1 2 x" {
		t.Fatalf("fields missing from record: %v", rec)
	}
	if rec["level"] != "WARN" {
		t.Fatalf("level = %v, want WARN", rec["level"])
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})

	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record emitted at info level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("info record missing: %q", out)
	}
}

func TestNoopDropsEverything(t *testing.T) {
	log := Noop().With(String("k", "v"))
	log.Error(context.Background(), "nothing")
}

func TestParseLevelAndFormat(t *testing.T) {
	levels := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range levels {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("ParseLevel accepted an unknown level")
	}

	if got, err := ParseFormat("JSON"); err != nil || got != "json" {
		t.Fatalf("ParseFormat(JSON) = %q, %v", got, err)
	}
	if got, _ := ParseFormat(""); got != "text" {
		t.Fatalf("ParseFormat(\"\") = %q, want text", got)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("ParseFormat accepted xml")
	}
}
