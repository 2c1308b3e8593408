// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relabs-tech/bokobox/internal/logging"
)

func TestParseVectorRoundTrip(t *testing.T) {
	v, err := ParseVector(" 20, 50.5 ,10,15 ")
	if err != nil {
		t.Fatalf("ParseVector: %v", err)
	}
	if got := v.String(); got != "20,50.5,10,15" {
		t.Fatalf("String() = %q, want %q", got, "20,50.5,10,15")
	}
	if _, err := ParseVector("1,two,3"); err == nil {
		t.Fatalf("ParseVector accepted a non-number")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		v    Vector
		n    int
		good bool
	}{
		{Vector{1, 2, 3, 4}, 4, true},
		{Vector{1, 2, 3}, 4, false},
		{Vector{1, 0, 3, 4}, 4, false},
		{Vector{1, -2, 3, 4}, 4, false},
		{Vector{1, math.NaN(), 3, 4}, 4, false},
		{Vector{1, math.Inf(1), 3, 4}, 4, false},
	}
	for _, tc := range cases {
		err := tc.v.Validate(tc.n)
		if (err == nil) != tc.good {
			t.Fatalf("Validate(%v, %d) = %v, want ok=%v", tc.v, tc.n, err, tc.good)
		}
	}
}

func TestIniStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	store := NewIniStore(path)

	if _, err := store.Load(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() on missing file = %v, want ErrNotFound", err)
	}
	if err := store.Save(Vector{1.5, 2, 3, 4.25}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.String() != "1.5,2,3,4.25" {
		t.Fatalf("Load() = %v, want 1.5,2,3,4.25", got)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(raw), "[Calibration]") {
		t.Fatalf("file lacks [Calibration] section: %q", raw)
	}
}

func TestIniStorePreservesOtherKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.ini")
	seed := "[Serial]\nport = COM3\n\n[Calibration]\nfactors = 20,50,10,15\n"
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store := NewIniStore(path)
	if err := store.Save(Vector{2, 4, 6, 8}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, _ := os.ReadFile(path)
	if !strings.Contains(string(raw), "COM3") {
		t.Fatalf("Save dropped unrelated section: %q", raw)
	}
	got, _ := store.Load()
	if got.String() != "2,4,6,8" {
		t.Fatalf("Load() = %v, want 2,4,6,8", got)
	}
}

func TestLoadOrDefault(t *testing.T) {
	ctx := context.Background()
	def := DefaultVector()

	if got := LoadOrDefault(ctx, &MemoryStore{}, def, 4, logging.Noop()); got.String() != def.String() {
		t.Fatalf("empty store: got %v, want default %v", got, def)
	}

	wrongWidth := &MemoryStore{}
	wrongWidth.Save(Vector{1, 2})
	if got := LoadOrDefault(ctx, wrongWidth, def, 4, logging.Noop()); got.String() != def.String() {
		t.Fatalf("wrong width: got %v, want default", got)
	}

	good := &MemoryStore{}
	good.Save(Vector{3, 3, 3, 3})
	if got := LoadOrDefault(ctx, good, def, 4, logging.Noop()); got.String() != "3,3,3,3" {
		t.Fatalf("stored vector: got %v, want 3,3,3,3", got)
	}

	path := filepath.Join(t.TempDir(), "broken.ini")
	os.WriteFile(path, []byte("[Calibration]\nfactors = a,b\n"), 0o644)
	if got := LoadOrDefault(ctx, NewIniStore(path), def, 4, logging.Noop()); got.String() != def.String() {
		t.Fatalf("unparsable file: got %v, want default", got)
	}
}
