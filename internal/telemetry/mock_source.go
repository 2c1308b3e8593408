// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
)

// MockOptions configures a MockSource.
type MockOptions struct {
	Interval time.Duration
	// Positions of the sensors; one amplitude is produced per position.
	Positions []r2.Vec
	// Targets are the points the simulated strikes land near.
	Targets []r2.Vec
	// Gains multiply each channel's amplitude, emulating sensors with
	// different sensitivities.
	Gains []float64
	// MalformedEvery emits a garbage line every n frames; 0 disables it.
	MalformedEvery int
	Seed           int64
}

// MockSource synthesizes impact frames so the pipeline can run without
// the sensor board.
type MockSource struct {
	opts   MockOptions
	rng    *rand.Rand
	frames int

	closeOnce sync.Once
	done      chan struct{}
}

var errMockClosed = errors.New("telemetry: mock source closed")

// NewMockSource returns a source emitting one frame per interval.
func NewMockSource(opts MockOptions) *MockSource {
	if opts.Interval <= 0 {
		opts.Interval = 100 * time.Millisecond
	}
	if len(opts.Targets) == 0 {
		opts.Targets = append([]r2.Vec(nil), opts.Positions...)
		opts.Targets = append(opts.Targets, r2.Vec{})
	}
	return &MockSource{
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
		done: make(chan struct{}),
	}
}

// ReadLine waits one interval and returns the next synthetic frame.
func (m *MockSource) ReadLine(ctx context.Context) (string, error) {
	timer := time.NewTimer(m.opts.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-m.done:
		return "", errMockClosed
	case <-timer.C:
	}

	m.frames++
	if m.opts.MalformedEvery > 0 && m.frames%m.opts.MalformedEvery == 0 {
		return "ERR adc overflow", nil
	}
	return m.frame(), nil
}

func (m *MockSource) frame() string {
	target := m.opts.Targets[m.rng.Intn(len(m.opts.Targets))]
	target = r2.Add(target, r2.Vec{X: m.rng.NormFloat64() * 0.03, Y: m.rng.NormFloat64() * 0.03})
	strength := 50 + m.rng.Float64()*50

	parts := make([]string, len(m.opts.Positions))
	for i, p := range m.opts.Positions {
		d := r2.Norm(r2.Sub(target, p))
		amp := strength * math.Exp(-4*d*d)
		if i < len(m.opts.Gains) {
			amp *= m.opts.Gains[i]
		}
		parts[i] = strconv.FormatFloat(amp, 'f', 3, 64)
	}
	return strings.Join(parts, " ")
}

// Close makes pending and future reads fail.
func (m *MockSource) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}
