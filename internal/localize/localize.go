// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package localize estimates where the pad was struck from calibrated
// channel amplitudes: each sensor's fixed position is weighted by its
// scaled amplitude and the weighted mean is snapped to a reference grid.
package localize

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/relabs-tech/bokobox/internal/calibration"
	"github.com/relabs-tech/bokobox/internal/frame"
)

var (
	// ErrDegenerate reports a calibration that cannot be divided by.
	ErrDegenerate = errors.New("degenerate calibration")
	// ErrZeroEnergy reports a reading with no signal; there is no estimate.
	ErrZeroEnergy = errors.New("zero energy")
)

// Estimate is the result of localizing one reading.
type Estimate struct {
	// Centroid is the raw weighted position. It is what history tracks.
	Centroid r2.Vec
	// Nearest is the reference point closest to Centroid.
	Nearest      Reference
	NearestIndex int
	// Scaled holds reading[i] / calibration[i].
	Scaled []float64
}

// Localizer holds the immutable channel geometry.
type Localizer struct {
	positions []r2.Vec
	grid      Grid
}

// New returns a Localizer for sensors at positions, snapping to grid.
func New(positions []r2.Vec, grid Grid) (*Localizer, error) {
	if len(positions) == 0 {
		return nil, errors.New("localize: no channel positions")
	}
	if len(grid) == 0 {
		return nil, errors.New("localize: empty reference grid")
	}
	l := &Localizer{
		positions: append([]r2.Vec(nil), positions...),
		grid:      append(Grid(nil), grid...),
	}
	return l, nil
}

// Channels reports how many channels the localizer expects.
func (l *Localizer) Channels() int { return len(l.positions) }

// Grid returns a copy of the reference grid.
func (l *Localizer) Grid() Grid { return append(Grid(nil), l.grid...) }

// Positions returns a copy of the channel positions.
func (l *Localizer) Positions() []r2.Vec { return append([]r2.Vec(nil), l.positions...) }

// Scale divides each reading entry by its calibration factor.
func (l *Localizer) Scale(r frame.Reading, cal calibration.Vector) ([]float64, error) {
	if len(r) != len(l.positions) || len(cal) != len(l.positions) {
		return nil, fmt.Errorf("%w: reading %d, calibration %d, positions %d",
			frame.ErrDimensionMismatch, len(r), len(cal), len(l.positions))
	}
	scaled := make([]float64, len(r))
	for i := range r {
		if cal[i] == 0 {
			return nil, fmt.Errorf("%w: factor %d is zero", ErrDegenerate, i)
		}
		scaled[i] = r[i] / cal[i]
	}
	return scaled, nil
}

// Localize scales r by cal, computes the weighted centroid and snaps it.
func (l *Localizer) Localize(r frame.Reading, cal calibration.Vector) (Estimate, error) {
	scaled, err := l.Scale(r, cal)
	if err != nil {
		return Estimate{}, err
	}
	c, err := Centroid(l.positions, scaled)
	if err != nil {
		return Estimate{}, err
	}
	ref, idx := l.grid.Snap(c)
	return Estimate{Centroid: c, Nearest: ref, NearestIndex: idx, Scaled: scaled}, nil
}

// Centroid returns Σ positions[i]*weights[i] / Σ weights[i].
func Centroid(positions []r2.Vec, weights []float64) (r2.Vec, error) {
	if len(positions) != len(weights) {
		return r2.Vec{}, fmt.Errorf("%w: %d positions, %d weights",
			frame.ErrDimensionMismatch, len(positions), len(weights))
	}
	total := floats.Sum(weights)
	if total == 0 {
		return r2.Vec{}, ErrZeroEnergy
	}
	var sum r2.Vec
	for i, p := range positions {
		sum = r2.Add(sum, r2.Scale(weights[i], p))
	}
	return r2.Scale(1/total, sum), nil
}

// Shares returns each weight as a percentage of the total, nil when the
// total is zero.
func Shares(weights []float64) []float64 {
	total := floats.Sum(weights)
	if total == 0 {
		return nil
	}
	out := make([]float64, len(weights))
	floats.ScaleTo(out, 100/total, weights)
	return out
}

// NormalizeRadius maps radius linearly so that neg becomes 0 and pos
// becomes 1, clamped to [0, 1].
func NormalizeRadius(radius, pos, neg float64) (float64, error) {
	if pos == neg {
		return 0, fmt.Errorf("%w: positive and negative factors are both %v", ErrDegenerate, pos)
	}
	v := (radius - neg) / (pos - neg)
	switch {
	case v < 0:
		return 0, nil
	case v > 1:
		return 1, nil
	}
	return v, nil
}
