// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package localize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// Reference is one labeled candidate position.
type Reference struct {
	Label string
	Pos   r2.Vec
}

// Grid is an ordered, read-only set of reference positions.
type Grid []Reference

// DefaultGrid returns the nine-point pad layout: the centre, then the
// eight surrounding points counter-clockwise from +X.
func DefaultGrid() Grid {
	pts := []r2.Vec{
		{X: 0, Y: 0},
		{X: 0.5, Y: 0},
		{X: 0.5, Y: 0.5},
		{X: 0, Y: 0.5},
		{X: -0.5, Y: 0.5},
		{X: -0.5, Y: 0},
		{X: -0.5, Y: -0.5},
		{X: 0, Y: -0.5},
		{X: 0.5, Y: -0.5},
	}
	g := make(Grid, len(pts))
	for i, p := range pts {
		g[i] = Reference{Label: fmt.Sprintf("P%d", i), Pos: p}
	}
	return g
}

// DefaultChannelIndices are the grid points the four sensors sit on.
func DefaultChannelIndices() []int { return []int{1, 3, 5, 7} }

// Positions resolves grid indices to coordinates.
func (g Grid) Positions(indices []int) ([]r2.Vec, error) {
	out := make([]r2.Vec, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(g) {
			return nil, fmt.Errorf("localize: channel %d position index %d outside grid of %d", i, idx, len(g))
		}
		out[i] = g[idx].Pos
	}
	return out, nil
}

// Snap returns the reference closest to p and its index. Ties go to the
// earlier entry. Snap on an empty grid returns index -1.
func (g Grid) Snap(p r2.Vec) (Reference, int) {
	best := -1
	bestDist := math.Inf(1)
	for i, ref := range g {
		d := r2.Norm(r2.Sub(p, ref.Pos))
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return Reference{}, -1
	}
	return g[best], best
}
