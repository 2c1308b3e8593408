// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquire

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/relabs-tech/bokobox/internal/calibration"
	"github.com/relabs-tech/bokobox/internal/frame"
	"github.com/relabs-tech/bokobox/internal/history"
	"github.com/relabs-tech/bokobox/internal/localize"
	"github.com/relabs-tech/bokobox/internal/window"
)

// radiusScale converts a scaled amplitude to a display radius.
const radiusScale = 10

// Point is a JSON-friendly 2-D position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func pointOf(v r2.Vec) Point { return Point{X: v.X, Y: v.Y} }

// Estimate is a published centroid.
type Estimate struct {
	Centroid     Point     `json:"centroid"`
	Nearest      string    `json:"nearest"`
	NearestPoint Point     `json:"nearest_point"`
	Scaled       []float64 `json:"scaled"`
	Shares       []float64 `json:"shares"`
	Radii        []float64 `json:"radii"`
	// NormRadii maps Radii onto [0, 1] between the smallest and largest
	// radius. It is empty when all radii are equal.
	NormRadii    []float64 `json:"norm_radii,omitempty"`
	At           time.Time `json:"at"`
}

func newEstimate(e localize.Estimate, at time.Time) *Estimate {
	radii := make([]float64, len(e.Scaled))
	for i, s := range e.Scaled {
		radii[i] = s / radiusScale
	}
	return &Estimate{
		Centroid:     pointOf(e.Centroid),
		Nearest:      e.Nearest.Label,
		NearestPoint: pointOf(e.Nearest.Pos),
		Scaled:       e.Scaled,
		Shares:       localize.Shares(e.Scaled),
		Radii:        radii,
		NormRadii:    normRadii(radii),
		At:           at,
	}
}

func normRadii(radii []float64) []float64 {
	if len(radii) == 0 {
		return nil
	}
	lo, hi := floats.Min(radii), floats.Max(radii)
	out := make([]float64, len(radii))
	for i, r := range radii {
		v, err := localize.NormalizeRadius(r, hi, lo)
		if err != nil {
			return nil
		}
		out[i] = v
	}
	return out
}

// HistoryPoint is one retained centroid with its age and fade.
type HistoryPoint struct {
	Point
	At    time.Time `json:"at"`
	AgeMS int64     `json:"age_ms"`
	Alpha float64   `json:"alpha"`
}

// Snapshot is an immutable view of the loop's state. Consumers must not
// modify it; every slice is owned by the snapshot alone.
type Snapshot struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	LastFrame time.Time `json:"last_frame"`
	Mode      Mode      `json:"mode"`
	// Progress is set while calibrating.
	Progress    *calibration.Progress `json:"calibration_progress,omitempty"`
	Calibration calibration.Vector    `json:"calibration"`
	Reading     frame.Reading         `json:"reading,omitempty"`
	Stats       []window.ChannelStats `json:"stats,omitempty"`
	// Estimate is nil when the latest reading produced no centroid.
	Estimate    *Estimate      `json:"estimate,omitempty"`
	History     []HistoryPoint `json:"history"`
	HistoryMean *Point         `json:"history_mean,omitempty"`
	HistoryStd  *Point         `json:"history_std,omitempty"`
}

// Stale reports whether no frame arrived within idle before now.
func (s *Snapshot) Stale(now time.Time, idle time.Duration) bool {
	return s.LastFrame.IsZero() || now.Sub(s.LastFrame) > idle
}

func historyPoints(entries []history.Aged) []HistoryPoint {
	out := make([]HistoryPoint, len(entries))
	for i, e := range entries {
		out[i] = HistoryPoint{
			Point: pointOf(e.Point),
			At:    e.At,
			AgeMS: e.Age.Milliseconds(),
			Alpha: e.Alpha,
		}
	}
	return out
}
