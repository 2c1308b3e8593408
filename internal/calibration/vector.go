// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidFactor is returned for a vector containing a non-positive factor.
var ErrInvalidFactor = errors.New("calibration: factor must be positive")

// Vector holds one positive scale factor per channel. Raw readings are
// divided by it to make channels comparable.
type Vector []float64

// DefaultVector is used when no persisted calibration is available.
func DefaultVector() Vector { return Vector{20, 50, 10, 15} }

// ParseVector parses a comma-separated list of factors such as "20,50,10,15".
func ParseVector(s string) (Vector, error) {
	parts := strings.Split(s, ",")
	out := make(Vector, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("calibration: invalid factor %q: %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// String renders the vector in the persisted comma-separated form.
func (v Vector) String() string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

// Validate checks the vector has n strictly positive, finite factors.
func (v Vector) Validate(n int) error {
	if len(v) != n {
		return fmt.Errorf("calibration: vector has %d factors, want %d", len(v), n)
	}
	for i, f := range v {
		if !(f > 0) || math.IsInf(f, 1) {
			return fmt.Errorf("%w: factor %d is %v", ErrInvalidFactor, i, f)
		}
	}
	return nil
}

// Clone returns an independent copy.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
