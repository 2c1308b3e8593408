// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package history

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultLifetime is how long a centroid stays in the history.
	DefaultLifetime = 3 * time.Second
	// DefaultCapacity bounds the count-based history.
	DefaultCapacity = 10
)

// ErrEmpty is returned by MeanStd when nothing is retained.
var ErrEmpty = errors.New("history: no estimates")

// Policy selects how old estimates are evicted.
type Policy int

const (
	// ByLifetime drops estimates whose age reaches the lifetime.
	ByLifetime Policy = iota
	// ByCount keeps only the most recent estimates.
	ByCount
)

func (p Policy) String() string {
	switch p {
	case ByLifetime:
		return "lifetime"
	case ByCount:
		return "count"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts "lifetime" or "count".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "lifetime", "time", "":
		return ByLifetime, nil
	case "count":
		return ByCount, nil
	}
	return 0, fmt.Errorf("history: unknown policy %q", s)
}

// Entry is one centroid estimate and when it was made.
type Entry struct {
	Point r2.Vec
	At    time.Time
}

// Aged is an Entry viewed at a given instant.
type Aged struct {
	Entry
	Age time.Duration
	// Alpha fades linearly from 1 at insertion to 0 at the lifetime.
	// Count-based histories fade by position instead.
	Alpha float64
}

// Tracker keeps recent centroid estimates, oldest first.
// Not safe for concurrent use; the acquisition loop owns it.
type Tracker struct {
	policy   Policy
	lifetime time.Duration
	capacity int
	entries  []Entry
}

// NewLifetime returns a tracker that evicts entries at least lifetime old.
func NewLifetime(lifetime time.Duration) *Tracker {
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	return &Tracker{policy: ByLifetime, lifetime: lifetime}
}

// NewCapacity returns a tracker holding at most capacity entries.
func NewCapacity(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{policy: ByCount, capacity: capacity}
}

// Policy reports the eviction policy.
func (t *Tracker) Policy() Policy { return t.policy }

// Len reports how many entries are retained.
func (t *Tracker) Len() int { return len(t.entries) }

// Insert evicts what has expired at now and appends p.
func (t *Tracker) Insert(p r2.Vec, now time.Time) {
	t.Expire(now)
	t.entries = append(t.entries, Entry{Point: p, At: now})
	if t.policy == ByCount && len(t.entries) > t.capacity {
		t.drop(len(t.entries) - t.capacity)
	}
}

// Expire drops entries whose age at now reaches the lifetime and returns
// how many were dropped. It does nothing for count-based trackers.
func (t *Tracker) Expire(now time.Time) int {
	if t.policy != ByLifetime {
		return 0
	}
	n := 0
	for n < len(t.entries) && now.Sub(t.entries[n].At) >= t.lifetime {
		n++
	}
	t.drop(n)
	return n
}

func (t *Tracker) drop(n int) {
	if n <= 0 {
		return
	}
	copy(t.entries, t.entries[n:])
	t.entries = t.entries[:len(t.entries)-n]
}

// Entries returns the retained entries with their age and fade at now.
func (t *Tracker) Entries(now time.Time) []Aged {
	out := make([]Aged, len(t.entries))
	for i, e := range t.entries {
		age := now.Sub(e.At)
		var alpha float64
		switch t.policy {
		case ByLifetime:
			alpha = 1 - float64(age)/float64(t.lifetime)
		case ByCount:
			alpha = float64(i+1) / float64(len(t.entries))
		}
		if alpha < 0 {
			alpha = 0
		}
		out[i] = Aged{Entry: e, Age: age, Alpha: alpha}
	}
	return out
}

// MeanStd returns the per-axis mean and population standard deviation.
func (t *Tracker) MeanStd() (mean, std r2.Vec, err error) {
	if len(t.entries) == 0 {
		return r2.Vec{}, r2.Vec{}, ErrEmpty
	}
	xs := make([]float64, len(t.entries))
	ys := make([]float64, len(t.entries))
	for i, e := range t.entries {
		xs[i], ys[i] = e.Point.X, e.Point.Y
	}
	mean.X, std.X = stat.PopMeanStdDev(xs, nil)
	mean.Y, std.Y = stat.PopMeanStdDev(ys, nil)
	return mean, std, nil
}
