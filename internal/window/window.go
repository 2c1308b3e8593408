// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package window

import (
	"errors"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/bokobox/internal/frame"
)

// DefaultCapacity is the number of readings kept for rolling statistics.
const DefaultCapacity = 10

// ErrEmpty is returned by Stats before the first Push.
var ErrEmpty = errors.New("window: no readings")

// ChannelStats is the population mean and standard deviation of one channel.
type ChannelStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std"`
}

// Window is a capacity-bounded FIFO of the most recent readings.
// It is not safe for concurrent use; the acquisition loop owns it.
type Window struct {
	capacity int
	channels int
	buf      []frame.Reading
}

// New returns a window holding at most capacity readings of the given width.
func New(capacity, channels int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		channels: channels,
		buf:      make([]frame.Reading, 0, capacity+1),
	}
}

// Push appends r, evicting the oldest reading once capacity is exceeded.
func (w *Window) Push(r frame.Reading) error {
	if err := r.Validate(w.channels); err != nil {
		return err
	}
	w.buf = append(w.buf, r)
	if len(w.buf) > w.capacity {
		copy(w.buf, w.buf[1:])
		w.buf[len(w.buf)-1] = nil
		w.buf = w.buf[:len(w.buf)-1]
	}
	return nil
}

// Len reports how many readings are buffered.
func (w *Window) Len() int { return len(w.buf) }

// Capacity reports the maximum number of buffered readings.
func (w *Window) Capacity() int { return w.capacity }

// Stats returns per-channel mean and population standard deviation over
// the buffered readings.
func (w *Window) Stats() ([]ChannelStats, error) {
	if len(w.buf) == 0 {
		return nil, ErrEmpty
	}

	out := make([]ChannelStats, w.channels)
	col := make([]float64, len(w.buf))
	for j := 0; j < w.channels; j++ {
		for i, r := range w.buf {
			col[i] = r[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		out[j] = ChannelStats{Mean: mean, StdDev: std}
	}
	return out, nil
}
