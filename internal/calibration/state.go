// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package calibration

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/bokobox/internal/frame"
)

// DefaultSamplesPerChannel is how many taps are averaged per channel.
const DefaultSamplesPerChannel = 5

// Phase is the calibration state machine's state.
type Phase int

const (
	Idle Phase = iota
	Calibrating
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Calibrating:
		return "calibrating"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Progress is a copyable view of where a calibration cycle stands.
type Progress struct {
	Phase             Phase `json:"-"`
	Channel           int   `json:"channel"`
	Sample            int   `json:"sample"`
	Channels          int   `json:"channels"`
	SamplesPerChannel int   `json:"samples_per_channel"`
}

// Done reports how many samples of the cycle have been collected.
func (p Progress) Done() int { return p.Channel*p.SamplesPerChannel + p.Sample }

// Total reports how many samples a full cycle needs.
func (p Progress) Total() int { return p.Channels * p.SamplesPerChannel }

// State collects samples channel by channel and produces a new Vector once
// every channel has samplesPerChannel values. Outside a cycle it ignores
// readings. Not safe for concurrent use.
type State struct {
	channels          int
	samplesPerChannel int

	phase   Phase
	channel int
	sample  int
	samples [][]float64
}

// NewState returns an idle state machine.
func NewState(channels, samplesPerChannel int) *State {
	if samplesPerChannel <= 0 {
		samplesPerChannel = DefaultSamplesPerChannel
	}
	return &State{channels: channels, samplesPerChannel: samplesPerChannel}
}

// Progress returns the current progress counters.
func (s *State) Progress() Progress {
	return Progress{
		Phase:             s.phase,
		Channel:           s.channel,
		Sample:            s.sample,
		Channels:          s.channels,
		SamplesPerChannel: s.samplesPerChannel,
	}
}

// Begin starts a new cycle. It returns false if one is already running.
func (s *State) Begin() bool {
	if s.phase == Calibrating {
		return false
	}
	s.phase = Calibrating
	s.channel = 0
	s.sample = 0
	s.samples = make([][]float64, s.channels)
	for i := range s.samples {
		s.samples[i] = make([]float64, s.samplesPerChannel)
	}
	return true
}

// Cancel abandons a running cycle and discards its samples.
// It returns false if no cycle was running.
func (s *State) Cancel() bool {
	if s.phase != Calibrating {
		return false
	}
	s.reset()
	return true
}

func (s *State) reset() {
	s.phase = Idle
	s.channel = 0
	s.sample = 0
	s.samples = nil
}

// Handle feeds one reading into the running cycle. Exactly one value is
// taken: the entry for the channel currently being calibrated.
//
// When the last sample of the last channel arrives the cycle ends, the
// state returns to Idle and the averaged vector is returned with done set.
// A reading too short to contain the current channel is rejected without
// advancing. A cycle whose average yields a non-positive factor ends with
// an ErrInvalidFactor error and no vector.
func (s *State) Handle(r frame.Reading) (v Vector, done bool, err error) {
	if s.phase != Calibrating {
		return nil, false, nil
	}
	if s.channel >= len(r) {
		return nil, false, fmt.Errorf("%w: calibrating channel %d, reading has %d channels",
			frame.ErrDimensionMismatch, s.channel, len(r))
	}

	s.samples[s.channel][s.sample] = r[s.channel]
	s.sample++
	if s.sample < s.samplesPerChannel {
		return nil, false, nil
	}
	s.sample = 0
	s.channel++
	if s.channel < s.channels {
		return nil, false, nil
	}

	out := make(Vector, s.channels)
	for c, col := range s.samples {
		out[c] = stat.Mean(col, nil)
	}
	s.reset()
	if err := out.Validate(s.channels); err != nil {
		return nil, true, err
	}
	return out, true, nil
}
