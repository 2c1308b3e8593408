// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package acquire

import (
	"fmt"
	"strings"
)

// Mode is what the loop does with incoming readings.
type Mode int

const (
	// Acquiring localizes each reading.
	Acquiring Mode = iota
	// Calibrating feeds readings into the calibration cycle.
	Calibrating
)

func (m Mode) String() string {
	switch m {
	case Acquiring:
		return "acquiring"
	case Calibrating:
		return "calibrating"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "acquiring":
		*m = Acquiring
	case "calibrating":
		*m = Calibrating
	default:
		return fmt.Errorf("acquire: unknown mode %q", b)
	}
	return nil
}

// Command is an external mode-change request.
type Command int

const (
	CommandCalibrate Command = iota + 1
	CommandAcquire
)

func (c Command) String() string {
	switch c {
	case CommandCalibrate:
		return "calibrate"
	case CommandAcquire:
		return "acquire"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// ParseCommand accepts the command names used on MQTT, the web API and
// the single-key shortcuts ("c" calibrate, "g" graph/acquire).
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "calibrate", "calibration", "c":
		return CommandCalibrate, nil
	case "acquire", "acquisition", "cancel", "g":
		return CommandAcquire, nil
	}
	return 0, fmt.Errorf("acquire: unknown command %q", s)
}

// Next returns the mode cmd leads to from m. ok is false when cmd asks for
// the mode that is already active.
func (m Mode) Next(cmd Command) (next Mode, ok bool) {
	switch cmd {
	case CommandCalibrate:
		if m == Calibrating {
			return m, false
		}
		return Calibrating, true
	case CommandAcquire:
		if m == Acquiring {
			return m, false
		}
		return Acquiring, true
	}
	return m, false
}
