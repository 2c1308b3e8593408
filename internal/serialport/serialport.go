// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package serialport opens the sensor board's serial line and finds it
// among the ports of the host.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"time"

	serial "github.com/jacobsa/go-serial/serial"
	bugst "go.bug.st/serial"

	"github.com/relabs-tech/bokobox/internal/frame"
	"github.com/relabs-tech/bokobox/internal/logging"
	"github.com/relabs-tech/bokobox/internal/telemetry"
)

// ErrNoDevice is returned by Detect when no candidate port produced a
// valid frame.
var ErrNoDevice = errors.New("serialport: no sensor board found")

// DefaultProbeTimeout bounds how long Detect listens on each candidate.
const DefaultProbeTimeout = 3 * time.Second

// Options describes the serial line. The board talks 8N1.
type Options struct {
	PortName string
	BaudRate int
	// ReadTimeout bounds a single read. It is rounded down to tenths of a
	// second with a minimum of 100ms.
	ReadTimeout time.Duration
}

func (o Options) openOptions() serial.OpenOptions {
	ms := uint(o.ReadTimeout / time.Millisecond)
	ms -= ms % 100
	if ms < 100 {
		ms = 100
	}
	return serial.OpenOptions{
		PortName:              o.PortName,
		BaudRate:              uint(o.BaudRate),
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		MinimumReadSize:       0,
		InterCharacterTimeout: ms,
	}
}

// Open opens the port and frames it into lines. Reads return within
// ReadTimeout, reporting telemetry.ErrTimeout when nothing arrived.
func Open(opts Options) (*telemetry.LineReader, error) {
	port, err := serial.Open(opts.openOptions())
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", opts.PortName, err)
	}
	return telemetry.NewPolledLineReader(port), nil
}

// ListPorts enumerates the serial ports of the host.
func ListPorts() ([]string, error) {
	ports, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serialport: list ports: %w", err)
	}
	return ports, nil
}

// Opener opens a candidate port by name.
type Opener func(name string) (telemetry.LineSource, error)

// Detector probes ports for a board sending frames of Channels readings.
type Detector struct {
	Open         Opener
	Channels     int
	ProbeTimeout time.Duration
	Logger       logging.Logger
}

// Detect tries each candidate in order and returns the first one that
// yields a well-formed frame. The returned source stays open; all other
// probed ports are closed.
func (d Detector) Detect(ctx context.Context, candidates []string) (string, telemetry.LineSource, error) {
	log := d.Logger
	if log == nil {
		log = logging.Noop()
	}
	timeout := d.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		src, err := d.Open(name)
		if err != nil {
			log.Debug(ctx, "serialport: cannot open candidate", logging.String("port", name), logging.Err(err))
			continue
		}
		ok, err := d.probe(ctx, src, timeout)
		if ok {
			log.Info(ctx, "serialport: sensor board found", logging.String("port", name))
			return name, src, nil
		}
		src.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", nil, ctxErr
		}
		log.Debug(ctx, "serialport: candidate rejected", logging.String("port", name), logging.Err(err))
	}
	return "", nil, ErrNoDevice
}

func (d Detector) probe(ctx context.Context, src telemetry.LineSource, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var last error
	for {
		line, err := src.ReadLine(ctx)
		switch {
		case err == nil:
		case errors.Is(err, telemetry.ErrTimeout):
			continue
		default:
			if last == nil {
				last = err
			}
			return false, last
		}
		r, err := frame.Parse(line)
		if err == nil {
			err = r.Validate(d.Channels)
		}
		if err == nil {
			return true, nil
		}
		last = err
	}
}

// OpenConfigured resolves a configured port name: a device path is opened
// directly; "auto" probes every enumerated port.
func OpenConfigured(ctx context.Context, name string, opts Options, channels int, log logging.Logger) (string, telemetry.LineSource, error) {
	open := func(port string) (telemetry.LineSource, error) {
		o := opts
		o.PortName = port
		return Open(o)
	}
	if name != "auto" {
		src, err := open(name)
		if err != nil {
			return "", nil, err
		}
		return name, src, nil
	}

	ports, err := ListPorts()
	if err != nil {
		return "", nil, err
	}
	if len(ports) == 0 {
		return "", nil, ErrNoDevice
	}
	d := Detector{Open: open, Channels: channels, Logger: log}
	return d.Detect(ctx, ports)
}
