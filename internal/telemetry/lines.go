// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry turns byte streams from the sensor board into lines.
package telemetry

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// ErrTimeout is returned by ReadLine when the bounded wait elapsed without
// a complete line. It is not a transport failure.
var ErrTimeout = errors.New("telemetry: read timeout")

// MaxLineLength caps a buffered line. Longer input is handed out as is.
const MaxLineLength = 4096

// LineSource yields newline-terminated frames one at a time.
// ReadLine must return within a bounded time: either a line, ErrTimeout,
// ctx.Err(), or a transport error.
type LineSource interface {
	ReadLine(ctx context.Context) (string, error)
	Close() error
}

// LineReader frames an io.ReadCloser into lines.
type LineReader struct {
	rc      io.ReadCloser
	polled  bool
	pending []byte
	chunk   []byte
}

// NewLineReader reads lines from rc until it returns io.EOF, which is
// reported as a transport error.
func NewLineReader(rc io.ReadCloser) *LineReader {
	return &LineReader{rc: rc, chunk: make([]byte, 256)}
}

// NewPolledLineReader reads lines from a port opened with a read timeout.
// Such ports return (0, nil) or (0, io.EOF) when nothing arrived within
// the timeout; both become ErrTimeout.
func NewPolledLineReader(rc io.ReadCloser) *LineReader {
	return &LineReader{rc: rc, polled: true, chunk: make([]byte, 256)}
}

// ReadLine returns the next line without its terminator ("\n" or "\r\n").
func (lr *LineReader) ReadLine(ctx context.Context) (string, error) {
	for {
		if line, ok := lr.next(); ok {
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := lr.rc.Read(lr.chunk)
		lr.pending = append(lr.pending, lr.chunk[:n]...)
		if len(lr.pending) > MaxLineLength && bytes.IndexByte(lr.pending, '\n') < 0 {
			line := string(lr.pending)
			lr.pending = lr.pending[:0]
			return line, nil
		}

		switch {
		case err == nil && n == 0 && lr.polled:
			return "", ErrTimeout
		case errors.Is(err, io.EOF) && lr.polled:
			if n == 0 {
				return "", ErrTimeout
			}
		case errors.Is(err, io.EOF):
			if line, ok := lr.next(); ok {
				return line, nil
			}
			if len(lr.pending) > 0 {
				line := string(bytes.TrimRight(lr.pending, "\r"))
				lr.pending = lr.pending[:0]
				return line, nil
			}
			return "", io.EOF
		case err != nil:
			return "", err
		}
	}
}

func (lr *LineReader) next() (string, bool) {
	i := bytes.IndexByte(lr.pending, '\n')
	if i < 0 {
		return "", false
	}
	line := string(bytes.TrimRight(lr.pending[:i], "\r"))
	lr.pending = append(lr.pending[:0], lr.pending[i+1:]...)
	return line, true
}

// Close closes the underlying stream.
func (lr *LineReader) Close() error { return lr.rc.Close() }
