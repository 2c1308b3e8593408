// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package frame turns one line of serial telemetry into a channel reading.
//
// A frame is a newline-terminated line of whitespace-separated decimal
// numbers, one per sensor channel, in fixed channel order:
//
//	"123.5 87.25 12 40.125"
package frame

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/relabs-tech/bokobox/internal/logging"
)

var (
	// ErrMalformed reports a line containing a token that is not a finite number.
	ErrMalformed = errors.New("malformed frame")
	// ErrDimensionMismatch reports a reading whose length disagrees with the
	// channel count (or calibration/position table) it is used against.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// Reading is one synchronized set of channel amplitudes.
// It is never modified after Parse returns it.
type Reading []float64

// MalformedError carries the raw line that failed to parse.
type MalformedError struct {
	Line  string
	Token string
}

func (e *MalformedError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("malformed frame: empty line %q", e.Line)
	}
	return fmt.Sprintf("malformed frame: token %q in line %q", e.Token, e.Line)
}

func (e *MalformedError) Unwrap() error { return ErrMalformed }

// Parse splits line on whitespace and parses every token as a float64.
// The returned reading has one entry per token; its length is not checked
// against any channel count (see Reading.Validate).
func Parse(line string) (Reading, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, &MalformedError{Line: line}
	}

	out := make(Reading, len(fields))
	for i, tok := range fields {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &MalformedError{Line: line, Token: tok}
		}
		out[i] = v
	}
	return out, nil
}

// Validate checks that the reading carries exactly n channels.
func (r Reading) Validate(n int) error {
	if len(r) != n {
		return fmt.Errorf("%w: reading has %d channels, want %d", ErrDimensionMismatch, len(r), n)
	}
	return nil
}

// Clone returns an independent copy of the reading.
func (r Reading) Clone() Reading {
	if r == nil {
		return nil
	}
	out := make(Reading, len(r))
	copy(out, r)
	return out
}

// Parser wraps Parse and reports rejected lines to a diagnostic logger.
type Parser struct {
	log logging.Logger
}

// NewParser returns a Parser that logs malformed lines to log.
func NewParser(log logging.Logger) *Parser {
	if log == nil {
		log = logging.Noop()
	}
	return &Parser{log: log}
}

// Parse parses line, logging the raw text when it is malformed.
func (p *Parser) Parse(ctx context.Context, line string) (Reading, error) {
	r, err := Parse(line)
	if err != nil {
		p.log.Warn(ctx, "frame: rejected line", logging.String("line", line), logging.Err(err))
		return nil, err
	}
	return r, nil
}
