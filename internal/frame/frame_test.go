// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package frame

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/relabs-tech/bokobox/internal/logging"
)

func TestParseValidLines(t *testing.T) {
	cases := []struct {
		line string
		want Reading
	}{
		{"1 2 3 4", Reading{1, 2, 3, 4}},
		{"  12.5\t-3   7e2 0 \r", Reading{12.5, -3, 700, 0}},
		{"42", Reading{42}},
		{"0.1 0.2 0.3 0.4 0.5 0.6", Reading{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}},
	}
	for _, tc := range cases {
		got, err := Parse(tc.line)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tc.line, err)
		}
		if len(got) != len(strings.Fields(tc.line)) {
			t.Fatalf("Parse(%q) len = %d, want %d", tc.line, len(got), len(strings.Fields(tc.line)))
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("Parse(%q)[%d] = %v, want %v", tc.line, i, got[i], tc.want[i])
			}
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, line := range []string{"1 2 x 4", "abc", "1,2,3,4", "1 NaN 3 4", "1 2 +Inf 4", "", "   "} {
		got, err := Parse(line)
		if !errors.Is(err, ErrMalformed) {
			t.Fatalf("Parse(%q) error = %v, want ErrMalformed", line, err)
		}
		if got != nil {
			t.Fatalf("Parse(%q) returned partial reading %v", line, got)
		}
		var me *MalformedError
		if !errors.As(err, &me) || me.Line != line {
			t.Fatalf("Parse(%q) error does not carry raw line: %v", line, err)
		}
	}
}

func TestValidate(t *testing.T) {
	r := Reading{1, 2, 3}
	if err := r.Validate(3); err != nil {
		t.Fatalf("Validate(3) = %v, want nil", err)
	}
	if err := r.Validate(4); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Validate(4) = %v, want ErrDimensionMismatch", err)
	}
}

func TestParserLogsRawLine(t *testing.T) {
	var buf bytes.Buffer
	p := NewParser(logging.New(logging.Config{Output: &buf}))

	if _, err := p.Parse(context.Background(), "10 20 oops 40"); err == nil {
		t.Fatalf("expected error for malformed line")
	}
	if !strings.Contains(buf.String(), "10 20 oops 40") {
		t.Fatalf("raw line not logged: %q", buf.String())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := Reading{1, 2}
	c := r.Clone()
	c[0] = 99
	if r[0] != 1 {
		t.Fatalf("Clone shares storage with original")
	}
}
