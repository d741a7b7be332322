// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package rootlogger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jmichaelegana/phydyn/rootlogger"
	"gonum.org/v1/gonum/mat"
)

func TestInitWritesHeader(t *testing.T) {
	l := rootlogger.New(2)
	var buf bytes.Buffer
	if err := l.Init(&buf); err != nil {
		t.Fatalf("Init: %v", err)
	}
	got := buf.String()
	if !strings.HasPrefix(got, "Sample\t") || !strings.Contains(got, "state0\t") || !strings.Contains(got, "state1\t") {
		t.Errorf("header = %q, want Sample/state0/state1 columns", got)
	}
}

func TestLogWritesProbabilities(t *testing.T) {
	l := rootlogger.New(2)
	var buf bytes.Buffer
	if err := l.Init(&buf); err != nil {
		t.Fatalf("Init: %v", err)
	}
	buf.Reset()

	probs := mat.NewVecDense(2, []float64{0.25, 0.75})
	if err := l.Log(&buf, 100, probs); err != nil {
		t.Fatalf("Log: %v", err)
	}
	got := buf.String()
	if !strings.HasPrefix(got, "100\t") || !strings.Contains(got, "0.25") || !strings.Contains(got, "0.75") {
		t.Errorf("row = %q, want sample 100 with 0.25 and 0.75", got)
	}
}

func TestLogWithNilProbsWritesZeros(t *testing.T) {
	l := rootlogger.New(2)
	var buf bytes.Buffer
	if err := l.Init(&buf); err != nil {
		t.Fatalf("Init: %v", err)
	}
	buf.Reset()

	if err := l.Log(&buf, 1, nil); err != nil {
		t.Fatalf("Log: %v", err)
	}
	got := buf.String()
	if got != "1\t0\t0\t\n" {
		t.Errorf("row = %q, want \"1\\t0\\t0\\t\\n\"", got)
	}
}

func TestLogBeforeInitFails(t *testing.T) {
	l := rootlogger.New(2)
	var buf bytes.Buffer
	if err := l.Log(&buf, 1, nil); err == nil {
		t.Fatal("expected a *ConfigError when Log is called before Init")
	}
}

func TestLogRejectsWrongLength(t *testing.T) {
	l := rootlogger.New(2)
	var buf bytes.Buffer
	if err := l.Init(&buf); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := l.Log(&buf, 1, mat.NewVecDense(3, nil)); err == nil {
		t.Fatal("expected a *ConfigError for a mismatched vector length")
	}
}
