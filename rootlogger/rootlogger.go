// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package rootlogger

import (
	"bufio"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

// A Logger writes one header row and one data row per MCMC sample to
// an underlying writer, each column after "Sample" giving one deme's
// posterior root probability.
type Logger struct {
	numStates int
	init      bool
}

// New returns a Logger for a model with numStates demes.
func New(numStates int) *Logger {
	return &Logger{numStates: numStates}
}

// Init writes the header row: "Sample", then "state0" .. "state{m-1}",
// tab-separated.
func (l *Logger) Init(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprint(bw, "Sample\t"); err != nil {
		return err
	}
	for i := 0; i < l.numStates; i++ {
		if _, err := fmt.Fprintf(bw, "state%d\t", i); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(bw, "\n"); err != nil {
		return err
	}
	l.init = true
	return bw.Flush()
}

// Log writes one row for sample, using probs's entries in index order.
// A nil probs (the root vector was never stored, e.g. a constant or
// collapsed evaluation) logs 0.0 for every state, matching
// STreeRootLogger.java's behaviour when getRootProbs returns nil.
func (l *Logger) Log(w io.Writer, sample int64, probs *mat.VecDense) error {
	if !l.init {
		return &ConfigError{Msg: "Log called before Init"}
	}
	if probs != nil && probs.Len() != l.numStates {
		return &ConfigError{Msg: fmt.Sprintf("root probability vector has %d entries, want %d", probs.Len(), l.numStates)}
	}

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "%d\t", sample); err != nil {
		return err
	}
	for i := 0; i < l.numStates; i++ {
		v := 0.0
		if probs != nil {
			v = probs.AtVec(i)
		}
		if _, err := fmt.Fprintf(bw, "%g\t", v); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(bw, "\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// Close is a no-op: the reference implementation's close(out) leaves
// no trailing marker for this log kind.
func (l *Logger) Close(io.Writer) error { return nil }
