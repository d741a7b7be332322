// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package modelparams implements the `Parameters` collaborator: a
// named collection of scalar values bound to a population model, plus
// the dirty bit that an enclosing MCMC driver flips whenever it
// proposes a new value for one of them.
//
// Unlike the teacher's walkparam.WP, which reads and writes a fixed
// set of named fields from a TSV file once per run, a Parameters
// collection here is mutated live, many times per second, by a driver
// outside this module (itself explicitly out of scope). It exists
// purely as an in-memory named-value map with a dirty bit, not a file
// format.
package modelparams

import "fmt"

// An UnknownParameterError reports a lookup or Set call against a
// parameter name that was never declared.
type UnknownParameterError struct {
	Name string
}

func (e *UnknownParameterError) Error() string {
	return fmt.Sprintf("modelparams: unknown parameter %q", e.Name)
}

// Parameters is a named collection of scalar values with a dirty bit.
// The zero value is not usable; use New.
type Parameters struct {
	order  []string
	values map[string]float64
	dirty  bool
}

// New creates a Parameters collection with the given names, all bound
// to 0 and flagged dirty (an evaluator should always compute at least
// once before trusting a cached result).
func New(names []string) *Parameters {
	p := &Parameters{
		order:  append([]string(nil), names...),
		values: make(map[string]float64, len(names)),
		dirty:  true,
	}
	for _, n := range names {
		p.values[n] = 0
	}
	return p
}

// Names returns the parameter names in declaration order.
func (p *Parameters) Names() []string {
	return append([]string(nil), p.order...)
}

// Value returns the current bound value of name.
func (p *Parameters) Value(name string) (float64, error) {
	v, ok := p.values[name]
	if !ok {
		return 0, &UnknownParameterError{Name: name}
	}
	return v, nil
}

// Set binds name to v and sets the dirty bit. It is an error to Set a
// name that was not declared in New.
func (p *Parameters) Set(name string, v float64) error {
	if _, ok := p.values[name]; !ok {
		return &UnknownParameterError{Name: name}
	}
	p.values[name] = v
	p.dirty = true
	return nil
}

// SetAll binds every declared parameter from values, in the same
// order returned by Names, and sets the dirty bit. It is an error if
// len(values) does not match the number of declared parameters.
func (p *Parameters) SetAll(values []float64) error {
	if len(values) != len(p.order) {
		return fmt.Errorf("modelparams: expecting %d values, got %d", len(p.order), len(values))
	}
	for i, n := range p.order {
		p.values[n] = values[i]
	}
	p.dirty = true
	return nil
}

// Vector returns every declared parameter's value, in the same order
// as Names, suitable for popmodel.Workspace.BindParams.
func (p *Parameters) Vector() []float64 {
	v := make([]float64, len(p.order))
	for i, n := range p.order {
		v[i] = p.values[n]
	}
	return v
}

// Dirty reports whether any parameter has changed since the last
// MarkClean call.
func (p *Parameters) Dirty() bool {
	return p.dirty
}

// MarkClean clears the dirty bit. A likelihood evaluator calls this
// once it has recomputed against the current bindings.
func (p *Parameters) MarkClean() {
	p.dirty = false
}

// MarkDirty forces the dirty bit on, regardless of whether any value
// actually changed. An enclosing driver calls this after rolling back
// a rejected move without otherwise touching the bindings, since the
// rollback itself invalidates any cached result computed against the
// now-discarded values.
func (p *Parameters) MarkDirty() {
	p.dirty = true
}
