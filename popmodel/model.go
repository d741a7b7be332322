// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package popmodel implements the population-model evaluator: it owns
// the birth matrix F, migration matrix G, death vector D, and any
// auxiliary dot(X) equations of a structured population, compiles
// them once with package expr, and composes the ordinary differential
// equation right-hand side consumed by package trajectory.
package popmodel

import (
	"github.com/jmichaelegana/phydyn/expr"
	"gonum.org/v1/gonum/mat"
)

// A NamedExpr is a named scalar expression, used for both the
// definitions block and the dot(X) auxiliary equations.
type NamedExpr struct {
	Name string
	Src  string
}

// An Assignment binds a matrix or vector entry to an expression
// source. J is unused (leave at -1) for D(i) assignments.
type Assignment struct {
	I, J int
	Src  string
}

// A Spec describes the equations of a population model prior to
// compilation: the deme set, auxiliary variables, model parameters
// visible to every expression, the definitions block, and the F, G, D
// and dot(X) assignments.
type Spec struct {
	Demes       []string
	Aux         []string
	Params      []string
	Definitions []NamedExpr
	F           []Assignment
	G           []Assignment
	D           []Assignment
	Dot         []NamedExpr
}

type matEntry struct {
	i, j int
	prog *expr.Program
}

type vecEntry struct {
	idx  int
	prog *expr.Program
}

type defEntry struct {
	name string
	slot int
	prog *expr.Program
}

// A PopModel is a compiled population model: F, G, D and dot(X)
// equations reduced to flat expr.Program instruction tapes, ready to
// be evaluated repeatedly by an Integrator. A PopModel is immutable
// once built and safe to share across goroutines; use NewWorkspace to
// obtain the per-goroutine scratch state needed to evaluate it.
type PopModel struct {
	demes  []string
	aux    []string
	params []string

	demeBase, auxBase, defBase int
	nEnv                       int

	defs       []defEntry
	fEntries   []matEntry
	gEntries   []matEntry
	dEntries   []vecEntry
	dotEntries []vecEntry

	constant bool
	diagF    bool
}

const slotTime = 0

// New compiles a Spec into a PopModel. It fails with a *ModelError if
// any F, G or D assignment references a deme index outside the
// declared deme set, or if a dot(X) equation targets an undeclared
// auxiliary variable.
func New(sp Spec) (*PopModel, error) {
	m := &PopModel{
		demes:  append([]string(nil), sp.Demes...),
		aux:    append([]string(nil), sp.Aux...),
		params: append([]string(nil), sp.Params...),
	}
	nd := len(m.demes)

	nameSlot := map[string]int{"t": slotTime}
	dynamic := map[int]bool{slotTime: true}

	slot := 1
	for _, p := range m.params {
		nameSlot[p] = slot
		slot++
	}
	m.demeBase = slot
	for i, d := range m.demes {
		nameSlot[d] = m.demeBase + i
		dynamic[m.demeBase+i] = true
	}
	slot += nd
	m.auxBase = slot
	for i, a := range m.aux {
		nameSlot[a] = m.auxBase + i
		dynamic[m.auxBase+i] = true
	}
	slot += len(m.aux)
	m.defBase = slot

	resolve := func(name string) (int, bool) {
		s, ok := nameSlot[name]
		return s, ok
	}

	for i, d := range sp.Definitions {
		prog, err := expr.Compile(d.Src, resolve)
		if err != nil {
			return nil, err
		}
		s := m.defBase + i
		nameSlot[d.Name] = s
		dynamic[s] = dependsOnDynamic(prog, dynamic)
		m.defs = append(m.defs, defEntry{name: d.Name, slot: s, prog: prog})
	}
	m.nEnv = m.defBase + len(sp.Definitions)

	for _, a := range sp.F {
		if err := checkDeme(nd, a.I, "F"); err != nil {
			return nil, err
		}
		if err := checkDeme(nd, a.J, "F"); err != nil {
			return nil, err
		}
		prog, err := expr.Compile(a.Src, resolve)
		if err != nil {
			return nil, err
		}
		m.fEntries = append(m.fEntries, matEntry{i: a.I, j: a.J, prog: prog})
	}
	for _, a := range sp.G {
		if err := checkDeme(nd, a.I, "G"); err != nil {
			return nil, err
		}
		if err := checkDeme(nd, a.J, "G"); err != nil {
			return nil, err
		}
		prog, err := expr.Compile(a.Src, resolve)
		if err != nil {
			return nil, err
		}
		m.gEntries = append(m.gEntries, matEntry{i: a.I, j: a.J, prog: prog})
	}
	for _, a := range sp.D {
		if err := checkDeme(nd, a.I, "D"); err != nil {
			return nil, err
		}
		prog, err := expr.Compile(a.Src, resolve)
		if err != nil {
			return nil, err
		}
		m.dEntries = append(m.dEntries, vecEntry{idx: a.I, prog: prog})
	}
	for _, d := range sp.Dot {
		idx := -1
		for i, a := range m.aux {
			if a == d.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, &ModelError{Msg: "dot(" + d.Name + "): undeclared auxiliary variable"}
		}
		prog, err := expr.Compile(d.Src, resolve)
		if err != nil {
			return nil, err
		}
		m.dotEntries = append(m.dotEntries, vecEntry{idx: idx, prog: prog})
	}

	m.diagF = true
	for _, e := range m.fEntries {
		if e.i != e.j {
			m.diagF = false
			break
		}
	}

	m.constant = true
	check := func(p *expr.Program) {
		for _, s := range p.Slots() {
			if dynamic[s] {
				m.constant = false
				return
			}
		}
	}
	for _, e := range m.fEntries {
		check(e.prog)
	}
	for _, e := range m.gEntries {
		check(e.prog)
	}
	for _, e := range m.dEntries {
		check(e.prog)
	}
	for _, e := range m.dotEntries {
		check(e.prog)
	}

	return m, nil
}

func dependsOnDynamic(p *expr.Program, dynamic map[int]bool) bool {
	for _, s := range p.Slots() {
		if dynamic[s] {
			return true
		}
	}
	return false
}

func checkDeme(nd, i int, matrixName string) error {
	if i < 0 || i >= nd {
		return &ModelError{Msg: matrixName + ": deme index out of range"}
	}
	return nil
}

// NumDemes returns m, the number of demes.
func (p *PopModel) NumDemes() int { return len(p.demes) }

// NumAux returns the number of auxiliary (non-demic) state variables.
func (p *PopModel) NumAux() int { return len(p.aux) }

// DemeNames returns the deme names in index order.
func (p *PopModel) DemeNames() []string { return append([]string(nil), p.demes...) }

// AuxNames returns the auxiliary variable names in index order.
func (p *PopModel) AuxNames() []string { return append([]string(nil), p.aux...) }

// IsConstant reports whether every rhs expression collapses to a
// constant once parameters are bound, i.e. none of F, G, D or dot(X)
// depend on t, on a deme value, or on an auxiliary value (directly or
// through a definition that does).
func (p *PopModel) IsConstant() bool { return p.constant }

// IsDiagF reports whether only F(i,i) entries were declared, enabling
// the diagonal fast path in the coalescent likelihood (§4.6.1).
func (p *PopModel) IsDiagF() bool { return p.diagF }

// StateLen returns the length of the concatenated state vector
// [demes; aux] expected by RHS and FrameAt.
func (p *PopModel) StateLen() int { return len(p.demes) + len(p.aux) }

// dense returns a zeroed m-by-m matrix sized for this model.
func (p *PopModel) dense() *mat.Dense {
	nd := len(p.demes)
	return mat.NewDense(nd, nd, nil)
}
