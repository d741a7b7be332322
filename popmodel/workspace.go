// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package popmodel

import (
	"github.com/jmichaelegana/phydyn/expr"
	"gonum.org/v1/gonum/mat"
)

// A Workspace holds the scratch evaluators and environment buffer
// needed to evaluate a PopModel's rhs and frames repeatedly. A
// Workspace is not safe for concurrent use; call NewWorkspace once per
// goroutine.
type Workspace struct {
	m   *PopModel
	env []float64

	defEval []*expr.Evaluator
	fEval   []*expr.Evaluator
	gEval   []*expr.Evaluator
	dEval   []*expr.Evaluator
	dotEval []*expr.Evaluator
}

// NewWorkspace returns a Workspace bound to m.
func (m *PopModel) NewWorkspace() *Workspace {
	ws := &Workspace{m: m, env: make([]float64, m.nEnv)}
	for _, d := range m.defs {
		ws.defEval = append(ws.defEval, d.prog.NewEvaluator())
	}
	for _, e := range m.fEntries {
		ws.fEval = append(ws.fEval, e.prog.NewEvaluator())
	}
	for _, e := range m.gEntries {
		ws.gEval = append(ws.gEval, e.prog.NewEvaluator())
	}
	for _, e := range m.dEntries {
		ws.dEval = append(ws.dEval, e.prog.NewEvaluator())
	}
	for _, e := range m.dotEntries {
		ws.dotEval = append(ws.dotEval, e.prog.NewEvaluator())
	}
	return ws
}

// setState loads t and the state vector y (demes followed by aux)
// into the environment and refreshes every definition, in
// declaration order, so later definitions can reference earlier ones.
func (ws *Workspace) setState(t float64, y []float64) {
	m := ws.m
	ws.env[slotTime] = t
	nd := len(m.demes)
	copy(ws.env[m.demeBase:m.demeBase+nd], y[:nd])
	copy(ws.env[m.auxBase:m.auxBase+len(m.aux)], y[nd:nd+len(m.aux)])
	for i, d := range m.defs {
		ws.env[d.slot] = ws.defEval[i].Eval(ws.env)
	}
}

// Model returns the PopModel this Workspace was built from.
func (ws *Workspace) Model() *PopModel { return ws.m }

// BindParams writes the model's parameter values into the
// environment. values must be in the order of the parameter names the
// PopModel was built with (Spec.Params); it is the caller's responsibility (typically
// package modelparams) to keep the ordering consistent.
func (ws *Workspace) BindParams(values []float64) {
	for i, v := range values {
		ws.env[1+i] = v
	}
}

// paramValues returns a copy of the currently bound parameter values,
// in Spec.Params order.
func (ws *Workspace) paramValues() []float64 {
	return append([]float64(nil), ws.env[1:ws.m.demeBase]...)
}

// RHS evaluates dy/dt at (t, y) into out, where y and out are each
// laid out as [demes; aux]. Per-deme derivatives are assembled as
//
//	dy_i/dt = Σ_j F(j,i) + Σ_j G(j,i) − Σ_j G(i,j) − D(i)
//
// and auxiliary derivatives are the direct value of their dot(X)
// equation.
func (ws *Workspace) RHS(t float64, y, out []float64) {
	ws.setState(t, y)
	m := ws.m
	nd := len(m.demes)

	for i := 0; i < nd; i++ {
		out[i] = 0
	}
	for k, e := range m.fEntries {
		out[e.j] += ws.fEval[k].Eval(ws.env)
	}
	for k, e := range m.gEntries {
		v := ws.gEval[k].Eval(ws.env)
		out[e.j] += v
		out[e.i] -= v
	}
	for k, e := range m.dEntries {
		out[e.idx] -= ws.dEval[k].Eval(ws.env)
	}
	for k, e := range m.dotEntries {
		out[nd+e.idx] = ws.dotEval[k].Eval(ws.env)
	}
}

// Frame is a single evaluated (t, Y, F, G, aux) snapshot of the
// population model, suitable for storage in a trajectory.TimeSeries.
type Frame struct {
	T   float64
	F   *mat.Dense // m by m
	G   *mat.Dense // m by m
	Y   []float64  // deme sizes only, length NumDemes
	Aux []float64  // auxiliary values, length NumAux
}

// FrameAt evaluates F, G, Y and Aux at (t, y) and returns a freshly
// allocated, independent Frame. y must be laid out as [demes; aux].
func (ws *Workspace) FrameAt(t float64, y []float64) Frame {
	ws.setState(t, y)
	m := ws.m
	nd := len(m.demes)

	fr := Frame{
		T:   t,
		F:   m.dense(),
		G:   m.dense(),
		Y:   append([]float64(nil), y[:nd]...),
		Aux: append([]float64(nil), y[nd:nd+len(m.aux)]...),
	}
	for k, e := range m.fEntries {
		fr.F.Set(e.i, e.j, ws.fEval[k].Eval(ws.env))
	}
	for k, e := range m.gEntries {
		fr.G.Set(e.i, e.j, ws.gEval[k].Eval(ws.env))
	}
	return fr
}
