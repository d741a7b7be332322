// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package trajectory

import (
	"math"

	"github.com/jmichaelegana/phydyn/popmodel"
)

// A Method identifies a fixed-step integration scheme.
type Method int

const (
	Euler Method = iota
	Midpoint
	RK4
)

// ParseMethod maps a configuration keyword to a Method. "classicrk" is
// accepted as a synonym of "rk4".
func ParseMethod(s string) (Method, error) {
	switch s {
	case "euler":
		return Euler, nil
	case "midpoint":
		return Midpoint, nil
	case "rk4", "classicrk":
		return RK4, nil
	}
	return 0, &ConfigError{Msg: "unknown integration method " + s}
}

// Params configures a single trajectory integration.
type Params struct {
	Method Method
	Steps  int
	T0, T1 float64
}

func (p Params) validate() error {
	if p.Steps <= 0 {
		return &ConfigError{Msg: "integrationSteps must be positive"}
	}
	if p.T1 <= p.T0 {
		return &ConfigError{Msg: "t1 must be greater than t0"}
	}
	return nil
}

// Run integrates ws.Model() from y0 over [p.T0, p.T1] with a fixed
// step size h = (t1-t0)/steps, producing steps+1 frames including
// both endpoints. ws must already have its parameter values bound
// (see popmodel.Workspace.BindParams); Run evaluates exclusively
// through ws, so whatever it was bound with is what gets integrated.
// Deme entries are clamped to be non-negative after each accepted
// step; auxiliary entries are not. Run fails with an
// *IntegrationError the first time a frame contains a NaN or Inf
// value.
func Run(ws *popmodel.Workspace, y0 []float64, p Params) (*TimeSeries, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	m := ws.Model()
	n := m.StateLen()
	if len(y0) != n {
		return nil, &ConfigError{Msg: "initial state length does not match model"}
	}

	h := (p.T1 - p.T0) / float64(p.Steps)
	nd := m.NumDemes()

	y := append([]float64(nil), y0...)
	frames := make([]popmodel.Frame, p.Steps+1)

	frames[0] = ws.FrameAt(p.T0, y)
	if err := checkFinite(frames[0], 0, p.T0); err != nil {
		return nil, err
	}

	k1 := make([]float64, n)
	k2 := make([]float64, n)
	k3 := make([]float64, n)
	k4 := make([]float64, n)
	tmp := make([]float64, n)

	t := p.T0
	for step := 1; step <= p.Steps; step++ {
		switch p.Method {
		case Euler:
			ws.RHS(t, y, k1)
			for i := range y {
				y[i] += h * k1[i]
			}
		case Midpoint:
			ws.RHS(t, y, k1)
			for i := range tmp {
				tmp[i] = y[i] + 0.5*h*k1[i]
			}
			ws.RHS(t+0.5*h, tmp, k2)
			for i := range y {
				y[i] += h * k2[i]
			}
		case RK4:
			ws.RHS(t, y, k1)
			for i := range tmp {
				tmp[i] = y[i] + 0.5*h*k1[i]
			}
			ws.RHS(t+0.5*h, tmp, k2)
			for i := range tmp {
				tmp[i] = y[i] + 0.5*h*k2[i]
			}
			ws.RHS(t+0.5*h, tmp, k3)
			for i := range tmp {
				tmp[i] = y[i] + h*k3[i]
			}
			ws.RHS(t+h, tmp, k4)
			for i := range y {
				y[i] += h / 6 * (k1[i] + 2*k2[i] + 2*k3[i] + k4[i])
			}
		}

		t = p.T0 + float64(step)*h // avoid accumulated drift from repeated += h
		for i := 0; i < nd; i++ {
			if y[i] < 0 {
				y[i] = 0
			}
		}

		fr := ws.FrameAt(t, y)
		if err := checkFinite(fr, step, t); err != nil {
			return nil, err
		}
		frames[step] = fr
	}

	return &TimeSeries{frames: frames}, nil
}

func checkFinite(fr popmodel.Frame, step int, t float64) error {
	if !finite(fr.T) {
		return &IntegrationError{Step: step, T: t, Msg: "non-finite time"}
	}
	for _, v := range fr.Y {
		if !finite(v) {
			return &IntegrationError{Step: step, T: t, Msg: "non-finite deme value"}
		}
	}
	for _, v := range fr.Aux {
		if !finite(v) {
			return &IntegrationError{Step: step, T: t, Msg: "non-finite auxiliary value"}
		}
	}
	r, c := fr.F.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if !finite(fr.F.At(i, j)) || !finite(fr.G.At(i, j)) {
				return &IntegrationError{Step: step, T: t, Msg: "non-finite rate matrix entry"}
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
