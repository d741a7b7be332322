// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package likelihood

import (
	"math"

	"github.com/jmichaelegana/phydyn/popmodel"
	"github.com/jmichaelegana/phydyn/stateprob"
	"gonum.org/v1/gonum/mat"
)

// A LikelihoodKernel supplies the population-model frame each interval
// is evaluated against, which depends on whether the model varies over
// time.
// Constant models never need to look up the current trajectory frame:
// their single evaluated frame is valid at every interval. Two
// implementations (constantKernel, dynamicKernel) are selected once at
// Engine construction from popmodel.PopModel.IsConstant.
type LikelihoodKernel interface {
	// frame returns the population-model frame this interval should
	// be evaluated against.
	frame(e *Engine) popmodel.Frame
}

// constantKernel caches the single frame a constant PopModel ever
// produces, avoiding a TimeSeries lookup on every interval.
type constantKernel struct {
	fr popmodel.Frame
}

func (k *constantKernel) frame(e *Engine) popmodel.Frame { return k.fr }

// dynamicKernel re-reads the current trajectory frame at e.tsPoint on
// every call.
type dynamicKernel struct{}

func (k *dynamicKernel) frame(e *Engine) popmodel.Frame { return e.ts.At(e.tsPoint) }

func newKernel(m *popmodel.PopModel, ts0 popmodel.Frame) LikelihoodKernel {
	if m.IsConstant() {
		return &constantKernel{fr: ts0}
	}
	return &dynamicKernel{}
}

// clampY applies the §4.6.1 floor to a frame's deme sizes, returning a
// fresh slice (the frame's own Y is never mutated).
func clampY(y []float64, forgiveY bool) []float64 {
	out := make([]float64, len(y))
	floor := 1e-12
	if forgiveY {
		floor = 1
	}
	for i, v := range y {
		if v < floor {
			v = floor
		}
		out[i] = v
	}
	return out
}

// coalescentPair implements §4.6.1: given the two children's
// probability vectors at frame fr, returns the unnormalised ancestor
// vector a and the pair coalescence rate λ = Σ_i a_i.
func coalescentPair(fr popmodel.Frame, pu, pv *mat.VecDense, diagF, forgiveY bool) (a *mat.VecDense, lambda float64) {
	nd := len(fr.Y)
	y := clampY(fr.Y, forgiveY)
	a = mat.NewVecDense(nd, nil)

	if diagF {
		for i := 0; i < nd; i++ {
			fii := fr.F.At(i, i)
			a.SetVec(i, 2*pu.AtVec(i)*pv.AtVec(i)*fii/(y[i]*y[i]))
		}
	} else {
		x := mat.NewVecDense(nd, nil)
		py := mat.NewVecDense(nd, nil)
		for i := 0; i < nd; i++ {
			x.SetVec(i, pu.AtVec(i)/y[i])
			py.SetVec(i, pv.AtVec(i)/y[i])
		}
		fy := mat.NewVecDense(nd, nil)
		fx := mat.NewVecDense(nd, nil)
		fy.MulVec(fr.F, py)
		fx.MulVec(fr.F, x)
		for i := 0; i < nd; i++ {
			a.SetVec(i, x.AtVec(i)*fy.AtVec(i)+py.AtVec(i)*fx.AtVec(i))
		}
	}
	return a, mat.Sum(a)
}

// totalCoalRate implements §4.6.2's λ_total aggregate, used to set an
// effective Nₑ for the root-to-t0 tail. The general (non-diagonal,
// non-approximate) branch has no closed form in terms of A and ΣpᵢΣpᵢ
// alone — it is the literal sum of §4.6.1's bilinear form over every
// unordered extant pair, as spec'd.
func totalCoalRate(fr popmodel.Frame, sp *stateprob.StateProbabilities, diagF, approxLambda bool) float64 {
	nd := len(fr.Y)

	if approxLambda {
		y := clampY(fr.Y, true)
		a := sp.LineageStateSum()
		x := mat.NewVecDense(nd, nil)
		for i := 0; i < nd; i++ {
			x.SetVec(i, a.AtVec(i)/y[i])
		}
		fx := mat.NewVecDense(nd, nil)
		fx.MulVec(fr.F, x)
		return mat.Dot(x, fx)
	}

	if diagF {
		y := clampY(fr.Y, true)
		a := sp.LineageStateSum()
		s2 := sp.LineageSumSquares()
		var lambda float64
		for i := 0; i < nd; i++ {
			fii := fr.F.At(i, i)
			ai := a.AtVec(i)
			lambda += (ai*ai - s2.AtVec(i)) * fii / (y[i] * y[i])
		}
		return lambda
	}

	probs := sp.ExtantProbs()
	var lambda float64
	for i := 0; i < len(probs); i++ {
		for j := i + 1; j < len(probs); j++ {
			_, pairLambda := coalescentPair(fr, probs[i], probs[j], false, true)
			lambda += pairLambda
		}
	}
	return lambda
}

func invalid(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, -1) || math.IsInf(v, 1)
}
