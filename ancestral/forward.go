// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package ancestral

import (
	"github.com/jmichaelegana/phydyn/coaltree"
	"github.com/jmichaelegana/phydyn/likelihood"
	"github.com/jmichaelegana/phydyn/popmodel"
	"github.com/jmichaelegana/phydyn/stateprob"
	"github.com/jmichaelegana/phydyn/trajectory"
	"gonum.org/v1/gonum/mat"
)

// DefaultSteps is the number of Euler substeps Reconstruct takes per
// tree branch when no explicit step count is given.
const DefaultSteps = 20

// Reconstruct implements §4.7: starting from sp's stored root vector
// (from a likelihood.Engine.Evaluate call made with
// likelihood.WithComputeAncestral(true)), it walks tree from the root
// down to the tips, at every node combining the forward-propagated
// vector with sp's stored backward-sweep vector for that node, and
// returns every node's posterior deme-probability vector.
//
// frames is the same Engine's AncestralFrames(): the per-interval
// extant-lineage sums the backward sweep held at each height, used to
// recover the depletion term λ_ℓ along the forward integration
// without a second backward pass.
//
// steps sets the number of Euler substeps used to integrate the
// per-lineage migration-and-depletion ODE along each branch; steps <=
// 0 uses DefaultSteps.
func Reconstruct(ts *trajectory.TimeSeries, tree coaltree.Tree, sp *stateprob.StateProbabilities, frames []likelihood.ExtantFrame, steps int) (map[int]*mat.VecDense, error) {
	root := sp.RootProbs()
	if root == nil {
		return nil, &ConfigError{Msg: "no stored root probabilities; run the likelihood engine with ancestral reconstruction enabled first"}
	}
	if steps <= 0 {
		steps = DefaultSteps
	}

	result := make(map[int]*mat.VecDense)
	rootHeight := float64(tree.Age(tree.Root()))
	if err := descend(ts, frames, tree, sp, result, tree.Root(), root, rootHeight, steps, false); err != nil {
		return nil, err
	}
	return result, nil
}

// descend processes node's posterior. combine is false only for the
// root: root already *is* sp.AncestralProbs(tree.Root()) (the same
// pAlpha the backward sweep stored for the tree's final coalescent
// event, per likelihood.Engine.Evaluate/StoreRootProbs), so combining
// it with itself would square it. Every other node's pValue is a
// forward-propagated vector distinct from its stored backward
// AncestralProbs, so there the two are genuinely independent evidence
// to multiply together.
func descend(ts *trajectory.TimeSeries, frames []likelihood.ExtantFrame, tree coaltree.Tree, sp *stateprob.StateProbabilities, result map[int]*mat.VecDense, node int, pValue *mat.VecDense, height float64, steps int, combine bool) error {
	nd := pValue.Len()
	combined := mat.NewVecDense(nd, nil)
	if back := sp.AncestralProbs(node); combine && back != nil {
		combined.MulElemVec(pValue, back)
		if total := mat.Sum(combined); total > 0 {
			combined.ScaleVec(1/total, combined)
		} else {
			combined.CopyVec(pValue)
		}
	} else {
		combined.CopyVec(pValue)
	}
	result[node] = combined

	if tree.IsTerm(node) {
		return nil
	}
	children := tree.Children(node)
	if len(children) != 2 {
		return &coaltree.TreeError{Msg: "ancestral reconstruction requires a strictly bifurcating node"}
	}

	fr := frameAt(ts, height)
	fc := mat.NewVecDense(nd, nil)
	fc.MulVec(fr.F, combined)
	if total := mat.Sum(fc); total > 0 {
		fc.ScaleVec(1/total, fc)
	}
	split := mat.NewVecDense(nd, nil)
	split.AddVec(combined, fc)
	split.ScaleVec(0.5, split)

	for _, c := range children {
		childHeight := float64(tree.Age(c))
		arrived := integrateForward(ts, frames, split, height, childHeight, steps)
		if err := descend(ts, frames, tree, sp, result, c, arrived, childHeight, steps, true); err != nil {
			return err
		}
	}
	return nil
}

// integrateForward advances p0 from height hStart down to hEnd
// (hStart >= hEnd, i.e. forward in calendar time) via fixed-step Euler
// integration of §4.6.3/§4.7's `dp/dτ = (M - diag(λ_ℓ))ᵀp`, with
// M_ij = G_ji/Y_j and λ_ℓ,i = Σ_{ℓ'≠ℓ} (F·(p_ℓ'/Y))_i / Y_i,
// renormalising after every substep. The lineage's own vector p_ℓ is
// stood in by the in-flight forward probability p itself: frames only
// records the aggregate extant sum A, and p is the only per-lineage
// quantity this pass carries, so Σ_{ℓ'≠ℓ}p_ℓ' is taken as A-p.
func integrateForward(ts *trajectory.TimeSeries, frames []likelihood.ExtantFrame, p0 *mat.VecDense, hStart, hEnd float64, steps int) *mat.VecDense {
	nd := p0.Len()
	p := mat.NewVecDense(nd, nil)
	p.CopyVec(p0)
	if hStart <= hEnd {
		return p
	}

	dh := (hStart - hEnd) / float64(steps)
	h := hStart
	tsHint := ts.Len() - 1
	frameHint := len(frames) - 1
	for s := 0; s < steps; s++ {
		tsHint = ts.FrameIndexAt(ts.T1()-h, tsHint)
		fr := ts.At(tsHint)
		mt := migrationMatrix(fr, nd)
		dp := mat.NewVecDense(nd, nil)
		dp.MulVec(mt.T(), p)

		a := extantSumAt(frames, h, &frameHint)
		if dep := depletionTerm(fr, a, p, nd); dep != nil {
			dp.SubVec(dp, dep)
		}

		p.AddScaledVec(p, dh, dp)
		for i := 0; i < nd; i++ {
			if p.AtVec(i) < 0 {
				p.SetVec(i, 0)
			}
		}
		if total := mat.Sum(p); total > 0 {
			p.ScaleVec(1/total, p)
		}
		h -= dh
	}
	return p
}

func migrationMatrix(fr popmodel.Frame, nd int) *mat.Dense {
	mt := mat.NewDense(nd, nd, nil)
	for i := 0; i < nd; i++ {
		for j := 0; j < nd; j++ {
			y := fr.Y[j]
			if y < 1e-12 {
				y = 1e-12
			}
			mt.Set(i, j, fr.G.At(j, i)/y)
		}
	}
	return mt
}

// depletionTerm returns diag(λ_ℓ)·p for the extant-lineage sum a
// recorded at the current height, or nil if a is nil (no
// backward-sweep data to deplete against: extantSumAt returns nil only
// when no frames were recorded at all).
func depletionTerm(fr popmodel.Frame, a *mat.VecDense, p *mat.VecDense, nd int) *mat.VecDense {
	if a == nil {
		return nil
	}

	y := make([]float64, nd)
	for i := 0; i < nd; i++ {
		v := fr.Y[i]
		if v < 1e-12 {
			v = 1e-12
		}
		y[i] = v
	}

	other := mat.NewVecDense(nd, nil)
	for i := 0; i < nd; i++ {
		o := a.AtVec(i) - p.AtVec(i)
		if o < 0 {
			o = 0
		}
		other.SetVec(i, o/y[i])
	}
	fy := mat.NewVecDense(nd, nil)
	fy.MulVec(fr.F, other)

	dep := mat.NewVecDense(nd, nil)
	for i := 0; i < nd; i++ {
		lambda := fy.AtVec(i) / y[i]
		dep.SetVec(i, lambda*p.AtVec(i))
	}
	return dep
}

// extantSumAt returns the extant-lineage sum recorded for the
// interval spanning h, scanning from *hint (a previously returned
// index, clamped into range) the same way TimeSeries.FrameIndexAt
// does: integrateForward visits h in a single monotonic direction per
// branch, so a carried-forward hint keeps one branch's walk amortised
// O(steps) instead of O(steps*len(frames)). Returns nil if frames is
// empty. A height past the last recorded interval (the tree's root
// span, whose upper bound is the root height itself) falls back to
// that last interval's sum.
func extantSumAt(frames []likelihood.ExtantFrame, h float64, hint *int) *mat.VecDense {
	n := len(frames)
	if n == 0 {
		return nil
	}
	k := *hint
	if k < 0 || k >= n {
		k = n - 1
	}
	for k > 0 && frames[k].HStart > h {
		k--
	}
	for k < n-1 && frames[k+1].HEnd <= h {
		k++
	}
	*hint = k
	return frames[k].ExtantSum
}

// frameAt fetches the trajectory frame nearest height h. Unlike the
// likelihood engine's monotonically decreasing backward walk, a
// pre-order tree descent does not visit height in a single direction,
// so this always searches from the end of the series rather than
// reusing a hint.
func frameAt(ts *trajectory.TimeSeries, h float64) popmodel.Frame {
	t := ts.T1() - h
	idx := ts.FrameIndexAt(t, ts.Len()-1)
	return ts.At(idx)
}
