// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package stateprob

import "gonum.org/v1/gonum/mat"

// A StateProbabilities holds one deme-probability vector per extant
// lineage in a dense m*maxLineages buffer; lineages are added and
// removed as the backward tree walk crosses SAMPLE and COALESCENT
// events. Slots are recycled through a free list. The buffer is
// allocated once at construction and never moved, so a *mat.VecDense
// view returned by AddLineage, AddSample or Prob stays valid (and
// keeps aliasing the shared buffer) for the lifetime of the
// StateProbabilities, even as unrelated slots are recycled.
type StateProbabilities struct {
	m           int
	maxLineages int
	buf         []float64
	free        []int
	next        int // first never-yet-used slot
	slot        map[int]int
	live        []int // extant node ids, in the order they were added

	ancestral map[int]*mat.VecDense
	root      *mat.VecDense
	minP      float64
}

// New returns an empty StateProbabilities for a model with m demes,
// sized for at most maxLineages simultaneously extant lineages — in a
// strictly bifurcating tree with n tips this can never exceed n, so
// callers should size it from the tree they are about to walk.
// Exceeding maxLineages is an *InvariantViolation, not a silent
// reallocation, to keep every previously returned probability-vector
// view valid.
func New(m, maxLineages int) *StateProbabilities {
	if maxLineages < 1 {
		maxLineages = 1
	}
	return &StateProbabilities{
		m:           m,
		maxLineages: maxLineages,
		buf:         make([]float64, m*maxLineages),
		slot:        make(map[int]int),
		ancestral:   make(map[int]*mat.VecDense),
	}
}

// SetMinP records a probability floor on sp. AddSample does not read
// it: it floors at its own minP argument.
func (sp *StateProbabilities) SetMinP(minP float64) { sp.minP = minP }

// NumStates returns m, the number of demes.
func (sp *StateProbabilities) NumStates() int { return sp.m }

// NumExtant returns the number of currently active lineages.
func (sp *StateProbabilities) NumExtant() int { return len(sp.live) }

// ExtantLineages returns the node ids of the currently active
// lineages, in insertion order.
func (sp *StateProbabilities) ExtantLineages() []int {
	return append([]int(nil), sp.live...)
}

func (sp *StateProbabilities) allocSlot() (int, error) {
	if n := len(sp.free); n > 0 {
		s := sp.free[n-1]
		sp.free = sp.free[:n-1]
		return s, nil
	}
	if sp.next >= sp.maxLineages {
		return 0, &InvariantViolation{Msg: "lineage capacity exceeded"}
	}
	s := sp.next
	sp.next++
	return s, nil
}

func (sp *StateProbabilities) view(slot int) *mat.VecDense {
	return mat.NewVecDense(sp.m, sp.buf[slot*sp.m:slot*sp.m+sp.m])
}

// AddLineage inserts nodeID as a new extant lineage with probability
// vector p (copied in). If p is nil, the lineage starts with a
// uniform distribution over all demes. It fails with an
// *InvariantViolation if nodeID is already extant.
func (sp *StateProbabilities) AddLineage(nodeID int, p *mat.VecDense) (*mat.VecDense, error) {
	if _, ok := sp.slot[nodeID]; ok {
		return nil, &InvariantViolation{Msg: "lineage already extant"}
	}
	s, err := sp.allocSlot()
	if err != nil {
		return nil, err
	}
	v := sp.view(s)
	if p == nil {
		u := 1 / float64(sp.m)
		for i := 0; i < sp.m; i++ {
			v.SetVec(i, u)
		}
	} else {
		v.CopyVec(p)
	}
	sp.slot[nodeID] = s
	sp.live = append(sp.live, nodeID)
	return v, nil
}

// AddSample inserts nodeID as a new tip lineage with a one-hot vector
// at state, optionally floored at minP and renormalised (minP <= 0
// disables flooring).
func (sp *StateProbabilities) AddSample(nodeID, state int, minP float64) (*mat.VecDense, error) {
	if state < 0 || state >= sp.m {
		return nil, &InvariantViolation{Msg: "sample state out of range"}
	}
	p := mat.NewVecDense(sp.m, nil)
	p.SetVec(state, 1)
	if minP > 0 {
		floorAndRenormalise(p, minP)
	}
	return sp.AddLineage(nodeID, p)
}

// RemoveLineage detaches nodeID, returning a private copy of its
// final probability vector and recycling its slot. It fails with an
// *InvariantViolation if nodeID is not extant.
func (sp *StateProbabilities) RemoveLineage(nodeID int) (*mat.VecDense, error) {
	s, ok := sp.slot[nodeID]
	if !ok {
		return nil, &InvariantViolation{Msg: "lineage not extant"}
	}
	out := mat.NewVecDense(sp.m, nil)
	out.CopyVec(sp.view(s))

	delete(sp.slot, nodeID)
	sp.free = append(sp.free, s)
	for i, id := range sp.live {
		if id == nodeID {
			sp.live = append(sp.live[:i], sp.live[i+1:]...)
			break
		}
	}
	return out, nil
}

// Prob returns a live view of nodeID's probability vector; mutating
// it mutates the shared buffer. It fails with an *InvariantViolation
// if nodeID is not extant.
func (sp *StateProbabilities) Prob(nodeID int) (*mat.VecDense, error) {
	s, ok := sp.slot[nodeID]
	if !ok {
		return nil, &InvariantViolation{Msg: "lineage not extant"}
	}
	return sp.view(s), nil
}

// ExtantProbs returns live views of every extant lineage's
// probability vector, in the same order as ExtantLineages.
func (sp *StateProbabilities) ExtantProbs() []*mat.VecDense {
	out := make([]*mat.VecDense, len(sp.live))
	for i, id := range sp.live {
		out[i] = sp.view(sp.slot[id])
	}
	return out
}

// LineageStateSum returns A = Σ_ℓ p_ℓ over all extant lineages.
func (sp *StateProbabilities) LineageStateSum() *mat.VecDense {
	a := mat.NewVecDense(sp.m, nil)
	for _, id := range sp.live {
		a.AddVec(a, sp.view(sp.slot[id]))
	}
	return a
}

// LineageSumSquares returns Σ_ℓ p_ℓ ⊙ p_ℓ (elementwise) over all
// extant lineages.
func (sp *StateProbabilities) LineageSumSquares() *mat.VecDense {
	s := mat.NewVecDense(sp.m, nil)
	tmp := mat.NewVecDense(sp.m, nil)
	for _, id := range sp.live {
		v := sp.view(sp.slot[id])
		tmp.MulElemVec(v, v)
		s.AddVec(s, tmp)
	}
	return s
}

// MulExtantProbabilities left-multiplies every extant lineage's
// probability vector by Q in place (p_ℓ ← Q p_ℓ), optionally
// renormalising each result to sum to 1.
func (sp *StateProbabilities) MulExtantProbabilities(q *mat.Dense, normalise bool) {
	tmp := mat.NewVecDense(sp.m, nil)
	for _, id := range sp.live {
		v := sp.view(sp.slot[id])
		tmp.MulVec(q, v)
		if normalise {
			if total := mat.Sum(tmp); total != 0 {
				tmp.ScaleVec(1/total, tmp)
			}
		}
		v.CopyVec(tmp)
	}
}

// StoreAncestralProbs snapshots nodeID's current probability vector
// for later retrieval by ancestral-state reconstruction. If p is
// non-nil it is stored instead of nodeID's live vector.
func (sp *StateProbabilities) StoreAncestralProbs(nodeID int, p *mat.VecDense) {
	v := mat.NewVecDense(sp.m, nil)
	if p != nil {
		v.CopyVec(p)
	} else if live, ok := sp.slot[nodeID]; ok {
		v.CopyVec(sp.view(live))
	}
	sp.ancestral[nodeID] = v
}

// AncestralProbs returns the stored ancestral probability vector for
// nodeID, or nil if none was stored.
func (sp *StateProbabilities) AncestralProbs(nodeID int) *mat.VecDense {
	return sp.ancestral[nodeID]
}

// ClearAncestralProbs discards every stored ancestral vector.
func (sp *StateProbabilities) ClearAncestralProbs() {
	sp.ancestral = make(map[int]*mat.VecDense)
}

// StoreRootProbs snapshots the final root probability vector.
func (sp *StateProbabilities) StoreRootProbs(p *mat.VecDense) {
	v := mat.NewVecDense(sp.m, nil)
	v.CopyVec(p)
	sp.root = v
}

// RootProbs returns the stored root probability vector, or nil if
// none was stored.
func (sp *StateProbabilities) RootProbs() *mat.VecDense { return sp.root }

// Clear resets a StateProbabilities to empty, releasing every extant
// and stored vector, but keeps its backing buffer allocated for
// reuse. Any view returned before Clear is no longer meaningful.
func (sp *StateProbabilities) Clear() {
	for i := range sp.buf {
		sp.buf[i] = 0
	}
	sp.free = sp.free[:0]
	sp.next = 0
	sp.slot = make(map[int]int)
	sp.live = nil
	sp.ancestral = make(map[int]*mat.VecDense)
	sp.root = nil
}

// floorAndRenormalise rescales p to sum to 1 with every entry at least
// minP: p_i ← minP + (1 - n·minP)·p_i/Σp, so a one-hot p keeps exactly
// minP in every other state. If n·minP >= 1 (or Σp is 0) the result is
// uniform.
func floorAndRenormalise(p *mat.VecDense, minP float64) {
	n := p.Len()
	total := mat.Sum(p)
	if total <= 0 || float64(n)*minP >= 1 {
		for i := 0; i < n; i++ {
			p.SetVec(i, 1/float64(n))
		}
		return
	}
	rest := 1 - float64(n)*minP
	for i := 0; i < n; i++ {
		p.SetVec(i, minP+rest*p.AtVec(i)/total)
	}
}
