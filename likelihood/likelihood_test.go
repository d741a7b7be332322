// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package likelihood_test

import (
	"math"
	"testing"

	"github.com/jmichaelegana/phydyn/coaltree"
	"github.com/jmichaelegana/phydyn/likelihood"
	"github.com/jmichaelegana/phydyn/popmodel"
	"github.com/jmichaelegana/phydyn/trajectory"
)

// fakeTree is a minimal hand-built coaltree.Tree, mirroring the one in
// package coaltree's own tests.
type fakeTree struct {
	root     int
	children map[int][]int
	ages     map[int]int64
}

func (f *fakeTree) Root() int { return f.root }

func (f *fakeTree) Nodes() []int {
	nodes := make([]int, 0, len(f.ages))
	for id := range f.ages {
		nodes = append(nodes, id)
	}
	return nodes
}

func (f *fakeTree) Children(id int) []int { return f.children[id] }
func (f *fakeTree) IsTerm(id int) bool    { return len(f.children[id]) == 0 }
func (f *fakeTree) Age(id int) int64      { return f.ages[id] }

// sirModel builds the two-deme SIR population model used throughout
// the engine tests (the same rates as the S1 scenario).
func sirModel(t testing.TB) *popmodel.PopModel {
	t.Helper()
	sp := popmodel.Spec{
		Demes:  []string{"I0", "I1"},
		Aux:    []string{"S"},
		Params: []string{"beta0", "beta1", "gamma0", "gamma1", "b"},
		F: []popmodel.Assignment{
			{I: 0, J: 0, Src: "beta0 * I0 * S"},
			{I: 1, J: 1, Src: "beta1 * I1 * S"},
		},
		D: []popmodel.Assignment{
			{I: 0, Src: "gamma0 * I0"},
			{I: 1, Src: "gamma1 * I1"},
		},
		Dot: []popmodel.NamedExpr{
			{Name: "S", Src: "b * (I0 + I1) - beta0 * I0 * S - beta1 * I1 * S"},
		},
	}
	m, err := popmodel.New(sp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func sirTrajectory(t testing.TB, m *popmodel.PopModel) *trajectory.TimeSeries {
	t.Helper()
	ws := m.NewWorkspace()
	ws.BindParams([]float64{0.001, 0.0001, 1.0, 0.1111, 0.01})
	ts, err := trajectory.Run(ws, []float64{1, 0, 999}, trajectory.Params{
		Method: trajectory.RK4,
		Steps:  1001,
		T0:     0,
		T1:     20,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return ts
}

// s1Tree is a reduced version of the S1 scenario: two I0 tips sampled
// at the present (height 0), coalescing one time unit into the past.
// The reference scenario uses height 0.5; coaltree.Tree ages are
// integer ticks, so this test scales the coalescence to height 1
// (t=19) without changing the qualitative claim under test.
func s1Tree() *fakeTree {
	return &fakeTree{
		root:     2,
		children: map[int][]int{2: {0, 1}},
		ages:     map[int]int64{0: 0, 1: 0, 2: 1},
	}
}

func TestS1FiniteLogPAndRootFavoursI0(t *testing.T) {
	m := sirModel(t)
	ts := sirTrajectory(t, m)
	tree := s1Tree()
	intervals, err := coaltree.Build(tree)
	if err != nil {
		t.Fatalf("coaltree.Build: %v", err)
	}
	tipState := map[int]int{0: 0, 1: 0}

	eng, err := likelihood.New(m, ts, intervals, tree, tipState, likelihood.WithComputeAncestral(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logP, err := eng.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.IsNaN(logP) || math.IsInf(logP, 0) {
		t.Fatalf("logP = %v, want finite", logP)
	}

	root := eng.StateProbabilities().RootProbs()
	if root == nil {
		t.Fatal("RootProbs = nil, want the backward-sweep root vector")
	}
	if root.AtVec(0) <= 0.5 {
		t.Errorf("p_root,I0 = %v, want > 0.5", root.AtVec(0))
	}
}

func TestEvaluateRejectsMissingTipState(t *testing.T) {
	m := sirModel(t)
	ts := sirTrajectory(t, m)
	tree := s1Tree()
	intervals, err := coaltree.Build(tree)
	if err != nil {
		t.Fatalf("coaltree.Build: %v", err)
	}
	_, err = likelihood.New(m, ts, intervals, tree, map[int]int{0: 0})
	if err == nil {
		t.Fatal("expected a *ConfigError for a tip with no deme assignment")
	}
	if _, ok := err.(*likelihood.ConfigError); !ok {
		t.Fatalf("expected *likelihood.ConfigError, got %T: %v", err, err)
	}
}

func TestConstantLikelihoodShortCircuit(t *testing.T) {
	m := sirModel(t)
	ts := sirTrajectory(t, m)
	tree := s1Tree()
	intervals, err := coaltree.Build(tree)
	if err != nil {
		t.Fatalf("coaltree.Build: %v", err)
	}
	eng, err := likelihood.New(m, ts, intervals, tree, map[int]int{0: 0, 1: 0}, likelihood.WithConstantLikelihood(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logP, err := eng.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if logP != 0 {
		t.Errorf("logP = %v, want 0", logP)
	}
}

// threeTipTree leaves tip 2 extant when the first coalescence (node 3,
// joining tips 0 and 1) happens, exercising doFiniteSizeCorrections
// with a non-empty "other lineages" pool; at the root no other lineage
// remains. A reduced stand-in for the S5 five-tip scenario.
func threeTipTree() *fakeTree {
	return &fakeTree{
		root:     4,
		children: map[int][]int{3: {0, 1}, 4: {3, 2}},
		ages:     map[int]int64{0: 0, 1: 0, 2: 0, 3: 1, 4: 2},
	}
}

func TestFiniteSizeCorrectionsChangeLogPByABoundedAmount(t *testing.T) {
	m := sirModel(t)
	ts := sirTrajectory(t, m)
	tree := threeTipTree()
	intervals, err := coaltree.Build(tree)
	if err != nil {
		t.Fatalf("coaltree.Build: %v", err)
	}
	tipState := map[int]int{0: 0, 1: 0, 2: 1}

	without, err := likelihood.New(m, ts, intervals, tree, tipState)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logPWithout, err := without.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	with, err := likelihood.New(m, ts, intervals, tree, tipState, likelihood.WithFiniteSizeCorrections(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logPWith, err := with.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	if math.IsNaN(logPWithout) || math.IsInf(logPWithout, 0) {
		t.Fatalf("logP without corrections = %v, want finite", logPWithout)
	}
	if math.IsNaN(logPWith) || math.IsInf(logPWith, 0) {
		t.Fatalf("logP with corrections = %v, want finite", logPWith)
	}
	// I1 stays 0, so node 3's vector is all deme 0 and tip 2 is the
	// only other lineage: the correction scales tip 2's deme-0 entry
	// (the minP floor) by minP, and the root coalescence rate, which is
	// proportional to that entry, changes by the same factor. So
	// |Δlog P| = ln(1/minP) with the default minP of 1e-4.
	want := math.Log(1e4)
	if diff := math.Abs(logPWith - logPWithout); math.Abs(diff-want) > 1e-3 {
		t.Errorf("|Δlog P| = %v, want %v", diff, want)
	}

	root, err := with.StateProbabilities().Prob(tree.root)
	if err != nil {
		t.Fatalf("Prob(root): %v", err)
	}
	var sum float64
	for i := 0; i < root.Len(); i++ {
		sum += root.AtVec(i)
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("root probability sums to %v, want 1", sum)
	}
}

// constantSIModel is a constant-rate two-deme model (no S depletion
// term), exercising the t0 auto-extension path: IsConstant() is true,
// so a root past the trajectory's t1-t0 span is resolved by
// continuing the backward walk instead of falling back to the
// root-to-t0 tail.
func constantSIModel(t testing.TB) *popmodel.PopModel {
	t.Helper()
	sp := popmodel.Spec{
		Demes:  []string{"I0", "I1"},
		Params: []string{"beta0", "beta1"},
		F: []popmodel.Assignment{
			{I: 0, J: 0, Src: "beta0"},
			{I: 1, J: 1, Src: "beta1"},
		},
	}
	m, err := popmodel.New(sp)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestConstantModelExtendsPastTrajectoryWindow(t *testing.T) {
	m := constantSIModel(t)
	ws := m.NewWorkspace()
	ws.BindParams([]float64{10, 10})
	// A 2-step trajectory spanning t in [0,0.5], shorter than the
	// tree's root height of 1, so the root lies past the window.
	ts, err := trajectory.Run(ws, []float64{1, 1}, trajectory.Params{
		Method: trajectory.Euler, Steps: 2, T0: 0, T1: 0.5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	tree := s1Tree()
	intervals, err := coaltree.Build(tree)
	if err != nil {
		t.Fatalf("coaltree.Build: %v", err)
	}
	eng, err := likelihood.New(m, ts, intervals, tree, map[int]int{0: 0, 1: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logP, err := eng.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.IsNaN(logP) || math.IsInf(logP, 0) {
		t.Fatalf("logP = %v, want finite (constant model should extend past t0)", logP)
	}
	if eng.RootBeyondTrajectory() {
		t.Error("RootBeyondTrajectory() = true, want false: a constant model never needs the root-to-t0 tail")
	}
}

func TestForgiveT0FalseIsFatalPastTrajectoryWindow(t *testing.T) {
	m := sirModel(t)
	ws := m.NewWorkspace()
	ws.BindParams([]float64{0.001, 0.0001, 1.0, 0.1111, 0.01})
	ts, err := trajectory.Run(ws, []float64{1, 0, 999}, trajectory.Params{
		Method: trajectory.Euler, Steps: 2, T0: 0, T1: 0.5,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	tree := s1Tree()
	intervals, err := coaltree.Build(tree)
	if err != nil {
		t.Fatalf("coaltree.Build: %v", err)
	}
	eng, err := likelihood.New(m, ts, intervals, tree, map[int]int{0: 0, 1: 0}, likelihood.WithForgiveT0(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logP, err := eng.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !math.IsInf(logP, -1) {
		t.Errorf("logP = %v, want -Inf with forgiveT0=false and a root past t0", logP)
	}
}

// TestRootToT0TailMatchesHandComputedKingmanTail exercises spec §8's S4
// scenario: a root that predates the trajectory's t0, with forgiveT0
// true and an explicit Ne, so the entire contribution past the break
// point is the §4.6.4 constant-coalescent tail and can be checked
// against a hand-computed value. The tree has two zero-duration
// sample events (interval 0 and 1) followed by a single coalescent
// event (interval 2) at height 25, well past the 20-unit trajectory
// window, so the tail interval's duration splits into a
// within-trajectory part (consumed silently, advancing h/t/tsPoint to
// t0) and a beyond-t0 part that alone feeds the tail's first term.
func TestRootToT0TailMatchesHandComputedKingmanTail(t *testing.T) {
	m := sirModel(t)
	ts := sirTrajectory(t, m)
	tr := &fakeTree{
		root:     2,
		children: map[int][]int{2: {0, 1}},
		ages:     map[int]int64{0: 0, 1: 0, 2: 25},
	}
	intervals, err := coaltree.Build(tr)
	if err != nil {
		t.Fatalf("coaltree.Build: %v", err)
	}

	const ne = 1000.0
	eng, err := likelihood.New(m, ts, intervals, tr, map[int]int{0: 0, 1: 0}, likelihood.WithNe(ne))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logP, err := eng.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	trajDuration := 20.0
	rootHeight := 25.0
	numLineages := float64(intervals.Count())
	beyond := rootHeight - trajDuration
	coef := numLineages * (numLineages - 1) / ne
	want := math.Log(1/ne) - coef*beyond

	if math.Abs(logP-want) > 1e-9 {
		t.Errorf("logP = %v, want the hand-computed tail value %v", logP, want)
	}
	if !eng.RootBeyondTrajectory() {
		t.Error("RootBeyondTrajectory() = false, want true: the root is past t0")
	}
}

func TestEvaluateCachesUntilMarkedDirty(t *testing.T) {
	m := sirModel(t)
	ts := sirTrajectory(t, m)
	tree := s1Tree()
	intervals, err := coaltree.Build(tree)
	if err != nil {
		t.Fatalf("coaltree.Build: %v", err)
	}
	eng, err := likelihood.New(m, ts, intervals, tree, map[int]int{0: 0, 1: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := eng.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	second, err := eng.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if second != first {
		t.Errorf("cached logP = %v, want the unchanged %v", second, first)
	}

	eng.MarkParametersDirty()
	third, err := eng.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if third != first {
		t.Errorf("recomputed logP = %v, want it to equal the fresh recomputation %v", third, first)
	}
}

func TestFullSegmentAccumulationProducesFiniteLogP(t *testing.T) {
	m := sirModel(t)
	ts := sirTrajectory(t, m)
	tree := s1Tree()
	intervals, err := coaltree.Build(tree)
	if err != nil {
		t.Fatalf("coaltree.Build: %v", err)
	}
	eng, err := likelihood.New(m, ts, intervals, tree, map[int]int{0: 0, 1: 0}, likelihood.WithFullSegmentAccumulation(true))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logP, err := eng.Evaluate()
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.IsNaN(logP) || math.IsInf(logP, 0) {
		t.Fatalf("logP = %v, want finite", logP)
	}
}
