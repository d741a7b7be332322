// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package coaltree

import "sort"

// An EventType marks whether an interval ends with a new tip entering
// the tree (SAMPLE) or two lineages merging (COALESCENT).
type EventType int

const (
	Sample EventType = iota
	Coalescent
)

func (e EventType) String() string {
	if e == Sample {
		return "SAMPLE"
	}
	return "COALESCENT"
}

type event struct {
	height float64
	typ    EventType
	node   int
}

// TreeIntervals is the ordered, 2n-1 long event sequence of a dated
// bifurcating tree, sorted by height ascending (height 0 at the
// youngest tip, increasing toward the root). It is immutable once
// built; rebuild it whenever the source tree's topology or any node
// height changes.
type TreeIntervals struct {
	events    []event
	durations []float64
}

// Build walks t and produces its TreeIntervals. It fails with a
// *TreeError if t is not strictly bifurcating (every internal node
// must have exactly two children) or if the resulting event count
// does not match 2*tips-1. Events are ordered by height ascending; at
// equal heights a Sample comes before a Coalescent, and events of the
// same type are ordered by node id.
func Build(t Tree) (*TreeIntervals, error) {
	nodes := t.Nodes()
	var events []event
	tips := 0
	for _, id := range nodes {
		typ := Coalescent
		if t.IsTerm(id) {
			typ = Sample
			tips++
		} else if c := t.Children(id); len(c) != 2 {
			return nil, &TreeError{Msg: "node is not strictly bifurcating"}
		}
		events = append(events, event{height: float64(t.Age(id)), typ: typ, node: id})
	}
	if tips == 0 {
		return nil, &TreeError{Msg: "tree has no tips"}
	}
	if len(events) != 2*tips-1 {
		return nil, &TreeError{Msg: "event count does not match 2*tips-1"}
	}

	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.height != b.height {
			return a.height < b.height
		}
		if a.typ != b.typ {
			return a.typ == Sample
		}
		return a.node < b.node
	})

	durations := make([]float64, len(events))
	for i := 1; i < len(events); i++ {
		durations[i] = events[i].height - events[i-1].height
	}

	return &TreeIntervals{events: events, durations: durations}, nil
}

// Count returns 2n-1, the number of events.
func (ti *TreeIntervals) Count() int { return len(ti.events) }

// Duration returns the length of the interval preceding event i.
// Duration(0) is always 0.
func (ti *TreeIntervals) Duration(i int) float64 { return ti.durations[i] }

// EventType returns whether event i is a SAMPLE or a COALESCENT.
func (ti *TreeIntervals) EventType(i int) EventType { return ti.events[i].typ }

// EventNode returns the tree node id associated with event i.
func (ti *TreeIntervals) EventNode(i int) int { return ti.events[i].node }

// TimeOf returns the height of event i.
func (ti *TreeIntervals) TimeOf(i int) float64 { return ti.events[i].height }

// TotalDuration returns the sum of all interval durations, i.e. the
// tree height measured from the youngest tip.
func (ti *TreeIntervals) TotalDuration() float64 {
	if len(ti.events) == 0 {
		return 0
	}
	return ti.events[len(ti.events)-1].height - ti.events[0].height
}
