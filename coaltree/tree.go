// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package coaltree

import "github.com/js-arias/timetree"

// A Tree is the minimal read-only view of a dated tree that
// TreeIntervals needs: node identity, its age (time before present,
// larger age is further into the past), and its children.
type Tree interface {
	Root() int
	Nodes() []int
	Children(id int) []int
	IsTerm(id int) bool
	Age(id int) int64
}

// timeTree adapts a *timetree.Tree to the local Tree interface, so
// TreeIntervals never depends on the timetree package directly.
type timeTree struct {
	t *timetree.Tree
}

// FromTimeTree wraps a *timetree.Tree collaborator for consumption by
// Build.
func FromTimeTree(t *timetree.Tree) Tree { return timeTree{t: t} }

func (tt timeTree) Root() int             { return tt.t.Root() }
func (tt timeTree) Nodes() []int          { return tt.t.Nodes() }
func (tt timeTree) Children(id int) []int { return tt.t.Children(id) }
func (tt timeTree) IsTerm(id int) bool    { return tt.t.IsTerm(id) }
func (tt timeTree) Age(id int) int64      { return tt.t.Age(id) }
