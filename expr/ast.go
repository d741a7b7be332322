// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package expr

// A node is an element of the parsed expression tree,
// before it is flattened into a linear instruction tape.
type node interface {
	node()
}

type numNode struct{ v float64 }

type identNode struct {
	name string
	pos  int
}

type unaryNode struct {
	op string
	x  node
}

type binNode struct {
	op   string
	x, y node
}

type callNode struct {
	fn   string
	pos  int
	args []node
}

func (numNode) node()   {}
func (identNode) node() {}
func (unaryNode) node() {}
func (binNode) node()   {}
func (callNode) node()  {}

var arity = map[string]int{
	"exp":  1,
	"log":  1,
	"sqrt": 1,
	"abs":  1,
	"pow":  2,
	"min":  2,
	"max":  2,
	"mod":  2,
	"if":   3,
}
