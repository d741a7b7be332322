// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package coaltree turns a dated bifurcating tree into the ordered
// sequence of sample and coalescent events consumed by the
// likelihood engine.
package coaltree

import "fmt"

// A TreeError reports a tree that is not strictly bifurcating, or
// whose event count does not match its tip count, and so cannot be
// walked as a coalescent interval sequence.
type TreeError struct {
	Msg string
}

func (e *TreeError) Error() string {
	return fmt.Sprintf("tree intervals: %s", e.Msg)
}
