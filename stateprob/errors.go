// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package stateprob holds the per-lineage deme-probability vectors
// the likelihood engine maintains while walking a tree backward in
// time, plus the aggregate views (sum, sum of squares) the coalescent
// rate calculation needs at every interval.
package stateprob

import "fmt"

// An InvariantViolation reports a call that would corrupt the
// invariants of a StateProbabilities: adding a lineage that is
// already extant, or removing/looking up one that is not.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("state probabilities: %s", e.Msg)
}
