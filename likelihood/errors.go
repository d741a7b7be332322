// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package likelihood implements the backward-in-time structured
// coalescent likelihood: a single pass over a tree's sample and
// coalescent events, consuming a trajectory.TimeSeries and updating a
// stateprob.StateProbabilities to accumulate the tree's log-likelihood
// under a popmodel.PopModel.
package likelihood

import "fmt"

// A ConfigError reports a tip with no entry in the tip-to-deme
// mapping, or another mismatch between the tree and the likelihood
// configuration that prevents evaluation from starting.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("likelihood: %s", e.Msg)
}
