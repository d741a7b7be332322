// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package ancestral implements the forward solver of §4.7: given a
// completed backward sweep (a rooted stateprob.StateProbabilities with
// its per-node ancestral vectors recorded and its root vector stored),
// it walks the tree root-to-tips producing the Bayesian posterior
// deme-probability vector at every node.
package ancestral

import "fmt"

// A ConfigError reports that Reconstruct was called before a backward
// sweep recorded the state it needs (no stored root probabilities).
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ancestral: %s", e.Msg)
}
