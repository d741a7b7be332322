// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package popmodel

import "fmt"

// A ModelError reports a structural problem detected while building a
// PopModel: an F, G or D assignment with a deme index outside the
// declared demes, or a dot(X) equation for an undeclared auxiliary
// variable. Initial values are not checked here; a missing one is
// reported by package phydynconfig as a ConfigError.
type ModelError struct {
	Msg string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("population model: %s", e.Msg)
}
