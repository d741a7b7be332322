// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Phydyn evaluates structured-coalescent tree likelihoods against
// deterministic population trajectories.
package main

import (
	"github.com/jmichaelegana/phydyn/cmd/phydyn/ancestral"
	"github.com/jmichaelegana/phydyn/cmd/phydyn/calc"
	"github.com/jmichaelegana/phydyn/cmd/phydyn/trajplot"
	"github.com/js-arias/command"
)

var app = &command.Command{
	Usage: "phydyn <command> [<argument>...]",
	Short: "a tool for structured-coalescent phylodynamic likelihoods",
}

func init() {
	app.Add(calc.Command)
	app.Add(trajplot.Command)
	app.Add(ancestral.Command)
}

func main() {
	app.Main()
}
