// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package trajplot implements a command to plot a population model's
// trajectory.
package trajplot

import (
	"fmt"

	"github.com/jmichaelegana/phydyn/phydynconfig"
	"github.com/jmichaelegana/phydyn/trajectory"
	"github.com/js-arias/command"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

var Command = &command.Command{
	Usage: `trajplot [-o|--output <file>] <config-file>`,
	Short: "plot a population trajectory",
	Long: `
Command trajplot reads a phydynconfig document, integrates its population
model over the configured trajectory window, and plots each deme and
auxiliary variable's value against time.

The output is a PNG image. By default it is named after the configuration
file with a ".png" suffix; use -o, or --output, to set a different path.
	`,
	SetFlags: setFlags,
	Run:      run,
}

var output string

func setFlags(c *command.Command) {
	c.Flags().StringVar(&output, "output", "", "")
	c.Flags().StringVar(&output, "o", "", "")
}

func run(c *command.Command, args []string) error {
	if len(args) < 1 {
		return c.UsageError("expecting a configuration file")
	}

	doc, err := phydynconfig.Read(args[0])
	if err != nil {
		return err
	}

	m, err := doc.BuildModel()
	if err != nil {
		return err
	}
	ws := doc.BuildWorkspace(m)
	y0, err := doc.InitialValues()
	if err != nil {
		return err
	}
	tp, err := doc.TrajectoryParams()
	if err != nil {
		return err
	}
	ts, err := trajectory.Run(ws, y0, tp)
	if err != nil {
		return err
	}

	out := output
	if out == "" {
		out = args[0] + ".png"
	}
	if err := plotTrajectory(ts, m.DemeNames(), m.AuxNames(), out); err != nil {
		return err
	}
	return nil
}

func plotTrajectory(ts *trajectory.TimeSeries, demes, aux []string, out string) error {
	p := plot.New()
	p.Title.Text = "population trajectory"
	p.X.Label.Text = "t"
	p.Y.Label.Text = "Y"
	p.Legend.Top = true

	names := append(append([]string(nil), demes...), aux...)
	for i, name := range names {
		pts := make(plotter.XYs, ts.Len())
		for k := 0; k < ts.Len(); k++ {
			fr := ts.At(k)
			y := fr.Y
			if i >= len(demes) {
				y = fr.Aux
			}
			idx := i
			if i >= len(demes) {
				idx = i - len(demes)
			}
			pts[k].X = fr.T
			pts[k].Y = y[idx]
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	if err := p.Save(8*vg.Inch, 5*vg.Inch, out); err != nil {
		return fmt.Errorf("on file %q: %v", out, err)
	}
	return nil
}
