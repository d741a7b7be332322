// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package calc implements a command to evaluate the structured-coalescent
// log-likelihood of a dated tree against a population trajectory.
package calc

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/jmichaelegana/phydyn/coaltree"
	"github.com/jmichaelegana/phydyn/likelihood"
	"github.com/jmichaelegana/phydyn/phydynconfig"
	"github.com/jmichaelegana/phydyn/popmodel"
	"github.com/jmichaelegana/phydyn/rootlogger"
	"github.com/jmichaelegana/phydyn/trajectory"
	"github.com/js-arias/command"
	"github.com/js-arias/timetree"
)

var Command = &command.Command{
	Usage: `calc [--tree <name>] [--tips <file>] [-o|--output <file>]
	<config-file> <tree-file>`,
	Short: "evaluate a coalescent log-likelihood",
	Long: `
Command calc reads a phydynconfig document and a dated tree, then evaluates
the structured-coalescent log-likelihood of the tree against the document's
population trajectory.

The first argument is the configuration document. The second argument is a
tree file in the format read by timetree.ReadTSV. If the file stores more
than one tree, use --tree to select one by name; otherwise the first tree in
the file is used.

Each tip must be assigned to a deme. By default calc assumes the tip's
taxon name is itself a deme name declared in the configuration's [popmodel]
block. When that is not the case, use --tips to give a tab-delimited file of
"taxon\tdeme" rows.

If the configuration omits an explicit t1, it is set to t0 plus the tree's
height, so the tree fits inside the trajectory window exactly.

The flag -o, or --output, gives a file to which calc writes one header row
and one root-probabilities row, in the format written by rootlogger.Logger.

calc exits with status 1 for a configuration or usage error, and with status
2 if the evaluation collapses to -Inf.
	`,
	SetFlags: setFlags,
	Run:      run,
}

var treeName string
var tipsFile string
var output string

func setFlags(c *command.Command) {
	c.Flags().StringVar(&treeName, "tree", "", "")
	c.Flags().StringVar(&tipsFile, "tips", "", "")
	c.Flags().StringVar(&output, "output", "", "")
	c.Flags().StringVar(&output, "o", "", "")
}

func run(c *command.Command, args []string) error {
	if len(args) < 2 {
		return c.UsageError("expecting a configuration file and a tree file")
	}

	doc, err := phydynconfig.Read(args[0])
	if err != nil {
		return err
	}

	tc, err := readTreeFile(args[1])
	if err != nil {
		return err
	}
	t, err := pickTree(tc, treeName, args[1])
	if err != nil {
		return err
	}

	tips, err := readTips(tipsFile)
	if err != nil {
		return err
	}

	ct := coaltree.FromTimeTree(t)
	intervals, err := coaltree.Build(ct)
	if err != nil {
		return err
	}

	if err := doc.ResolveT1FromTipDate(doc.T0 + intervals.TotalDuration()); err != nil {
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

	tipState, err := tipStates(t, m, tips)
	if err != nil {
		return err
	}

	eng, err := likelihood.New(m, ts, intervals, ct, tipState, doc.Options()...)
	if err != nil {
		return err
	}
	logP, err := eng.Evaluate()
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s\t%.6f\n", t.Name(), logP)
	if math.IsInf(logP, -1) {
		fmt.Fprintf(os.Stderr, "calc: log-likelihood collapsed to -Inf on tree %q\n", t.Name())
		os.Exit(2)
	}

	if output != "" {
		if err := writeRootProbs(output, m.NumDemes(), eng); err != nil {
			return err
		}
	}

	return nil
}

func readTreeFile(name string) (*timetree.Collection, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tc, err := timetree.ReadTSV(f)
	if err != nil {
		return nil, fmt.Errorf("while reading file %q: %v", name, err)
	}
	return tc, nil
}

func pickTree(tc *timetree.Collection, name, file string) (*timetree.Tree, error) {
	if name != "" {
		t := tc.Tree(name)
		if t == nil {
			return nil, fmt.Errorf("tree %q not found in file %q", name, file)
		}
		return t, nil
	}
	names := tc.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("file %q has no trees", file)
	}
	return tc.Tree(names[0]), nil
}

// readTips reads an optional taxon-to-deme assignment file: one
// "taxon\tdeme" row per tip. An empty name means no file was given.
func readTips(name string) (map[string]string, error) {
	if name == "" {
		return nil, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tsv := csv.NewReader(f)
	tsv.Comma = '\t'
	tsv.Comment = '#'
	tsv.FieldsPerRecord = -1

	tips := make(map[string]string)
	for {
		row, err := tsv.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("on file %q: %v", name, err)
		}
		if len(row) < 2 {
			continue
		}
		tips[row[0]] = row[1]
	}
	return tips, nil
}

// tipStates builds the likelihood.New tip-deme assignment: by taxon
// name directly against the model's declared demes, unless tips gives
// an explicit taxon-to-deme override.
func tipStates(t *timetree.Tree, m *popmodel.PopModel, tips map[string]string) (map[int]int, error) {
	demeIndex := make(map[string]int, len(m.DemeNames()))
	for i, d := range m.DemeNames() {
		demeIndex[d] = i
	}

	tipState := make(map[int]int)
	for _, name := range t.Terms() {
		id, ok := t.TaxNode(name)
		if !ok {
			return nil, fmt.Errorf("taxon %q has no node id", name)
		}
		deme := name
		if tips != nil {
			d, ok := tips[name]
			if !ok {
				return nil, fmt.Errorf("taxon %q has no deme assignment", name)
			}
			deme = d
		}
		i, ok := demeIndex[deme]
		if !ok {
			return nil, fmt.Errorf("taxon %q assigned to undeclared deme %q", name, deme)
		}
		tipState[id] = i
	}
	return tipState, nil
}

func writeRootProbs(name string, numDemes int, eng *likelihood.Engine) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	l := rootlogger.New(numDemes)
	if err := l.Init(bw); err != nil {
		return err
	}
	if err := l.Log(bw, 0, eng.StateProbabilities().RootProbs()); err != nil {
		return err
	}
	if err := l.Close(bw); err != nil {
		return err
	}
	return bw.Flush()
}
