// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

// Package ancestral implements a command to reconstruct ancestral deme
// probabilities along a dated tree.
package ancestral

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"

	ancrecon "github.com/jmichaelegana/phydyn/ancestral"
	"github.com/jmichaelegana/phydyn/coaltree"
	"github.com/jmichaelegana/phydyn/likelihood"
	"github.com/jmichaelegana/phydyn/phydynconfig"
	"github.com/jmichaelegana/phydyn/popmodel"
	"github.com/jmichaelegana/phydyn/trajectory"
	"github.com/js-arias/command"
	"github.com/js-arias/timetree"
	"gonum.org/v1/gonum/mat"
)

var Command = &command.Command{
	Usage: `ancestral [--tree <name>] [--tips <file>] [-o|--output <file>]
	<config-file> <tree-file>`,
	Short: "reconstruct ancestral deme probabilities",
	Long: `
Command ancestral runs the backward likelihood walk and then the forward
ancestral sweep over a dated tree, and writes one row per node, tips
included, with one column per deme giving that node's posterior deme
probability.

Arguments and tip assignment are as in the calc command.

The flag -o, or --output, sets the output file; it defaults to the tree
file name with a ".anc.tab" suffix.
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

	opts := append(doc.Options(), likelihood.WithComputeAncestral(true))
	eng, err := likelihood.New(m, ts, intervals, ct, tipState, opts...)
	if err != nil {
		return err
	}
	if _, err := eng.Evaluate(); err != nil {
		return err
	}
	if eng.RootBeyondTrajectory() {
		return fmt.Errorf("tree %q has no root state inside the trajectory window", t.Name())
	}

	states, err := ancrecon.Reconstruct(ts, ct, eng.StateProbabilities(), eng.AncestralFrames(), doc.Steps)
	if err != nil {
		return err
	}

	out := output
	if out == "" {
		out = args[1] + ".anc.tab"
	}
	if err := writeAncestral(out, t, states, m.DemeNames()); err != nil {
		return err
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

func writeAncestral(name string, t *timetree.Tree, states map[int]*mat.VecDense, demes []string) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	fmt.Fprint(bw, "tree\tnode")
	for _, d := range demes {
		fmt.Fprintf(bw, "\t%s", d)
	}
	fmt.Fprint(bw, "\n")

	nodes := make([]int, 0, len(states))
	for id := range states {
		nodes = append(nodes, id)
	}
	sort.Ints(nodes)

	for _, id := range nodes {
		fmt.Fprintf(bw, "%s\t%d", t.Name(), id)
		p := states[id]
		for i := 0; i < p.Len(); i++ {
			fmt.Fprintf(bw, "\t%g", p.AtVec(i))
		}
		fmt.Fprint(bw, "\n")
	}
	return bw.Flush()
}
