// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package phydynconfig

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jmichaelegana/phydyn/likelihood"
	"github.com/jmichaelegana/phydyn/modelparams"
	"github.com/jmichaelegana/phydyn/popmodel"
	"github.com/jmichaelegana/phydyn/trajectory"
	"gonum.org/v1/gonum/stat/distuv"
)

// A Document is a fully parsed configuration: the population model
// equations, the bound parameter values, the trajectory window and
// integration method, and the likelihood engine options.
type Document struct {
	Name string

	Spec   popmodel.Spec
	Params []float64 // in Spec.Params order

	Method trajectory.Method
	Steps  int
	T0, T1 float64
	T1Set  bool
	Init   map[string]float64 // deme and aux names to initial values

	FiniteSizeCorrections bool
	ApproxLambda          bool
	ForgiveAgtY           float64
	PenaltyAgtY           float64
	ForgiveY              bool
	MinP                  float64
	IsConstantLh          bool
	Ancestral             bool
	ForgiveT0             bool

	ne     float64
	neDist distuv.Rander
}

// newDocument returns a Document pre-filled with §6's defaults.
func newDocument(name string) *Document {
	return &Document{
		Name:        name,
		Method:      trajectory.RK4,
		Steps:       1000,
		ForgiveAgtY: 1.0,
		PenaltyAgtY: 1.0,
		ForgiveY:    true,
		MinP:        0.0001,
		ForgiveT0:   true,
		Init:        make(map[string]float64),
		ne:          -1,
	}
}

// Ne returns the fixed effective population size, or false if none
// was set (either omitted, or given as a distribution to sample from
// instead — see NeSampler).
func (d *Document) Ne() (float64, bool) {
	if d.ne <= 0 {
		return 0, false
	}
	return d.ne, true
}

// NeSampler returns the distribution a caller should draw a fresh Ne
// from before each likelihood evaluation, or nil if the document gave
// a fixed value (or no value at all) instead of a prior.
func (d *Document) NeSampler() distuv.Rander {
	return d.neDist
}

// InitialValues returns the trajectory's initial condition vector,
// laid out as [demes; aux] in the order declared in Spec.
func (d *Document) InitialValues() ([]float64, error) {
	y := make([]float64, len(d.Spec.Demes)+len(d.Spec.Aux))
	for i, name := range d.Spec.Demes {
		v, ok := d.Init[name]
		if !ok {
			return nil, &ConfigError{Msg: fmt.Sprintf("missing initial value for deme %q", name)}
		}
		y[i] = v
	}
	for i, name := range d.Spec.Aux {
		v, ok := d.Init[name]
		if !ok {
			return nil, &ConfigError{Msg: fmt.Sprintf("missing initial value for auxiliary variable %q", name)}
		}
		y[len(d.Spec.Demes)+i] = v
	}
	return y, nil
}

// TrajectoryParams returns the trajectory.Params this document
// describes. It fails with a *ConfigError if t1 was neither given in
// the document nor set by ResolveT1FromTipDate (§D.4's tip-date
// fallback is the caller's responsibility, since only the caller has
// the tree).
func (d *Document) TrajectoryParams() (trajectory.Params, error) {
	if !d.T1Set {
		return trajectory.Params{}, &ConfigError{Msg: "missing t1 and no tip-date fallback was supplied"}
	}
	return trajectory.Params{Method: d.Method, Steps: d.Steps, T0: d.T0, T1: d.T1}, nil
}

// ResolveT1FromTipDate sets T1 from a tree's youngest forward-dated
// tip trait when the document omitted an explicit t1 (§D.4). t must be
// >= T0; a backward-dated trait (t < T0) is rejected.
func (d *Document) ResolveT1FromTipDate(t float64) error {
	if d.T1Set {
		return nil
	}
	if t < d.T0 {
		return &ConfigError{Msg: "tip date trait is backward-dated relative to t0"}
	}
	d.T1 = t
	d.T1Set = true
	return nil
}

// BuildModel compiles the document's population model equations.
func (d *Document) BuildModel() (*popmodel.PopModel, error) {
	return popmodel.New(d.Spec)
}

// BuildWorkspace compiles m and binds this document's parameter
// values into a fresh Workspace.
func (d *Document) BuildWorkspace(m *popmodel.PopModel) *popmodel.Workspace {
	ws := m.NewWorkspace()
	ws.BindParams(d.Params)
	return ws
}

// Parameters returns a modelparams.Parameters collaborator seeded
// with this document's bindings, for a host that wants live
// per-parameter mutation and dirty-bit tracking rather than a static
// slice.
func (d *Document) Parameters() (*modelparams.Parameters, error) {
	p := modelparams.New(d.Spec.Params)
	if err := p.SetAll(d.Params); err != nil {
		return nil, err
	}
	p.MarkClean()
	return p, nil
}

// Options returns the likelihood.Engine options this document
// describes.
func (d *Document) Options() []likelihood.Option {
	opts := []likelihood.Option{
		likelihood.WithFiniteSizeCorrections(d.FiniteSizeCorrections),
		likelihood.WithApproxLambda(d.ApproxLambda),
		likelihood.WithForgiveAgtY(d.ForgiveAgtY),
		likelihood.WithPenaltyAgtY(d.PenaltyAgtY),
		likelihood.WithForgiveY(d.ForgiveY),
		likelihood.WithMinP(d.MinP),
		likelihood.WithConstantLikelihood(d.IsConstantLh),
		likelihood.WithComputeAncestral(d.Ancestral),
		likelihood.WithForgiveT0(d.ForgiveT0),
	}
	if ne, ok := d.Ne(); ok {
		opts = append(opts, likelihood.WithNe(ne))
	}
	return opts
}

// Read parses a configuration document from name.
func Read(name string) (*Document, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	d, err := ReadTSV(f, name)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ReadTSV parses a configuration document from r. name is used only
// to annotate error messages.
func ReadTSV(r io.Reader, name string) (*Document, error) {
	return parse(r, name)
}

type section int

const (
	sectionNone section = iota
	sectionPopModel
	sectionParameters
	sectionTrajectory
	sectionLikelihood
)

func parse(r io.Reader, name string) (*Document, error) {
	tsv := csv.NewReader(r)
	tsv.Comma = '\t'
	tsv.Comment = '#'
	tsv.FieldsPerRecord = -1

	d := newDocument(name)
	params := make(map[string]float64)
	sec := sectionNone

	for {
		row, err := tsv.Read()
		if err == io.EOF {
			break
		}
		ln, _ := tsv.FieldPos(0)
		if err != nil {
			return nil, fmt.Errorf("on file %q: on row %d: %v", name, ln, err)
		}
		if len(row) == 0 {
			continue
		}
		if len(row) == 1 {
			if s, ok := sectionHeader(row[0]); ok {
				sec = s
				continue
			}
		}

		var perr error
		switch sec {
		case sectionPopModel:
			perr = parsePopModelRow(d, row)
		case sectionParameters:
			perr = parseParametersRow(params, row)
		case sectionTrajectory:
			perr = parseTrajectoryRow(d, row)
		case sectionLikelihood:
			perr = parseLikelihoodRow(d, row)
		default:
			perr = &ConfigError{Msg: fmt.Sprintf("row outside of any [section]: %v", row)}
		}
		if perr != nil {
			return nil, fmt.Errorf("on file %q: on row %d: %v", name, ln, perr)
		}
	}

	d.Params = make([]float64, len(d.Spec.Params))
	for i, p := range d.Spec.Params {
		v, ok := params[p]
		if !ok {
			return nil, &ConfigError{Msg: fmt.Sprintf("missing value binding for parameter %q", p)}
		}
		d.Params[i] = v
	}
	if d.MinP <= 0 || d.MinP > 0.1 {
		return nil, &ConfigError{Msg: fmt.Sprintf("minP=%v out of range (0,0.1]", d.MinP)}
	}
	return d, nil
}

func sectionHeader(s string) (section, bool) {
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return sectionNone, false
	}
	switch strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")) {
	case "popmodel":
		return sectionPopModel, true
	case "parameters":
		return sectionParameters, true
	case "trajectory":
		return sectionTrajectory, true
	case "likelihood":
		return sectionLikelihood, true
	}
	return sectionNone, false
}

func parsePopModelRow(d *Document, row []string) error {
	key := row[0]
	switch strings.ToLower(key) {
	case "demes":
		d.Spec.Demes = append(d.Spec.Demes, row[1:]...)
		return nil
	case "aux":
		d.Spec.Aux = append(d.Spec.Aux, row[1:]...)
		return nil
	case "params":
		d.Spec.Params = append(d.Spec.Params, row[1:]...)
		return nil
	case "def":
		if len(row) != 3 {
			return &ConfigError{Msg: "def expects a name and an expression"}
		}
		d.Spec.Definitions = append(d.Spec.Definitions, popmodel.NamedExpr{Name: row[1], Src: row[2]})
		return nil
	}
	if len(row) != 2 {
		return &ConfigError{Msg: fmt.Sprintf("malformed matrix equation %q", key)}
	}
	expr := row[1]
	switch {
	case strings.HasPrefix(key, "F(") || strings.HasPrefix(key, "G("):
		i, j, err := parseIJ(key)
		if err != nil {
			return err
		}
		a := popmodel.Assignment{I: i, J: j, Src: expr}
		if strings.HasPrefix(key, "F(") {
			d.Spec.F = append(d.Spec.F, a)
		} else {
			d.Spec.G = append(d.Spec.G, a)
		}
		return nil
	case strings.HasPrefix(key, "D("):
		i, err := parseI(key)
		if err != nil {
			return err
		}
		d.Spec.D = append(d.Spec.D, popmodel.Assignment{I: i, J: -1, Src: expr})
		return nil
	case strings.HasPrefix(key, "dot("):
		name := strings.TrimSuffix(strings.TrimPrefix(key, "dot("), ")")
		d.Spec.Dot = append(d.Spec.Dot, popmodel.NamedExpr{Name: name, Src: expr})
		return nil
	}
	return &ConfigError{Msg: fmt.Sprintf("unrecognised popmodel declaration %q", key)}
}

func parseIJ(key string) (int, int, error) {
	open := strings.IndexByte(key, '(')
	shut := strings.IndexByte(key, ')')
	if open < 0 || shut < open {
		return 0, 0, &ConfigError{Msg: fmt.Sprintf("malformed matrix index in %q", key)}
	}
	parts := strings.Split(key[open+1:shut], ",")
	if len(parts) != 2 {
		return 0, 0, &ConfigError{Msg: fmt.Sprintf("malformed matrix index in %q", key)}
	}
	i, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, &ConfigError{Msg: fmt.Sprintf("malformed matrix index in %q: %v", key, err)}
	}
	j, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, &ConfigError{Msg: fmt.Sprintf("malformed matrix index in %q: %v", key, err)}
	}
	return i, j, nil
}

func parseI(key string) (int, error) {
	open := strings.IndexByte(key, '(')
	shut := strings.IndexByte(key, ')')
	if open < 0 || shut < open {
		return 0, &ConfigError{Msg: fmt.Sprintf("malformed vector index in %q", key)}
	}
	i, err := strconv.Atoi(strings.TrimSpace(key[open+1 : shut]))
	if err != nil {
		return 0, &ConfigError{Msg: fmt.Sprintf("malformed vector index in %q: %v", key, err)}
	}
	return i, nil
}

func parseParametersRow(params map[string]float64, row []string) error {
	if len(row) != 2 {
		return &ConfigError{Msg: "parameter binding expects a name and a value"}
	}
	v, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return &ConfigError{Msg: fmt.Sprintf("parameter %q: %v", row[0], err)}
	}
	params[row[0]] = v
	return nil
}

func parseTrajectoryRow(d *Document, row []string) error {
	key := strings.ToLower(row[0])
	if key == "init" {
		if len(row) != 3 {
			return &ConfigError{Msg: "init expects a name and a value"}
		}
		v, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("init(%s): %v", row[1], err)}
		}
		d.Init[row[1]] = v
		return nil
	}
	if len(row) != 2 {
		return &ConfigError{Msg: fmt.Sprintf("malformed trajectory declaration %q", key)}
	}
	val := row[1]
	switch key {
	case "method":
		m, err := trajectory.ParseMethod(strings.ToLower(val))
		if err != nil {
			return err
		}
		d.Method = m
	case "integrationsteps", "steps":
		s, err := strconv.Atoi(val)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("integrationSteps: %v", err)}
		}
		d.Steps = s
	case "t0":
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("t0: %v", err)}
		}
		d.T0 = v
	case "t1":
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("t1: %v", err)}
		}
		d.T1 = v
		d.T1Set = true
	default:
		return &ConfigError{Msg: fmt.Sprintf("unrecognised trajectory declaration %q", key)}
	}
	return nil
}

func parseLikelihoodRow(d *Document, row []string) error {
	key := row[0]
	lower := strings.ToLower(key)
	if lower == "gc" {
		// Dropped option (see DESIGN.md): accepted for backward
		// document compatibility, otherwise ignored.
		return nil
	}
	if lower == "ne" {
		return parseNeRow(d, row[1:])
	}
	if len(row) != 2 {
		return &ConfigError{Msg: fmt.Sprintf("malformed likelihood option %q", key)}
	}
	val := row[1]
	switch lower {
	case "finitesizecorrections":
		v, err := strconv.ParseBool(val)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("finiteSizeCorrections: %v", err)}
		}
		d.FiniteSizeCorrections = v
	case "approxlambda":
		v, err := strconv.ParseBool(val)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("approxLambda: %v", err)}
		}
		d.ApproxLambda = v
	case "forgiveagty":
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("forgiveAgtY: %v", err)}
		}
		if v < 0 || v > 1 {
			return &ConfigError{Msg: fmt.Sprintf("forgiveAgtY=%v out of range [0,1]", v)}
		}
		d.ForgiveAgtY = v
	case "penaltyagty":
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("penaltyAgtY: %v", err)}
		}
		d.PenaltyAgtY = v
	case "forgivey":
		v, err := strconv.ParseBool(val)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("forgiveY: %v", err)}
		}
		d.ForgiveY = v
	case "minp":
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("minP: %v", err)}
		}
		d.MinP = v
	case "isconstantlh":
		v, err := strconv.ParseBool(val)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("isConstantLh: %v", err)}
		}
		d.IsConstantLh = v
	case "ancestral":
		v, err := strconv.ParseBool(val)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("ancestral: %v", err)}
		}
		d.Ancestral = v
	case "forgivet0":
		v, err := strconv.ParseBool(val)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("forgiveT0: %v", err)}
		}
		d.ForgiveT0 = v
	default:
		return &ConfigError{Msg: fmt.Sprintf("unrecognised likelihood option %q", key)}
	}
	return nil
}

// parseNeRow accepts either a single fixed value ("0.5") or a
// distribution keyword plus its parameters ("lognormal 0 1",
// "gamma 2 2"), mirroring walkparam's Relaxed distribution selection.
func parseNeRow(d *Document, rest []string) error {
	if len(rest) == 1 {
		v, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return &ConfigError{Msg: fmt.Sprintf("Ne: %v", err)}
		}
		d.ne = v
		return nil
	}
	if len(rest) != 3 {
		return &ConfigError{Msg: "Ne expects a fixed value, or a distribution name and two parameters"}
	}
	p1, err := strconv.ParseFloat(rest[1], 64)
	if err != nil {
		return &ConfigError{Msg: fmt.Sprintf("Ne: %v", err)}
	}
	p2, err := strconv.ParseFloat(rest[2], 64)
	if err != nil {
		return &ConfigError{Msg: fmt.Sprintf("Ne: %v", err)}
	}
	switch strings.ToLower(rest[0]) {
	case "lognormal":
		d.neDist = distuv.LogNormal{Mu: p1, Sigma: p2}
	case "gamma":
		d.neDist = distuv.Gamma{Alpha: p1, Beta: p2}
	default:
		return &ConfigError{Msg: fmt.Sprintf("Ne: unknown distribution %q", rest[0])}
	}
	return nil
}
