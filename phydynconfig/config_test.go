// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package phydynconfig_test

import (
	"math"
	"strings"
	"testing"

	"github.com/jmichaelegana/phydyn/phydynconfig"
	"github.com/jmichaelegana/phydyn/trajectory"
)

const sirDoc = `# two-deme SIR configuration
[popmodel]
demes	I0	I1
aux	S
params	beta0	beta1	gamma0	gamma1	b
F(0,0)	beta0 * I0 * S
F(1,1)	beta1 * I1 * S
D(0)	gamma0 * I0
D(1)	gamma1 * I1
dot(S)	b * (I0 + I1) - beta0 * I0 * S - beta1 * I1 * S

[parameters]
beta0	0.001
beta1	0.0001
gamma0	1.0
gamma1	0.1111
b	0.01

[trajectory]
method	rk4
steps	1001
t0	0
t1	20
init	I0	1
init	I1	0
init	S	999

[likelihood]
finiteSizeCorrections	true
minP	0.001
ancestral	true
Ne	lognormal	0	1.5
`

func TestReadParsesSIRDocument(t *testing.T) {
	d, err := phydynconfig.ReadTSV(strings.NewReader(sirDoc), "sir.tab")
	if err != nil {
		t.Fatalf("ReadTSV: %v", err)
	}
	if len(d.Spec.Demes) != 2 || len(d.Spec.Aux) != 1 || len(d.Spec.Params) != 5 {
		t.Fatalf("Spec = %+v, want 2 demes, 1 aux, 5 params", d.Spec)
	}
	if len(d.Spec.F) != 2 || len(d.Spec.D) != 2 || len(d.Spec.Dot) != 1 {
		t.Fatalf("Spec equations = %+v, want 2 F, 2 D, 1 dot", d.Spec)
	}
	if !d.FiniteSizeCorrections {
		t.Error("FiniteSizeCorrections = false, want true")
	}
	if !d.Ancestral {
		t.Error("Ancestral = false, want true")
	}
	if d.MinP != 0.001 {
		t.Errorf("MinP = %v, want 0.001", d.MinP)
	}
	if d.Method != trajectory.RK4 || d.Steps != 1001 || d.T0 != 0 || d.T1 != 20 {
		t.Errorf("trajectory window = {%v %v %v %v}, want {RK4 1001 0 20}", d.Method, d.Steps, d.T0, d.T1)
	}
	if sampler := d.NeSampler(); sampler == nil {
		t.Error("NeSampler() = nil, want the lognormal distribution")
	}
	if _, ok := d.Ne(); ok {
		t.Error("Ne() returned a fixed value, want false since a distribution was given")
	}

	m, err := d.BuildModel()
	if err != nil {
		t.Fatalf("BuildModel: %v", err)
	}
	ws := d.BuildWorkspace(m)
	y0, err := d.InitialValues()
	if err != nil {
		t.Fatalf("InitialValues: %v", err)
	}
	params, err := d.TrajectoryParams()
	if err != nil {
		t.Fatalf("TrajectoryParams: %v", err)
	}
	ts, err := trajectory.Run(ws, y0, params)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ts.Len() != 1002 {
		t.Errorf("ts.Len() = %d, want 1002", ts.Len())
	}
}

func TestReadRejectsUnknownLikelihoodOption(t *testing.T) {
	bad := strings.Replace(sirDoc, "Ne\tlognormal\t0\t1.5", "notAnOption\ttrue", 1)
	if _, err := phydynconfig.ReadTSV(strings.NewReader(bad), "bad.tab"); err == nil {
		t.Fatal("expected a *ConfigError for an unrecognised likelihood option")
	}
}

func TestReadRejectsOutOfRangeMinP(t *testing.T) {
	bad := strings.Replace(sirDoc, "minP\t0.001", "minP\t0.5", 1)
	if _, err := phydynconfig.ReadTSV(strings.NewReader(bad), "bad.tab"); err == nil {
		t.Fatal("expected a *ConfigError for minP out of range")
	}
}

func TestReadRejectsMissingT1WithoutFallback(t *testing.T) {
	doc := strings.Replace(sirDoc, "t1\t20\n", "", 1)
	d, err := phydynconfig.ReadTSV(strings.NewReader(doc), "no-t1.tab")
	if err != nil {
		t.Fatalf("ReadTSV: %v", err)
	}
	if _, err := d.TrajectoryParams(); err == nil {
		t.Fatal("expected a *ConfigError from TrajectoryParams with no explicit t1")
	}
	if err := d.ResolveT1FromTipDate(-1); err == nil {
		t.Fatal("expected a *ConfigError for a backward-dated tip date relative to t0")
	}
	if err := d.ResolveT1FromTipDate(15); err != nil {
		t.Fatalf("ResolveT1FromTipDate: %v", err)
	}
	if d.T1 != 15 {
		t.Errorf("T1 = %v, want 15", d.T1)
	}
}

func TestParametersCollaboratorStartsClean(t *testing.T) {
	d, err := phydynconfig.ReadTSV(strings.NewReader(sirDoc), "sir.tab")
	if err != nil {
		t.Fatalf("ReadTSV: %v", err)
	}
	p, err := d.Parameters()
	if err != nil {
		t.Fatalf("Parameters: %v", err)
	}
	if p.Dirty() {
		t.Error("Dirty() = true right after Parameters(), want false")
	}
	v, err := p.Value("beta0")
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if math.Abs(v-0.001) > 1e-12 {
		t.Errorf("Value(beta0) = %v, want 0.001", v)
	}
}
