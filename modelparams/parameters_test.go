// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package modelparams_test

import (
	"testing"

	"github.com/jmichaelegana/phydyn/modelparams"
)

func TestNewStartsDirty(t *testing.T) {
	p := modelparams.New([]string{"beta", "gamma"})
	if !p.Dirty() {
		t.Fatal("Dirty() = false on a fresh Parameters, want true")
	}
}

func TestSetMarksDirty(t *testing.T) {
	p := modelparams.New([]string{"beta", "gamma"})
	p.MarkClean()
	if p.Dirty() {
		t.Fatal("Dirty() = true after MarkClean, want false")
	}
	if err := p.Set("beta", 0.5); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !p.Dirty() {
		t.Fatal("Dirty() = false after Set, want true")
	}
	v, err := p.Value("beta")
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != 0.5 {
		t.Errorf("Value(beta) = %v, want 0.5", v)
	}
}

func TestSetUnknownParameter(t *testing.T) {
	p := modelparams.New([]string{"beta"})
	if err := p.Set("gamma", 1); err == nil {
		t.Fatal("expected an *UnknownParameterError")
	} else if _, ok := err.(*modelparams.UnknownParameterError); !ok {
		t.Fatalf("expected *UnknownParameterError, got %T", err)
	}
}

func TestVectorPreservesOrder(t *testing.T) {
	p := modelparams.New([]string{"beta", "gamma", "b"})
	if err := p.SetAll([]float64{0.1, 0.2, 0.3}); err != nil {
		t.Fatalf("SetAll: %v", err)
	}
	got := p.Vector()
	want := []float64{0.1, 0.2, 0.3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Vector()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSetAllWrongLength(t *testing.T) {
	p := modelparams.New([]string{"beta", "gamma"})
	if err := p.SetAll([]float64{1}); err == nil {
		t.Fatal("expected an error for a mismatched value count")
	}
}

func TestMarkDirtyForcesDirtyRegardlessOfValues(t *testing.T) {
	p := modelparams.New([]string{"beta"})
	p.MarkClean()
	p.MarkDirty()
	if !p.Dirty() {
		t.Fatal("Dirty() = false after MarkDirty, want true")
	}
}
