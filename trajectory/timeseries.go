// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package trajectory

import "github.com/jmichaelegana/phydyn/popmodel"

// A TimeSeries is an immutable, append-only sequence of population
// model frames produced by an Integrator, ordered by strictly
// increasing time. It supports O(1) random access and an amortised
// O(1) reverse-time nearest-point lookup via FrameIndexAt.
type TimeSeries struct {
	frames []popmodel.Frame
}

// Len returns the number of frames, integrationSteps+1.
func (ts *TimeSeries) Len() int { return len(ts.frames) }

// At returns the frame at grid index k.
func (ts *TimeSeries) At(k int) popmodel.Frame { return ts.frames[k] }

// T0 returns the time of the first frame.
func (ts *TimeSeries) T0() float64 { return ts.frames[0].T }

// T1 returns the time of the last frame.
func (ts *TimeSeries) T1() float64 { return ts.frames[len(ts.frames)-1].T }

// FrameIndexAt scans down from hint (a previously returned index, or
// len(frames)-1 on the first call) to the largest k with
// frames[k].T <= tQuery. Tree interval walks visit time in decreasing
// order, so a monotonically decreasing sequence of hints makes a full
// walk amortised O(N+E) instead of O(N*E).
func (ts *TimeSeries) FrameIndexAt(tQuery float64, hint int) int {
	if hint < 0 || hint >= len(ts.frames) {
		hint = len(ts.frames) - 1
	}
	k := hint
	for k > 0 && ts.frames[k].T > tQuery {
		k--
	}
	for k < len(ts.frames)-1 && ts.frames[k+1].T <= tQuery {
		k++
	}
	return k
}
