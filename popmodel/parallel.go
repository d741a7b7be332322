// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package popmodel

import "sync"

// ParallelFrames evaluates FrameAt for every (t_k, y_k) pair in times
// and states concurrently, using up to cpu workers, and returns the
// frames in the original order. ws's already-bound parameter values
// are propagated to a fresh Workspace per worker, so results are
// identical to calling ws.FrameAt in a sequential loop; only the grid
// points are independent, each frame is self-contained once
// evaluated. cpu <= 1 runs sequentially on ws itself, without
// spawning any goroutine.
//
// times and states must have the same length; states[k] is the state
// vector ([demes; aux]) at times[k].
func (ws *Workspace) ParallelFrames(times []float64, states [][]float64, cpu int) []Frame {
	n := len(times)
	frames := make([]Frame, n)

	if cpu <= 1 || n <= 1 {
		for k := range times {
			frames[k] = ws.FrameAt(times[k], states[k])
		}
		return frames
	}
	if cpu > n {
		cpu = n
	}

	params := ws.paramValues()

	type job struct {
		idx int
		t   float64
		y   []float64
	}
	jobs := make(chan job, n)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		w := ws.m.NewWorkspace()
		w.BindParams(params)
		for j := range jobs {
			frames[j.idx] = w.FrameAt(j.t, j.y)
		}
	}

	wg.Add(cpu)
	for i := 0; i < cpu; i++ {
		go worker()
	}
	for k := range times {
		jobs <- job{idx: k, t: times[k], y: states[k]}
	}
	close(jobs)
	wg.Wait()

	return frames
}
