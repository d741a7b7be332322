// Copyright © 2023 J. Salvador Arias <jsalarias@gmail.com>
// All rights reserved.
// Distributed under BSD2 license that can be found in the LICENSE file.

package likelihood

import "io"

// config holds every tunable of an Engine. Values are set through
// Option functions passed to New; zero value is never used directly,
// New always starts from defaultConfig.
type config struct {
	finiteSizeCorrections bool
	approxLambda          bool
	forgiveAgtY           float64
	penaltyAgtY           float64
	forgiveY              bool
	minP                  float64
	isConstantLh          bool
	computeAncestral      bool
	fullSegmentAccum      bool
	ne                    float64 // <= 0 means "estimate from calcTotalCoal"
	forgiveT0             bool
	trace                 TraceFunc
	diagnostics           io.Writer
}

func defaultConfig() config {
	return config{
		forgiveAgtY: 1.0,
		penaltyAgtY: 1.0,
		forgiveY:    true,
		minP:        0.0001,
		ne:          -1,
		forgiveT0:   true,
	}
}

// An Option configures an Engine at construction.
type Option func(*config)

// WithFiniteSizeCorrections enables the §4.6.5 posterior re-weighting
// of still-extant lineages after every coalescence.
func WithFiniteSizeCorrections(v bool) Option {
	return func(c *config) { c.finiteSizeCorrections = v }
}

// WithApproxLambda selects the linear λ_total approximation
// `(A⊘Y)ᵀF(A⊘Y)` over the exact bilinear aggregate, both in the
// full-segment accumulation term of processInterval and in the
// root-to-t0 tail's effective Nₑ estimate.
func WithApproxLambda(v bool) Option {
	return func(c *config) { c.approxLambda = v }
}

// WithForgiveAgtY sets the A/n_tips ratio above which an A>Y violation
// is fatal (returns -∞) rather than penalised. Spec default is 1.0,
// i.e. never fatal since A can never exceed n_tips.
func WithForgiveAgtY(v float64) Option {
	return func(c *config) { c.forgiveAgtY = v }
}

// WithPenaltyAgtY sets the amplification factor applied to an
// interval's log-contribution when Y_sum < A.
func WithPenaltyAgtY(v float64) Option {
	return func(c *config) { c.penaltyAgtY = v }
}

// WithForgiveY selects the Y clamp floor used in the coalescent
// contribution: max(Y,1) when true, max(Y,1e-12) when false.
func WithForgiveY(v bool) Option {
	return func(c *config) { c.forgiveY = v }
}

// WithMinP sets the probability floor applied when a SAMPLE event
// inserts a one-hot lineage vector. v <= 0 disables flooring.
func WithMinP(v float64) Option {
	return func(c *config) { c.minP = v }
}

// WithConstantLikelihood short-circuits Evaluate to always return 0,
// for use while the enclosing MCMC driver only perturbs parameters
// the tree likelihood does not depend on.
func WithConstantLikelihood(v bool) Option {
	return func(c *config) { c.isConstantLh = v }
}

// WithComputeAncestral requests that Evaluate snapshot every node's
// posterior probability vector (backward-sweep values only; the
// forward pass itself lives in package ancestral).
func WithComputeAncestral(v bool) Option {
	return func(c *config) { c.computeAncestral = v }
}

// WithFullSegmentAccumulation opts into the analytic `-∫λ dτ` term in
// processInterval (§4.6.3/§9 Open Question 1). The reference
// implementation leaves this contributing 0; off by default to match
// that observed behaviour.
func WithFullSegmentAccumulation(v bool) Option {
	return func(c *config) { c.fullSegmentAccum = v }
}

// WithNe fixes the effective population size used by the root-to-t0
// tail (§4.6.4). v <= 0 (the default) estimates Ne from λ_total at the
// trajectory's t0 frame instead, the frame the backward walk has reached
// when the tail takes over.
func WithNe(v float64) Option {
	return func(c *config) { c.ne = v }
}

// WithForgiveT0 controls what happens when the tree's root predates
// the trajectory's t0 window. True (the default) falls back to the
// §4.6.4 constant-coalescent tail; false makes a root-beyond-t0 fatal
// (-∞), matching the original source's forgiveT0Input gate.
func WithForgiveT0(v bool) Option {
	return func(c *config) { c.forgiveT0 = v }
}

// WithTrace registers a callback invoked after every interval is
// processed, for diagnostic logging or a per-sample trace file.
func WithTrace(fn TraceFunc) Option {
	return func(c *config) { c.trace = fn }
}

// WithDiagnostics routes NumericalCollapse notices to w. A nil w (the
// default) discards them.
func WithDiagnostics(w io.Writer) Option {
	return func(c *config) { c.diagnostics = w }
}

// An IntervalRecord is passed to a TraceFunc after every interval.
type IntervalRecord struct {
	Interval     int
	Event        string
	IntervalLogL float64
	EventLogL    float64
	RunningLogP  float64
}

// A TraceFunc observes per-interval bookkeeping as Evaluate runs.
type TraceFunc func(IntervalRecord)
