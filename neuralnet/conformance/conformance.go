// Package conformance checks that evaluation backends agree with each
// other: it generates seeded single-layer and full-net test cases, runs
// them through a reference and a candidate backend, and reports the largest
// disagreement per case against a per-kind tolerance.
//
// The cpu backend is the usual reference. A candidate that cannot isolate
// some layer kind is skipped for those cases, not failed; EvalBatch
// comparisons cover it end to end regardless.
package conformance

import (
	"fmt"
	"strings"

	"github.com/chewxy/math32"
	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
)

// Kind is the kind of computation a Case exercises.
type Kind int

const (
	KindConv Kind = iota
	KindBatchNorm
	KindResidualBlock
	KindGlobalPoolingResidualBlock
	KindSymmetry
	KindEvalBatch
)

// String returns a short lower-case name.
func (k Kind) String() string {
	switch k {
	case KindConv:
		return "conv"
	case KindBatchNorm:
		return "batchnorm"
	case KindResidualBlock:
		return "residualblock"
	case KindGlobalPoolingResidualBlock:
		return "gpoolblock"
	case KindSymmetry:
		return "symmetry"
	case KindEvalBatch:
		return "evalbatch"
	default:
		return "unknown"
	}
}

// Case is one single-layer comparison: a layer, its evaluation options and
// a fixed input. Exactly one of the layer fields is set, per Kind.
type Case struct {
	Name string
	Kind Kind
	Opts neuralnet.LayerTestOptions

	Conv     *desc.ConvLayer
	BN       *desc.BatchNormLayer
	Residual *desc.ResidualBlock
	GPool    *desc.GlobalPoolingResidualBlock

	// Activation applies to the block kinds.
	Activation desc.ActivationKind

	// Symmetry parameters, for KindSymmetry.
	Channels                int
	FlipY, FlipX, Transpose bool

	Input []float32
	Mask  []float32 // nil means all points on board
}

// Eval runs the case through one tester. The boolean mirrors the tester's:
// false means this backend cannot isolate the layer kind.
func (c *Case) Eval(tester neuralnet.LayerTester) ([]float32, bool) {
	switch c.Kind {
	case KindConv:
		return tester.TestConv(c.Conv, c.Opts, c.Input)
	case KindBatchNorm:
		return tester.TestBatchNorm(c.BN, c.Opts, c.Input, c.Mask)
	case KindResidualBlock:
		return tester.TestResidualBlock(c.Residual, c.Activation, c.Opts, c.Input, c.Mask)
	case KindGlobalPoolingResidualBlock:
		return tester.TestGlobalPoolingResidualBlock(c.GPool, c.Activation, c.Opts, c.Input, c.Mask)
	case KindSymmetry:
		return tester.TestSymmetry(c.Opts, c.Channels, c.FlipY, c.FlipX, c.Transpose, c.Input)
	}
	return nil, false
}

// Tolerance bounds the allowed per-element disagreement. Block kinds get a
// multiple of the base since they stack several rounded stages; symmetry is
// a pure permutation and must match exactly.
type Tolerance struct {
	FP32 float32
	FP16 float32
}

// DefaultTolerance is tuned for unit-scale activations, the regime the
// seeded cases produce.
var DefaultTolerance = Tolerance{FP32: 1e-4, FP16: 2e-2}

// For returns the absolute tolerance for one case kind.
func (t Tolerance) For(kind Kind, fp16 bool) float32 {
	base := t.FP32
	if fp16 {
		base = t.FP16
	}
	switch kind {
	case KindSymmetry:
		return 0
	case KindResidualBlock:
		return 3 * base
	case KindGlobalPoolingResidualBlock, KindEvalBatch:
		return 10 * base
	}
	return base
}

// Result is the outcome of one comparison.
type Result struct {
	Name string
	Kind Kind

	Skipped    bool
	SkipReason string

	MaxAbsDiff float32
	Tolerance  float32
	Failed     bool
	Detail     string
}

// Report collects the results of a conformance run.
type Report struct {
	Results []Result
}

// NumPassed counts comparisons within tolerance.
func (r *Report) NumPassed() int {
	n := 0
	for i := range r.Results {
		if !r.Results[i].Skipped && !r.Results[i].Failed {
			n++
		}
	}
	return n
}

// NumFailed counts comparisons out of tolerance.
func (r *Report) NumFailed() int {
	n := 0
	for i := range r.Results {
		if r.Results[i].Failed {
			n++
		}
	}
	return n
}

// NumSkipped counts cases some side could not run.
func (r *Report) NumSkipped() int {
	n := 0
	for i := range r.Results {
		if r.Results[i].Skipped {
			n++
		}
	}
	return n
}

// AllPassed reports whether nothing failed. Skipped cases do not fail a run.
func (r *Report) AllPassed() bool { return r.NumFailed() == 0 }

// Failed returns the failing results.
func (r *Report) Failed() []*Result {
	var failed []*Result
	for i := range r.Results {
		if r.Results[i].Failed {
			failed = append(failed, &r.Results[i])
		}
	}
	return failed
}

// String summarizes the report in one block of text, one line per failure.
func (r *Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d passed, %d failed, %d skipped", r.NumPassed(), r.NumFailed(), r.NumSkipped())
	for _, res := range r.Failed() {
		fmt.Fprintf(&sb, "\n  FAIL %s: max abs diff %g over tolerance %g", res.Name, res.MaxAbsDiff, res.Tolerance)
		if res.Detail != "" {
			fmt.Fprintf(&sb, " (%s)", res.Detail)
		}
	}
	return sb.String()
}

// Run evaluates every case on both testers and compares. The reference not
// supporting a kind skips the case just like the candidate not supporting
// it; everything else out of tolerance fails.
func Run(reference, candidate neuralnet.LayerTester, cases []Case, tol Tolerance) *Report {
	report := &Report{Results: make([]Result, 0, len(cases))}
	for i := range cases {
		c := &cases[i]
		res := Result{
			Name:      c.Name,
			Kind:      c.Kind,
			Tolerance: tol.For(c.Kind, c.Opts.FP16),
		}
		want, ok := c.Eval(reference)
		if !ok {
			res.Skipped = true
			res.SkipReason = "reference does not support this layer kind"
			report.Results = append(report.Results, res)
			continue
		}
		got, ok := c.Eval(candidate)
		if !ok {
			res.Skipped = true
			res.SkipReason = "candidate does not support this layer kind"
			report.Results = append(report.Results, res)
			continue
		}
		res.MaxAbsDiff, res.Failed, res.Detail = compare(want, got, res.Tolerance)
		report.Results = append(report.Results, res)
	}
	return report
}

// compare returns the largest elementwise difference and whether it (or a
// shape mismatch, or a NaN) fails the tolerance.
func compare(want, got []float32, tol float32) (maxAbsDiff float32, failed bool, detail string) {
	if len(want) != len(got) {
		return 0, true, fmt.Sprintf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		d := math32.Abs(want[i] - got[i])
		if math32.IsNaN(d) {
			return math32.NaN(), true, fmt.Sprintf("NaN at index %d: want %v, got %v", i, want[i], got[i])
		}
		if d > maxAbsDiff {
			maxAbsDiff = d
		}
	}
	return maxAbsDiff, maxAbsDiff > tol, ""
}
