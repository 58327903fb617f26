package conformance_test

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/conformance"
	"github.com/hwata3535/KataGo/neuralnet/desc"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	_ "github.com/hwata3535/KataGo/neuralnet/cpu"
	_ "github.com/hwata3535/KataGo/neuralnet/dummy"
)

var (
	cpuBackend   neuralnet.Backend
	dummyBackend neuralnet.Backend
)

func init() {
	klog.InitFlags(nil)
}

func setup() {
	neuralnet.Initialize()
	cpuBackend = must.M1(neuralnet.NewWithConfig("cpu:threads=2"))
	dummyBackend = must.M1(neuralnet.NewWithConfig("dummy:"))
}

func teardown() {
	cpuBackend.Finalize()
	dummyBackend.Finalize()
	neuralnet.Cleanup()
}

func TestMain(m *testing.M) {
	setup()
	code := m.Run()
	teardown()
	os.Exit(code)
}

func TestCasesDeterministic(t *testing.T) {
	a := conformance.Cases(3)
	b := conformance.Cases(3)
	require.NotEmpty(t, a)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed must give identical cases (-first +second):\n%s", diff)
	}

	kinds := make(map[conformance.Kind]int)
	for i := range a {
		kinds[a[i].Kind]++
	}
	for _, kind := range []conformance.Kind{
		conformance.KindConv,
		conformance.KindBatchNorm,
		conformance.KindResidualBlock,
		conformance.KindGlobalPoolingResidualBlock,
		conformance.KindSymmetry,
	} {
		assert.NotZero(t, kinds[kind], "no cases of kind %s", kind)
	}
}

func TestCasesDifferentSeedsDiffer(t *testing.T) {
	a := conformance.Cases(1)
	b := conformance.Cases(2)
	require.Equal(t, len(a), len(b))
	assert.NotEqual(t, a[0].Input, b[0].Input)
}

func TestRunCPUAgainstItself(t *testing.T) {
	cases := conformance.Cases(1)
	report := conformance.Run(cpuBackend, cpuBackend, cases, conformance.DefaultTolerance)
	require.True(t, report.AllPassed(), report.String())
	assert.Zero(t, report.NumSkipped())
	assert.Equal(t, len(cases), report.NumPassed())
	for _, res := range report.Results {
		assert.Zero(t, res.MaxAbsDiff, "same tester twice must agree bitwise: %s", res.Name)
	}
}

func TestRunSkipsUnsupportedCandidate(t *testing.T) {
	cases := conformance.Cases(2)
	report := conformance.Run(cpuBackend, dummyBackend, cases, conformance.DefaultTolerance)
	assert.True(t, report.AllPassed(), "skips must not fail a run")
	assert.Equal(t, len(cases), report.NumSkipped())
	assert.Zero(t, report.NumPassed())
}

func TestToleranceByKind(t *testing.T) {
	tol := conformance.Tolerance{FP32: 1e-4, FP16: 1e-2}
	assert.Equal(t, float32(1e-4), tol.For(conformance.KindConv, false))
	assert.Equal(t, float32(1e-2), tol.For(conformance.KindConv, true))
	assert.Equal(t, float32(3e-4), tol.For(conformance.KindResidualBlock, false))
	assert.Equal(t, float32(1e-3), tol.For(conformance.KindGlobalPoolingResidualBlock, false))
	assert.Zero(t, tol.For(conformance.KindSymmetry, true), "symmetry is exact")
}

func TestReportAccounting(t *testing.T) {
	report := &conformance.Report{Results: []conformance.Result{
		{Name: "a"},
		{Name: "b", Skipped: true},
		{Name: "c", Failed: true, MaxAbsDiff: 1, Tolerance: 0.5},
	}}
	assert.Equal(t, 1, report.NumPassed())
	assert.Equal(t, 1, report.NumSkipped())
	assert.Equal(t, 1, report.NumFailed())
	assert.False(t, report.AllPassed())
	require.Len(t, report.Failed(), 1)
	assert.Contains(t, report.String(), "FAIL c")
}

func TestRunCatchesBrokenCandidate(t *testing.T) {
	cases := conformance.Cases(4)
	// A candidate whose convolutions are slightly off must fail conv cases.
	broken := &perturbedTester{LayerTester: cpuBackend, delta: 0.1}
	report := conformance.Run(cpuBackend, broken, cases, conformance.DefaultTolerance)
	assert.False(t, report.AllPassed())
	for _, res := range report.Failed() {
		assert.Equal(t, conformance.KindConv, res.Kind)
	}
}

// perturbedTester forwards to a real tester but shifts conv outputs.
type perturbedTester struct {
	neuralnet.LayerTester
	delta float32
}

func (p *perturbedTester) TestConv(layer *desc.ConvLayer, opts neuralnet.LayerTestOptions, input []float32) ([]float32, bool) {
	out, ok := p.LayerTester.TestConv(layer, opts, input)
	for i := range out {
		out[i] += p.delta
	}
	return out, ok
}

func TestCompareEvalCPUAgainstCPU(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 11, MaxBoardLen: 9})
	other := must.M1(neuralnet.NewWithConfig("cpu:threads=1"))
	defer other.Finalize()

	report, err := conformance.CompareEval(cpuBackend, other, model, conformance.EvalOptions{
		Seed:       11,
		BatchSize:  3,
		XLen:       9,
		YLen:       9,
		Symmetries: true,
	})
	require.NoError(t, err)
	require.True(t, report.AllPassed(), report.String())
	// Identity plus 7 nontrivial symmetries, 3 results per row.
	assert.Equal(t, 8*3*3, len(report.Results))
}

func TestCompareEvalHalfPrecisionCandidate(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 12, MaxBoardLen: 9})
	report, err := conformance.CompareEval(cpuBackend, cpuBackend, model, conformance.EvalOptions{
		Seed:          12,
		BatchSize:     2,
		XLen:          9,
		YLen:          9,
		CandidateFP16: neuralnet.ModeOn,
	})
	require.NoError(t, err)
	require.True(t, report.AllPassed(), report.String())

	// Rounding must actually show up, just within tolerance.
	sawDiff := false
	for _, res := range report.Results {
		if res.MaxAbsDiff > 0 {
			sawDiff = true
		}
	}
	assert.True(t, sawDiff)
}

func TestCompareEvalConstructionErrors(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 13, MaxBoardLen: 9})
	_, err := conformance.CompareEval(cpuBackend, dummyBackend, model, conformance.EvalOptions{
		XLen: model.MaxBoardLen + 3, YLen: 9,
	})
	require.Error(t, err)
}
