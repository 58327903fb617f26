package conformance

import (
	"fmt"
	"math/rand"

	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
	"github.com/pkg/errors"
)

// EvalOptions configures CompareEval. Zero fields take defaults.
type EvalOptions struct {
	Seed      int64
	BatchSize int // default 4
	// XLen, YLen default to the model's maximum board length, capped at 19.
	XLen, YLen int
	// Symmetries also compares under every board symmetry, not just the
	// identity. Transposition is included only on square extents.
	Symmetries bool
	// ReferenceFP16 and CandidateFP16 are passed through to the respective
	// context configs, so a float32 reference can vet a half precision
	// candidate.
	ReferenceFP16 neuralnet.Mode
	CandidateFP16 neuralnet.Mode
	// Tolerance defaults to DefaultTolerance. The half precision bound is
	// used when either handle resolves to FP16.
	Tolerance Tolerance
}

// CompareEval runs full batches through two backends over the same staged
// inputs and compares every output head, plus a bitwise determinism check
// of each backend against itself. Construction failures are returned;
// numeric disagreements land in the report.
func CompareEval(reference, candidate neuralnet.Backend, model *desc.Model, opts EvalOptions) (*Report, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 4
	}
	if opts.XLen == 0 {
		opts.XLen = clampExtent(19, model.MaxBoardLen)
	}
	if opts.YLen == 0 {
		opts.YLen = clampExtent(19, model.MaxBoardLen)
	}
	if opts.Tolerance == (Tolerance{}) {
		opts.Tolerance = DefaultTolerance
	}

	refCtx, err := reference.NewContext(model, neuralnet.ContextConfig{
		XLen: opts.XLen, YLen: opts.YLen, FP16: opts.ReferenceFP16,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "creating reference context on %q", reference.Name())
	}
	defer refCtx.Finalize()
	candCtx, err := candidate.NewContext(model, neuralnet.ContextConfig{
		XLen: opts.XLen, YLen: opts.YLen, FP16: opts.CandidateFP16,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "creating candidate context on %q", candidate.Name())
	}
	defer candCtx.Finalize()

	handleConfig := neuralnet.HandleConfig{MaxBatchSize: opts.BatchSize}
	refHandle, err := refCtx.NewHandle(handleConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening reference handle on %q", reference.Name())
	}
	defer refHandle.Finalize()
	candHandle, err := candCtx.NewHandle(handleConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening candidate handle on %q", candidate.Name())
	}
	defer candHandle.Finalize()

	fp16 := refHandle.UsesFP16() || candHandle.UsesFP16()
	tol := opts.Tolerance.For(KindEvalBatch, fp16)

	buffers := neuralnet.NewBuffers(model, opts.BatchSize, opts.XLen, opts.YLen)
	defer buffers.Finalize()
	rng := rand.New(rand.NewSource(opts.Seed))
	fillEvalBuffers(buffers, model, opts.BatchSize, rng)

	symmetries := [][3]bool{{false, false, false}}
	if opts.Symmetries {
		symmetries = symmetries[:0]
		for _, transpose := range []bool{false, true} {
			if transpose && opts.XLen != opts.YLen {
				continue
			}
			for _, flipY := range []bool{false, true} {
				for _, flipX := range []bool{false, true} {
					symmetries = append(symmetries, [3]bool{flipY, flipX, transpose})
				}
			}
		}
	}

	newOutputs := func() []*neuralnet.Output {
		outs := make([]*neuralnet.Output, opts.BatchSize)
		for i := range outs {
			outs[i] = neuralnet.NewOutput(model, opts.XLen, opts.YLen)
		}
		return outs
	}

	report := &Report{}
	for _, sym := range symmetries {
		buffers.SetSymmetry(sym[0], sym[1], sym[2])
		symName := symmetryName(sym[0], sym[1], sym[2])

		refOuts, refAgain := newOutputs(), newOutputs()
		candOuts, candAgain := newOutputs(), newOutputs()
		refHandle.EvalBatch(buffers, opts.BatchSize, refOuts)
		refHandle.EvalBatch(buffers, opts.BatchSize, refAgain)
		candHandle.EvalBatch(buffers, opts.BatchSize, candOuts)
		candHandle.EvalBatch(buffers, opts.BatchSize, candAgain)

		for row := 0; row < opts.BatchSize; row++ {
			report.Results = append(report.Results,
				evalResult(fmt.Sprintf("evalbatch/%s/row%d/ref-determinism", symName, row),
					refOuts[row], refAgain[row], 0),
				evalResult(fmt.Sprintf("evalbatch/%s/row%d/cand-determinism", symName, row),
					candOuts[row], candAgain[row], 0),
				evalResult(fmt.Sprintf("evalbatch/%s/row%d", symName, row),
					refOuts[row], candOuts[row], tol))
		}
	}
	return report, nil
}

func symmetryName(flipY, flipX, transpose bool) string {
	s := "sym-"
	if flipY {
		s += "Y"
	}
	if flipX {
		s += "X"
	}
	if transpose {
		s += "T"
	}
	return s
}

// evalResult compares all four output heads of one row.
func evalResult(name string, want, got *neuralnet.Output, tol float32) Result {
	res := Result{Name: name, Kind: KindEvalBatch, Tolerance: tol}
	heads := []struct {
		head      string
		want, got []float32
	}{
		{"policy", want.Policy, got.Policy},
		{"value", want.Value, got.Value},
		{"scorevalues", want.ScoreValues, got.ScoreValues},
		{"ownership", want.Ownership, got.Ownership},
	}
	for _, h := range heads {
		diff, failed, detail := compare(h.want, h.got, tol)
		if failed && !res.Failed {
			res.Failed = true
			res.Detail = h.head
			if detail != "" {
				res.Detail = h.head + ": " + detail
			}
		}
		if diff > res.MaxAbsDiff {
			res.MaxAbsDiff = diff
			if !res.Failed {
				res.Detail = h.head
			}
		}
	}
	return res
}

// fillEvalBuffers stages plausible NCHW inputs: row 0 fills the whole
// extent, later rows use random smaller boards anchored at the origin, with
// channel 0 as the on-board mask, sparse binary features elsewhere and
// normal noise for the global features.
func fillEvalBuffers(buffers *neuralnet.Buffers, model *desc.Model, numRows int, rng *rand.Rand) {
	xLen, yLen := buffers.XLen(), buffers.YLen()
	area := xLen * yLen
	channels := model.NumInputChannels
	for n := 0; n < numRows; n++ {
		spatial := buffers.Spatial(n)
		for i := range spatial {
			spatial[i] = 0
		}
		bx, by := xLen, yLen
		if n > 0 {
			bx = 2 + rng.Intn(xLen-1)
			by = 2 + rng.Intn(yLen-1)
		}
		for y := 0; y < by; y++ {
			for x := 0; x < bx; x++ {
				spatial[y*xLen+x] = 1
			}
		}
		for c := 1; c < channels; c++ {
			plane := spatial[c*area : (c+1)*area]
			for y := 0; y < by; y++ {
				for x := 0; x < bx; x++ {
					if rng.Float32() < 0.15 {
						plane[y*xLen+x] = 1
					}
				}
			}
		}
		global := buffers.Global(n)
		for i := range global {
			global[i] = float32(rng.NormFloat64())
		}
	}
}
