package conformance

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
)

// Cases builds the default case matrix over a small seeded random model:
// each layer kind at a square and a rectangular extent, with a full and a
// partial board mask, in float32 and emulated half precision, plus all
// board symmetries. The same seed always yields the same cases.
func Cases(seed int64) []Case {
	return CasesForModel(desc.Random(desc.RandomOptions{Seed: seed}), seed)
}

// CasesForModel builds the matrix from the layers of an actual model, so a
// real net's own weights can be checked across backends. Block kinds the
// model does not contain are left out.
func CasesForModel(model *desc.Model, seed int64) []Case {
	b := &caseBuilder{rng: rand.New(rand.NewSource(seed + 1))}

	maxLen := model.MaxBoardLen
	square := clampExtent(19, maxLen)
	rectX, rectY := clampExtent(13, maxLen), clampExtent(9, maxLen)
	shapes := []struct{ xLen, yLen int }{
		{square, square},
		{rectX, rectY},
	}

	var ordinary *desc.ResidualBlock
	var gpool *desc.GlobalPoolingResidualBlock
	for _, blk := range model.Trunk.Blocks {
		switch blk := blk.(type) {
		case *desc.ResidualBlock:
			if ordinary == nil {
				ordinary = blk
			}
		case *desc.GlobalPoolingResidualBlock:
			if gpool == nil {
				gpool = blk
			}
		}
	}

	const batch = 2
	for _, shape := range shapes {
		for _, sub := range []bool{false, true} {
			for _, fp16 := range []bool{false, true} {
				opts := neuralnet.LayerTestOptions{
					BatchSize: batch,
					XLen:      shape.xLen, YLen: shape.yLen,
					FP16: fp16,
				}
				b.addConv(&model.Trunk.InitialConv, opts, sub)
				b.addConv(&model.PolicyHead.P1Conv, opts, sub)
				b.addBatchNorm(&model.Trunk.TipBN, opts, sub)
				if ordinary != nil {
					b.addResidual(ordinary, model.Activation, opts, sub)
				}
				if gpool != nil {
					b.addGPool(gpool, model.Activation, opts, sub)
				}
			}
		}
	}

	symSquare := clampExtent(9, maxLen)
	for _, transpose := range []bool{false, true} {
		for _, flipY := range []bool{false, true} {
			for _, flipX := range []bool{false, true} {
				opts := neuralnet.LayerTestOptions{BatchSize: batch, XLen: symSquare, YLen: symSquare}
				b.addSymmetry(opts, 5, flipY, flipX, transpose)
				if !transpose {
					rectOpts := neuralnet.LayerTestOptions{BatchSize: batch, XLen: rectX, YLen: rectY}
					b.addSymmetry(rectOpts, 5, flipY, flipX, false)
				}
			}
		}
	}
	return b.cases
}

func clampExtent(want, maxLen int) int {
	if want > maxLen {
		return maxLen
	}
	return want
}

type caseBuilder struct {
	rng   *rand.Rand
	cases []Case
}

func (b *caseBuilder) normals(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(b.rng.NormFloat64())
	}
	return v
}

// subMask is ones on a sub-board anchored at the origin, the way a small
// board sits inside a larger spatial extent.
func subMask(batch, yLen, xLen int) []float32 {
	subY := max(2, yLen-2)
	subX := max(2, xLen-3)
	area := yLen * xLen
	m := make([]float32, batch*area)
	for n := 0; n < batch; n++ {
		for y := 0; y < subY; y++ {
			for x := 0; x < subX; x++ {
				m[n*area+y*xLen+x] = 1
			}
		}
	}
	return m
}

// maskedInput zeroes input points the mask excludes, matching what real
// evaluation feeds a layer.
func maskedInput(input, mask []float32, batch, channels, area int) {
	if mask == nil {
		return
	}
	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			plane := input[(n*channels+c)*area : (n*channels+c+1)*area]
			for i, m := range mask[n*area : (n+1)*area] {
				plane[i] *= m
			}
		}
	}
}

func (b *caseBuilder) caseName(kind Kind, layer string, opts neuralnet.LayerTestOptions, sub bool) string {
	name := fmt.Sprintf("%s/%s/%dx%d", kind, layer, opts.XLen, opts.YLen)
	if sub {
		name += "/sub"
	} else {
		name += "/full"
	}
	if opts.FP16 {
		name += "/fp16"
	}
	return name
}

// shortName trims the dotted prefix off a tensor name: "trunk.block0" turns
// into "block0".
func shortName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

func (b *caseBuilder) maskFor(opts neuralnet.LayerTestOptions, sub bool) []float32 {
	if !sub {
		return nil
	}
	return subMask(opts.BatchSize, opts.YLen, opts.XLen)
}

func (b *caseBuilder) addConv(layer *desc.ConvLayer, opts neuralnet.LayerTestOptions, sub bool) {
	area := opts.XLen * opts.YLen
	mask := b.maskFor(opts, sub)
	input := b.normals(opts.BatchSize * layer.InChannels * area)
	maskedInput(input, mask, opts.BatchSize, layer.InChannels, area)
	b.cases = append(b.cases, Case{
		Name:  b.caseName(KindConv, shortName(layer.Name), opts, sub),
		Kind:  KindConv,
		Opts:  opts,
		Conv:  layer,
		Input: input,
	})
}

func (b *caseBuilder) addBatchNorm(layer *desc.BatchNormLayer, opts neuralnet.LayerTestOptions, sub bool) {
	area := opts.XLen * opts.YLen
	mask := b.maskFor(opts, sub)
	input := b.normals(opts.BatchSize * layer.NumChannels * area)
	maskedInput(input, mask, opts.BatchSize, layer.NumChannels, area)
	b.cases = append(b.cases, Case{
		Name:  b.caseName(KindBatchNorm, shortName(layer.Name), opts, sub),
		Kind:  KindBatchNorm,
		Opts:  opts,
		BN:    layer,
		Input: input,
		Mask:  mask,
	})
}

func (b *caseBuilder) addResidual(block *desc.ResidualBlock, act desc.ActivationKind, opts neuralnet.LayerTestOptions, sub bool) {
	area := opts.XLen * opts.YLen
	channels := block.RegularConv.InChannels
	mask := b.maskFor(opts, sub)
	input := b.normals(opts.BatchSize * channels * area)
	maskedInput(input, mask, opts.BatchSize, channels, area)
	b.cases = append(b.cases, Case{
		Name:       b.caseName(KindResidualBlock, shortName(block.BlockName), opts, sub),
		Kind:       KindResidualBlock,
		Opts:       opts,
		Residual:   block,
		Activation: act,
		Input:      input,
		Mask:       mask,
	})
}

func (b *caseBuilder) addGPool(block *desc.GlobalPoolingResidualBlock, act desc.ActivationKind, opts neuralnet.LayerTestOptions, sub bool) {
	area := opts.XLen * opts.YLen
	channels := block.RegularConv.InChannels
	mask := b.maskFor(opts, sub)
	input := b.normals(opts.BatchSize * channels * area)
	maskedInput(input, mask, opts.BatchSize, channels, area)
	b.cases = append(b.cases, Case{
		Name:       b.caseName(KindGlobalPoolingResidualBlock, shortName(block.BlockName), opts, sub),
		Kind:       KindGlobalPoolingResidualBlock,
		Opts:       opts,
		GPool:      block,
		Activation: act,
		Input:      input,
		Mask:       mask,
	})
}

func (b *caseBuilder) addSymmetry(opts neuralnet.LayerTestOptions, channels int, flipY, flipX, transpose bool) {
	area := opts.XLen * opts.YLen
	suffix := "sym-"
	if flipY {
		suffix += "Y"
	}
	if flipX {
		suffix += "X"
	}
	if transpose {
		suffix += "T"
	}
	b.cases = append(b.cases, Case{
		Name:     b.caseName(KindSymmetry, suffix, opts, false),
		Kind:     KindSymmetry,
		Opts:     opts,
		Channels: channels,
		FlipY:    flipY, FlipX: flipX, Transpose: transpose,
		Input: b.normals(opts.BatchSize * channels * area),
	})
}
