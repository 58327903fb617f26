package cpu

import (
	"github.com/gomlx/exceptions"
	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
)

// The layer tester runs single layers through the same kernels EvalBatch
// uses, one batch row at a time with the direct convolution path. The cpu
// backend supports every layer kind; other backends check themselves
// against these numbers.
//
// Inputs and outputs are batch-major NCHW float32 regardless of the NHWC
// option, which only changes how a backend computes internally and changes
// nothing here. A nil mask means every point is on board.

func layerTestSizes(opts neuralnet.LayerTestOptions) (batch, area int) {
	if opts.BatchSize <= 0 || opts.XLen < 2 || opts.YLen < 2 {
		exceptions.Panicf("cpu backend: bad layer test shape batch=%d extent=%dx%d",
			opts.BatchSize, opts.XLen, opts.YLen)
	}
	return opts.BatchSize, opts.XLen * opts.YLen
}

func checkLayerInput(name string, got, want int) {
	if got != want {
		exceptions.Panicf("cpu backend: %s layer test input has %d floats, want %d", name, got, want)
	}
}

func maybeRounded(v []float32, fp16 bool) []float32 {
	if fp16 {
		return roundedHalfCopy(v)
	}
	return v
}

func rowMask(mask []float32, n, area int) ([]float32, float32) {
	if mask == nil {
		return nil, float32(area)
	}
	m := mask[n*area : (n+1)*area]
	var sum float32
	for _, v := range m {
		sum += v
	}
	return m, sum
}

// TestConv evaluates one convolution, unmasked and unactivated.
func (b *Backend) TestConv(layer *desc.ConvLayer, opts neuralnet.LayerTestOptions, input []float32) ([]float32, bool) {
	b.check()
	batch, area := layerTestSizes(opts)
	checkLayerInput("conv", len(input), batch*layer.InChannels*area)
	input = maybeRounded(input, opts.FP16)
	c := prepConv(layer, opts.FP16)
	output := make([]float32, batch*c.outC*area)
	for n := 0; n < batch; n++ {
		src := input[n*c.inC*area : (n+1)*c.inC*area]
		dst := output[n*c.outC*area : (n+1)*c.outC*area]
		convDirect(dst, src, c.w, c.inC, c.outC, opts.YLen, opts.XLen, c.convY, c.convX, c.dilY, c.dilX)
		if opts.FP16 {
			roundHalf(dst)
		}
	}
	return output, true
}

// TestBatchNorm evaluates one batch norm with merged parameters, masked but
// unactivated.
func (b *Backend) TestBatchNorm(layer *desc.BatchNormLayer, opts neuralnet.LayerTestOptions, input, mask []float32) ([]float32, bool) {
	b.check()
	batch, area := layerTestSizes(opts)
	checkLayerInput("batchnorm", len(input), batch*layer.NumChannels*area)
	if mask != nil {
		checkLayerInput("batchnorm mask", len(mask), batch*area)
	}
	bn := prepBN(layer, opts.FP16)
	output := make([]float32, len(input))
	copy(output, input)
	if opts.FP16 {
		roundHalf(output)
	}
	for n := 0; n < batch; n++ {
		dst := output[n*bn.channels*area : (n+1)*bn.channels*area]
		m, _ := rowMask(mask, n, area)
		bnActMask(dst, bn.scale, bn.bias, m, bn.channels, area, desc.ActivationIdentity)
		if opts.FP16 {
			roundHalf(dst)
		}
	}
	return output, true
}

// TestResidualBlock evaluates one ordinary residual block, residual add
// included.
func (b *Backend) TestResidualBlock(block *desc.ResidualBlock, activation desc.ActivationKind, opts neuralnet.LayerTestOptions, input, mask []float32) ([]float32, bool) {
	b.check()
	batch, area := layerTestSizes(opts)
	trunkC := block.RegularConv.InChannels
	midC := block.RegularConv.OutChannels
	checkLayerInput("residual block", len(input), batch*trunkC*area)
	if mask != nil {
		checkLayerInput("residual block mask", len(mask), batch*area)
	}
	input = maybeRounded(input, opts.FP16)
	pb := pBlock{
		kind:    desc.BlockOrdinary,
		preBN:   prepBN(&block.PreBN, opts.FP16),
		regular: prepConv(&block.RegularConv, opts.FP16),
		midBN:   prepBN(&block.MidBN, opts.FP16),
		final:   prepConv(&block.FinalConv, opts.FP16),
	}
	output := make([]float32, batch*trunkC*area)
	copy(output, input)
	pre := make([]float32, trunkC*area)
	mid := make([]float32, midC*area)
	for n := 0; n < batch; n++ {
		in := input[n*trunkC*area : (n+1)*trunkC*area]
		out := output[n*trunkC*area : (n+1)*trunkC*area]
		m, _ := rowMask(mask, n, area)
		r := layerRunner{opts: opts, area: area, pre: pre, mid: mid}
		r.ordinary(out, in, &pb, m, activation)
	}
	return output, true
}

// TestGlobalPoolingResidualBlock evaluates one global pooling residual
// block, residual add included.
func (b *Backend) TestGlobalPoolingResidualBlock(block *desc.GlobalPoolingResidualBlock, activation desc.ActivationKind, opts neuralnet.LayerTestOptions, input, mask []float32) ([]float32, bool) {
	b.check()
	batch, area := layerTestSizes(opts)
	trunkC := block.RegularConv.InChannels
	regularC := block.RegularConv.OutChannels
	gpoolC := block.GPoolConv.OutChannels
	checkLayerInput("gpool block", len(input), batch*trunkC*area)
	if mask != nil {
		checkLayerInput("gpool block mask", len(mask), batch*area)
	}
	input = maybeRounded(input, opts.FP16)
	pb := pBlock{
		kind:        desc.BlockGlobalPooling,
		preBN:       prepBN(&block.PreBN, opts.FP16),
		regular:     prepConv(&block.RegularConv, opts.FP16),
		midBN:       prepBN(&block.MidBN, opts.FP16),
		final:       prepConv(&block.FinalConv, opts.FP16),
		gpoolConv:   prepConv(&block.GPoolConv, opts.FP16),
		gpoolBN:     prepBN(&block.GPoolBN, opts.FP16),
		gpoolToBias: prepMat(&block.GPoolToBiasMul, opts.FP16),
	}
	output := make([]float32, batch*trunkC*area)
	copy(output, input)
	pre := make([]float32, trunkC*area)
	mid := make([]float32, regularC*area)
	gplane := make([]float32, gpoolC*area)
	pooled := make([]float32, 3*gpoolC)
	bias := make([]float32, regularC)
	for n := 0; n < batch; n++ {
		in := input[n*trunkC*area : (n+1)*trunkC*area]
		out := output[n*trunkC*area : (n+1)*trunkC*area]
		m, maskSum := rowMask(mask, n, area)
		r := layerRunner{opts: opts, area: area, pre: pre, mid: mid, gplane: gplane, pooled: pooled, bias: bias}
		r.gpool(out, in, &pb, m, maskSum, activation)
	}
	return output, true
}

// TestSymmetry applies the board symmetry to every channel of every row.
func (b *Backend) TestSymmetry(opts neuralnet.LayerTestOptions, channels int, flipY, flipX, transpose bool, input []float32) ([]float32, bool) {
	b.check()
	batch, area := layerTestSizes(opts)
	if transpose && opts.XLen != opts.YLen {
		exceptions.Panicf("cpu backend: transpose symmetry needs a square extent, have %dx%d",
			opts.XLen, opts.YLen)
	}
	checkLayerInput("symmetry", len(input), batch*channels*area)
	output := make([]float32, len(input))
	for n := 0; n < batch; n++ {
		src := input[n*channels*area : (n+1)*channels*area]
		dst := output[n*channels*area : (n+1)*channels*area]
		symPlanes(dst, src, channels, opts.YLen, opts.XLen, flipY, flipX, transpose, false)
	}
	return output, true
}

// layerRunner shares the residual block mechanics between the two block
// testers, mirroring how evalRow stages them.
type layerRunner struct {
	opts neuralnet.LayerTestOptions
	area int

	pre, mid, gplane, pooled, bias []float32
}

func (r *layerRunner) round(v []float32) {
	if r.opts.FP16 {
		roundHalf(v)
	}
}

func (r *layerRunner) conv(dst, src []float32, c *pConv) {
	convDirect(dst, src, c.w, c.inC, c.outC, r.opts.YLen, r.opts.XLen, c.convY, c.convX, c.dilY, c.dilX)
	r.round(dst[:c.outC*r.area])
}

func (r *layerRunner) bnAct(dst []float32, bn *pBN, mask []float32, act desc.ActivationKind) {
	bnActMask(dst, bn.scale, bn.bias, mask, bn.channels, r.area, act)
	r.round(dst[:bn.channels*r.area])
}

func (r *layerRunner) ordinary(out, in []float32, b *pBlock, mask []float32, act desc.ActivationKind) {
	copy(r.pre, in)
	r.bnAct(r.pre, &b.preBN, mask, act)
	r.conv(r.mid, r.pre, &b.regular)
	r.bnAct(r.mid, &b.midBN, mask, act)
	r.conv(r.pre, r.mid, &b.final)
	addResidual(out, r.pre[:b.final.outC*r.area])
	r.round(out)
}

func (r *layerRunner) gpool(out, in []float32, b *pBlock, mask []float32, maskSum float32, act desc.ActivationKind) {
	copy(r.pre, in)
	r.bnAct(r.pre, &b.preBN, mask, act)
	r.conv(r.mid, r.pre, &b.regular)
	r.conv(r.gplane, r.pre, &b.gpoolConv)
	r.bnAct(r.gplane, &b.gpoolBN, mask, act)
	gpoolC := b.gpoolConv.outC
	globalPool(r.pooled, r.gplane, mask, gpoolC, r.area, maskSum)
	r.round(r.pooled[:3*gpoolC])
	matVec(r.bias, b.gpoolToBias.w, r.pooled[:3*gpoolC], 3*gpoolC, b.regular.outC)
	r.round(r.bias)
	addChannelBias(r.mid, r.bias, b.regular.outC, r.area)
	r.bnAct(r.mid, &b.midBN, mask, act)
	r.conv(r.pre, r.mid, &b.final)
	addResidual(out, r.pre[:b.final.outC*r.area])
	r.round(out)
}
