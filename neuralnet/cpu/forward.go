package cpu

import (
	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
)

// The forward pass evaluates one position at a time on NCHW float32 planes.
// Off-board points of the trunk accumulator hold garbage between blocks;
// that is fine because every consumer normalizes and re-masks first, and the
// pooling and head stages work through the mask. Under emulated half
// precision every stage output is rounded through float16, mirroring a
// device that stores activations in half.

func (h *computeHandle) round(v []float32) {
	if h.fp16 {
		roundHalf(v)
	}
}

// convolve runs one convolution with the algorithm the tuner picked for
// this device. dst must not alias src.
func (h *computeHandle) convolve(dst, src []float32, c *pConv, s *rowScratch) {
	if c.convY == 1 && c.convX == 1 {
		conv1x1(dst, src, c.w, c.inC, c.outC, h.area)
	} else if h.algo == algoIm2Col {
		convIm2Col(dst, src, c.w, s.patch, c.inC, c.outC, h.yLen, h.xLen, c.convY, c.convX, c.dilY, c.dilX)
	} else {
		convDirect(dst, src, c.w, c.inC, c.outC, h.yLen, h.xLen, c.convY, c.convX, c.dilY, c.dilX)
	}
	h.round(dst[:c.outC*h.area])
}

// bnAct normalizes, applies the model activation and re-masks, in place.
func (h *computeHandle) bnAct(dst []float32, bn *pBN, mask []float32) {
	bnActMask(dst, bn.scale, bn.bias, mask, bn.channels, h.area, h.prep.activation)
	h.round(dst[:bn.channels*h.area])
}

// ingest copies one staged row into scratch as NCHW float32, applying the
// batch symmetry and the declared input layout, and derives the board mask
// from input channel 0.
func (h *computeHandle) ingest(s *rowScratch, spatial, global []float32, flipY, flipX, transpose bool) {
	channels, yLen, xLen, area := h.prep.numSpatial, h.yLen, h.xLen, h.area
	switch {
	case !h.inputsNHWC && !flipY && !flipX && !transpose:
		copy(s.input, spatial)
	case !h.inputsNHWC:
		symPlanes(s.input, spatial, channels, yLen, xLen, flipY, flipX, transpose, false)
	default:
		for y := 0; y < yLen; y++ {
			for x := 0; x < xLen; x++ {
				sy, sx := symCoords(y, x, yLen, xLen, flipY, flipX, transpose)
				src := spatial[(sy*xLen+sx)*channels : (sy*xLen+sx+1)*channels]
				for c := 0; c < channels; c++ {
					s.input[c*area+y*xLen+x] = src[c]
				}
			}
		}
	}
	h.round(s.input)
	copy(s.global, global)
	h.round(s.global)
	if s.mask != nil {
		copy(s.mask, s.input[:area])
		var sum float32
		for _, m := range s.mask {
			sum += m
		}
		s.maskSum = sum
	}
}

// evalRow runs the full model on one ingested position and writes the raw
// outputs, undoing the batch symmetry on the board-shaped heads.
func (h *computeHandle) evalRow(s *rowScratch, out *neuralnet.Output, flipY, flipX, transpose bool) {
	pm := h.prep
	area := h.area
	trunkC := pm.trunkChannels

	// Trunk: initial convolution plus the global features broadcast as a
	// per-channel bias.
	h.convolve(s.trunk, s.input, &pm.initialConv, s)
	matVec(s.bias[:trunkC], pm.initialMatMul.w, s.global, pm.initialMatMul.in, trunkC)
	h.round(s.bias[:trunkC])
	addChannelBias(s.trunk, s.bias[:trunkC], trunkC, area)

	for i := range pm.blocks {
		b := &pm.blocks[i]
		copy(s.pre[:trunkC*area], s.trunk)
		h.bnAct(s.pre, &b.preBN, s.mask)
		switch b.kind {
		case desc.BlockOrdinary:
			h.convolve(s.mid, s.pre, &b.regular, s)
			h.bnAct(s.mid, &b.midBN, s.mask)
			h.convolve(s.pre, s.mid, &b.final, s)
		case desc.BlockGlobalPooling:
			h.convolve(s.mid, s.pre, &b.regular, s)
			h.convolve(s.gplane, s.pre, &b.gpoolConv, s)
			h.bnAct(s.gplane, &b.gpoolBN, s.mask)
			gpoolC := b.gpoolConv.outC
			globalPool(s.pooled, s.gplane, s.mask, gpoolC, area, s.maskSum)
			h.round(s.pooled[:3*gpoolC])
			matVec(s.bias[:b.regular.outC], b.gpoolToBias.w, s.pooled[:3*gpoolC], 3*gpoolC, b.regular.outC)
			h.round(s.bias[:b.regular.outC])
			addChannelBias(s.mid, s.bias[:b.regular.outC], b.regular.outC, area)
			h.bnAct(s.mid, &b.midBN, s.mask)
			h.convolve(s.pre, s.mid, &b.final, s)
		}
		addResidual(s.trunk, s.pre[:trunkC*area])
		h.round(s.trunk)
	}
	h.bnAct(s.trunk, &pm.tipBN, s.mask)

	// Policy head: the pooled g1 branch biases the p1 branch per channel and
	// alone decides the pass logit.
	p1C, g1C := pm.p1Conv.outC, pm.g1Conv.outC
	h.convolve(s.mid, s.trunk, &pm.p1Conv, s)
	h.convolve(s.gplane, s.trunk, &pm.g1Conv, s)
	h.bnAct(s.gplane, &pm.g1BN, s.mask)
	globalPool(s.pooled, s.gplane, s.mask, g1C, area, s.maskSum)
	h.round(s.pooled[:3*g1C])
	matVec(s.bias[:p1C], pm.gpoolToBias.w, s.pooled[:3*g1C], 3*g1C, p1C)
	h.round(s.bias[:p1C])
	addChannelBias(s.mid, s.bias[:p1C], p1C, area)
	h.bnAct(s.mid, &pm.p1BN, s.mask)
	h.convolve(s.policyPlane, s.mid, &pm.p2Conv, s)
	var pass [1]float32
	matVec(pass[:], pm.gpoolToPass.w, s.pooled[:3*g1C], 3*g1C, 1)
	symPlane(out.Policy[:area], s.policyPlane, h.yLen, h.xLen, flipY, flipX, transpose, true)
	out.Policy[area] = pass[0]
	h.round(out.Policy)

	// Value head: pooled v1 features feed the dense tower; ownership comes
	// straight off the v1 planes.
	v1C := pm.v1Conv.outC
	v2C := pm.v2Mul.out
	h.convolve(s.gplane, s.trunk, &pm.v1Conv, s)
	h.bnAct(s.gplane, &pm.v1BN, s.mask)
	globalPool(s.pooled, s.gplane, s.mask, v1C, area, s.maskSum)
	h.round(s.pooled[:3*v1C])
	matVec(s.head, pm.v2Mul.w, s.pooled[:3*v1C], 3*v1C, v2C)
	for i := range s.head {
		s.head[i] += pm.v2Bias[i]
	}
	activate(s.head, pm.activation)
	h.round(s.head)

	matVec(out.Value, pm.v3Mul.w, s.head, v2C, len(out.Value))
	for i := range out.Value {
		out.Value[i] += pm.v3Bias[i]
	}
	h.round(out.Value)

	matVec(out.ScoreValues, pm.sv3Mul.w, s.head, v2C, len(out.ScoreValues))
	for i := range out.ScoreValues {
		out.ScoreValues[i] += pm.sv3Bias[i]
	}
	h.round(out.ScoreValues)

	h.convolve(s.ownerPlane, s.gplane, &pm.ownershipConv, s)
	maskPlanes(s.ownerPlane, s.mask, 1, area)
	symPlane(out.Ownership, s.ownerPlane, h.yLen, h.xLen, flipY, flipX, transpose, true)
	h.round(out.Ownership)
}
