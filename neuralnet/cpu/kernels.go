package cpu

import (
	"github.com/chewxy/math32"
	"github.com/hwata3535/KataGo/neuralnet/desc"
	"github.com/x448/float16"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Kernels operate on one batch position at a time. Planes are NCHW: a tensor
// of c channels over a yLen x xLen board is a flat []float32 of length
// c*yLen*xLen, channel-major, rows top to bottom. area is always yLen*xLen.

// convAlgo selects the convolution implementation for kernels larger than
// 1x1. 1x1 convolutions always go through sgemm directly.
type convAlgo string

const (
	algoDirect convAlgo = "direct"
	algoIm2Col convAlgo = "im2col"
)

// convDirect computes dst = w * src with "same" zero padding. dst must not
// alias src. Weights are laid out [outC][inC][ky][kx], flattened.
func convDirect(dst, src, w []float32, inC, outC, yLen, xLen, convY, convX, dilY, dilX int) {
	area := yLen * xLen
	padY := (convY - 1) * dilY / 2
	padX := (convX - 1) * dilX / 2
	for oc := 0; oc < outC; oc++ {
		out := dst[oc*area : (oc+1)*area]
		for i := range out {
			out[i] = 0
		}
		for ic := 0; ic < inC; ic++ {
			in := src[ic*area : (ic+1)*area]
			wBase := ((oc*inC + ic) * convY) * convX
			for ky := 0; ky < convY; ky++ {
				srcY0 := -padY + ky*dilY
				for kx := 0; kx < convX; kx++ {
					wv := w[wBase+ky*convX+kx]
					if wv == 0 {
						continue
					}
					srcX0 := -padX + kx*dilX
					yLo := max(0, -srcY0)
					yHi := min(yLen, yLen-srcY0)
					xLo := max(0, -srcX0)
					xHi := min(xLen, xLen-srcX0)
					for y := yLo; y < yHi; y++ {
						outRow := out[y*xLen : y*xLen+xLen]
						inRow := in[(y+srcY0)*xLen : (y+srcY0)*xLen+xLen]
						for x := xLo; x < xHi; x++ {
							outRow[x] += wv * inRow[x+srcX0]
						}
					}
				}
			}
		}
	}
}

// im2col expands src into patch columns: patch is [inC*convY*convX][area],
// flattened row-major, so that conv becomes a single sgemm against the
// [outC][inC*convY*convX] weight matrix. Out-of-board taps are zero.
func im2col(patch, src []float32, inC, yLen, xLen, convY, convX, dilY, dilX int) {
	area := yLen * xLen
	padY := (convY - 1) * dilY / 2
	padX := (convX - 1) * dilX / 2
	row := 0
	for ic := 0; ic < inC; ic++ {
		in := src[ic*area : (ic+1)*area]
		for ky := 0; ky < convY; ky++ {
			dy := -padY + ky*dilY
			for kx := 0; kx < convX; kx++ {
				dx := -padX + kx*dilX
				out := patch[row*area : (row+1)*area]
				row++
				for y := 0; y < yLen; y++ {
					sy := y + dy
					if sy < 0 || sy >= yLen {
						for x := 0; x < xLen; x++ {
							out[y*xLen+x] = 0
						}
						continue
					}
					inRow := in[sy*xLen : sy*xLen+xLen]
					outRow := out[y*xLen : y*xLen+xLen]
					for x := 0; x < xLen; x++ {
						sx := x + dx
						if sx < 0 || sx >= xLen {
							outRow[x] = 0
						} else {
							outRow[x] = inRow[sx]
						}
					}
				}
			}
		}
	}
}

// sgemm computes dst = a * b for row-major a [m][k] and b [k][n], writing
// dst [m][n].
func sgemm(dst, a, b []float32, m, k, n int) {
	am := blas32.General{Rows: m, Cols: k, Stride: k, Data: a}
	bm := blas32.General{Rows: k, Cols: n, Stride: n, Data: b}
	cm := blas32.General{Rows: m, Cols: n, Stride: n, Data: dst}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, am, bm, 0, cm)
}

// convIm2Col is convDirect through patch expansion and sgemm. patch must
// hold inC*convY*convX*area floats.
func convIm2Col(dst, src, w, patch []float32, inC, outC, yLen, xLen, convY, convX, dilY, dilX int) {
	im2col(patch, src, inC, yLen, xLen, convY, convX, dilY, dilX)
	sgemm(dst, w, patch, outC, inC*convY*convX, yLen*xLen)
}

// conv1x1 is the pointwise special case: a plain matrix product, no
// patch expansion needed.
func conv1x1(dst, src, w []float32, inC, outC, area int) {
	sgemm(dst, w, src, outC, inC, area)
}

// matVec computes dst = w^T * src for a [in][out] row-major weight matrix,
// the layout desc.MatMulLayer uses. dst has out entries.
func matVec(dst, w, src []float32, in, out int) {
	wm := blas32.General{Rows: in, Cols: out, Stride: out, Data: w}
	xv := blas32.Vector{N: in, Inc: 1, Data: src}
	yv := blas32.Vector{N: out, Inc: 1, Data: dst}
	blas32.Gemv(blas.Trans, 1, wm, xv, 0, yv)
}

// relu and mish are the two supported activations. mish(x) is
// x*tanh(softplus(x)); for large x softplus saturates to x itself.
func relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

func mish(x float32) float32 {
	var sp float32
	if x > 20 {
		sp = x
	} else {
		sp = math32.Log1p(math32.Exp(x))
	}
	return x * math32.Tanh(sp)
}

func activate(dst []float32, kind desc.ActivationKind) {
	switch kind {
	case desc.ActivationReLU:
		for i, v := range dst {
			dst[i] = relu(v)
		}
	case desc.ActivationMish:
		for i, v := range dst {
			dst[i] = mish(v)
		}
	case desc.ActivationIdentity:
		// Nothing to do.
	}
}

// batchNorm applies the merged scale and bias channel-wise in place:
// dst[c][i] = dst[c][i]*scale[c] + bias[c].
func batchNorm(dst, scale, bias []float32, channels, area int) {
	for c := 0; c < channels; c++ {
		s, b := scale[c], bias[c]
		plane := dst[c*area : (c+1)*area]
		for i, v := range plane {
			plane[i] = v*s + b
		}
	}
}

// maskPlanes zeroes every off-board point of every channel. A nil mask
// means the whole board is on.
func maskPlanes(dst, mask []float32, channels, area int) {
	if mask == nil {
		return
	}
	for c := 0; c < channels; c++ {
		plane := dst[c*area : (c+1)*area]
		for i, m := range mask {
			plane[i] *= m
		}
	}
}

// bnActMask is the fused step after nearly every convolution: batch norm,
// activation, then re-mask so off-board points stay exactly zero.
func bnActMask(dst, scale, bias, mask []float32, channels, area int, act desc.ActivationKind) {
	batchNorm(dst, scale, bias, channels, area)
	activate(dst[:channels*area], act)
	maskPlanes(dst, mask, channels, area)
}

// globalPool reduces each channel to three numbers and concatenates them:
// the mean over on-board points, the mean scaled by (sqrt(boardArea)-14)*0.1,
// and the maximum over on-board points. dst has 3*channels entries in that
// order: all means, all scaled means, all maxes.
func globalPool(dst, src, mask []float32, channels, area int, maskSum float32) {
	scale := (math32.Sqrt(maskSum) - 14) * 0.1
	for c := 0; c < channels; c++ {
		plane := src[c*area : (c+1)*area]
		var sum float32
		maxV := math32.Inf(-1)
		if mask == nil {
			for _, v := range plane {
				sum += v
				if v > maxV {
					maxV = v
				}
			}
		} else {
			for i, v := range plane {
				if mask[i] == 0 {
					continue
				}
				sum += v
				if v > maxV {
					maxV = v
				}
			}
		}
		mean := sum / maskSum
		dst[c] = mean
		dst[channels+c] = mean * scale
		dst[2*channels+c] = maxV
	}
}

// addChannelBias adds bias[c] to every point of channel c.
func addChannelBias(dst, bias []float32, channels, area int) {
	for c := 0; c < channels; c++ {
		b := bias[c]
		if b == 0 {
			continue
		}
		plane := dst[c*area : (c+1)*area]
		for i := range plane {
			plane[i] += b
		}
	}
}

// addResidual accumulates src into dst.
func addResidual(dst, src []float32) {
	for i, v := range src {
		dst[i] += v
	}
}

// roundHalf rounds every value through IEEE float16 and back, emulating a
// device that stores activations in half precision. Applied after each
// layer when the context resolved FP16 on.
func roundHalf(dst []float32) {
	for i, v := range dst {
		dst[i] = float16.Fromfloat32(v).Float32()
	}
}

func roundedHalfCopy(src []float32) []float32 {
	dst := make([]float32, len(src))
	for i, v := range src {
		dst[i] = float16.Fromfloat32(v).Float32()
	}
	return dst
}
