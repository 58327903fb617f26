// Package desc defines the neural net model descriptor: the architecture
// metadata and weights of a loaded model, independent of any compute backend.
//
// A Model is pure data. Backends read it to build whatever device-side
// representation they need; nothing in this package evaluates anything.
//
// The architecture is a pre-activation residual trunk with optional global
// pooling blocks, a policy head and a value head. Tensor layouts:
//
//   - Convolution weights are [outChannels][inChannels][kySize][kxSize],
//     flattened row-major.
//   - Matrix multiply weights are [inChannels][outChannels], flattened
//     row-major, so output o accumulates in*Weights[in*OutChannels+o].
//   - Globally pooled features concatenate as (means, scaled means, maxes),
//     each a full channel group, giving 3*channels pooled values.
package desc

import (
	"strings"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// MaxBoardLen is the largest board edge length any model supports.
const MaxBoardLen = 19

// MinVersion and MaxVersion bound the model format versions this package
// understands. Versions gate both input encodings and rule support.
const (
	MinVersion = 3
	MaxVersion = 14
)

// NumSpatialFeatures returns the number of per-point input channels for a
// model format version. All versions this package supports use the same
// spatial encoding.
func NumSpatialFeatures(version int) int {
	return 22
}

// NumGlobalFeatures returns the number of whole-board scalar input channels
// for a model format version.
func NumGlobalFeatures(version int) int {
	if version >= 7 {
		return 19
	}
	return 14
}

// NumScoreValueChannels returns the number of score-related value outputs for
// a model format version.
func NumScoreValueChannels(version int) int {
	switch {
	case version >= 9:
		return 6
	case version >= 8:
		return 4
	case version >= 4:
		return 2
	default:
		return 1
	}
}

// NumValueChannels is the size of the game outcome logit vector
// (win, loss, no-result).
const NumValueChannels = 3

// NumOwnershipChannels is the number of per-point ownership outputs.
const NumOwnershipChannels = 1

// ActivationKind selects the nonlinearity used throughout a model.
type ActivationKind int

const (
	ActivationIdentity ActivationKind = iota
	ActivationReLU
	ActivationMish
)

// String returns the lower-case name of the activation.
func (a ActivationKind) String() string {
	switch a {
	case ActivationIdentity:
		return "identity"
	case ActivationReLU:
		return "relu"
	case ActivationMish:
		return "mish"
	default:
		return "unknown"
	}
}

// ParseActivation converts a name previously produced by String back to an
// ActivationKind.
func ParseActivation(s string) (ActivationKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "identity":
		return ActivationIdentity, nil
	case "relu":
		return ActivationReLU, nil
	case "mish":
		return ActivationMish, nil
	}
	return ActivationIdentity, errors.Errorf("unknown activation kind %q", s)
}

// ConvLayer describes a 2D convolution with odd kernel sizes and "same"
// zero padding. Dilation is supported by the evaluators but always 1 in
// serialized models.
type ConvLayer struct {
	Name        string
	ConvYSize   int
	ConvXSize   int
	InChannels  int
	OutChannels int
	DilationY   int
	DilationX   int

	// Weights is [OutChannels][InChannels][ConvYSize][ConvXSize] flattened.
	Weights []float32
}

// NumWeights returns the expected length of Weights.
func (c *ConvLayer) NumWeights() int {
	return c.OutChannels * c.InChannels * c.ConvYSize * c.ConvXSize
}

// BatchNormLayer describes a batch normalization layer with fixed
// (inference-time) statistics.
type BatchNormLayer struct {
	Name        string
	NumChannels int
	Epsilon     float32
	HasScale    bool
	HasBias     bool

	Mean     []float32
	Variance []float32
	Scale    []float32 // nil when !HasScale, treated as all ones
	Bias     []float32 // nil when !HasBias, treated as all zeros
}

// MergedParams folds the four batch norm parameter vectors into a single
// per-channel scale and bias, so evaluation is out = in*scale + bias.
func (b *BatchNormLayer) MergedParams() (scale, bias []float32) {
	scale = make([]float32, b.NumChannels)
	bias = make([]float32, b.NumChannels)
	for c := 0; c < b.NumChannels; c++ {
		s := float32(1)
		if b.HasScale {
			s = b.Scale[c]
		}
		o := float32(0)
		if b.HasBias {
			o = b.Bias[c]
		}
		s = s / math32.Sqrt(b.Variance[c]+b.Epsilon)
		scale[c] = s
		bias[c] = o - b.Mean[c]*s
	}
	return
}

// MatMulLayer describes a dense multiply without bias.
type MatMulLayer struct {
	Name        string
	InChannels  int
	OutChannels int

	// Weights is [InChannels][OutChannels] flattened.
	Weights []float32
}

// NumWeights returns the expected length of Weights.
func (m *MatMulLayer) NumWeights() int {
	return m.InChannels * m.OutChannels
}

// MatBiasLayer describes a per-channel additive bias.
type MatBiasLayer struct {
	Name        string
	NumChannels int
	Weights     []float32
}

// BlockKind identifies the flavor of a trunk residual block.
type BlockKind int

const (
	BlockOrdinary BlockKind = iota
	BlockGlobalPooling
)

// String returns the short name of the block kind.
func (k BlockKind) String() string {
	switch k {
	case BlockOrdinary:
		return "ordinary"
	case BlockGlobalPooling:
		return "gpool"
	default:
		return "unknown"
	}
}

// ParseBlockKind converts a name previously produced by String back to a
// BlockKind.
func ParseBlockKind(s string) (BlockKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ordinary":
		return BlockOrdinary, nil
	case "gpool":
		return BlockGlobalPooling, nil
	}
	return BlockOrdinary, errors.Errorf("unknown block kind %q", s)
}

// Block is a trunk residual block of either kind. The concrete types are
// *ResidualBlock and *GlobalPoolingResidualBlock.
type Block interface {
	Kind() BlockKind
	Name() string
}

// ResidualBlock is a pre-activation residual block:
//
//	out = in + finalConv(act(midBN(regularConv(act(preBN(in))))))
type ResidualBlock struct {
	BlockName   string
	PreBN       BatchNormLayer
	RegularConv ConvLayer
	MidBN       BatchNormLayer
	FinalConv   ConvLayer
}

// Kind returns BlockOrdinary.
func (b *ResidualBlock) Kind() BlockKind { return BlockOrdinary }

// Name returns the block's name.
func (b *ResidualBlock) Name() string { return b.BlockName }

// GlobalPoolingResidualBlock is a residual block whose side branch is
// globally pooled and fed back as a per-channel bias on the regular branch:
//
//	x = act(preBN(in))
//	r = regularConv(x)
//	g = pool(act(gpoolBN(gpoolConv(x))))
//	r += gpoolToBiasMul(g)            broadcast over the board
//	out = in + finalConv(act(midBN(r)))
type GlobalPoolingResidualBlock struct {
	BlockName      string
	PreBN          BatchNormLayer
	RegularConv    ConvLayer
	GPoolConv      ConvLayer
	GPoolBN        BatchNormLayer
	GPoolToBiasMul MatMulLayer
	MidBN          BatchNormLayer
	FinalConv      ConvLayer
}

// Kind returns BlockGlobalPooling.
func (b *GlobalPoolingResidualBlock) Kind() BlockKind { return BlockGlobalPooling }

// Name returns the block's name.
func (b *GlobalPoolingResidualBlock) Name() string { return b.BlockName }

// Trunk describes the shared residual tower.
type Trunk struct {
	Name               string
	NumBlocks          int
	TrunkNumChannels   int
	MidNumChannels     int
	RegularNumChannels int
	GPoolNumChannels   int

	// InitialConv maps input spatial features to trunk channels.
	InitialConv ConvLayer
	// InitialMatMul maps input global features to trunk channels, added as a
	// whole-board broadcast bias after InitialConv.
	InitialMatMul MatMulLayer

	Blocks []Block

	// TipBN normalizes the trunk output before the heads.
	TipBN BatchNormLayer
}

// PolicyHead produces per-point move logits plus one pass logit.
type PolicyHead struct {
	Name           string
	P1Conv         ConvLayer   // trunk -> p1 channels, 1x1
	G1Conv         ConvLayer   // trunk -> g1 channels, 1x1
	G1BN           BatchNormLayer
	GPoolToBiasMul MatMulLayer // 3*g1 -> p1, bias on the p1 branch
	P1BN           BatchNormLayer
	P2Conv         ConvLayer   // p1 -> 1, 1x1, the move logits
	GPoolToPassMul MatMulLayer // 3*g1 -> 1, the pass logit
}

// ValueHead produces game outcome logits, score value outputs and per-point
// ownership.
type ValueHead struct {
	Name          string
	V1Conv        ConvLayer // trunk -> v1 channels, 1x1
	V1BN          BatchNormLayer
	V2Mul         MatMulLayer // 3*v1 -> v2
	V2Bias        MatBiasLayer
	V3Mul         MatMulLayer // v2 -> NumValueChannels
	V3Bias        MatBiasLayer
	SV3Mul        MatMulLayer // v2 -> score value channels
	SV3Bias       MatBiasLayer
	OwnershipConv ConvLayer // v1 -> 1, 1x1
}

// Model is the full descriptor of one loaded neural net.
type Model struct {
	Name    string
	Version int

	// MaxBoardLen is the largest board edge length the model was trained
	// for; contexts may not request a larger spatial extent.
	MaxBoardLen int

	NumInputChannels       int
	NumInputGlobalChannels int
	NumValueChannels       int
	NumScoreValueChannels  int
	NumOwnershipChannels   int

	Activation ActivationKind

	Trunk      Trunk
	PolicyHead PolicyHead
	ValueHead  ValueHead
}

// NumBlocks returns the trunk depth.
func (m *Model) NumBlocks() int { return m.Trunk.NumBlocks }

// TrunkChannels returns the trunk width.
func (m *Model) TrunkChannels() int { return m.Trunk.TrunkNumChannels }

// NumWeights returns the total parameter count across all layers.
func (m *Model) NumWeights() int {
	n := 0
	addConv := func(c *ConvLayer) { n += len(c.Weights) }
	addBN := func(b *BatchNormLayer) {
		n += len(b.Mean) + len(b.Variance) + len(b.Scale) + len(b.Bias)
	}
	addMul := func(mm *MatMulLayer) { n += len(mm.Weights) }
	addBias := func(mb *MatBiasLayer) { n += len(mb.Weights) }

	t := &m.Trunk
	addConv(&t.InitialConv)
	addMul(&t.InitialMatMul)
	for _, b := range t.Blocks {
		switch blk := b.(type) {
		case *ResidualBlock:
			addBN(&blk.PreBN)
			addConv(&blk.RegularConv)
			addBN(&blk.MidBN)
			addConv(&blk.FinalConv)
		case *GlobalPoolingResidualBlock:
			addBN(&blk.PreBN)
			addConv(&blk.RegularConv)
			addConv(&blk.GPoolConv)
			addBN(&blk.GPoolBN)
			addMul(&blk.GPoolToBiasMul)
			addBN(&blk.MidBN)
			addConv(&blk.FinalConv)
		}
	}
	addBN(&t.TipBN)

	p := &m.PolicyHead
	addConv(&p.P1Conv)
	addConv(&p.G1Conv)
	addBN(&p.G1BN)
	addMul(&p.GPoolToBiasMul)
	addBN(&p.P1BN)
	addConv(&p.P2Conv)
	addMul(&p.GPoolToPassMul)

	v := &m.ValueHead
	addConv(&v.V1Conv)
	addBN(&v.V1BN)
	addMul(&v.V2Mul)
	addBias(&v.V2Bias)
	addMul(&v.V3Mul)
	addBias(&v.V3Bias)
	addMul(&v.SV3Mul)
	addBias(&v.SV3Bias)
	addConv(&v.OwnershipConv)
	return n
}
