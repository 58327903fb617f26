package desc

import (
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"
)

// RandomOptions configures Random. Zero fields take defaults, which produce a
// small but structurally complete net in the style of real models.
type RandomOptions struct {
	Name            string
	Version         int
	NumBlocks       int
	GPoolEvery      int // every n-th block is a global pooling block; 0 means 3
	TrunkChannels   int
	MidChannels     int
	RegularChannels int
	GPoolChannels   int
	PolicyChannels  int // p1 branch width
	GPool1Channels  int // g1 branch width
	ValueChannels   int // v1 branch width
	ValueFCChannels int // v2 dense width
	MaxBoardLen     int
	Activation      ActivationKind
	Seed            int64
}

func (o RandomOptions) withDefaults() RandomOptions {
	if o.Name == "" {
		o.Name = fmt.Sprintf("random-s%d", o.Seed)
	}
	if o.Version == 0 {
		o.Version = 8
	}
	if o.NumBlocks == 0 {
		o.NumBlocks = 4
	}
	if o.GPoolEvery == 0 {
		o.GPoolEvery = 3
	}
	if o.TrunkChannels == 0 {
		o.TrunkChannels = 32
	}
	if o.MidChannels == 0 {
		o.MidChannels = o.TrunkChannels
	}
	if o.RegularChannels == 0 {
		o.RegularChannels = o.TrunkChannels / 2
	}
	if o.GPoolChannels == 0 {
		o.GPoolChannels = o.TrunkChannels / 2
	}
	if o.PolicyChannels == 0 {
		o.PolicyChannels = 16
	}
	if o.GPool1Channels == 0 {
		o.GPool1Channels = 16
	}
	if o.ValueChannels == 0 {
		o.ValueChannels = 16
	}
	if o.ValueFCChannels == 0 {
		o.ValueFCChannels = 32
	}
	if o.MaxBoardLen == 0 {
		o.MaxBoardLen = MaxBoardLen
	}
	if o.Activation == ActivationIdentity {
		o.Activation = ActivationReLU
	}
	return o
}

// Random builds a model with randomly initialized weights. The same options
// (including Seed) always produce the identical model, which makes it usable
// as a fixture for tests, benchmarks and backend comparisons.
func Random(opts RandomOptions) *Model {
	o := opts.withDefaults()
	rng := rand.New(rand.NewSource(o.Seed))
	g := &randomGen{rng: rng, epsilon: 1e-5}

	m := &Model{
		Name:                   o.Name,
		Version:                o.Version,
		MaxBoardLen:            o.MaxBoardLen,
		NumInputChannels:       NumSpatialFeatures(o.Version),
		NumInputGlobalChannels: NumGlobalFeatures(o.Version),
		NumValueChannels:       NumValueChannels,
		NumScoreValueChannels:  NumScoreValueChannels(o.Version),
		NumOwnershipChannels:   NumOwnershipChannels,
		Activation:             o.Activation,
	}

	t := &m.Trunk
	t.Name = "trunk"
	t.NumBlocks = o.NumBlocks
	t.TrunkNumChannels = o.TrunkChannels
	t.MidNumChannels = o.MidChannels
	t.RegularNumChannels = o.RegularChannels
	t.GPoolNumChannels = o.GPoolChannels
	t.InitialConv = g.conv("trunk.initial_conv", 3, 3, m.NumInputChannels, o.TrunkChannels)
	t.InitialMatMul = g.matMul("trunk.initial_matmul", m.NumInputGlobalChannels, o.TrunkChannels)
	for i := 0; i < o.NumBlocks; i++ {
		prefix := fmt.Sprintf("trunk.block%d", i)
		if (i+1)%o.GPoolEvery == 0 {
			t.Blocks = append(t.Blocks, &GlobalPoolingResidualBlock{
				BlockName:      prefix,
				PreBN:          g.batchNorm(prefix+".pre_bn", o.TrunkChannels),
				RegularConv:    g.conv(prefix+".regular_conv", 3, 3, o.TrunkChannels, o.RegularChannels),
				GPoolConv:      g.conv(prefix+".gpool_conv", 3, 3, o.TrunkChannels, o.GPoolChannels),
				GPoolBN:        g.batchNorm(prefix+".gpool_bn", o.GPoolChannels),
				GPoolToBiasMul: g.matMul(prefix+".gpool_to_bias", 3*o.GPoolChannels, o.RegularChannels),
				MidBN:          g.batchNorm(prefix+".mid_bn", o.RegularChannels),
				FinalConv:      g.conv(prefix+".final_conv", 3, 3, o.RegularChannels, o.TrunkChannels),
			})
		} else {
			t.Blocks = append(t.Blocks, &ResidualBlock{
				BlockName:   prefix,
				PreBN:       g.batchNorm(prefix+".pre_bn", o.TrunkChannels),
				RegularConv: g.conv(prefix+".regular_conv", 3, 3, o.TrunkChannels, o.MidChannels),
				MidBN:       g.batchNorm(prefix+".mid_bn", o.MidChannels),
				FinalConv:   g.conv(prefix+".final_conv", 3, 3, o.MidChannels, o.TrunkChannels),
			})
		}
	}
	t.TipBN = g.batchNorm("trunk.tip_bn", o.TrunkChannels)

	p := &m.PolicyHead
	p.Name = "policy"
	p.P1Conv = g.conv("policy.p1_conv", 1, 1, o.TrunkChannels, o.PolicyChannels)
	p.G1Conv = g.conv("policy.g1_conv", 1, 1, o.TrunkChannels, o.GPool1Channels)
	p.G1BN = g.batchNorm("policy.g1_bn", o.GPool1Channels)
	p.GPoolToBiasMul = g.matMul("policy.gpool_to_bias", 3*o.GPool1Channels, o.PolicyChannels)
	p.P1BN = g.batchNorm("policy.p1_bn", o.PolicyChannels)
	p.P2Conv = g.conv("policy.p2_conv", 1, 1, o.PolicyChannels, 1)
	p.GPoolToPassMul = g.matMul("policy.gpool_to_pass", 3*o.GPool1Channels, 1)

	v := &m.ValueHead
	v.Name = "value"
	v.V1Conv = g.conv("value.v1_conv", 1, 1, o.TrunkChannels, o.ValueChannels)
	v.V1BN = g.batchNorm("value.v1_bn", o.ValueChannels)
	v.V2Mul = g.matMul("value.v2_mul", 3*o.ValueChannels, o.ValueFCChannels)
	v.V2Bias = g.matBias("value.v2_bias", o.ValueFCChannels)
	v.V3Mul = g.matMul("value.v3_mul", o.ValueFCChannels, m.NumValueChannels)
	v.V3Bias = g.matBias("value.v3_bias", m.NumValueChannels)
	v.SV3Mul = g.matMul("value.sv3_mul", o.ValueFCChannels, m.NumScoreValueChannels)
	v.SV3Bias = g.matBias("value.sv3_bias", m.NumScoreValueChannels)
	v.OwnershipConv = g.conv("value.ownership_conv", 1, 1, o.ValueChannels, m.NumOwnershipChannels)
	return m
}

type randomGen struct {
	rng     *rand.Rand
	epsilon float32
}

// weights draws fan-in scaled normals so activations stay bounded through
// deep stacks.
func (g *randomGen) weights(n, fanIn int) []float32 {
	scale := 1 / math32.Sqrt(float32(fanIn))
	w := make([]float32, n)
	for i := range w {
		w[i] = float32(g.rng.NormFloat64()) * scale
	}
	return w
}

func (g *randomGen) conv(name string, ky, kx, in, out int) ConvLayer {
	c := ConvLayer{
		Name:        name,
		ConvYSize:   ky,
		ConvXSize:   kx,
		InChannels:  in,
		OutChannels: out,
		DilationY:   1,
		DilationX:   1,
	}
	c.Weights = g.weights(c.NumWeights(), in*ky*kx)
	return c
}

func (g *randomGen) batchNorm(name string, channels int) BatchNormLayer {
	b := BatchNormLayer{
		Name:        name,
		NumChannels: channels,
		Epsilon:     g.epsilon,
		HasScale:    true,
		HasBias:     true,
		Mean:        make([]float32, channels),
		Variance:    make([]float32, channels),
		Scale:       make([]float32, channels),
		Bias:        make([]float32, channels),
	}
	for c := 0; c < channels; c++ {
		b.Mean[c] = float32(g.rng.NormFloat64()) * 0.1
		b.Variance[c] = 0.5 + g.rng.Float32()
		b.Scale[c] = 1 + float32(g.rng.NormFloat64())*0.1
		b.Bias[c] = float32(g.rng.NormFloat64()) * 0.1
	}
	return b
}

func (g *randomGen) matMul(name string, in, out int) MatMulLayer {
	m := MatMulLayer{Name: name, InChannels: in, OutChannels: out}
	m.Weights = g.weights(m.NumWeights(), in)
	return m
}

func (g *randomGen) matBias(name string, channels int) MatBiasLayer {
	return MatBiasLayer{
		Name:        name,
		NumChannels: channels,
		Weights:     g.weights(channels, 1),
	}
}
