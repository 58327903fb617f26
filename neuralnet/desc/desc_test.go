package desc

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomIsValidAndDeterministic(t *testing.T) {
	m := Random(RandomOptions{Seed: 1})
	require.NoError(t, m.Validate())
	assert.Equal(t, 4, m.NumBlocks())
	assert.Equal(t, 32, m.TrunkChannels())
	assert.Greater(t, m.NumWeights(), 0)

	// One gpool block every 3 blocks by default.
	kinds := make([]BlockKind, 0, len(m.Trunk.Blocks))
	for _, b := range m.Trunk.Blocks {
		kinds = append(kinds, b.Kind())
	}
	assert.Equal(t, []BlockKind{BlockOrdinary, BlockOrdinary, BlockGlobalPooling, BlockOrdinary}, kinds)

	m2 := Random(RandomOptions{Seed: 1})
	if diff := cmp.Diff(m, m2); diff != "" {
		t.Errorf("same seed produced different models (-want +got):\n%s", diff)
	}

	m3 := Random(RandomOptions{Seed: 2})
	assert.NotEqual(t, m.Trunk.InitialConv.Weights, m3.Trunk.InitialConv.Weights)
}

func TestRandomRespectsOptions(t *testing.T) {
	m := Random(RandomOptions{
		Seed:          7,
		Version:       10,
		NumBlocks:     6,
		TrunkChannels: 48,
		Activation:    ActivationMish,
		MaxBoardLen:   13,
	})
	require.NoError(t, m.Validate())
	assert.Equal(t, 10, m.Version)
	assert.Equal(t, 6, m.NumBlocks())
	assert.Equal(t, 48, m.TrunkChannels())
	assert.Equal(t, ActivationMish, m.Activation)
	assert.Equal(t, 13, m.MaxBoardLen)
	assert.Equal(t, NumGlobalFeatures(10), m.NumInputGlobalChannels)
	assert.Equal(t, NumScoreValueChannels(10), m.NumScoreValueChannels)
}

func TestValidateCatchesBadModels(t *testing.T) {
	m := Random(RandomOptions{Seed: 3})
	m.Trunk.InitialConv.Weights = m.Trunk.InitialConv.Weights[:10]
	require.ErrorContains(t, m.Validate(), "weights")

	m = Random(RandomOptions{Seed: 3})
	m.Trunk.InitialConv.Weights[0] = math32.NaN()
	require.Error(t, m.Validate())

	m = Random(RandomOptions{Seed: 3})
	m.Version = 99
	require.ErrorContains(t, m.Validate(), "version")

	m = Random(RandomOptions{Seed: 3})
	blk := m.Trunk.Blocks[0].(*ResidualBlock)
	blk.MidBN.NumChannels++
	require.Error(t, m.Validate())
}

func TestMergedParams(t *testing.T) {
	b := BatchNormLayer{
		Name:        "bn",
		NumChannels: 2,
		Epsilon:     1e-5,
		HasScale:    true,
		HasBias:     true,
		Mean:        []float32{1, -2},
		Variance:    []float32{4, 0.25},
		Scale:       []float32{2, 3},
		Bias:        []float32{0.5, -0.5},
	}
	scale, bias := b.MergedParams()
	require.Len(t, scale, 2)
	require.Len(t, bias, 2)
	// out = (in - mean) / sqrt(var+eps) * scale + bias
	for c, in := range []float32{3.7, -1.2} {
		want := (in-b.Mean[c])/math32.Sqrt(b.Variance[c]+b.Epsilon)*b.Scale[c] + b.Bias[c]
		got := in*scale[c] + bias[c]
		assert.InDelta(t, want, got, 1e-5)
	}

	b.HasScale = false
	b.Scale = nil
	scale, bias = b.MergedParams()
	for c, in := range []float32{3.7, -1.2} {
		want := (in-b.Mean[c])/math32.Sqrt(b.Variance[c]+b.Epsilon) + b.Bias[c]
		got := in*scale[c] + bias[c]
		assert.InDelta(t, want, got, 1e-5)
	}
}

func TestVersionFeatureTables(t *testing.T) {
	assert.Equal(t, 22, NumSpatialFeatures(3))
	assert.Equal(t, 22, NumSpatialFeatures(14))
	assert.Equal(t, 14, NumGlobalFeatures(3))
	assert.Equal(t, 19, NumGlobalFeatures(7))
	assert.Equal(t, 1, NumScoreValueChannels(3))
	assert.Equal(t, 2, NumScoreValueChannels(4))
	assert.Equal(t, 4, NumScoreValueChannels(8))
	assert.Equal(t, 6, NumScoreValueChannels(9))
}

func TestEnumRoundTrips(t *testing.T) {
	for _, a := range []ActivationKind{ActivationIdentity, ActivationReLU, ActivationMish} {
		got, err := ParseActivation(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseActivation("sigmoid")
	require.Error(t, err)

	for _, k := range []BlockKind{BlockOrdinary, BlockGlobalPooling} {
		got, err := ParseBlockKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err = ParseBlockKind("bottleneck")
	require.Error(t, err)
}
