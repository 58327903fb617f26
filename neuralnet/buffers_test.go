package neuralnet_test

import (
	"testing"

	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffersRowViews(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1})
	b := neuralnet.NewBuffers(model, 4, 9, 7)
	defer b.Finalize()

	assert.Equal(t, 4, b.MaxBatchSize())
	assert.Equal(t, 9, b.XLen())
	assert.Equal(t, 7, b.YLen())
	assert.Equal(t, model.NumInputChannels*9*7, b.SpatialLen())
	assert.Equal(t, model.NumInputGlobalChannels, b.GlobalLen())

	row0 := b.Spatial(0)
	row1 := b.Spatial(1)
	require.Len(t, row0, b.SpatialLen())
	row0[0] = 42
	assert.Zero(t, row1[0])

	// Views are capacity-bounded: appending cannot bleed into row 1.
	grown := append(row0, 7)
	grown[0] = 1
	assert.Equal(t, float32(42), b.Spatial(0)[0])
	assert.Zero(t, b.Spatial(1)[0])

	g := b.Global(3)
	require.Len(t, g, b.GlobalLen())
	g[b.GlobalLen()-1] = -1
	assert.Equal(t, float32(-1), b.Global(3)[b.GlobalLen()-1])
}

func TestBuffersBounds(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1})
	b := neuralnet.NewBuffers(model, 2, 9, 9)
	defer b.Finalize()

	assert.Panics(t, func() { b.Spatial(-1) })
	assert.Panics(t, func() { b.Spatial(2) })
	assert.Panics(t, func() { b.Global(2) })
}

func TestBuffersCreationValidation(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1})
	assert.Panics(t, func() { neuralnet.NewBuffers(model, 0, 9, 9) })
	assert.Panics(t, func() { neuralnet.NewBuffers(model, 1, 1, 9) })
	assert.Panics(t, func() { neuralnet.NewBuffers(model, 1, 9, model.MaxBoardLen+1) })
}

func TestBuffersSymmetry(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1})
	b := neuralnet.NewBuffers(model, 1, 9, 9)
	defer b.Finalize()

	flipY, flipX, transpose := b.Symmetry()
	assert.False(t, flipY || flipX || transpose)

	b.SetSymmetry(true, false, true)
	flipY, flipX, transpose = b.Symmetry()
	assert.True(t, flipY)
	assert.False(t, flipX)
	assert.True(t, transpose)

	rect := neuralnet.NewBuffers(model, 1, 9, 7)
	defer rect.Finalize()
	rect.SetSymmetry(true, true, false)
	assert.Panics(t, func() { rect.SetSymmetry(false, false, true) })
}

func TestBuffersUseAfterFinalizePanics(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1})
	b := neuralnet.NewBuffers(model, 1, 9, 9)
	b.Finalize()
	assert.Panics(t, func() { b.Spatial(0) })
	assert.Panics(t, func() { b.Global(0) })
}
