package neuralnet_test

import (
	"testing"

	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
	"github.com/stretchr/testify/assert"
)

func TestNewOutputSizes(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1, Version: 8})
	out := neuralnet.NewOutput(model, 19, 19)
	assert.Len(t, out.Policy, 19*19+1)
	assert.Len(t, out.Value, 3)
	assert.Len(t, out.ScoreValues, desc.NumScoreValueChannels(8))
	assert.Len(t, out.Ownership, 19*19)

	out.Policy[19*19] = 1.5
	assert.Equal(t, float32(1.5), out.PassLogit())
}

func TestEnsureShape(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1})

	var out neuralnet.Output
	out.EnsureShape(model, 9, 9)
	assert.Len(t, out.Policy, 9*9+1)
	assert.Len(t, out.Ownership, 9*9)

	// Shrinking reuses the backing array.
	big := neuralnet.NewOutput(model, 19, 19)
	backing := &big.Policy[0]
	big.EnsureShape(model, 9, 9)
	assert.Len(t, big.Policy, 9*9+1)
	assert.Equal(t, backing, &big.Policy[0])
}
