package neuralnet_test

import (
	"testing"

	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeStringAndParse(t *testing.T) {
	for _, mode := range []neuralnet.Mode{neuralnet.ModeAuto, neuralnet.ModeOff, neuralnet.ModeOn} {
		parsed, err := neuralnet.ParseMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}

	parsed, err := neuralnet.ParseMode("true")
	require.NoError(t, err)
	assert.Equal(t, neuralnet.ModeOn, parsed)
	parsed, err = neuralnet.ParseMode("FALSE")
	require.NoError(t, err)
	assert.Equal(t, neuralnet.ModeOff, parsed)
	parsed, err = neuralnet.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, neuralnet.ModeAuto, parsed)

	_, err = neuralnet.ParseMode("maybe")
	require.Error(t, err)
}

func TestModeResolve(t *testing.T) {
	assert.True(t, neuralnet.ModeOn.Resolve(false))
	assert.False(t, neuralnet.ModeOff.Resolve(true))
	assert.True(t, neuralnet.ModeAuto.Resolve(true))
	assert.False(t, neuralnet.ModeAuto.Resolve(false))
}
