package dummy_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/hwata3535/KataGo/internal/must"
	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
	"github.com/hwata3535/KataGo/neuralnet/dummy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

var backend neuralnet.Backend

func init() {
	klog.InitFlags(nil)
}

func setup() {
	neuralnet.Initialize()
	fmt.Printf("Available backends: %q\n", neuralnet.List())
	backend = must.M1(neuralnet.NewWithConfig("dummy:devices=2"))
	fmt.Printf("Backend: %s, %s\n", backend.Name(), backend.Description())
}

func teardown() {
	backend.Finalize()
	neuralnet.Cleanup()
}

func TestMain(m *testing.M) {
	setup()
	code := m.Run()
	teardown()
	os.Exit(code)
}

func newContext(t *testing.T, model *desc.Model, xLen, yLen int) neuralnet.Context {
	t.Helper()
	ctx, err := backend.NewContext(model, neuralnet.ContextConfig{XLen: xLen, YLen: yLen})
	require.NoError(t, err)
	return ctx
}

func TestDevices(t *testing.T) {
	devices := backend.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, neuralnet.Device{Backend: dummy.BackendName, Index: 0}, devices[0])
	assert.Equal(t, "dummy:1", devices[1].String())
}

func TestBadConfigs(t *testing.T) {
	_, err := neuralnet.NewWithConfig("dummy:devices=zero")
	require.Error(t, err)
	_, err = neuralnet.NewWithConfig("dummy:devices=-1")
	require.Error(t, err)
	_, err = neuralnet.NewWithConfig("dummy:color=blue")
	require.Error(t, err)
	_, err = neuralnet.NewWithConfig("no-such-backend:")
	require.Error(t, err)
}

func TestContextValidation(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1})

	_, err := backend.NewContext(model, neuralnet.ContextConfig{XLen: 1, YLen: 9})
	require.Error(t, err)
	_, err = backend.NewContext(model, neuralnet.ContextConfig{XLen: 9, YLen: model.MaxBoardLen + 1})
	require.Error(t, err)
	_, err = backend.NewContext(model, neuralnet.ContextConfig{
		XLen: 9, YLen: 9,
		Devices: []neuralnet.Device{{Backend: "cpu", Index: 0}},
	})
	require.Error(t, err)

	ctx := newContext(t, model, 9, 9)
	defer ctx.Finalize()
	assert.Equal(t, 9, ctx.XLen())
	assert.Equal(t, model, ctx.Model())
	assert.Len(t, ctx.Devices(), 2)
}

func TestHandleValidation(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1})
	ctx := newContext(t, model, 9, 9)
	defer ctx.Finalize()

	_, err := ctx.NewHandle(neuralnet.HandleConfig{MaxBatchSize: 0})
	require.Error(t, err)
	_, err = ctx.NewHandle(neuralnet.HandleConfig{
		MaxBatchSize: 1,
		Device:       neuralnet.Device{Backend: dummy.BackendName, Index: 7},
	})
	require.Error(t, err)

	h, err := ctx.NewHandle(neuralnet.HandleConfig{MaxBatchSize: 4})
	require.NoError(t, err)
	defer h.Finalize()
	assert.Equal(t, ctx.Devices()[0], h.Device())
	assert.Equal(t, 4, h.MaxBatchSize())
	assert.False(t, h.UsesFP16())
}

func fillRow(buffers *neuralnet.Buffers, n int, seed float32) {
	spatial := buffers.Spatial(n)
	for i := range spatial {
		spatial[i] = seed + float32(i%7)*0.25
	}
	global := buffers.Global(n)
	for i := range global {
		global[i] = seed - float32(i%5)*0.5
	}
}

func TestEvalBatchDeterministic(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1})
	ctx := newContext(t, model, 9, 9)
	defer ctx.Finalize()
	h := must.M1(ctx.NewHandle(neuralnet.HandleConfig{MaxBatchSize: 3}))
	defer h.Finalize()

	buffers := neuralnet.NewBuffers(model, 3, 9, 9)
	defer buffers.Finalize()
	for n := 0; n < 3; n++ {
		fillRow(buffers, n, float32(n))
	}

	outputs := make([]*neuralnet.Output, 3)
	for i := range outputs {
		outputs[i] = neuralnet.NewOutput(model, 9, 9)
	}
	h.EvalBatch(buffers, 3, outputs)

	require.Len(t, outputs[0].Policy, 9*9+1)
	require.Len(t, outputs[0].Value, model.NumValueChannels)
	require.Len(t, outputs[0].ScoreValues, model.NumScoreValueChannels)
	require.Len(t, outputs[0].Ownership, 9*9)

	// Same inputs, same outputs.
	again := []*neuralnet.Output{neuralnet.NewOutput(model, 9, 9)}
	h.EvalBatch(buffers, 1, again)
	assert.Equal(t, outputs[0].Policy, again[0].Policy)
	assert.Equal(t, outputs[0].Value, again[0].Value)

	// Different rows give different outputs.
	assert.NotEqual(t, outputs[0].Policy, outputs[1].Policy)

	// The symmetry is part of the input.
	buffers.SetSymmetry(true, false, false)
	h.EvalBatch(buffers, 1, again)
	assert.NotEqual(t, outputs[0].Policy, again[0].Policy)
}

func TestEvalBatchContractViolationsPanic(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1})
	ctx := newContext(t, model, 9, 9)
	defer ctx.Finalize()
	h := must.M1(ctx.NewHandle(neuralnet.HandleConfig{MaxBatchSize: 2}))
	defer h.Finalize()

	buffers := neuralnet.NewBuffers(model, 2, 9, 9)
	defer buffers.Finalize()
	outputs := []*neuralnet.Output{neuralnet.NewOutput(model, 9, 9), nil}

	assert.Panics(t, func() { h.EvalBatch(buffers, 0, outputs) })
	assert.Panics(t, func() { h.EvalBatch(buffers, 3, outputs) })
	assert.Panics(t, func() { h.EvalBatch(buffers, 2, outputs[:1]) })
	assert.Panics(t, func() { h.EvalBatch(buffers, 2, outputs) }) // nil entry

	wrongSize := neuralnet.NewBuffers(model, 2, 7, 7)
	defer wrongSize.Finalize()
	assert.Panics(t, func() { h.EvalBatch(wrongSize, 1, outputs[:1]) })
}

func TestLayerTesterUnsupported(t *testing.T) {
	model := desc.Random(desc.RandomOptions{Seed: 1})
	opts := neuralnet.LayerTestOptions{BatchSize: 1, XLen: 3, YLen: 3}
	conv := &model.Trunk.InitialConv
	input := make([]float32, conv.InChannels*3*3)

	out, ok := backend.TestConv(conv, opts, input)
	assert.False(t, ok)
	assert.Nil(t, out)
	_, ok = backend.TestSymmetry(opts, 1, true, false, false, input)
	assert.False(t, ok)
}
