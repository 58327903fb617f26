// Package dummy is a stub backend: no real neural net runs, outputs are
// deterministic pseudo-random functions of the inputs. It exists so engine
// plumbing, tooling and tests can run the full backend surface without any
// model math, and so backend-interchangeability can be exercised against
// something intentionally different from every real backend.
//
// Import it for the side effect of registration:
//
//	import _ "github.com/hwata3535/KataGo/neuralnet/dummy"
package dummy

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName is the name this backend registers under.
const BackendName = "dummy"

func init() {
	neuralnet.Register(BackendName, New)
}

type backend struct {
	numDevices int
	finalized  bool
}

// New builds a dummy backend. The config accepts "devices=<n>" to pretend
// there are n devices; the default is 1.
func New(config string) (neuralnet.Backend, error) {
	b := &backend{numDevices: 1}
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "devices":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return nil, errors.Errorf("dummy backend: bad devices count %q", value)
			}
			b.numDevices = n
		default:
			return nil, errors.Errorf("dummy backend: unknown config key %q", key)
		}
	}
	return b, nil
}

func (b *backend) Name() string        { return BackendName }
func (b *backend) Description() string { return "deterministic stub, no real evaluation" }

func (b *backend) Devices() []neuralnet.Device {
	b.check()
	devices := make([]neuralnet.Device, b.numDevices)
	for i := range devices {
		devices[i] = neuralnet.Device{Backend: BackendName, Index: i}
	}
	return devices
}

func (b *backend) Finalize() { b.finalized = true }

func (b *backend) check() {
	if b.finalized {
		exceptions.Panicf("dummy backend used after Finalize")
	}
}

func (b *backend) NewContext(model *desc.Model, cfg neuralnet.ContextConfig) (neuralnet.Context, error) {
	b.check()
	if err := model.Validate(); err != nil {
		return nil, err
	}
	if cfg.XLen < 2 || cfg.XLen > model.MaxBoardLen || cfg.YLen < 2 || cfg.YLen > model.MaxBoardLen {
		return nil, errors.Errorf("extent %dx%d outside model %q range [2,%d]",
			cfg.XLen, cfg.YLen, model.Name, model.MaxBoardLen)
	}
	devices := cfg.Devices
	if len(devices) == 0 {
		devices = b.Devices()
	}
	for _, d := range devices {
		if d.Backend != BackendName || d.Index < 0 || d.Index >= b.numDevices {
			return nil, errors.Errorf("device %s does not belong to this backend", d)
		}
	}
	klog.V(1).Infof("dummy: context for model %q at %dx%d on %d device(s)",
		model.Name, cfg.XLen, cfg.YLen, len(devices))
	return &context{backend: b, model: model, cfg: cfg, devices: devices}, nil
}

type context struct {
	backend   *backend
	model     *desc.Model
	cfg       neuralnet.ContextConfig
	devices   []neuralnet.Device
	finalized bool
}

func (c *context) Backend() neuralnet.Backend  { return c.backend }
func (c *context) Model() *desc.Model          { return c.model }
func (c *context) XLen() int                   { return c.cfg.XLen }
func (c *context) YLen() int                   { return c.cfg.YLen }
func (c *context) Devices() []neuralnet.Device { return c.devices }
func (c *context) FP16() neuralnet.Mode        { return c.cfg.FP16 }
func (c *context) NHWC() neuralnet.Mode        { return c.cfg.NHWC }
func (c *context) Finalize()                   { c.finalized = true }

func (c *context) NewHandle(cfg neuralnet.HandleConfig) (neuralnet.Handle, error) {
	if c.finalized {
		exceptions.Panicf("dummy context used after Finalize")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, errors.Errorf("maxBatchSize %d must be positive", cfg.MaxBatchSize)
	}
	device := cfg.Device
	if !device.IsSet() {
		device = c.devices[0]
	}
	found := false
	for _, d := range c.devices {
		if d == device {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.Errorf("device %s is not part of this context", device)
	}
	return &handle{context: c, cfg: cfg, device: device}, nil
}

type handle struct {
	context   *context
	cfg       neuralnet.HandleConfig
	device    neuralnet.Device
	finalized bool
}

func (h *handle) Model() *desc.Model       { return h.context.model }
func (h *handle) Device() neuralnet.Device { return h.device }
func (h *handle) MaxBatchSize() int        { return h.cfg.MaxBatchSize }
func (h *handle) RequireExactLen() bool    { return h.cfg.RequireExactLen }
func (h *handle) InputsNHWC() bool         { return h.cfg.InputsNHWC }
func (h *handle) UsesFP16() bool           { return h.context.cfg.FP16 == neuralnet.ModeOn }
func (h *handle) Finalize()                { h.finalized = true }

func (h *handle) EvalBatch(buffers *neuralnet.Buffers, numFilled int, outputs []*neuralnet.Output) {
	if h.finalized {
		exceptions.Panicf("dummy handle used after Finalize")
	}
	if numFilled < 1 || numFilled > h.cfg.MaxBatchSize {
		exceptions.Panicf("numFilled %d outside [1,%d]", numFilled, h.cfg.MaxBatchSize)
	}
	if len(outputs) < numFilled {
		exceptions.Panicf("%d outputs for %d filled rows", len(outputs), numFilled)
	}
	model := h.context.model
	xLen, yLen := h.context.cfg.XLen, h.context.cfg.YLen
	if buffers.XLen() != xLen || buffers.YLen() != yLen {
		exceptions.Panicf("buffers extent %dx%d does not match context %dx%d",
			buffers.XLen(), buffers.YLen(), xLen, yLen)
	}
	for i := 0; i < numFilled; i++ {
		out := outputs[i]
		if out == nil {
			exceptions.Panicf("output %d is nil", i)
		}
		out.EnsureShape(model, xLen, yLen)
		rng := rand.New(rand.NewSource(rowSeed(buffers, i)))
		fill := func(s []float32) {
			for j := range s {
				s[j] = rng.Float32()*2 - 1
			}
		}
		fill(out.Policy)
		fill(out.Value)
		fill(out.ScoreValues)
		fill(out.Ownership)
	}
}

// rowSeed hashes one input row plus the batch symmetry, so outputs are
// deterministic in everything an evaluation depends on and nothing else.
func rowSeed(buffers *neuralnet.Buffers, n int) int64 {
	hash := fnv.New64a()
	var scratch [4]byte
	for _, v := range buffers.Spatial(n) {
		binary.LittleEndian.PutUint32(scratch[:], math32.Float32bits(v))
		hash.Write(scratch[:])
	}
	for _, v := range buffers.Global(n) {
		binary.LittleEndian.PutUint32(scratch[:], math32.Float32bits(v))
		hash.Write(scratch[:])
	}
	flipY, flipX, transpose := buffers.Symmetry()
	sym := byte(0)
	if flipY {
		sym |= 1
	}
	if flipX {
		sym |= 2
	}
	if transpose {
		sym |= 4
	}
	hash.Write([]byte{sym})
	return int64(hash.Sum64())
}

// The dummy backend cannot isolate layers; every tester reports unsupported.

func (b *backend) TestConv(*desc.ConvLayer, neuralnet.LayerTestOptions, []float32) ([]float32, bool) {
	return nil, false
}

func (b *backend) TestBatchNorm(*desc.BatchNormLayer, neuralnet.LayerTestOptions, []float32, []float32) ([]float32, bool) {
	return nil, false
}

func (b *backend) TestResidualBlock(*desc.ResidualBlock, desc.ActivationKind, neuralnet.LayerTestOptions, []float32, []float32) ([]float32, bool) {
	return nil, false
}

func (b *backend) TestGlobalPoolingResidualBlock(*desc.GlobalPoolingResidualBlock, desc.ActivationKind, neuralnet.LayerTestOptions, []float32, []float32) ([]float32, bool) {
	return nil, false
}

func (b *backend) TestSymmetry(neuralnet.LayerTestOptions, int, bool, bool, bool, []float32) ([]float32, bool) {
	return nil, false
}
