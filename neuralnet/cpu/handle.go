package cpu

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
	"github.com/pkg/errors"
)

// computeHandle evaluates batches on one virtual device. Each batch row owns
// a rowScratch, so rows evaluate in parallel without sharing state and the
// result never depends on scheduling.
type computeHandle struct {
	ctx  *computeContext
	prep *preparedModel

	device neuralnet.Device
	algo   convAlgo

	maxBatchSize    int
	requireExactLen bool
	inputsNHWC      bool
	fp16            bool

	xLen, yLen, area int

	scratch []*rowScratch

	evaluating atomic.Bool
	finalized  atomic.Bool
}

var _ neuralnet.Handle = (*computeHandle)(nil)

// rowScratch holds every intermediate one position needs: the ingested
// input, the trunk accumulator and enough plane buffers that no step reads
// and writes the same memory.
type rowScratch struct {
	input  []float32 // numSpatial channels, NCHW after ingest
	global []float32

	mask    []float32 // nil when the handle promises full boards
	maskSum float32

	trunk  []float32
	pre    []float32
	mid    []float32
	gplane []float32
	pooled []float32
	bias   []float32
	head   []float32

	policyPlane []float32
	ownerPlane  []float32

	patch []float32 // im2col columns, nil under the direct algorithm
}

func newRowScratch(pm *preparedModel, yLen, xLen int, exactLen bool, algo convAlgo) *rowScratch {
	area := yLen * xLen
	s := &rowScratch{
		input:       make([]float32, pm.numSpatial*area),
		global:      make([]float32, pm.numGlobal),
		trunk:       make([]float32, pm.trunkChannels*area),
		pre:         make([]float32, pm.maxPlaneChannels*area),
		mid:         make([]float32, pm.maxPlaneChannels*area),
		gplane:      make([]float32, pm.maxPlaneChannels*area),
		pooled:      make([]float32, pm.maxPooledLen),
		bias:        make([]float32, pm.maxPlaneChannels),
		head:        make([]float32, pm.v2Mul.out),
		policyPlane: make([]float32, area),
		ownerPlane:  make([]float32, area),
	}
	if !exactLen {
		s.mask = make([]float32, area)
	} else {
		s.maskSum = float32(area)
	}
	if algo == algoIm2Col {
		s.patch = make([]float32, pm.maxPatchRows()*area)
	}
	return s
}

// NewHandle opens an evaluation handle on one of the context's devices.
func (c *computeContext) NewHandle(cfg neuralnet.HandleConfig) (neuralnet.Handle, error) {
	c.check()
	if cfg.MaxBatchSize <= 0 {
		return nil, errors.Errorf("cpu backend: maxBatchSize %d must be positive", cfg.MaxBatchSize)
	}
	device := cfg.Device
	if !device.IsSet() {
		device = c.devices[0]
	}
	prepared := false
	for _, dev := range c.devices {
		if dev == device {
			prepared = true
			break
		}
	}
	if !prepared {
		return nil, errors.Errorf("cpu backend: device %s was not prepared by this context", device)
	}

	h := &computeHandle{
		ctx:             c,
		prep:            c.prep,
		device:          device,
		algo:            c.algos[device.Index],
		maxBatchSize:    cfg.MaxBatchSize,
		requireExactLen: cfg.RequireExactLen,
		inputsNHWC:      cfg.InputsNHWC,
		fp16:            c.fp16,
		xLen:            c.xLen,
		yLen:            c.yLen,
		area:            c.xLen * c.yLen,
	}
	h.scratch = make([]*rowScratch, cfg.MaxBatchSize)
	for i := range h.scratch {
		h.scratch[i] = newRowScratch(c.prep, c.yLen, c.xLen, cfg.RequireExactLen, h.algo)
	}
	c.liveHandles.Add(1)
	return h, nil
}

func (h *computeHandle) Model() *desc.Model       { return h.ctx.model }
func (h *computeHandle) Device() neuralnet.Device { return h.device }
func (h *computeHandle) MaxBatchSize() int        { return h.maxBatchSize }
func (h *computeHandle) RequireExactLen() bool    { return h.requireExactLen }
func (h *computeHandle) InputsNHWC() bool         { return h.inputsNHWC }
func (h *computeHandle) UsesFP16() bool           { return h.fp16 }

// EvalBatch evaluates rows [0, numFilled) of buffers. Rows run in parallel
// through the backend's worker pool; each row writes only its own output, so
// results are deterministic for given inputs.
func (h *computeHandle) EvalBatch(buffers *neuralnet.Buffers, numFilled int, outputs []*neuralnet.Output) {
	h.check()
	if !h.evaluating.CompareAndSwap(false, true) {
		exceptions.Panicf("cpu backend: concurrent EvalBatch on one handle")
	}
	defer h.evaluating.Store(false)

	if buffers == nil {
		exceptions.Panicf("cpu backend: EvalBatch with nil buffers")
	}
	if numFilled < 1 || numFilled > h.maxBatchSize {
		exceptions.Panicf("cpu backend: numFilled %d outside [1,%d]", numFilled, h.maxBatchSize)
	}
	if numFilled > buffers.MaxBatchSize() {
		exceptions.Panicf("cpu backend: numFilled %d exceeds buffers capacity %d",
			numFilled, buffers.MaxBatchSize())
	}
	if buffers.XLen() != h.xLen || buffers.YLen() != h.yLen {
		exceptions.Panicf("cpu backend: buffers extent %dx%d, handle wants %dx%d",
			buffers.XLen(), buffers.YLen(), h.xLen, h.yLen)
	}
	if buffers.SpatialLen() != h.prep.numSpatial*h.area || buffers.GlobalLen() != h.prep.numGlobal {
		exceptions.Panicf("cpu backend: buffers row sizes %d/%d do not match the model's %d/%d",
			buffers.SpatialLen(), buffers.GlobalLen(), h.prep.numSpatial*h.area, h.prep.numGlobal)
	}
	if len(outputs) < numFilled {
		exceptions.Panicf("cpu backend: %d outputs for %d filled rows", len(outputs), numFilled)
	}
	for i := 0; i < numFilled; i++ {
		if outputs[i] == nil {
			exceptions.Panicf("cpu backend: outputs[%d] is nil", i)
		}
	}
	flipY, flipX, transpose := buffers.Symmetry()

	h.ctx.backend.workers.Parallelize(numFilled, func(i int) {
		s := h.scratch[i]
		out := outputs[i]
		out.EnsureShape(h.ctx.model, h.xLen, h.yLen)
		h.ingest(s, buffers.Spatial(i), buffers.Global(i), flipY, flipX, transpose)
		h.evalRow(s, out, flipY, flipX, transpose)
	})
}

// Finalize releases the handle. Safe to call more than once.
func (h *computeHandle) Finalize() {
	if h.finalized.CompareAndSwap(false, true) {
		h.scratch = nil
		h.ctx.liveHandles.Add(-1)
	}
}

func (h *computeHandle) check() {
	if h.finalized.Load() {
		exceptions.Panicf("cpu backend: handle used after Finalize")
	}
	h.ctx.check()
}
