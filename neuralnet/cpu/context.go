package cpu

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/hwata3535/KataGo/neuralnet/desc"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// preparedModel is the descriptor reshaped for evaluation: batch norms
// folded to per-channel scale and bias, and under emulated half precision
// every weight rounded through float16 once, up front.
type preparedModel struct {
	version    int
	activation desc.ActivationKind

	numSpatial int
	numGlobal  int

	trunkChannels   int
	midChannels     int
	regularChannels int
	gpoolChannels   int

	initialConv   pConv
	initialMatMul pMat
	blocks        []pBlock
	tipBN         pBN

	p1Conv      pConv
	g1Conv      pConv
	g1BN        pBN
	gpoolToBias pMat
	p1BN        pBN
	p2Conv      pConv
	gpoolToPass pMat

	v1Conv        pConv
	v1BN          pBN
	v2Mul         pMat
	v2Bias        []float32
	v3Mul         pMat
	v3Bias        []float32
	sv3Mul        pMat
	sv3Bias       []float32
	ownershipConv pConv

	numScoreValues int

	// maxPlaneChannels bounds the channel count of any board-shaped
	// intermediate; maxPooledLen bounds any pooled vector.
	maxPlaneChannels int
	maxPooledLen     int
}

type pConv struct {
	w            []float32
	inC, outC    int
	convY, convX int
	dilY, dilX   int
}

type pBN struct {
	scale, bias []float32
	channels    int
}

type pMat struct {
	w       []float32
	in, out int
}

type pBlock struct {
	kind desc.BlockKind

	preBN   pBN
	regular pConv
	midBN   pBN
	final   pConv

	// Global pooling branch, only for desc.BlockGlobalPooling.
	gpoolConv   pConv
	gpoolBN     pBN
	gpoolToBias pMat
}

func prepConv(c *desc.ConvLayer, fp16 bool) pConv {
	w := c.Weights
	if fp16 {
		w = roundedHalfCopy(w)
	}
	return pConv{
		w:   w,
		inC: c.InChannels, outC: c.OutChannels,
		convY: c.ConvYSize, convX: c.ConvXSize,
		dilY: c.DilationY, dilX: c.DilationX,
	}
}

func prepBN(b *desc.BatchNormLayer, fp16 bool) pBN {
	scale, bias := b.MergedParams()
	if fp16 {
		roundHalf(scale)
		roundHalf(bias)
	}
	return pBN{scale: scale, bias: bias, channels: b.NumChannels}
}

func prepMat(m *desc.MatMulLayer, fp16 bool) pMat {
	w := m.Weights
	if fp16 {
		w = roundedHalfCopy(w)
	}
	return pMat{w: w, in: m.InChannels, out: m.OutChannels}
}

func prepBias(m *desc.MatBiasLayer, fp16 bool) []float32 {
	if fp16 {
		return roundedHalfCopy(m.Weights)
	}
	return m.Weights
}

func prepareModel(m *desc.Model, fp16 bool) *preparedModel {
	t := &m.Trunk
	p := &m.PolicyHead
	v := &m.ValueHead
	pm := &preparedModel{
		version:    m.Version,
		activation: m.Activation,
		numSpatial: m.NumInputChannels,
		numGlobal:  m.NumInputGlobalChannels,

		trunkChannels:   t.TrunkNumChannels,
		midChannels:     t.MidNumChannels,
		regularChannels: t.RegularNumChannels,
		gpoolChannels:   t.GPoolNumChannels,

		initialConv:   prepConv(&t.InitialConv, fp16),
		initialMatMul: prepMat(&t.InitialMatMul, fp16),
		tipBN:         prepBN(&t.TipBN, fp16),

		p1Conv:      prepConv(&p.P1Conv, fp16),
		g1Conv:      prepConv(&p.G1Conv, fp16),
		g1BN:        prepBN(&p.G1BN, fp16),
		gpoolToBias: prepMat(&p.GPoolToBiasMul, fp16),
		p1BN:        prepBN(&p.P1BN, fp16),
		p2Conv:      prepConv(&p.P2Conv, fp16),
		gpoolToPass: prepMat(&p.GPoolToPassMul, fp16),

		v1Conv:        prepConv(&v.V1Conv, fp16),
		v1BN:          prepBN(&v.V1BN, fp16),
		v2Mul:         prepMat(&v.V2Mul, fp16),
		v2Bias:        prepBias(&v.V2Bias, fp16),
		v3Mul:         prepMat(&v.V3Mul, fp16),
		v3Bias:        prepBias(&v.V3Bias, fp16),
		sv3Mul:        prepMat(&v.SV3Mul, fp16),
		sv3Bias:       prepBias(&v.SV3Bias, fp16),
		ownershipConv: prepConv(&v.OwnershipConv, fp16),

		numScoreValues: m.NumScoreValueChannels,
	}
	for _, b := range t.Blocks {
		switch blk := b.(type) {
		case *desc.ResidualBlock:
			pm.blocks = append(pm.blocks, pBlock{
				kind:    desc.BlockOrdinary,
				preBN:   prepBN(&blk.PreBN, fp16),
				regular: prepConv(&blk.RegularConv, fp16),
				midBN:   prepBN(&blk.MidBN, fp16),
				final:   prepConv(&blk.FinalConv, fp16),
			})
		case *desc.GlobalPoolingResidualBlock:
			pm.blocks = append(pm.blocks, pBlock{
				kind:        desc.BlockGlobalPooling,
				preBN:       prepBN(&blk.PreBN, fp16),
				regular:     prepConv(&blk.RegularConv, fp16),
				midBN:       prepBN(&blk.MidBN, fp16),
				final:       prepConv(&blk.FinalConv, fp16),
				gpoolConv:   prepConv(&blk.GPoolConv, fp16),
				gpoolBN:     prepBN(&blk.GPoolBN, fp16),
				gpoolToBias: prepMat(&blk.GPoolToBiasMul, fp16),
			})
		}
	}

	pm.maxPlaneChannels = pm.numSpatial
	for _, c := range []int{
		pm.trunkChannels, pm.midChannels, pm.regularChannels, pm.gpoolChannels,
		pm.p1Conv.outC, pm.g1Conv.outC, pm.v1Conv.outC,
	} {
		pm.maxPlaneChannels = max(pm.maxPlaneChannels, c)
	}
	pm.maxPooledLen = 3 * max(pm.gpoolChannels, max(pm.g1Conv.outC, pm.v1Conv.outC))
	return pm
}

// maxPatchRows bounds the im2col patch matrix height across all
// convolutions of the model.
func (pm *preparedModel) maxPatchRows() int {
	rows := 0
	visit := func(c *pConv) {
		rows = max(rows, c.inC*c.convY*c.convX)
	}
	visit(&pm.initialConv)
	for i := range pm.blocks {
		b := &pm.blocks[i]
		visit(&b.regular)
		visit(&b.final)
		if b.kind == desc.BlockGlobalPooling {
			visit(&b.gpoolConv)
		}
	}
	visit(&pm.p1Conv)
	visit(&pm.g1Conv)
	visit(&pm.p2Conv)
	visit(&pm.v1Conv)
	visit(&pm.ownershipConv)
	return rows
}

// computeContext is this backend's neuralnet.Context: the prepared model
// plus per-device convolution algorithm choices.
type computeContext struct {
	backend *Backend
	model   *desc.Model

	xLen, yLen int
	devices    []neuralnet.Device
	fp16Mode   neuralnet.Mode
	nhwcMode   neuralnet.Mode
	fp16       bool

	prep  *preparedModel
	algos map[int]convAlgo

	liveHandles atomic.Int32
	finalized   atomic.Bool
}

var _ neuralnet.Context = (*computeContext)(nil)

// NewContext prepares evaluation at a fixed extent. Both half precision and
// channels-last resolve to off under ModeAuto: float32 NCHW is what the host
// actually computes, emulated FP16 exists for conformance against real half
// precision devices.
func (b *Backend) NewContext(model *desc.Model, cfg neuralnet.ContextConfig) (neuralnet.Context, error) {
	b.check()
	if model == nil {
		return nil, errors.New("cpu backend: nil model")
	}
	if cfg.XLen < 2 || cfg.XLen > model.MaxBoardLen || cfg.YLen < 2 || cfg.YLen > model.MaxBoardLen {
		return nil, errors.Errorf("cpu backend: extent %dx%d outside model %q range [2,%d]",
			cfg.XLen, cfg.YLen, model.Name, model.MaxBoardLen)
	}
	devices, err := b.resolveDevices(cfg.Devices)
	if err != nil {
		return nil, err
	}

	ctx := &computeContext{
		backend:  b,
		model:    model,
		xLen:     cfg.XLen,
		yLen:     cfg.YLen,
		devices:  devices,
		fp16Mode: cfg.FP16,
		nhwcMode: cfg.NHWC,
		fp16:     cfg.FP16.Resolve(false),
		algos:    make(map[int]convAlgo, len(devices)),
	}
	ctx.prep = prepareModel(model, ctx.fp16)

	tun, err := loadTuner(cfg.TunerFile)
	if err != nil {
		return nil, err
	}
	tuneX, tuneY := model.MaxBoardLen, model.MaxBoardLen
	if cfg.RetunePerBoardSize {
		tuneX, tuneY = cfg.XLen, cfg.YLen
	}
	var (
		group errgroup.Group
		mu    sync.Mutex
	)
	for _, dev := range devices {
		group.Go(func() error {
			key := tunerKey{
				Device: dev.Index,
				XLen:   tuneX, YLen: tuneY,
				TrunkChannels: model.TrunkChannels(),
				FP16:          ctx.fp16,
			}
			algo, ok := tun.lookup(key)
			if !ok {
				algo = measureConvAlgo(model.TrunkChannels(), tuneY, tuneX)
				tun.record(key, algo)
			}
			mu.Lock()
			ctx.algos[dev.Index] = algo
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := tun.save(); err != nil {
		klog.Warningf("cpu backend: %+v", err)
	}
	klog.V(1).Infof("cpu backend: context ready for model %q at %dx%d on %d device(s), fp16=%v",
		model.Name, cfg.XLen, cfg.YLen, len(devices), ctx.fp16)
	return ctx, nil
}

func (b *Backend) resolveDevices(requested []neuralnet.Device) ([]neuralnet.Device, error) {
	if len(requested) == 0 {
		return b.Devices(), nil
	}
	seen := make(map[int]bool, len(requested))
	devices := make([]neuralnet.Device, 0, len(requested))
	for _, dev := range requested {
		if dev.Backend != BackendName {
			return nil, errors.Errorf("cpu backend: device %s belongs to another backend", dev)
		}
		if dev.Index < 0 || dev.Index >= b.numDevices {
			return nil, errors.Errorf("cpu backend: no device %s, have %d device(s)", dev, b.numDevices)
		}
		if seen[dev.Index] {
			return nil, errors.Errorf("cpu backend: device %s requested twice", dev)
		}
		seen[dev.Index] = true
		devices = append(devices, dev)
	}
	return devices, nil
}

func (c *computeContext) Backend() neuralnet.Backend { return c.backend }
func (c *computeContext) Model() *desc.Model         { return c.model }
func (c *computeContext) XLen() int                  { return c.xLen }
func (c *computeContext) YLen() int                  { return c.yLen }
func (c *computeContext) FP16() neuralnet.Mode       { return c.fp16Mode }
func (c *computeContext) NHWC() neuralnet.Mode       { return c.nhwcMode }

func (c *computeContext) Devices() []neuralnet.Device {
	devices := make([]neuralnet.Device, len(c.devices))
	copy(devices, c.devices)
	return devices
}

// Finalize invalidates the context. All handles must be finalized first.
func (c *computeContext) Finalize() {
	if n := c.liveHandles.Load(); n != 0 {
		exceptions.Panicf("cpu backend: context finalized with %d live handle(s)", n)
	}
	c.finalized.Store(true)
}

func (c *computeContext) check() {
	if c.finalized.Load() {
		exceptions.Panicf("cpu backend: context used after Finalize")
	}
}
