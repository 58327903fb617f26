// Package neuralnet defines the interface a batched neural net evaluation
// backend must implement, and the registry the rest of the engine selects
// backends through.
//
// A backend wraps one way of running the model (pure Go CPU evaluation, a
// GPU library, a stub for tests) behind a uniform surface: the engine loads a
// model descriptor, creates a compute context for a board size, opens
// per-device handles, fills input buffers and asks for batches of raw
// outputs. Every backend must produce the same numbers for the same inputs,
// up to floating point tolerance; the conformance package checks exactly
// that.
//
// Construction-time problems (missing files, bad configs, impossible sizes)
// are returned as errors. Once a handle exists, evaluation is expected to
// work: contract violations and device failures panic with a stack trace, in
// the style of github.com/gomlx/exceptions.
package neuralnet

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/hwata3535/KataGo/neuralnet/desc"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
)

// Device identifies one compute device of a backend, e.g. "cpu:0". The zero
// value means "let the context pick".
type Device struct {
	// Backend is the name the owning backend registered under.
	Backend string
	// Index is the 0-based device ordinal within that backend.
	Index int
}

// String formats the device as "backend:index".
func (d Device) String() string {
	if d.Backend == "" {
		return "unset"
	}
	return d.Backend + ":" + strconv.Itoa(d.Index)
}

// IsSet reports whether the device names a concrete device.
func (d Device) IsSet() bool { return d.Backend != "" }

// ContextConfig configures Backend.NewContext.
type ContextConfig struct {
	// Devices are the devices the context may open handles on. Empty means
	// all devices of the backend.
	Devices []Device

	// XLen, YLen fix the spatial extent all evaluations through this context
	// use. Both must be in [2, model's MaxBoardLen]; boards smaller than the
	// extent are masked, larger ones are not representable.
	XLen, YLen int

	// TunerFile names a cache of per-device tuning results. Empty disables
	// the cache; backends that tune then re-tune on every context.
	TunerFile string

	// RetunePerBoardSize re-runs tuning for this context's exact extent
	// instead of reusing results recorded for the common 19x19 case.
	RetunePerBoardSize bool

	// FP16 requests half precision arithmetic: ModeAuto lets each device
	// decide, ModeOn forces it, ModeOff forbids it.
	FP16 Mode

	// NHWC requests channels-last device layouts, with the same tri-state
	// semantics as FP16.
	NHWC Mode
}

// HandleConfig configures Context.NewHandle.
type HandleConfig struct {
	// Device selects which of the context's devices the handle computes on.
	// The zero value picks the context's first device.
	Device Device

	// MaxBatchSize is the largest batch EvalBatch accepts. Must be positive.
	MaxBatchSize int

	// RequireExactLen promises every board in every batch fills the whole
	// spatial extent, letting backends skip masking entirely.
	RequireExactLen bool

	// InputsNHWC declares the layout of the spatial rows the caller fills
	// into Buffers: false is channels-first [C][H][W], true channels-last
	// [H][W][C].
	InputsNHWC bool
}

// Backend is one way of evaluating models. Implementations register
// themselves with Register, usually from an init function.
type Backend interface {
	// Name returns the short name the backend registered under, e.g. "cpu".
	Name() string

	// Description is a longer human-readable description, used by tooling.
	Description() string

	// Devices lists the compute devices this backend can evaluate on, in
	// stable order. There is always at least one.
	Devices() []Device

	// NewContext prepares evaluation at a fixed spatial extent on the given
	// devices, running any per-device setup and tuning. Contexts are safe
	// for concurrent use and must be finalized after their handles.
	NewContext(model *desc.Model, cfg ContextConfig) (Context, error)

	// LayerTester evaluates single layers for conformance testing. Backends
	// that cannot isolate layers report unsupported instead.
	LayerTester

	// Finalize releases backend-wide resources. The backend is invalid
	// afterwards.
	Finalize()
}

// Context is evaluation state shared by all handles of one model at one
// spatial extent.
type Context interface {
	// Backend returns the owning backend.
	Backend() Backend

	// Model returns the descriptor this context was built for.
	Model() *desc.Model

	// XLen and YLen return the spatial extent.
	XLen() int
	YLen() int

	// Devices returns the devices this context prepared, in stable order.
	Devices() []Device

	// FP16 and NHWC return the requested modes, as given in ContextConfig.
	// Handles report the per-device resolution.
	FP16() Mode
	NHWC() Mode

	// NewHandle opens an evaluation handle on one device. Handles are not
	// safe for concurrent EvalBatch calls; open one handle per evaluating
	// goroutine instead.
	NewHandle(cfg HandleConfig) (Handle, error)

	// Finalize releases the context after all its handles were finalized.
	Finalize()
}

// Handle evaluates batches on one device.
type Handle interface {
	// Model returns the descriptor being evaluated.
	Model() *desc.Model

	// Device returns the device this handle computes on.
	Device() Device

	// MaxBatchSize returns the configured batch capacity.
	MaxBatchSize() int

	// RequireExactLen reports whether batches promise full-extent boards.
	RequireExactLen() bool

	// InputsNHWC reports the declared layout of client-filled spatial rows.
	InputsNHWC() bool

	// UsesFP16 reports whether this handle's device resolved to half
	// precision arithmetic.
	UsesFP16() bool

	// EvalBatch evaluates rows [0, numFilled) of buffers and writes one
	// Output per row. Outputs are raw logits; slices are resized as needed.
	// numFilled must be in [1, MaxBatchSize] and len(outputs) >= numFilled
	// with no nil entries; violations panic.
	EvalBatch(buffers *Buffers, numFilled int, outputs []*Output)

	// Finalize releases the handle.
	Finalize()
}

// LayerTestOptions fixes the shape of a single-layer conformance evaluation.
type LayerTestOptions struct {
	BatchSize  int
	XLen, YLen int
	// FP16 asks the backend to run the layer the way it would under half
	// precision; NHWC to run it under channels-last layout. Results must
	// still come back as float32 NCHW.
	FP16 bool
	NHWC bool
}

// LayerTester evaluates isolated layers so different backends can be checked
// against each other. Inputs and outputs are batch-major NCHW float32; mask
// is one channel per board. The boolean reports support: a false means the
// backend cannot isolate that layer kind and the caller should skip it.
type LayerTester interface {
	TestConv(layer *desc.ConvLayer, opts LayerTestOptions, input []float32) ([]float32, bool)
	TestBatchNorm(layer *desc.BatchNormLayer, opts LayerTestOptions, input, mask []float32) ([]float32, bool)
	TestResidualBlock(block *desc.ResidualBlock, activation desc.ActivationKind, opts LayerTestOptions, input, mask []float32) ([]float32, bool)
	TestGlobalPoolingResidualBlock(block *desc.GlobalPoolingResidualBlock, activation desc.ActivationKind, opts LayerTestOptions, input, mask []float32) ([]float32, bool)
	TestSymmetry(opts LayerTestOptions, channels int, flipY, flipX, transpose bool, input []float32) ([]float32, bool)
}

// Constructor builds a backend from a backend-specific config string,
// possibly empty.
type Constructor func(config string) (Backend, error)

var (
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register makes a backend constructor selectable by name. Call it from the
// backend package's init; registering the same name twice keeps the last.
func Register(name string, constructor Constructor) {
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the registered backend names, sorted.
func List() []string {
	names := maps.Keys(registeredConstructors)
	sort.Strings(names)
	return names
}

// DefaultConfig is used by New when the environment variable is unset. Its
// format is the same as NewWithConfig's.
var DefaultConfig string

// ConfigEnvVar is the environment variable New reads the backend
// configuration from, formatted as "<backend_name>:<backend_config>".
const ConfigEnvVar = "KATAGO_BACKEND"

// New returns a backend using the default configuration: the ConfigEnvVar
// environment variable if set, else DefaultConfig if set, else the first
// registered backend with an empty config.
func New() (Backend, error) {
	if config, found := os.LookupEnv(ConfigEnvVar); found {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// MustNew is New, panicking on error. Meant for tests and tools.
func MustNew() Backend {
	backend, err := New()
	if err != nil {
		panic(err)
	}
	return backend
}

// NewWithConfig builds a backend from "<backend_name>:<backend_config>".
// A config without a colon selects a backend by name with an empty config;
// an empty config selects the first registered backend.
func NewWithConfig(config string) (Backend, error) {
	mustBeInitialized()
	if len(registeredConstructors) == 0 {
		return nil, errors.New(`no backends registered -- import one, e.g. _ "github.com/hwata3535/KataGo/neuralnet/cpu"`)
	}
	name := firstRegistered
	backendConfig := ""
	if config != "" {
		name = config
		if idx := strings.Index(config, ":"); idx != -1 {
			name = config[:idx]
			backendConfig = config[idx+1:]
		}
	}
	constructor, found := registeredConstructors[name]
	if !found {
		return nil, errors.Errorf("no backend %q registered (have %s) for configuration %q",
			name, strings.Join(List(), ", "), config)
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating backend %q", name)
	}
	return backend, nil
}
