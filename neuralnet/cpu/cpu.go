// Package cpu is the pure Go reference backend: evaluation runs on the host
// CPU with float32 arithmetic (optionally rounded through float16 to emulate
// half precision devices), parallelized over batch positions through a
// bounded worker pool.
//
// It is the slowest backend and the standard every other backend is checked
// against: its numbers define correct.
//
// Import it for the side effect of registration:
//
//	import _ "github.com/hwata3535/KataGo/neuralnet/cpu"
package cpu

import (
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/hwata3535/KataGo/internal/workerspool"
	"github.com/hwata3535/KataGo/neuralnet"
	"github.com/pkg/errors"
)

// BackendName is the name this backend registers under.
const BackendName = "cpu"

func init() {
	neuralnet.Register(BackendName, New)
}

// Backend evaluates on the host CPU. Its "devices" are virtual: all of them
// share the host cores through one worker pool, but each carries its own
// tuning state, which keeps device plumbing honest in tests and tools.
type Backend struct {
	numDevices int
	workers    *workerspool.Pool
	finalized  bool
}

var _ neuralnet.Backend = (*Backend)(nil)

// New builds a cpu backend from a config string of comma-separated key=value
// pairs:
//
//	threads=<n>  worker pool parallelism target; 0 (default) means NumCPU,
//	             -1 unlimited, 1 single-threaded deterministic scheduling.
//	devices=<n>  number of virtual devices, default 1.
func New(config string) (neuralnet.Backend, error) {
	b := &Backend{numDevices: 1}
	threads := 0
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "threads":
			n, err := strconv.Atoi(value)
			if err != nil || n < -1 {
				return nil, errors.Errorf("cpu backend: bad threads count %q", value)
			}
			threads = n
		case "devices":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return nil, errors.Errorf("cpu backend: bad devices count %q", value)
			}
			b.numDevices = n
		default:
			return nil, errors.Errorf("cpu backend: unknown config key %q", key)
		}
	}
	if threads == 0 {
		b.workers = workerspool.New()
	} else {
		b.workers = workerspool.NewWithParallelism(threads)
	}
	return b, nil
}

// Name returns "cpu".
func (b *Backend) Name() string { return BackendName }

// Description returns a human-readable description.
func (b *Backend) Description() string {
	return "pure Go reference evaluation on the host CPU"
}

// Devices lists the virtual devices.
func (b *Backend) Devices() []neuralnet.Device {
	b.check()
	devices := make([]neuralnet.Device, b.numDevices)
	for i := range devices {
		devices[i] = neuralnet.Device{Backend: BackendName, Index: i}
	}
	return devices
}

// Finalize invalidates the backend. Contexts and handles must already be
// finalized.
func (b *Backend) Finalize() {
	b.finalized = true
}

func (b *Backend) check() {
	if b.finalized {
		exceptions.Panicf("cpu backend used after Finalize")
	}
}
