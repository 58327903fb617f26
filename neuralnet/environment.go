package neuralnet

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// The process-wide environment is brought up exactly once before any backend
// is created and torn down exactly once after every backend was finalized.
// Both transitions are one-way: re-initializing, or initializing again after
// cleanup, is a programming error and panics.

const (
	envNew = int32(iota)
	envInitialized
	envCleaned
)

var environmentState atomic.Int32

// Initialize prepares the process-wide evaluation environment. It must be
// called once, before creating any backend.
func Initialize() {
	if !environmentState.CompareAndSwap(envNew, envInitialized) {
		exceptions.Panicf("neuralnet.Initialize called twice (state=%s)", envStateName(environmentState.Load()))
	}
	klog.V(1).Infof("neuralnet environment initialized, %d backend(s) registered", len(registeredConstructors))
}

// Cleanup tears the environment down. It must be called once, after all
// backends were finalized; no neuralnet call is valid afterwards.
func Cleanup() {
	if !environmentState.CompareAndSwap(envInitialized, envCleaned) {
		exceptions.Panicf("neuralnet.Cleanup called in state %s, want initialized", envStateName(environmentState.Load()))
	}
	klog.V(1).Info("neuralnet environment cleaned up")
}

// IsInitialized reports whether the environment is up and not yet cleaned.
func IsInitialized() bool {
	return environmentState.Load() == envInitialized
}

func mustBeInitialized() {
	if state := environmentState.Load(); state != envInitialized {
		exceptions.Panicf("neuralnet environment is %s, call neuralnet.Initialize first", envStateName(state))
	}
}

func envStateName(state int32) string {
	switch state {
	case envNew:
		return "uninitialized"
	case envInitialized:
		return "initialized"
	case envCleaned:
		return "cleaned-up"
	default:
		return "corrupt"
	}
}
