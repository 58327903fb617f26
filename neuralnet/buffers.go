package neuralnet

import (
	"github.com/gomlx/exceptions"
	"github.com/hwata3535/KataGo/neuralnet/desc"
)

// Buffers is the staging area the caller fills before EvalBatch: one spatial
// row and one global row per position, plus the symmetry to apply to the
// whole batch. The same Buffers may be evaluated by any handle of any
// backend, as long as model and spatial extent match.
//
// Buffers are plain memory with no device affinity. They are not safe for
// concurrent use; give each evaluating goroutine its own.
type Buffers struct {
	maxBatchSize int
	xLen, yLen   int
	spatialLen   int
	globalLen    int

	spatial []float32
	global  []float32

	flipY, flipX, transpose bool
}

// NewBuffers allocates input staging for up to maxBatchSize positions of the
// given model at the given spatial extent. Sizes outside the model's range
// are programming errors and panic.
func NewBuffers(m *desc.Model, maxBatchSize, xLen, yLen int) *Buffers {
	if maxBatchSize <= 0 {
		exceptions.Panicf("NewBuffers: maxBatchSize %d must be positive", maxBatchSize)
	}
	if xLen < 2 || xLen > m.MaxBoardLen || yLen < 2 || yLen > m.MaxBoardLen {
		exceptions.Panicf("NewBuffers: extent %dx%d outside model %q range [2,%d]",
			xLen, yLen, m.Name, m.MaxBoardLen)
	}
	b := &Buffers{
		maxBatchSize: maxBatchSize,
		xLen:         xLen,
		yLen:         yLen,
		spatialLen:   m.NumInputChannels * yLen * xLen,
		globalLen:    m.NumInputGlobalChannels,
	}
	b.spatial = make([]float32, maxBatchSize*b.spatialLen)
	b.global = make([]float32, maxBatchSize*b.globalLen)
	return b
}

// MaxBatchSize returns the number of rows.
func (b *Buffers) MaxBatchSize() int { return b.maxBatchSize }

// XLen returns the spatial width.
func (b *Buffers) XLen() int { return b.xLen }

// YLen returns the spatial height.
func (b *Buffers) YLen() int { return b.yLen }

// SpatialLen returns the float count of one spatial row: channels * yLen * xLen.
func (b *Buffers) SpatialLen() int { return b.spatialLen }

// GlobalLen returns the float count of one global row.
func (b *Buffers) GlobalLen() int { return b.globalLen }

// Spatial returns the writable spatial row of position n. The slice is
// bounded: it cannot reach neighboring rows even through append.
func (b *Buffers) Spatial(n int) []float32 {
	b.checkRow(n)
	start := n * b.spatialLen
	return b.spatial[start : start+b.spatialLen : start+b.spatialLen]
}

// Global returns the writable global row of position n, bounded like Spatial.
func (b *Buffers) Global(n int) []float32 {
	b.checkRow(n)
	start := n * b.globalLen
	return b.global[start : start+b.globalLen : start+b.globalLen]
}

func (b *Buffers) checkRow(n int) {
	if b.spatial == nil {
		exceptions.Panicf("Buffers used after Finalize")
	}
	if n < 0 || n >= b.maxBatchSize {
		exceptions.Panicf("Buffers row %d out of range [0,%d)", n, b.maxBatchSize)
	}
}

// SetSymmetry sets the board symmetry applied to the whole batch during
// evaluation: vertical flip, horizontal flip, and diagonal transpose.
// Transpose requires a square extent.
func (b *Buffers) SetSymmetry(flipY, flipX, transpose bool) {
	if transpose && b.xLen != b.yLen {
		exceptions.Panicf("transpose symmetry needs a square extent, have %dx%d", b.xLen, b.yLen)
	}
	b.flipY, b.flipX, b.transpose = flipY, flipX, transpose
}

// Symmetry returns the symmetry set by SetSymmetry.
func (b *Buffers) Symmetry() (flipY, flipX, transpose bool) {
	return b.flipY, b.flipX, b.transpose
}

// Finalize releases the backing memory. The Buffers must not be used again.
func (b *Buffers) Finalize() {
	b.spatial = nil
	b.global = nil
}
