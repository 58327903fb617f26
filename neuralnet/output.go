package neuralnet

import (
	"github.com/hwata3535/KataGo/neuralnet/desc"
)

// Output holds the raw head outputs for one position in a batch. All values
// are unactivated logits and regression outputs exactly as the model produced
// them; turning them into probabilities is the caller's business.
type Output struct {
	// Policy has one logit per board point in row-major (y, x) order,
	// followed by one final logit for the pass move.
	Policy []float32

	// Value holds the win/loss/no-result game outcome logits.
	Value []float32

	// ScoreValues holds the model's score-related regression outputs. Its
	// width depends on the model version.
	ScoreValues []float32

	// Ownership holds one value per board point in row-major order,
	// positive for the side to move.
	Ownership []float32
}

// NewOutput returns an Output sized for the model and spatial extent, so
// evaluation fills it without allocating.
func NewOutput(m *desc.Model, xLen, yLen int) *Output {
	return &Output{
		Policy:      make([]float32, xLen*yLen+1),
		Value:       make([]float32, m.NumValueChannels),
		ScoreValues: make([]float32, m.NumScoreValueChannels),
		Ownership:   make([]float32, m.NumOwnershipChannels*xLen*yLen),
	}
}

// PassLogit returns the policy logit of the pass move.
func (o *Output) PassLogit() float32 {
	return o.Policy[len(o.Policy)-1]
}

// EnsureShape grows the slices to the sizes NewOutput would pick, reusing
// existing backing arrays when they are large enough. Backends call it before
// filling an output, so callers may pass zero-valued Outputs.
func (o *Output) EnsureShape(m *desc.Model, xLen, yLen int) {
	o.Policy = ensureLen(o.Policy, xLen*yLen+1)
	o.Value = ensureLen(o.Value, m.NumValueChannels)
	o.ScoreValues = ensureLen(o.ScoreValues, m.NumScoreValueChannels)
	o.Ownership = ensureLen(o.Ownership, m.NumOwnershipChannels*xLen*yLen)
}

func ensureLen(s []float32, n int) []float32 {
	if cap(s) < n {
		return make([]float32, n)
	}
	return s[:n]
}
