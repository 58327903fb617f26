package desc

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Validate checks that the descriptor is internally consistent: versions in
// range, channel counts chained correctly through the trunk and heads, and
// every weight vector sized to its layer. It returns the first problem found.
func (m *Model) Validate() error {
	if m.Version < MinVersion || m.Version > MaxVersion {
		return errors.Errorf("model %q: version %d outside supported range [%d,%d]",
			m.Name, m.Version, MinVersion, MaxVersion)
	}
	if m.MaxBoardLen < 2 || m.MaxBoardLen > MaxBoardLen {
		return errors.Errorf("model %q: maxBoardLen %d outside [2,%d]",
			m.Name, m.MaxBoardLen, MaxBoardLen)
	}
	if m.NumInputChannels <= 0 || m.NumInputGlobalChannels <= 0 {
		return errors.Errorf("model %q: nonpositive input channel counts %d/%d",
			m.Name, m.NumInputChannels, m.NumInputGlobalChannels)
	}
	if m.NumValueChannels != NumValueChannels {
		return errors.Errorf("model %q: numValueChannels %d, want %d",
			m.Name, m.NumValueChannels, NumValueChannels)
	}
	if m.NumScoreValueChannels <= 0 {
		return errors.Errorf("model %q: nonpositive numScoreValueChannels %d",
			m.Name, m.NumScoreValueChannels)
	}
	if m.NumOwnershipChannels != NumOwnershipChannels {
		return errors.Errorf("model %q: numOwnershipChannels %d, want %d",
			m.Name, m.NumOwnershipChannels, NumOwnershipChannels)
	}
	if m.Activation < ActivationIdentity || m.Activation > ActivationMish {
		return errors.Errorf("model %q: unknown activation %d", m.Name, int(m.Activation))
	}

	t := &m.Trunk
	if t.NumBlocks != len(t.Blocks) {
		return errors.Errorf("trunk %q: numBlocks %d but %d blocks present",
			t.Name, t.NumBlocks, len(t.Blocks))
	}
	if err := validateConv(&t.InitialConv, m.NumInputChannels, t.TrunkNumChannels); err != nil {
		return err
	}
	if err := validateMatMul(&t.InitialMatMul, m.NumInputGlobalChannels, t.TrunkNumChannels); err != nil {
		return err
	}
	for _, b := range t.Blocks {
		var err error
		switch blk := b.(type) {
		case *ResidualBlock:
			err = validateOrdinaryBlock(blk, t)
		case *GlobalPoolingResidualBlock:
			err = validateGPoolBlock(blk, t)
		default:
			err = errors.Errorf("trunk %q: block %q has unknown type", t.Name, b.Name())
		}
		if err != nil {
			return err
		}
	}
	if err := validateBN(&t.TipBN, t.TrunkNumChannels); err != nil {
		return err
	}

	p := &m.PolicyHead
	if err := validateConv(&p.P1Conv, t.TrunkNumChannels, p.P1Conv.OutChannels); err != nil {
		return err
	}
	if err := validateConv(&p.G1Conv, t.TrunkNumChannels, p.G1Conv.OutChannels); err != nil {
		return err
	}
	if err := validateBN(&p.G1BN, p.G1Conv.OutChannels); err != nil {
		return err
	}
	if err := validateMatMul(&p.GPoolToBiasMul, 3*p.G1Conv.OutChannels, p.P1Conv.OutChannels); err != nil {
		return err
	}
	if err := validateBN(&p.P1BN, p.P1Conv.OutChannels); err != nil {
		return err
	}
	if err := validateConv(&p.P2Conv, p.P1Conv.OutChannels, 1); err != nil {
		return err
	}
	if err := validateMatMul(&p.GPoolToPassMul, 3*p.G1Conv.OutChannels, 1); err != nil {
		return err
	}

	v := &m.ValueHead
	if err := validateConv(&v.V1Conv, t.TrunkNumChannels, v.V1Conv.OutChannels); err != nil {
		return err
	}
	if err := validateBN(&v.V1BN, v.V1Conv.OutChannels); err != nil {
		return err
	}
	if err := validateMatMul(&v.V2Mul, 3*v.V1Conv.OutChannels, v.V2Mul.OutChannels); err != nil {
		return err
	}
	if err := validateMatBias(&v.V2Bias, v.V2Mul.OutChannels); err != nil {
		return err
	}
	if err := validateMatMul(&v.V3Mul, v.V2Mul.OutChannels, m.NumValueChannels); err != nil {
		return err
	}
	if err := validateMatBias(&v.V3Bias, m.NumValueChannels); err != nil {
		return err
	}
	if err := validateMatMul(&v.SV3Mul, v.V2Mul.OutChannels, m.NumScoreValueChannels); err != nil {
		return err
	}
	if err := validateMatBias(&v.SV3Bias, m.NumScoreValueChannels); err != nil {
		return err
	}
	if err := validateConv(&v.OwnershipConv, v.V1Conv.OutChannels, m.NumOwnershipChannels); err != nil {
		return err
	}
	return nil
}

func validateConv(c *ConvLayer, inChannels, outChannels int) error {
	if c.InChannels != inChannels || c.OutChannels != outChannels {
		return errors.Errorf("conv %q: channels %dx%d, want %dx%d",
			c.Name, c.InChannels, c.OutChannels, inChannels, outChannels)
	}
	if c.ConvYSize <= 0 || c.ConvXSize <= 0 || c.ConvYSize%2 == 0 || c.ConvXSize%2 == 0 {
		return errors.Errorf("conv %q: kernel %dx%d must be positive and odd",
			c.Name, c.ConvYSize, c.ConvXSize)
	}
	if c.DilationY <= 0 || c.DilationX <= 0 {
		return errors.Errorf("conv %q: dilation %dx%d must be positive",
			c.Name, c.DilationY, c.DilationX)
	}
	if len(c.Weights) != c.NumWeights() {
		return errors.Errorf("conv %q: %d weights, want %d",
			c.Name, len(c.Weights), c.NumWeights())
	}
	return checkFinite(c.Name, c.Weights)
}

func validateBN(b *BatchNormLayer, numChannels int) error {
	if b.NumChannels != numChannels {
		return errors.Errorf("batchnorm %q: %d channels, want %d",
			b.Name, b.NumChannels, numChannels)
	}
	if b.Epsilon <= 0 {
		return errors.Errorf("batchnorm %q: nonpositive epsilon %v", b.Name, b.Epsilon)
	}
	if len(b.Mean) != numChannels || len(b.Variance) != numChannels {
		return errors.Errorf("batchnorm %q: mean/variance lengths %d/%d, want %d",
			b.Name, len(b.Mean), len(b.Variance), numChannels)
	}
	if b.HasScale && len(b.Scale) != numChannels || !b.HasScale && len(b.Scale) != 0 {
		return errors.Errorf("batchnorm %q: scale length %d inconsistent with hasScale=%v",
			b.Name, len(b.Scale), b.HasScale)
	}
	if b.HasBias && len(b.Bias) != numChannels || !b.HasBias && len(b.Bias) != 0 {
		return errors.Errorf("batchnorm %q: bias length %d inconsistent with hasBias=%v",
			b.Name, len(b.Bias), b.HasBias)
	}
	for c := 0; c < numChannels; c++ {
		if b.Variance[c] < 0 {
			return errors.Errorf("batchnorm %q: negative variance %v at channel %d",
				b.Name, b.Variance[c], c)
		}
	}
	for _, vec := range [][]float32{b.Mean, b.Variance, b.Scale, b.Bias} {
		if err := checkFinite(b.Name, vec); err != nil {
			return err
		}
	}
	return nil
}

func validateMatMul(m *MatMulLayer, inChannels, outChannels int) error {
	if m.InChannels != inChannels || m.OutChannels != outChannels {
		return errors.Errorf("matmul %q: channels %dx%d, want %dx%d",
			m.Name, m.InChannels, m.OutChannels, inChannels, outChannels)
	}
	if len(m.Weights) != m.NumWeights() {
		return errors.Errorf("matmul %q: %d weights, want %d",
			m.Name, len(m.Weights), m.NumWeights())
	}
	return checkFinite(m.Name, m.Weights)
}

func validateMatBias(m *MatBiasLayer, numChannels int) error {
	if m.NumChannels != numChannels || len(m.Weights) != numChannels {
		return errors.Errorf("matbias %q: %d channels with %d weights, want %d",
			m.Name, m.NumChannels, len(m.Weights), numChannels)
	}
	return checkFinite(m.Name, m.Weights)
}

func validateOrdinaryBlock(b *ResidualBlock, t *Trunk) error {
	if err := validateBN(&b.PreBN, t.TrunkNumChannels); err != nil {
		return err
	}
	if err := validateConv(&b.RegularConv, t.TrunkNumChannels, t.MidNumChannels); err != nil {
		return err
	}
	if err := validateBN(&b.MidBN, t.MidNumChannels); err != nil {
		return err
	}
	return validateConv(&b.FinalConv, t.MidNumChannels, t.TrunkNumChannels)
}

func validateGPoolBlock(b *GlobalPoolingResidualBlock, t *Trunk) error {
	if err := validateBN(&b.PreBN, t.TrunkNumChannels); err != nil {
		return err
	}
	if err := validateConv(&b.RegularConv, t.TrunkNumChannels, t.RegularNumChannels); err != nil {
		return err
	}
	if err := validateConv(&b.GPoolConv, t.TrunkNumChannels, t.GPoolNumChannels); err != nil {
		return err
	}
	if err := validateBN(&b.GPoolBN, t.GPoolNumChannels); err != nil {
		return err
	}
	if err := validateMatMul(&b.GPoolToBiasMul, 3*t.GPoolNumChannels, t.RegularNumChannels); err != nil {
		return err
	}
	if err := validateBN(&b.MidBN, t.RegularNumChannels); err != nil {
		return err
	}
	return validateConv(&b.FinalConv, t.RegularNumChannels, t.TrunkNumChannels)
}

func checkFinite(name string, vec []float32) error {
	for i, w := range vec {
		if math32.IsNaN(w) || math32.IsInf(w, 0) {
			return errors.Errorf("layer %q: weight %d is %v", name, i, w)
		}
	}
	return nil
}
