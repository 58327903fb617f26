package game

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRulesString(t *testing.T) {
	r := TrompTaylor(7.5)
	assert.Equal(t, "koPOSITIONAL scoreAREA taxNONE suitrue buttonfalse komi7.5", r.String())
	r = Japanese(6.5)
	assert.Equal(t, "koSIMPLE scoreTERRITORY taxSEKI suifalse buttonfalse komi6.5", r.String())
}

func TestKomiIsValid(t *testing.T) {
	for _, komi := range []float32{0, 0.5, -0.5, 7.5, 6, -361} {
		r := TrompTaylor(komi)
		assert.True(t, r.KomiIsValid(), "komi=%v", komi)
	}
	for _, komi := range []float32{0.25, 7.1, float32(math.NaN()), float32(math.Inf(1))} {
		r := TrompTaylor(komi)
		assert.False(t, r.KomiIsValid(), "komi=%v", komi)
	}
}

func TestRulesValidate(t *testing.T) {
	require.NoError(t, TrompTaylor(7.5).Validate())
	require.NoError(t, Japanese(6.5).Validate())

	bad := TrompTaylor(7.5)
	bad.Ko = KoRule(99)
	require.Error(t, bad.Validate())

	bad = TrompTaylor(7.5)
	bad.Tax = TaxRule(-1)
	require.Error(t, bad.Validate())

	bad = TrompTaylor(7.25)
	require.Error(t, bad.Validate())
}

func TestRulesEquals(t *testing.T) {
	a := TrompTaylor(7.5)
	b := TrompTaylor(7.5)
	assert.True(t, a.Equals(b))
	b.Komi = 6.5
	assert.False(t, a.Equals(b))
	fmt.Println(a) // Stringer sanity.
}
