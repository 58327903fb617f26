package desc

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/hwata3535/KataGo/game"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportedRulesModernModel(t *testing.T) {
	m := Random(RandomOptions{Seed: 1, Version: 8})
	desired := game.Rules{
		Ko:           game.KoSituational,
		Scoring:      game.ScoringTerritory,
		Tax:          game.TaxAll,
		SuicideLegal: true,
		Button:       true,
		Komi:         6.5,
	}
	got, exact := m.SupportedRules(desired)
	assert.True(t, exact)
	assert.True(t, got.Equals(desired))
}

func TestSupportedRulesOldModelProjects(t *testing.T) {
	m := Random(RandomOptions{Seed: 1, Version: 3})
	desired := game.Rules{
		Ko:           game.KoSituational,
		Scoring:      game.ScoringTerritory,
		Tax:          game.TaxSeki,
		SuicideLegal: true,
		Button:       true,
		Komi:         6.5,
	}
	got, exact := m.SupportedRules(desired)
	assert.False(t, exact)
	assert.Equal(t, game.ScoringArea, got.Scoring)
	assert.Equal(t, game.TaxNone, got.Tax)
	assert.False(t, got.Button)
	// Untouched fields pass through.
	assert.Equal(t, game.KoSituational, got.Ko)
	assert.True(t, got.SuicideLegal)
	assert.Equal(t, float32(6.5), got.Komi)
}

func TestSupportedRulesVersionGates(t *testing.T) {
	for _, tc := range []struct {
		version     int
		territory   bool
		tax         bool
		button      bool
	}{
		{3, false, false, false},
		{4, true, false, false},
		{6, true, true, false},
		{8, true, true, true},
		{14, true, true, true},
	} {
		m := Random(RandomOptions{Seed: 1, Version: tc.version})
		desired := game.Rules{Scoring: game.ScoringTerritory, Tax: game.TaxAll, Button: true, Komi: 7}
		got, _ := m.SupportedRules(desired)
		assert.Equal(t, tc.territory, got.Scoring == game.ScoringTerritory, "version %d", tc.version)
		assert.Equal(t, tc.tax, got.Tax == game.TaxAll, "version %d", tc.version)
		assert.Equal(t, tc.button, got.Button, "version %d", tc.version)
	}
}

func TestSupportedRulesKomi(t *testing.T) {
	m := Random(RandomOptions{Seed: 1, Version: 8})

	r := game.TrompTaylor(7.25)
	got, exact := m.SupportedRules(r)
	assert.False(t, exact)
	assert.True(t, got.KomiIsValid())
	assert.InDelta(t, 7.5, got.Komi, 0.26)

	r.Komi = math32.NaN()
	got, exact = m.SupportedRules(r)
	assert.False(t, exact)
	assert.Equal(t, float32(7.5), got.Komi)
}

func TestSupportedRulesIdempotent(t *testing.T) {
	for _, version := range []int{3, 4, 6, 8, 14} {
		m := Random(RandomOptions{Seed: 1, Version: version})
		desired := game.Rules{
			Ko:      game.KoPositional,
			Scoring: game.ScoringTerritory,
			Tax:     game.TaxAll,
			Button:  true,
			Komi:    5.25,
		}
		once, _ := m.SupportedRules(desired)
		twice, exact := m.SupportedRules(once)
		require.True(t, exact, "version %d", version)
		require.True(t, once.Equals(twice), "version %d", version)
	}
}
