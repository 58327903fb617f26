package desc

import (
	"github.com/chewxy/math32"
	"github.com/hwata3535/KataGo/game"
)

// Rule features appear at specific model format versions. Models older than
// the gate were never trained on positions using the feature, so requests for
// it are projected away.
const (
	territoryScoringMinVersion = 4
	taxRuleMinVersion          = 6
	buttonMinVersion           = 8
)

// SupportedRules projects desired onto the nearest rule set the model
// understands. The returned rules are always usable with this model; exact
// reports whether they equal desired. The projection is idempotent:
// projecting its own result changes nothing.
func (m *Model) SupportedRules(desired game.Rules) (supported game.Rules, exact bool) {
	supported = desired
	exact = true

	if supported.Scoring == game.ScoringTerritory && m.Version < territoryScoringMinVersion {
		supported.Scoring = game.ScoringArea
		exact = false
	}
	if supported.Tax != game.TaxNone && m.Version < taxRuleMinVersion {
		supported.Tax = game.TaxNone
		exact = false
	}
	if supported.Button && m.Version < buttonMinVersion {
		supported.Button = false
		exact = false
	}
	if !supported.KomiIsValid() {
		k := supported.Komi
		if math32.IsNaN(k) || math32.IsInf(k, 0) {
			supported.Komi = 7.5
		} else {
			supported.Komi = math32.Round(k*2) / 2
		}
		exact = false
	}
	return supported, exact
}
