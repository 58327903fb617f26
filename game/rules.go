// Package game defines the rule descriptor used by the neural net layer.
//
// A Rules value describes the game-rule parameters a position is evaluated
// under. The neural net layer never interprets rules beyond asking a model
// which rule sets it supports (see desc.Model.SupportedRules); the search and
// board logic own the full semantics.
package game

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// KoRule selects the ko/superko variant.
type KoRule int

const (
	KoSimple KoRule = iota
	KoPositional
	KoSituational
)

// String returns the name of the ko rule.
func (k KoRule) String() string {
	switch k {
	case KoSimple:
		return "SIMPLE"
	case KoPositional:
		return "POSITIONAL"
	case KoSituational:
		return "SITUATIONAL"
	default:
		return "unknown"
	}
}

// ScoringRule selects how the game is scored.
type ScoringRule int

const (
	ScoringArea ScoringRule = iota
	ScoringTerritory
)

// String returns the name of the scoring rule.
func (s ScoringRule) String() string {
	switch s {
	case ScoringArea:
		return "AREA"
	case ScoringTerritory:
		return "TERRITORY"
	default:
		return "unknown"
	}
}

// TaxRule selects whether eyes in living groups pay a scoring tax.
type TaxRule int

const (
	TaxNone TaxRule = iota
	TaxSeki
	TaxAll
)

// String returns the name of the tax rule.
func (t TaxRule) String() string {
	switch t {
	case TaxNone:
		return "NONE"
	case TaxSeki:
		return "SEKI"
	case TaxAll:
		return "ALL"
	default:
		return "unknown"
	}
}

// Rules is an opaque-to-this-layer rule descriptor: a ruleset identifier
// (the enum fields) plus the komi compensation value. Values are compared
// only through desc.Model.SupportedRules.
type Rules struct {
	Ko           KoRule
	Scoring      ScoringRule
	Tax          TaxRule
	SuicideLegal bool
	Button       bool
	Komi         float32
}

// TrompTaylor returns the Tromp-Taylor-like default rules with the given komi.
func TrompTaylor(komi float32) Rules {
	return Rules{
		Ko:           KoPositional,
		Scoring:      ScoringArea,
		Tax:          TaxNone,
		SuicideLegal: true,
		Button:       false,
		Komi:         komi,
	}
}

// Japanese returns Japanese-like rules with the given komi.
func Japanese(komi float32) Rules {
	return Rules{
		Ko:           KoSimple,
		Scoring:      ScoringTerritory,
		Tax:          TaxSeki,
		SuicideLegal: false,
		Button:       false,
		Komi:         komi,
	}
}

// String formats the rules in a compact single-line form.
func (r Rules) String() string {
	return fmt.Sprintf("ko%s score%s tax%s sui%v button%v komi%g",
		r.Ko, r.Scoring, r.Tax, r.SuicideLegal, r.Button, r.Komi)
}

// Equals reports whether two rule descriptors are identical, including komi.
func (r Rules) Equals(o Rules) bool {
	return r == o
}

// KomiIsValid reports whether komi is finite and an integer multiple of 0.5.
func (r Rules) KomiIsValid() bool {
	k := float64(r.Komi)
	if math.IsNaN(k) || math.IsInf(k, 0) {
		return false
	}
	return k*2 == math.Trunc(k*2)
}

// Validate returns an error if any field holds an out-of-range value.
func (r Rules) Validate() error {
	if r.Ko < KoSimple || r.Ko > KoSituational {
		return errors.Errorf("invalid ko rule %d", int(r.Ko))
	}
	if r.Scoring < ScoringArea || r.Scoring > ScoringTerritory {
		return errors.Errorf("invalid scoring rule %d", int(r.Scoring))
	}
	if r.Tax < TaxNone || r.Tax > TaxAll {
		return errors.Errorf("invalid tax rule %d", int(r.Tax))
	}
	if !r.KomiIsValid() {
		return errors.Errorf("komi %v is not a finite multiple of 0.5", r.Komi)
	}
	return nil
}
