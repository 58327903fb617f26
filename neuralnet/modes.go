package neuralnet

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode is a tri-state toggle for backend features whose best setting depends
// on the device, like half precision or channel ordering. ModeAuto lets each
// backend pick per device; handles report the resolved value.
type Mode int

const (
	ModeAuto Mode = iota
	ModeOff
	ModeOn
)

// String returns "auto", "off" or "on".
func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeOff:
		return "off"
	case ModeOn:
		return "on"
	default:
		return "unknown"
	}
}

// ParseMode converts a name previously produced by String back to a Mode.
// It also accepts "true"/"false" for convenience in config files.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "":
		return ModeAuto, nil
	case "off", "false":
		return ModeOff, nil
	case "on", "true":
		return ModeOn, nil
	}
	return ModeAuto, errors.Errorf("unknown mode %q", s)
}

// Resolve returns the mode itself unless it is ModeAuto, in which case it
// returns the given default.
func (m Mode) Resolve(auto bool) bool {
	switch m {
	case ModeOn:
		return true
	case ModeOff:
		return false
	default:
		return auto
	}
}
