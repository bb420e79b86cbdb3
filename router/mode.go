package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/reglet-dev/capbridge/capability"
)

// Mode selects which capabilities a call requires.
type Mode int

const (
	// ModeSecure requires secure_core.
	ModeSecure Mode = iota + 1
	// ModeFast requires parallel_core.
	ModeFast
	// ModeReactive requires reactive_core.
	ModeReactive
	// ModeBalanced resolves all three capabilities independently.
	ModeBalanced
)

// DefaultMode is used when no mode is given.
const DefaultMode = ModeBalanced

// ErrUnknownMode is returned by ParseMode for unrecognized names.
var ErrUnknownMode = errors.New("unknown mode")

var modeNames = map[Mode]string{
	ModeSecure:   "secure",
	ModeFast:     "fast",
	ModeReactive: "reactive",
	ModeBalanced: "balanced",
}

// modeTable is the static dispatch table from mode to required capabilities.
var modeTable = map[Mode][]string{
	ModeSecure:   {capability.SecureCore},
	ModeFast:     {capability.ParallelCore},
	ModeReactive: {capability.ReactiveCore},
	ModeBalanced: {capability.SecureCore, capability.ParallelCore, capability.ReactiveCore},
}

// Modes lists every mode in declaration order.
func Modes() []Mode {
	return []Mode{ModeSecure, ModeFast, ModeReactive, ModeBalanced}
}

// ParseMode parses a mode name. The empty string selects DefaultMode.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultMode, nil
	}
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Valid reports whether m is one of the declared modes.
func (m Mode) Valid() bool {
	_, ok := modeTable[m]
	return ok
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Capabilities returns the modules m requires.
func (m Mode) Capabilities() []string {
	return append([]string(nil), modeTable[m]...)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
