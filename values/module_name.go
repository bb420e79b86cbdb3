package values

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ModuleName is a validated native module identifier. Module names double as
// directory and file stems during discovery, so they never contain path
// syntax.
type ModuleName struct {
	value string
}

// NewModuleName creates a ModuleName with strict validation.
// A valid module name must:
// - Be non-empty
// - contain only alphanumeric characters, underscores, and hyphens
// - Be at most 64 characters long
func NewModuleName(name string) (ModuleName, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ModuleName{}, fmt.Errorf("module name cannot be empty")
	}

	if len(name) > 64 {
		return ModuleName{}, fmt.Errorf("module name too long (max 64 chars)")
	}

	if strings.ContainsAny(name, `/\`) {
		return ModuleName{}, fmt.Errorf("module name cannot contain path separators")
	}

	if strings.Contains(name, "..") {
		return ModuleName{}, fmt.Errorf("module name cannot contain parent directory references")
	}

	for _, ch := range name {
		if !isValidModuleChar(ch) {
			return ModuleName{}, fmt.Errorf("invalid module name %q: must contain only alphanumeric characters, underscores, and hyphens", name)
		}
	}

	return ModuleName{value: name}, nil
}

func isValidModuleChar(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r == '_' ||
		r == '-'
}

// MustNewModuleName creates a ModuleName or panics
func MustNewModuleName(name string) ModuleName {
	mn, err := NewModuleName(name)
	if err != nil {
		panic(err)
	}
	return mn
}

// String returns the string representation
func (m ModuleName) String() string {
	return m.value
}

// IsEmpty returns true if this is the zero value
func (m ModuleName) IsEmpty() bool {
	return m.value == ""
}

// MarshalJSON implements json.Marshaler.
func (m ModuleName) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.value)
}

// UnmarshalJSON implements json.Unmarshaler
func (m *ModuleName) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid module name JSON: %w", err)
	}

	name, err := NewModuleName(s)
	if err != nil {
		return err
	}
	*m = name
	return nil
}
