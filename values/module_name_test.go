package values

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModuleName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "secure_core", false},
		{"hyphenated", "parallel-core", false},
		{"digits", "core2", false},
		{"trimmed", "  reactive_core ", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
		{"parent reference", "..", true},
		{"dot", "core.wasm", true},
		{"space", "secure core", true},
		{"too long", strings.Repeat("a", 65), true},
		{"max length", strings.Repeat("a", 64), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewModuleName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, got.IsEmpty())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tt.input), got.String())
		})
	}
}

func TestMustNewModuleName(t *testing.T) {
	assert.NotPanics(t, func() { MustNewModuleName("secure_core") })
	assert.Panics(t, func() { MustNewModuleName("../etc") })
}

func TestModuleName_JSON(t *testing.T) {
	name := MustNewModuleName("secure_core")

	data, err := json.Marshal(name)
	require.NoError(t, err)
	assert.JSONEq(t, `"secure_core"`, string(data))

	var decoded ModuleName
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, name, decoded)

	assert.Error(t, json.Unmarshal([]byte(`"bad/name"`), &decoded))
	assert.Error(t, json.Unmarshal([]byte(`42`), &decoded))
}
