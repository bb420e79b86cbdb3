package discovery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/capbridge/discovery"
)

func TestSemverResolver_Resolve(t *testing.T) {
	t.Parallel()

	resolver := discovery.NewSemverResolver()

	tests := []struct {
		name       string
		constraint string
		available  []string
		expected   string
		wantErr    bool
	}{
		{
			name:       "exact match",
			constraint: "1.0.0",
			available:  []string{"0.9.0", "1.0.0", "1.1.0"},
			expected:   "1.0.0",
		},
		{
			name:       "caret range",
			constraint: "^1.0",
			available:  []string{"0.9", "1.0.0", "1.0.2", "1.1.0", "2.0.0"},
			expected:   "1.1.0",
		},
		{
			name:       "tilde range",
			constraint: "~1.2.0",
			available:  []string{"1.2.0", "1.2.5", "1.3.0"},
			expected:   "1.2.5",
		},
		{
			name:       "latest",
			constraint: "latest",
			available:  []string{"1.0.0", "2.0.0", "1.5.0"},
			expected:   "2.0.0",
		},
		{
			name:       "empty means latest",
			constraint: "",
			available:  []string{"0.0.0", "0.3.1"},
			expected:   "0.3.1",
		},
		{
			name:       "skips invalid versions",
			constraint: "latest",
			available:  []string{"banana", "1.0.0"},
			expected:   "1.0.0",
		},
		{
			name:       "no match",
			constraint: "^2.0",
			available:  []string{"1.0.0", "1.9.9"},
			wantErr:    true,
		},
		{
			name:       "invalid constraint",
			constraint: "not-a-constraint",
			available:  []string{"1.0.0"},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := resolver.Resolve(tt.constraint, tt.available)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestSemverResolver_NoMatchSentinel(t *testing.T) {
	_, err := discovery.NewSemverResolver().Resolve("^3", []string{"1.0.0"})
	assert.ErrorIs(t, err, discovery.ErrNoMatchingVersion)
}
