package router

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/fallback"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"secure", ModeSecure, false},
		{"FAST", ModeFast, false},
		{" reactive ", ModeReactive, false},
		{"balanced", ModeBalanced, false},
		{"", ModeBalanced, false},
		{"benchmark", 0, true},
		{"turbo", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModeTable(t *testing.T) {
	assert.Equal(t, []string{capability.SecureCore}, ModeSecure.Capabilities())
	assert.Equal(t, []string{capability.ParallelCore}, ModeFast.Capabilities())
	assert.Equal(t, []string{capability.ReactiveCore}, ModeReactive.Capabilities())
	assert.ElementsMatch(t,
		[]string{capability.SecureCore, capability.ParallelCore, capability.ReactiveCore},
		ModeBalanced.Capabilities())
	assert.Empty(t, Mode(0).Capabilities())
	assert.False(t, Mode(42).Valid())

	for _, m := range Modes() {
		assert.True(t, m.Valid(), m.String())
	}
}

func TestModeText(t *testing.T) {
	data, err := json.Marshal(map[string]Mode{"mode": ModeFast})
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"fast"}`, string(data))

	var decoded struct {
		Mode Mode `json:"mode"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"mode":"reactive"}`), &decoded))
	assert.Equal(t, ModeReactive, decoded.Mode)

	assert.Error(t, json.Unmarshal([]byte(`{"mode":"warp"}`), &decoded))

	_, err = Mode(0).MarshalText()
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	backend, degraded := summarize(Result{})
	assert.Equal(t, BackendFallback, backend)
	assert.True(t, degraded)

	backend, degraded = summarize(Result{
		Security: &Field[fallback.SecureResult]{BackendUsed: BackendNative},
		Reactive: &Field[fallback.ReactiveResult]{BackendUsed: BackendNative},
	})
	assert.Equal(t, BackendNative, backend)
	assert.False(t, degraded)

	backend, degraded = summarize(Result{
		Security: &Field[fallback.SecureResult]{BackendUsed: BackendNative},
		Parallel: &Field[fallback.ParallelResult]{BackendUsed: BackendFallback},
	})
	assert.Equal(t, BackendFallback, backend)
	assert.True(t, degraded)
}
