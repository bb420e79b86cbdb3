package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/capbridge/policy"
)

type recordingHandler struct {
	kinds   []string
	reasons []string
}

func (h *recordingHandler) OnDenial(kind string, _ any, reason string) {
	h.kinds = append(h.kinds, kind)
	h.reasons = append(h.reasons, reason)
}

func TestPolicy_CheckModule(t *testing.T) {
	p := policy.NewPolicy(
		policy.WithDenialHandler(&policy.NopDenialHandler{}),
		policy.WithSymlinkResolution(false),
		policy.WithAllowedPaths("/opt/capbridge/**/*.wasm", "/srv/modules/secure_core.wasm"),
	)

	tests := []struct {
		name string
		req  policy.ModuleRequest
		want bool
	}{
		{"Allowed nested", policy.ModuleRequest{Name: "secure_core", Path: "/opt/capbridge/v1/secure_core.wasm"}, true},
		{"Allowed top level", policy.ModuleRequest{Name: "parallel_core", Path: "/opt/capbridge/parallel_core.wasm"}, true},
		{"Allowed exact", policy.ModuleRequest{Name: "secure_core", Path: "/srv/modules/secure_core.wasm"}, true},
		{"Denied other dir", policy.ModuleRequest{Name: "secure_core", Path: "/tmp/secure_core.wasm"}, false},
		{"Denied traversal", policy.ModuleRequest{Name: "secure_core", Path: "/opt/capbridge/../etc/secure_core.wasm"}, false},
		{"Denied extension", policy.ModuleRequest{Name: "secure_core", Path: "/opt/capbridge/secure_core.so"}, false},
		{"Denied bad name", policy.ModuleRequest{Name: "../secure_core", Path: "/opt/capbridge/secure_core.wasm"}, false},
		{"Denied empty path", policy.ModuleRequest{Name: "secure_core"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.CheckModule(tt.req))
		})
	}
}

func TestPolicy_NoPatternsAdmitsValidNames(t *testing.T) {
	p := policy.NewPolicy(policy.WithDenialHandler(&policy.NopDenialHandler{}))

	assert.True(t, p.CheckModule(policy.ModuleRequest{Name: "alpha", Path: "/anywhere/alpha.wasm"}))
	assert.False(t, p.CheckModule(policy.ModuleRequest{Name: "al/pha", Path: "/anywhere/alpha.wasm"}))
}

func TestPolicy_DenialHandler(t *testing.T) {
	h := &recordingHandler{}
	p := policy.NewPolicy(
		policy.WithDenialHandler(h),
		policy.WithSymlinkResolution(false),
		policy.WithAllowedPaths("/opt/**"),
	)

	ok, reason := p.EvaluateModule(policy.ModuleRequest{Name: "alpha", Path: "/tmp/alpha.wasm"})
	assert.False(t, ok)
	assert.Contains(t, reason, "matches no allowed pattern")
	assert.Empty(t, h.kinds, "evaluate has no side effects")

	assert.False(t, p.CheckModule(policy.ModuleRequest{Name: "alpha", Path: "/tmp/alpha.wasm"}))
	assert.Equal(t, []string{"module"}, h.kinds)
}

func TestPolicy_Admit(t *testing.T) {
	h := &recordingHandler{}
	p := policy.NewPolicy(
		policy.WithDenialHandler(h),
		policy.WithSymlinkResolution(false),
		policy.WithAllowedPaths("/opt/**"),
	)

	assert.NoError(t, p.Admit(context.Background(), "alpha", "/opt/alpha.wasm"))

	err := p.Admit(context.Background(), "alpha", "/etc/alpha.wasm")
	assert.ErrorIs(t, err, policy.ErrDenied)
	assert.Len(t, h.reasons, 1)
}

func TestPolicy_SymlinkResolution(t *testing.T) {
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	allowed := filepath.Join(root, "allowed")
	outside := filepath.Join(root, "outside")
	require.NoError(t, os.MkdirAll(allowed, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))

	target := filepath.Join(outside, "alpha.wasm")
	require.NoError(t, os.WriteFile(target, []byte("\x00asm"), 0o600))
	link := filepath.Join(allowed, "alpha.wasm")
	require.NoError(t, os.Symlink(target, link))

	pattern := filepath.Join(allowed, "**")
	req := policy.ModuleRequest{Name: "alpha", Path: link}

	lexical := policy.NewPolicy(
		policy.WithDenialHandler(&policy.NopDenialHandler{}),
		policy.WithSymlinkResolution(false),
		policy.WithAllowedPaths(pattern),
	)
	assert.True(t, lexical.CheckModule(req))

	resolving := policy.NewPolicy(
		policy.WithDenialHandler(&policy.NopDenialHandler{}),
		policy.WithAllowedPaths(pattern),
	)
	assert.False(t, resolving.CheckModule(req), "link escapes the allowed directory")
}
