package capbridge_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/capbridge"
	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/capability/capabilitytest"
	"github.com/reglet-dev/capbridge/config"
	"github.com/reglet-dev/capbridge/fallback"
	"github.com/reglet-dev/capbridge/router"
	"github.com/reglet-dev/capbridge/values"
)

// moduleDir writes one file per catalog module. body nil writes a
// placeholder for fake loaders; otherwise the fixture is copied.
func moduleDir(t *testing.T, fixture string) string {
	t.Helper()
	dir := t.TempDir()

	body := []byte("\x00asm")
	if fixture != "" {
		var err error
		body, err = os.ReadFile(filepath.Join("host", "testdata", fixture))
		require.NoError(t, err)
	}
	for _, spec := range capability.Catalog() {
		require.NoError(t, os.WriteFile(filepath.Join(dir, spec.Name+".wasm"), body, 0o600))
	}
	return dir
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.ModuleDir = dir
	return cfg
}

type denials struct {
	mu      sync.Mutex
	reasons []string
}

func (d *denials) OnDenial(_ string, _ any, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
}

func TestBridge_FakeModulesNative(t *testing.T) {
	ctx := context.Background()
	loader := capabilitytest.NewFakeLoader(capabilitytest.NewCatalog()...)

	b, err := capbridge.New(ctx, testConfig(moduleDir(t, "")),
		capbridge.WithLogger(capabilitytest.NewTestLogger()),
		capbridge.WithLoader(loader),
	)
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	for _, spec := range capability.Catalog() {
		assert.Equal(t, 1, loader.Opens(spec.Name), spec.Name)
	}

	resp := b.Call(ctx, "process", []byte("hello world"), router.ModeBalanced)
	assert.Equal(t, router.StatusSuccess, resp.Status)
	assert.Equal(t, router.BackendNative, resp.BackendUsed)
	assert.False(t, resp.Degraded)
	assert.NotEmpty(t, resp.RequestID)

	h := b.HealthCheck(ctx)
	assert.True(t, h.CanaryPassed)
	assert.Equal(t, router.HealthHealthy, h.Status)
	assert.Equal(t, int64(1), h.Performance.RequestsProcessed)
}

func TestBridge_NoModulesFallsBack(t *testing.T) {
	ctx := context.Background()

	b, err := capbridge.New(ctx, testConfig(t.TempDir()),
		capbridge.WithLogger(capabilitytest.NewTestLogger()),
		capbridge.WithLoader(capabilitytest.NewFakeLoader()),
	)
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	payload := []byte("hello")
	resp := b.Call(ctx, "process", payload, router.ModeSecure)

	assert.Equal(t, router.StatusSuccess, resp.Status)
	assert.Equal(t, router.BackendFallback, resp.BackendUsed)
	assert.True(t, resp.Degraded)
	require.NotNil(t, resp.Result.Security)
	assert.Equal(t, fallback.SecureHash(payload), resp.Result.Security.Value)

	for _, d := range b.Capabilities() {
		assert.False(t, d.Loaded, d.Name)
		assert.Contains(t, d.Reason, "not found", d.Name)
	}

	h := b.HealthCheck(ctx)
	assert.False(t, h.CanaryPassed)
	assert.Equal(t, router.HealthDegraded, h.Status)
}

func TestBridge_LazyLoading(t *testing.T) {
	ctx := context.Background()
	loader := capabilitytest.NewFakeLoader(capabilitytest.NewCatalog()...)
	cfg := testConfig(moduleDir(t, ""))
	cfg.LazyLoading = true

	b, err := capbridge.New(ctx, cfg,
		capbridge.WithLogger(capabilitytest.NewTestLogger()),
		capbridge.WithLoader(loader),
	)
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	assert.Zero(t, loader.Opens(capability.SecureCore))

	resp := b.Call(ctx, "process", []byte("x"), router.ModeSecure)
	assert.Equal(t, router.BackendNative, resp.BackendUsed)
	assert.Equal(t, 1, loader.Opens(capability.SecureCore))
	assert.Zero(t, loader.Opens(capability.ParallelCore))

	b.Call(ctx, "process", []byte("y"), router.ModeSecure)
	assert.Equal(t, 1, loader.Opens(capability.SecureCore))
}

func TestBridge_LazyLoadSurvivesCancelledCaller(t *testing.T) {
	ctx := context.Background()
	loader := capabilitytest.NewFakeLoader(capabilitytest.NewCatalog()...)
	cfg := testConfig(moduleDir(t, ""))
	cfg.LazyLoading = true

	b, err := capbridge.New(ctx, cfg,
		capbridge.WithLogger(capabilitytest.NewTestLogger()),
		capbridge.WithLoader(loader),
	)
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	b.Call(cancelled, "process", []byte("x"), router.ModeSecure)

	resp := b.Call(ctx, "process", []byte("y"), router.ModeSecure)
	assert.Equal(t, router.BackendNative, resp.BackendUsed)
	assert.False(t, resp.Degraded)

	for _, d := range b.Capabilities() {
		if d.Name == capability.SecureCore {
			assert.True(t, d.Loaded)
			assert.Empty(t, d.Reason)
		}
	}
}

func TestBridge_AdmissionDenied(t *testing.T) {
	ctx := context.Background()
	loader := capabilitytest.NewFakeLoader(capabilitytest.NewCatalog()...)
	handler := &denials{}

	cfg := testConfig(moduleDir(t, ""))
	cfg.AllowedPaths = []string{"/nowhere/**"}

	b, err := capbridge.New(ctx, cfg,
		capbridge.WithLogger(capabilitytest.NewTestLogger()),
		capbridge.WithLoader(loader),
		capbridge.WithDenialHandler(handler),
	)
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	assert.Len(t, handler.reasons, len(capability.Catalog()))
	assert.Zero(t, loader.Opens(capability.SecureCore))

	resp := b.Call(ctx, "process", []byte("x"), router.ModeFast)
	assert.True(t, resp.Degraded)
}

func TestBridge_ConfigOverridesReachLoader(t *testing.T) {
	ctx := context.Background()
	loader := capabilitytest.NewFakeLoader(capabilitytest.NewCatalog()...)
	dir := moduleDir(t, "")
	explicit := filepath.Join(t.TempDir(), "pinned.wasm")
	require.NoError(t, os.WriteFile(explicit, []byte("\x00asm"), 0o600))

	cfg := testConfig(dir)
	cfg.Modules = map[string]config.ModuleConfig{
		capability.SecureCore: {Path: explicit, Digest: "sha256:00ff"},
	}

	b, err := capbridge.New(ctx, cfg,
		capbridge.WithLogger(capabilitytest.NewTestLogger()),
		capbridge.WithLoader(loader),
	)
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	src := loader.Source(capability.SecureCore)
	assert.Equal(t, explicit, src.Path)
	want, err := values.ParseDigest("sha256:00ff")
	require.NoError(t, err)
	assert.True(t, want.Equals(src.Digest))
}

func TestBridge_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DefaultWorkers = 1000

	_, err := capbridge.New(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestBridge_WasmModules(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(moduleDir(t, "bridge.wasm"))

	b, err := capbridge.New(ctx, cfg, capbridge.WithLogger(capabilitytest.NewTestLogger()))
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	for _, d := range b.Capabilities() {
		assert.True(t, d.Loaded, d.Name)
	}

	payload := []byte("hello world")
	resp := b.Call(ctx, "process", payload, router.ModeBalanced)
	assert.Equal(t, router.BackendNative, resp.BackendUsed)
	assert.False(t, resp.Degraded)

	require.NotNil(t, resp.Result.Security)
	assert.Equal(t, fallback.SecureHash(payload), resp.Result.Security.Value)
	require.NotNil(t, resp.Result.Parallel)
	assert.Equal(t, fallback.Parallel(payload, fallback.DefaultWorkers), resp.Result.Parallel.Value)

	h := b.HealthCheck(ctx)
	assert.True(t, h.CanaryPassed)
}

func TestBridge_WasmDigestMismatch(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(moduleDir(t, "bridge.wasm"))
	cfg.Modules = map[string]config.ModuleConfig{
		capability.SecureCore: {Digest: "sha256:00ff"},
	}

	b, err := capbridge.New(ctx, cfg, capbridge.WithLogger(capabilitytest.NewTestLogger()))
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	resp := b.Call(ctx, "process", []byte("x"), router.ModeSecure)
	assert.Equal(t, router.BackendFallback, resp.BackendUsed)
	assert.True(t, resp.Degraded)

	resp = b.Call(ctx, "process", []byte("x"), router.ModeFast)
	assert.Equal(t, router.BackendNative, resp.BackendUsed)
}

func TestBridge_BadCanaryDegradesHealth(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(moduleDir(t, "bad_canary.wasm"))

	b, err := capbridge.New(ctx, cfg, capbridge.WithLogger(capabilitytest.NewTestLogger()))
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	h := b.HealthCheck(ctx)
	assert.False(t, h.CanaryPassed)
	assert.Equal(t, router.HealthDegraded, h.Status)
	for name, ch := range h.PerCapability {
		assert.True(t, ch.Loaded, name)
		assert.False(t, ch.CanaryPassed, name)
	}
}

func TestBridge_CloseFallsBack(t *testing.T) {
	ctx := context.Background()
	b, err := capbridge.New(ctx, testConfig(moduleDir(t, "")),
		capbridge.WithLogger(capabilitytest.NewTestLogger()),
		capbridge.WithLoader(capabilitytest.NewFakeLoader(capabilitytest.NewCatalog()...)),
	)
	require.NoError(t, err)
	require.NoError(t, b.Close(ctx))

	resp := b.Call(ctx, "process", []byte("x"), router.ModeBalanced)
	assert.Equal(t, router.BackendFallback, resp.BackendUsed)
	assert.True(t, resp.Degraded)
}

func TestBridge_Modules(t *testing.T) {
	ctx := context.Background()
	b, err := capbridge.New(ctx, testConfig(moduleDir(t, "")),
		capbridge.WithLogger(capabilitytest.NewTestLogger()),
		capbridge.WithLoader(capabilitytest.NewFakeLoader(capabilitytest.NewCatalog()...)),
	)
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	entries, err := b.Modules(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, len(capability.Catalog()))
}

func TestSchemas(t *testing.T) {
	r, err := capbridge.Schemas()
	require.NoError(t, err)
	assert.Equal(t, []string{
		capbridge.SchemaCapability,
		capbridge.SchemaConfig,
		capbridge.SchemaHealth,
		capbridge.SchemaManifest,
		capbridge.SchemaResponse,
	}, r.List())

	assert.NoError(t, r.Validate(capbridge.SchemaManifest, map[string]any{"name": "secure_core"}))
}
