// Package host provides the wazero runtime that loads native modules for
// the capability registry.
package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"

	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/values"
	"github.com/reglet-dev/capbridge/wazero"
	t_wazero "github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// ErrIntegrityCheckFailed is returned when module bytes do not match the
// pinned digest.
var ErrIntegrityCheckFailed = errors.New("integrity check failed")

// IntegrityError indicates digest mismatch.
// Provides detailed information about expected vs actual digest.
type IntegrityError struct {
	Path     string
	Expected values.Digest
	Actual   values.Digest
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf(
		"integrity check failed for %s: expected %s, got %s",
		e.Path,
		e.Expected.String(),
		e.Actual.String(),
	)
}

// Is implements error matching for errors.Is() checks.
// This allows: errors.Is(err, host.ErrIntegrityCheckFailed)
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrityCheckFailed
}

// Runtime compiles native modules and hands out per-call instances. One
// Runtime serves every module of a registry.
type Runtime struct {
	runtime          t_wazero.Runtime
	logger           *slog.Logger
	cache            t_wazero.CompilationCache
	ownsCache        bool
	cacheDir         string
	memoryLimitPages uint32
	maxModuleSize    int64
}

var _ capability.Loader = (*Runtime)(nil)

// NewRuntime creates a runtime with WASI and the env.log_message import.
// Calls are interrupted when their context is done.
func NewRuntime(ctx context.Context, opts ...Option) (*Runtime, error) {
	r := &Runtime{logger: slog.Default(), maxModuleSize: DefaultMaxModuleSize}
	for _, opt := range opts {
		opt(r)
	}

	if r.cache == nil && r.cacheDir != "" {
		cache, err := t_wazero.NewCompilationCacheWithDir(r.cacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache: %w", err)
		}
		r.cache = cache
		r.ownsCache = true
	}

	cfg := t_wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if r.cache != nil {
		cfg = cfg.WithCompilationCache(r.cache)
	}
	if r.memoryLimitPages > 0 {
		cfg = cfg.WithMemoryLimitPages(r.memoryLimitPages)
	}

	rt := t_wazero.NewRuntimeWithConfig(ctx, cfg)
	r.runtime = rt

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	if err := r.registerHostFunctions(ctx); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	return r, nil
}

// registerHostFunctions registers the host functions with the runtime.
func (r *Runtime) registerHostFunctions(ctx context.Context) error {
	_, err := r.runtime.NewHostModuleBuilder(wazero.HostModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(wazero.LogMessageHandler(r.logger), []api.ValueType{api.ValueTypeI64}, []api.ValueType{}).
		Export(wazero.LogMessageFunc).
		Instantiate(ctx)
	return err
}

// Close releases the runtime and every module compiled by it.
func (r *Runtime) Close(ctx context.Context) error {
	err := r.runtime.Close(ctx)
	if r.ownsCache {
		err = errors.Join(err, r.cache.Close(ctx))
	}
	return err
}

// Open reads, verifies and compiles the module at src, then checks that
// every export spec requires is present with the expected signature.
func (r *Runtime) Open(ctx context.Context, src capability.Source, spec capability.ModuleSpec) (capability.Module, error) {
	wasmBytes, err := readModule(src.Path, r.maxModuleSize)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", capability.ErrModuleNotFound, src.Path)
		}
		return nil, fmt.Errorf("failed to read module: %w", err)
	}

	if !src.Digest.IsZero() {
		if err := src.Digest.Verify(wasmBytes); err != nil {
			actual, _ := values.ComputeDigest(src.Digest.Algorithm(), wasmBytes)
			return nil, &IntegrityError{Path: src.Path, Expected: src.Digest, Actual: actual}
		}
	}

	compiled, err := r.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module: %w", err)
	}

	if err := checkExports(compiled, spec); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	r.logger.DebugContext(ctx, "compiled native module",
		"module", spec.Name, "path", src.Path, "bytes", len(wasmBytes))

	return &Module{runtime: r.runtime, compiled: compiled, name: spec.Name}, nil
}

// checkExports resolves every symbol of spec against the compiled module.
// All problems are reported together.
func checkExports(compiled t_wazero.CompiledModule, spec capability.ModuleSpec) error {
	exports := compiled.ExportedFunctions()
	var errs []error

	i32 := api.ValueTypeI32
	for _, sym := range spec.Symbols {
		params := make([]api.ValueType, 0, len(sym.Params))
		for _, p := range sym.Params {
			params = append(params, valueTypes(p)...)
		}
		errs = append(errs, checkSignature(exports, sym.Name, params, valueTypes(sym.Result)))

		if sym.Release != "" {
			errs = append(errs, checkSignature(exports, sym.Release, []api.ValueType{i32, i32}, nil))
		}
	}

	if spec.NeedsAllocator() {
		errs = append(errs,
			checkSignature(exports, spec.Allocator.Alloc, []api.ValueType{i32}, []api.ValueType{i32}),
			checkSignature(exports, spec.Allocator.Free, []api.ValueType{i32, i32}, nil),
		)
		if len(compiled.ExportedMemories()) == 0 {
			errs = append(errs, fmt.Errorf("%w: memory", capability.ErrMissingSymbol))
		}
	}

	return errors.Join(errs...)
}

func checkSignature(exports map[string]api.FunctionDefinition, name string, params, results []api.ValueType) error {
	def, ok := exports[name]
	if !ok {
		return fmt.Errorf("%w: %s", capability.ErrMissingSymbol, name)
	}
	if !slices.Equal(def.ParamTypes(), params) || !slices.Equal(def.ResultTypes(), results) {
		return fmt.Errorf("%w: %s is %s, want %s", capability.ErrSignatureMismatch, name,
			signature(def.ParamTypes(), def.ResultTypes()), signature(params, results))
	}
	return nil
}

func valueTypes(s capability.Shape) []api.ValueType {
	switch s {
	case capability.ShapeI32:
		return []api.ValueType{api.ValueTypeI32}
	case capability.ShapeI64, capability.ShapeText, capability.ShapeBuffer:
		return []api.ValueType{api.ValueTypeI64}
	default:
		return nil
	}
}

func signature(params, results []api.ValueType) string {
	names := func(types []api.ValueType) string {
		out := make([]string, len(types))
		for i, t := range types {
			out[i] = api.ValueTypeName(t)
		}
		return strings.Join(out, ",")
	}
	return fmt.Sprintf("(%s)->(%s)", names(params), names(results))
}

// Module is a compiled native module. Each call gets a fresh anonymous
// instance, so guest allocator state is never shared between calls.
type Module struct {
	runtime  t_wazero.Runtime
	compiled t_wazero.CompiledModule
	name     string
}

var _ capability.Module = (*Module)(nil)

// NewInstance instantiates the module and runs _initialize when exported.
func (m *Module) NewInstance(ctx context.Context) (capability.Instance, error) {
	cfg := t_wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions()

	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate %s: %w", m.name, err)
	}

	if init := mod.ExportedFunction("_initialize"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, fmt.Errorf("failed to call _initialize: %w", err)
		}
	}

	return &Instance{module: mod}, nil
}

// Close releases the compiled module.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Instance is one instantiated module.
type Instance struct {
	module api.Module
}

var _ capability.Instance = (*Instance)(nil)

// Call invokes an export.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("function %q not found", name)
	}
	return fn.Call(ctx, params...)
}

// Read returns a view of guest memory that is valid until the next call.
func (i *Instance) Read(ptr, length uint32) ([]byte, bool) {
	mem := i.module.Memory()
	if mem == nil {
		return nil, false
	}
	return mem.Read(ptr, length)
}

// Write copies data into guest memory.
func (i *Instance) Write(ptr uint32, data []byte) bool {
	mem := i.module.Memory()
	if mem == nil {
		return false
	}
	return mem.Write(ptr, data)
}

// Close closes the instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}
