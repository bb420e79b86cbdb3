package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/reglet-dev/capbridge/metric"
	"github.com/reglet-dev/capbridge/values"
)

// Registry discovers and loads native modules and owns their handles.
// Each module is loaded at most once; concurrent first loads of the same
// module serialize on a per-module mutex and all observe the same result.
type Registry struct {
	loader   Loader
	logger   *slog.Logger
	admitter Admitter
	locator  Locator
	metrics  *metric.Metrics
	digests  map[string]values.Digest

	specs map[string]ModuleSpec

	mu      sync.RWMutex
	entries map[string]*entry
	closed  atomic.Bool
}

type entry struct {
	// mu serializes the one-time load.
	mu sync.Mutex
	// desc is published once the load resolves.
	desc   atomic.Pointer[Descriptor]
	module Module
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAdmitter sets the admission policy consulted before every load.
func WithAdmitter(a Admitter) RegistryOption {
	return func(r *Registry) {
		r.admitter = a
	}
}

// WithLocator sets how Ensure finds modules on first use.
func WithLocator(l Locator) RegistryOption {
	return func(r *Registry) {
		r.locator = l
	}
}

// WithDigests pins module bytes by module name. A pin overrides any digest
// reported by the Locator.
func WithDigests(digests map[string]values.Digest) RegistryOption {
	return func(r *Registry) {
		for name, d := range digests {
			r.digests[name] = d
		}
	}
}

// WithMetrics records load state.
func WithMetrics(m *metric.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithSpecs replaces the module catalog.
func WithSpecs(specs ...ModuleSpec) RegistryOption {
	return func(r *Registry) {
		r.specs = make(map[string]ModuleSpec, len(specs))
		for _, s := range specs {
			r.specs[s.Name] = s
		}
	}
}

// NewRegistry creates a registry for the built-in catalog.
func NewRegistry(loader Loader, opts ...RegistryOption) *Registry {
	r := &Registry{
		loader:  loader,
		logger:  slog.Default(),
		digests: make(map[string]values.Digest),
		entries: make(map[string]*entry),
	}
	WithSpecs(Catalog()...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Specs returns the registered module specs sorted by name.
func (r *Registry) Specs() []ModuleSpec {
	specs := make([]ModuleSpec, 0, len(r.specs))
	for _, s := range r.specs {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Spec returns the spec for name.
func (r *Registry) Spec(name string) (ModuleSpec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Load opens the module at path once. Later calls, for any path, return
// the cached descriptor without touching the filesystem. Failures are
// recorded in the descriptor, never returned.
func (r *Registry) Load(ctx context.Context, name, path string) Descriptor {
	return r.resolve(ctx, name, func(context.Context) (Source, error) {
		return Source{Path: path, Digest: r.digests[name]}, nil
	})
}

// Ensure loads name on first use through the configured Locator. The load
// ignores cancellation of ctx.
func (r *Registry) Ensure(ctx context.Context, name string) Descriptor {
	if d := r.lookup(name); d != nil {
		return d.clone()
	}
	return r.resolve(ctx, name, func(ctx context.Context) (Source, error) {
		if r.locator == nil {
			return Source{}, fmt.Errorf("%w: no locator configured", ErrModuleNotFound)
		}
		src, err := r.locator.Locate(ctx, name)
		if err != nil {
			return Source{}, err
		}
		if pinned, ok := r.digests[name]; ok {
			src.Digest = pinned
		}
		return src, nil
	})
}

// IsLoaded reports whether name loaded successfully. It never waits on an
// in-progress load.
func (r *Registry) IsLoaded(name string) bool {
	if r.closed.Load() {
		return false
	}
	d := r.lookup(name)
	return d != nil && d.Loaded()
}

// Descriptor returns a copy of name's descriptor. Modules that were never
// loaded report StateUnloaded.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	if d := r.lookup(name); d != nil {
		return d.clone(), true
	}
	spec, ok := r.specs[name]
	if !ok {
		return Descriptor{}, false
	}
	return Descriptor{Name: name, Symbols: spec.Symbols, State: StateUnloaded}.clone(), true
}

// Module returns the loaded handle and spec for name.
func (r *Registry) Module(name string) (Module, ModuleSpec, bool) {
	if !r.IsLoaded(name) {
		return nil, ModuleSpec{}, false
	}
	r.mu.RLock()
	e := r.entries[name]
	r.mu.RUnlock()
	return e.module, r.specs[name], true
}

// Describe returns the read-only view of every known module, sorted by name.
func (r *Registry) Describe() []Description {
	out := make([]Description, 0, len(r.specs))
	for _, spec := range r.Specs() {
		d, _ := r.Descriptor(spec.Name)
		out = append(out, d.Describe())
	}
	return out
}

// Close releases every loaded module handle. Descriptors keep their state
// but IsLoaded reports false afterwards.
func (r *Registry) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, e := range r.entries {
		e.mu.Lock()
		if e.module != nil {
			if err := e.module.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

func (r *Registry) lookup(name string) *Descriptor {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return e.desc.Load()
}

func (r *Registry) entry(name string) *entry {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		return e
	}
	e = &entry{}
	r.entries[name] = e
	return e
}

func (r *Registry) resolve(ctx context.Context, name string, locate func(context.Context) (Source, error)) Descriptor {
	e := r.entry(name)

	e.mu.Lock()
	defer e.mu.Unlock()

	if d := e.desc.Load(); d != nil {
		return d.clone()
	}

	spec, known := r.specs[name]
	desc := Descriptor{Name: name, Symbols: spec.Symbols, State: StateUnloaded}

	// The outcome is cached for every later caller, so one caller's
	// cancellation must not decide it.
	module, src, err := r.open(context.WithoutCancel(ctx), name, spec, known, locate)
	desc.Path = src.Path
	if err != nil {
		desc.State = StateFailed
		desc.Reason = &LoadError{Module: name, Path: src.Path, Err: err}
		r.logger.WarnContext(ctx, "native module unavailable, using fallback",
			"module", name, "path", src.Path, "error", err)
	} else {
		desc.State = StateLoaded
		e.module = module
		r.logger.InfoContext(ctx, "native module loaded",
			"module", name, "path", src.Path, "symbols", desc.SymbolNames())
	}
	r.metrics.SetModuleLoaded(name, desc.Loaded())

	e.desc.Store(&desc)
	return desc.clone()
}

func (r *Registry) open(
	ctx context.Context,
	name string,
	spec ModuleSpec,
	known bool,
	locate func(context.Context) (Source, error),
) (Module, Source, error) {
	if r.closed.Load() {
		return nil, Source{}, ErrRegistryClosed
	}
	if !known {
		return nil, Source{}, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}

	src, err := locate(ctx)
	if err != nil {
		return nil, src, err
	}

	if r.admitter != nil {
		if err := r.admitter.Admit(ctx, name, src.Path); err != nil {
			return nil, src, fmt.Errorf("%w: %w", ErrAdmissionDenied, err)
		}
	}

	module, err := r.openSafely(ctx, src, spec)
	return module, src, err
}

// openSafely keeps a misbehaving loader from taking the host down.
func (r *Registry) openSafely(ctx context.Context, src Source, spec ModuleSpec) (module Module, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			module = nil
			err = fmt.Errorf("loader panicked: %v", rec)
		}
	}()
	return r.loader.Open(ctx, src, spec)
}
