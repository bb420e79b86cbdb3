package capbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/config"
	"github.com/reglet-dev/capbridge/discovery"
	"github.com/reglet-dev/capbridge/host"
	"github.com/reglet-dev/capbridge/metric"
	"github.com/reglet-dev/capbridge/native"
	"github.com/reglet-dev/capbridge/policy"
	"github.com/reglet-dev/capbridge/router"
)

// Bridge owns the module registry, the native adapter and the router built
// from one configuration.
type Bridge struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metric.Metrics
	runtime  *host.Runtime
	repo     *discovery.FSRepository
	registry *capability.Registry
	router   *router.Router
}

// New wires a Bridge from cfg. A nil cfg means config.Default(). Unless
// lazy loading is configured, every catalog module is loaded and its
// canary run before New returns. Module failures never fail New; they
// leave the capability on its fallback.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.denials == nil {
		o.denials = &policy.SlogDenialHandler{Logger: o.logger}
	}

	digests, err := cfg.Digests()
	if err != nil {
		return nil, err
	}

	repo, err := discovery.NewFSRepository(cfg.ModuleDir, repositoryOptions(cfg, o.logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create module repository: %w", err)
	}

	b := &Bridge{
		cfg:     cfg,
		logger:  o.logger,
		metrics: o.metrics,
		repo:    repo,
	}

	loader := o.loader
	if loader == nil {
		rt, err := host.NewRuntime(ctx,
			host.WithLogger(o.logger),
			host.WithCompilationCacheDir(cfg.CompilationCacheDir),
			host.WithMemoryLimitPages(cfg.MemoryLimitPages),
			host.WithMaxModuleSize(cfg.MaxModuleBytes),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create wasm runtime: %w", err)
		}
		b.runtime = rt
		loader = rt
	}

	admitter := policy.NewPolicy(
		policy.WithAllowedPaths(cfg.AllowedPaths...),
		policy.WithDenialHandler(o.denials),
	)

	b.registry = capability.NewRegistry(loader,
		capability.WithLogger(o.logger),
		capability.WithAdmitter(admitter),
		capability.WithLocator(repo),
		capability.WithDigests(digests),
		capability.WithMetrics(o.metrics),
	)

	adapter := native.NewAdapter(
		native.WithLogger(o.logger),
		native.WithTimeout(cfg.CallTimeout.Std()),
		native.WithMiddleware(append([]native.Middleware{native.LoggingMiddleware(o.logger)}, o.middleware...)...),
	)

	routerOpts := []router.Option{
		router.WithLogger(o.logger),
		router.WithMetrics(o.metrics),
		router.WithLazyLoading(cfg.LazyLoading),
	}
	if cfg.DefaultWorkers > 0 {
		routerOpts = append(routerOpts, router.WithDefaultWorkers(cfg.DefaultWorkers))
	}
	b.router = router.New(b.registry, adapter, routerOpts...)

	if !cfg.LazyLoading {
		b.loadAll(ctx)
		b.warmUp(ctx)
	}

	return b, nil
}

func repositoryOptions(cfg *config.Config, logger *slog.Logger) []discovery.Option {
	opts := []discovery.Option{
		discovery.WithLogger(logger),
		discovery.WithPattern(cfg.DiscoveryPattern),
	}
	for _, name := range cfg.ModuleNames() {
		m := cfg.Modules[name]
		if m.Path != "" {
			opts = append(opts, discovery.WithOverride(name, m.Path))
		}
		if m.Version != "" {
			opts = append(opts, discovery.WithConstraint(name, m.Version))
		}
	}
	return opts
}

func (b *Bridge) loadAll(ctx context.Context) {
	for _, spec := range b.registry.Specs() {
		b.registry.Ensure(ctx, spec.Name)
	}
}

// warmUp runs every loaded module's canary once so a broken module shows
// up in the startup log rather than on the first request.
func (b *Bridge) warmUp(ctx context.Context) {
	for _, d := range b.registry.Describe() {
		if !d.Loaded {
			continue
		}
		res := b.router.Canary(ctx, d.Name)
		b.metrics.SetCanaryPassed(d.Name, res.Passed)
		if res.Passed {
			b.logger.InfoContext(ctx, "native module warm-up passed",
				"module", d.Name, "latency", res.Latency)
		} else {
			b.logger.WarnContext(ctx, "native module warm-up failed",
				"module", d.Name, "error", res.Err)
		}
	}
}

// Call runs operation in mode. See router.Router.Call.
func (b *Bridge) Call(ctx context.Context, operation string, payload []byte, mode router.Mode, opts ...router.CallOption) router.Response {
	return b.router.Call(ctx, operation, payload, mode, opts...)
}

// HealthCheck reports per-capability load and canary state.
func (b *Bridge) HealthCheck(ctx context.Context) router.Health {
	return b.router.HealthCheck(ctx)
}

// Capabilities describes every catalog module, sorted by name.
func (b *Bridge) Capabilities() []capability.Description {
	return b.router.Capabilities()
}

// Stress runs iterations of process in mode.
func (b *Bridge) Stress(ctx context.Context, iterations int, mode router.Mode) (router.StressReport, error) {
	return b.router.Stress(ctx, iterations, mode)
}

// Modules lists the module files discovery currently sees.
func (b *Bridge) Modules(ctx context.Context) ([]discovery.Entry, error) {
	return b.repo.List(ctx)
}

// Config returns the configuration the bridge was built from.
func (b *Bridge) Config() *config.Config {
	return b.cfg
}

// Close releases every loaded module and the wasm runtime. Calls made
// after Close fall back.
func (b *Bridge) Close(ctx context.Context) error {
	err := b.registry.Close(ctx)
	if b.runtime != nil {
		err = errors.Join(err, b.runtime.Close(ctx))
	}
	return err
}
