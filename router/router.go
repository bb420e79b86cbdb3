// Package router is the bridge's public entry point. It decides per
// capability whether to call native code or the pure fallback, and always
// returns a well-formed Response.
package router

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/fallback"
	"github.com/reglet-dev/capbridge/metric"
	"github.com/reglet-dev/capbridge/native"
	"github.com/reglet-dev/capbridge/wazero"
)

// OperationProcess is the only supported operation.
const OperationProcess = "process"

// Registry is the read side of capability.Registry the router needs.
type Registry interface {
	IsLoaded(name string) bool
	Ensure(ctx context.Context, name string) capability.Descriptor
	Descriptor(name string) (capability.Descriptor, bool)
	Module(name string) (capability.Module, capability.ModuleSpec, bool)
	Describe() []capability.Description
}

// Invoker runs native calls.
type Invoker interface {
	Invoke(ctx context.Context, call native.Call) native.Outcome
}

var (
	_ Registry = (*capability.Registry)(nil)
	_ Invoker  = (*native.Adapter)(nil)
)

// Router routes operations to native modules or their fallbacks.
type Router struct {
	registry       Registry
	adapter        Invoker
	logger         *slog.Logger
	metrics        *metric.Metrics
	lazy           bool
	defaultWorkers int

	requests     atomic.Int64
	totalLatency atomic.Int64
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records call metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithLazyLoading loads each capability on first use through
// Registry.Ensure.
func WithLazyLoading(lazy bool) Option {
	return func(r *Router) {
		r.lazy = lazy
	}
}

// WithDefaultWorkers sets the worker count used when a call gives none.
func WithDefaultWorkers(n int) Option {
	return func(r *Router) {
		r.defaultWorkers = fallback.ClampWorkers(n)
	}
}

// New creates a Router.
func New(registry Registry, adapter Invoker, opts ...Option) *Router {
	r := &Router{
		registry:       registry,
		adapter:        adapter,
		logger:         slog.Default(),
		defaultWorkers: fallback.DefaultWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	workers   int
	eventType string
	requestID string
}

// WithWorkers sets the parallel worker count, clamped to [1, 64].
func WithWorkers(n int) CallOption {
	return func(o *callOptions) {
		o.workers = n
	}
}

// WithEventType sets the reactive event type.
func WithEventType(eventType string) CallOption {
	return func(o *callOptions) {
		o.eventType = eventType
	}
}

// WithRequestID overrides the generated request ID.
func WithRequestID(id string) CallOption {
	return func(o *callOptions) {
		o.requestID = id
	}
}

// Call runs operation in mode. It never fails: unknown operations and
// modes, unloaded modules and native faults all produce a degraded
// Response instead.
func (r *Router) Call(ctx context.Context, operation string, payload []byte, mode Mode, opts ...CallOption) Response {
	start := time.Now()

	o := callOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.requestID == "" {
		o.requestID = uuid.NewString()
	}
	if o.workers == 0 {
		o.workers = r.defaultWorkers
	}
	if o.eventType == "" {
		o.eventType = mode.String() + "_event"
	}
	ctx = wazero.WithRequestID(ctx, o.requestID)

	resp := Response{
		Status:    StatusSuccess,
		RequestID: o.requestID,
		Operation: operation,
		Mode:      mode.String(),
	}

	switch {
	case !isProcess(operation):
		resp.Result.Reason = "unknown operation " + operation
	case !mode.Valid():
		resp.Result.Reason = "unknown " + mode.String()
	default:
		req := request{
			payload:   payload,
			workers:   fallback.ClampWorkers(o.workers),
			eventType: o.eventType,
		}
		resp.Result = r.dispatch(ctx, mode, req)
	}

	resp.BackendUsed, resp.Degraded = summarize(resp.Result)
	elapsed := time.Since(start)
	resp.LatencyMs = millis(elapsed)

	r.requests.Add(1)
	r.totalLatency.Add(int64(elapsed))
	r.metrics.ObserveCall(operationLabel(operation), mode.String(), string(resp.BackendUsed))

	r.logger.DebugContext(ctx, "bridge call completed",
		"request_id", resp.RequestID,
		"operation", operation,
		"mode", resp.Mode,
		"backend", resp.BackendUsed,
		"degraded", resp.Degraded,
		"latency_ms", resp.LatencyMs)
	return resp
}

// dispatch runs every capability the mode requires. Balanced sub-operations
// run concurrently, each writing only its own slot.
func (r *Router) dispatch(ctx context.Context, mode Mode, req request) Result {
	var res Result
	var g errgroup.Group
	for _, name := range mode.Capabilities() {
		switch name {
		case capability.SecureCore:
			g.Go(func() error {
				res.Security = secureOperation.run(ctx, r, req)
				return nil
			})
		case capability.ParallelCore:
			g.Go(func() error {
				res.Parallel = parallelOperation.run(ctx, r, req)
				return nil
			})
		case capability.ReactiveCore:
			g.Go(func() error {
				res.Reactive = reactiveOperation.run(ctx, r, req)
				return nil
			})
		}
	}
	_ = g.Wait()
	return res
}

// summarize derives the call-level backend: native only when every filled
// slot used native code. Any fallback, or no slots at all, is degraded.
func summarize(res Result) (Backend, bool) {
	backends := res.Backends()
	if len(backends) == 0 {
		return BackendFallback, true
	}
	for _, b := range backends {
		if b != BackendNative {
			return BackendFallback, true
		}
	}
	return BackendNative, false
}

func isProcess(operation string) bool {
	op := strings.ToLower(strings.TrimSpace(operation))
	return op == "" || op == OperationProcess
}

// operationLabel bounds metric label cardinality.
func operationLabel(operation string) string {
	if isProcess(operation) {
		return OperationProcess
	}
	return "unknown"
}

// Capabilities returns the read-only capability descriptions.
func (r *Router) Capabilities() []capability.Description {
	return r.registry.Describe()
}
