// Package native invokes symbols of loaded native modules through the
// packed pointer/length calling convention and reports every failure as a
// tagged Outcome instead of an error or panic.
package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/wazero"
)

// DefaultTimeout bounds a native call when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Call describes one native invocation.
type Call struct {
	Descriptor capability.Descriptor
	Module     capability.Module
	Allocator  capability.Allocator
	Symbol     capability.Symbol
	Args       []Arg
	Decode     Decoder
}

// Adapter invokes native symbols. It is safe for concurrent use; every
// invocation runs in its own module instance.
type Adapter struct {
	logger     *slog.Logger
	timeout    time.Duration
	middleware []Middleware
	handler    Handler
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithTimeout bounds how long Invoke waits for a native call. Zero or
// negative disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.timeout = d
	}
}

// WithMiddleware appends invocation middleware. Panic recovery is always
// installed outermost.
func WithMiddleware(mws ...Middleware) Option {
	return func(a *Adapter) {
		a.middleware = append(a.middleware, mws...)
	}
}

// NewAdapter creates an Adapter.
func NewAdapter(opts ...Option) *Adapter {
	a := &Adapter{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	mws := append([]Middleware{PanicRecoveryMiddleware(a.logger)}, a.middleware...)
	a.handler = chain(a.invoke, mws...)
	return a
}

// Invoke runs call and always returns an Outcome carrying the elapsed time.
// Faults, traps, panics and timeouts never escape as errors.
func (a *Adapter) Invoke(ctx context.Context, call Call) Outcome {
	start := time.Now()
	out := a.run(ctx, call)
	out.Latency = time.Since(start)
	return out
}

func (a *Adapter) run(ctx context.Context, call Call) Outcome {
	if !call.Descriptor.Loaded() || call.Module == nil {
		err := ErrUnavailable
		if call.Descriptor.Reason != nil {
			err = fmt.Errorf("%w: %w", ErrUnavailable, call.Descriptor.Reason)
		}
		return Outcome{Status: StatusUnavailable, Err: err}
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	done := make(chan Outcome, 1)
	go func() {
		done <- a.handler(ctx, call)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		// The runtime closes the instance on cancellation; the goroutine
		// still finishes and releases what it owns.
		return a.fault(call, PhaseTimeout, ctx.Err())
	}
}

func (a *Adapter) invoke(ctx context.Context, call Call) (out Outcome) {
	cleanupCtx := context.WithoutCancel(ctx)

	inst, err := call.Module.NewInstance(ctx)
	if err != nil {
		return a.fault(call, PhaseInstantiate, err)
	}
	defer func() {
		if err := inst.Close(cleanupCtx); err != nil {
			a.logger.DebugContext(ctx, "closing native instance failed",
				"module", call.Descriptor.Name, "error", err)
		}
	}()

	params, inputs, out, ok := a.marshal(ctx, inst, call)
	defer a.freeInputs(cleanupCtx, inst, call, inputs)
	if !ok {
		return out
	}

	results, err := inst.Call(ctx, call.Symbol.Name, params...)
	if err != nil {
		if ctx.Err() != nil {
			return a.fault(call, PhaseTimeout, errors.Join(ctx.Err(), err))
		}
		return a.fault(call, PhaseCall, err)
	}

	return a.decode(cleanupCtx, inst, call, results)
}

type input struct {
	ptr, length uint32
}

// marshal places every argument into the convention. Inputs allocated so
// far are returned even on failure so they can be freed.
func (a *Adapter) marshal(ctx context.Context, inst capability.Instance, call Call) ([]uint64, []input, Outcome, bool) {
	if len(call.Args) != len(call.Symbol.Params) {
		return nil, nil, a.fault(call, PhaseMarshal,
			fmt.Errorf("got %d arguments, want %d", len(call.Args), len(call.Symbol.Params))), false
	}

	params := make([]uint64, 0, len(call.Args))
	var inputs []input
	for i, arg := range call.Args {
		want := call.Symbol.Params[i]
		if arg.Shape() != want {
			return nil, inputs, a.fault(call, PhaseMarshal,
				fmt.Errorf("argument %d is %s, want %s", i, arg.Shape(), want)), false
		}

		if !want.Packed() {
			params = append(params, arg.scalar)
			continue
		}

		data, err := arg.encoded()
		if err != nil {
			return nil, inputs, Outcome{Status: StatusEncodingError, Err: &EncodingError{Arg: i, Err: err}}, false
		}
		if len(data) == 0 {
			params = append(params, 0)
			continue
		}

		ptr, err := a.allocate(ctx, inst, call, data)
		if err != nil {
			return nil, inputs, a.fault(call, PhaseMarshal, err), false
		}
		inputs = append(inputs, input{ptr: ptr, length: uint32(len(data))})
		params = append(params, wazero.PackPtrLen(ptr, uint32(len(data))))
	}
	return params, inputs, Outcome{}, true
}

func (a *Adapter) allocate(ctx context.Context, inst capability.Instance, call Call, data []byte) (uint32, error) {
	if call.Allocator.Alloc == "" {
		return 0, errors.New("module has no allocator")
	}
	res, err := inst.Call(ctx, call.Allocator.Alloc, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%s(%d): %w", call.Allocator.Alloc, len(data), err)
	}
	if len(res) != 1 {
		return 0, fmt.Errorf("%s returned %d values", call.Allocator.Alloc, len(res))
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, fmt.Errorf("%s(%d): %w", call.Allocator.Alloc, len(data), ErrNullBuffer)
	}
	if !inst.Write(ptr, data) {
		return 0, fmt.Errorf("write %d bytes at %d: out of range", len(data), ptr)
	}
	return ptr, nil
}

func (a *Adapter) freeInputs(ctx context.Context, inst capability.Instance, call Call, inputs []input) {
	if call.Allocator.Free == "" {
		return
	}
	for _, in := range inputs {
		if _, err := inst.Call(ctx, call.Allocator.Free, uint64(in.ptr), uint64(in.length)); err != nil {
			a.logger.DebugContext(ctx, "freeing native input failed",
				"module", call.Descriptor.Name, "ptr", in.ptr, "error", err)
		}
	}
}

func (a *Adapter) decode(ctx context.Context, inst capability.Instance, call Call, results []uint64) (out Outcome) {
	decode := call.Decode
	if decode == nil {
		decode = func(r Result) (any, error) {
			if r.Buffer != nil {
				return r.Buffer, nil
			}
			return r.Scalar, nil
		}
	}

	var raw Result
	switch call.Symbol.Result {
	case capability.ShapeNone:
	case capability.ShapeI32, capability.ShapeI64:
		if len(results) != 1 {
			return a.fault(call, PhaseDecode, fmt.Errorf("got %d results, want 1", len(results)))
		}
		raw.Scalar = results[0]
	case capability.ShapeText, capability.ShapeBuffer:
		if len(results) != 1 {
			return a.fault(call, PhaseDecode, fmt.Errorf("got %d results, want 1", len(results)))
		}
		ptr, length := wazero.UnpackPtrLen(results[0])
		if ptr == 0 {
			return a.fault(call, PhaseCall, ErrNullBuffer)
		}

		token := newOwnershipToken(inst, call.Symbol.Release, ptr, length)
		defer func() {
			if err := token.Release(ctx); err != nil && out.OK() {
				out = a.fault(call, PhaseRelease, err)
			}
		}()

		data, err := token.Bytes()
		if err != nil {
			return a.fault(call, PhaseDecode, err)
		}
		raw.Buffer = data
	}

	value, err := decode(raw)
	if err != nil {
		return a.fault(call, PhaseDecode, err)
	}
	return Outcome{Status: StatusOK, Value: value}
}

func (a *Adapter) fault(call Call, phase string, err error) Outcome {
	return Outcome{
		Status: StatusFault,
		Err: &RuntimeFault{
			Module: call.Descriptor.Name,
			Symbol: call.Symbol.Name,
			Phase:  phase,
			Err:    err,
		},
	}
}
