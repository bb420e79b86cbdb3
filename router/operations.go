package router

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/fallback"
	"github.com/reglet-dev/capbridge/native"
)

// Result slot names.
const (
	fieldSecurity = "security"
	fieldParallel = "parallel"
	fieldReactive = "reactive"
)

// Fallback reasons, used as metric labels.
const (
	reasonNotLoaded     = "not_loaded"
	reasonUnavailable   = "unavailable"
	reasonEncodingError = "encoding_error"
	reasonFault         = "fault"
)

// request carries the per-call inputs every operation sees.
type request struct {
	payload   []byte
	workers   int
	eventType string
}

// operation binds one capability symbol to its native argument encoding,
// result decoding and pure fallback.
type operation[T any] struct {
	capability string
	symbol     string
	args       func(req request) []native.Arg
	decode     func(req request, raw native.Result) (T, error)
	fallback   func(req request) T
}

var secureOperation = operation[fallback.SecureResult]{
	capability: capability.SecureCore,
	symbol:     capability.SymbolSecureProcess,
	args: func(req request) []native.Arg {
		return []native.Arg{native.Text(string(req.payload))}
	},
	decode: func(req request, raw native.Result) (fallback.SecureResult, error) {
		if len(raw.Buffer) != 8 {
			return fallback.SecureResult{}, fmt.Errorf("digest is %d bytes, want 8", len(raw.Buffer))
		}
		return fallback.SecureResult{
			Hash:   fallback.FormatHash(binary.LittleEndian.Uint64(raw.Buffer)),
			Length: len(req.payload),
		}, nil
	},
	fallback: func(req request) fallback.SecureResult {
		return fallback.SecureHash(req.payload)
	},
}

var parallelOperation = operation[fallback.ParallelResult]{
	capability: capability.ParallelCore,
	symbol:     capability.SymbolConcurrentProcess,
	args: func(req request) []native.Arg {
		return []native.Arg{native.Text(string(req.payload)), native.I32(int32(req.workers))}
	},
	decode: func(req request, raw native.Result) (fallback.ParallelResult, error) {
		if len(raw.Buffer) != 4*req.workers {
			return fallback.ParallelResult{}, fmt.Errorf("checksums are %d bytes, want %d", len(raw.Buffer), 4*req.workers)
		}
		sums := make([]uint32, req.workers)
		for i := range sums {
			sums[i] = binary.LittleEndian.Uint32(raw.Buffer[4*i:])
		}
		return fallback.NewParallelResult(sums), nil
	},
	fallback: func(req request) fallback.ParallelResult {
		return fallback.Parallel(req.payload, req.workers)
	},
}

var reactiveOperation = operation[fallback.ReactiveResult]{
	capability: capability.ReactiveCore,
	symbol:     capability.SymbolReactiveScore,
	args: func(req request) []native.Arg {
		return []native.Arg{native.Text(string(req.payload))}
	},
	decode: func(req request, raw native.Result) (fallback.ReactiveResult, error) {
		score := raw.I64()
		if score < 0 {
			return fallback.ReactiveResult{}, fmt.Errorf("negative score %d", score)
		}
		return fallback.NewReactiveResult(req.payload, req.eventType, float64(score)/1000), nil
	},
	fallback: func(req request) fallback.ReactiveResult {
		return fallback.Reactive(req.payload, req.eventType)
	},
}

// callState is the per-operation state machine.
type callState int

const (
	stateStart callState = iota
	stateNativeAttempt
	stateNativeSuccess
	stateNativeUnavailable
	stateNativeFault
	stateFallbackAttempt
	stateDone
)

// run drives one operation from Start to Done. It always fills the field.
func (op operation[T]) run(ctx context.Context, r *Router, req request) *Field[T] {
	start := time.Now()
	field := &Field[T]{}

	var (
		outcome native.Outcome
		reason  string
	)

	state := stateStart
	for state != stateDone {
		switch state {
		case stateStart:
			if r.lazy {
				r.registry.Ensure(ctx, op.capability)
			}
			if r.registry.IsLoaded(op.capability) {
				state = stateNativeAttempt
			} else {
				reason = reasonNotLoaded
				state = stateNativeUnavailable
			}

		case stateNativeAttempt:
			outcome = op.invoke(ctx, r, req)
			r.metrics.ObserveNativeLatency(op.capability, outcome.Latency)
			switch outcome.Status {
			case native.StatusOK:
				state = stateNativeSuccess
			case native.StatusUnavailable:
				reason = reasonUnavailable
				state = stateNativeUnavailable
			case native.StatusEncodingError:
				reason = reasonEncodingError
				state = stateNativeFault
			default:
				reason = reasonFault
				state = stateNativeFault
			}

		case stateNativeSuccess:
			value, ok := outcome.Value.(T)
			if !ok {
				outcome = native.Outcome{Status: native.StatusFault, Err: fmt.Errorf("native value is %T", outcome.Value)}
				reason = reasonFault
				state = stateNativeFault
				continue
			}
			field.Value = value
			field.BackendUsed = BackendNative
			state = stateDone

		case stateNativeUnavailable:
			field.Reason = fmt.Sprintf("%s %s", op.capability, reason)
			r.logger.DebugContext(ctx, "native capability unavailable, using fallback",
				"capability", op.capability, "reason", reason)
			state = stateFallbackAttempt

		case stateNativeFault:
			field.Reason = fmt.Sprintf("%s %s: %v", op.capability, reason, outcome.Err)
			r.logger.WarnContext(ctx, "native call failed, using fallback",
				"capability", op.capability, "reason", reason, "error", outcome.Err)
			state = stateFallbackAttempt

		case stateFallbackAttempt:
			r.metrics.ObserveFallback(op.capability, reason)
			field.Value = op.fallback(req)
			field.BackendUsed = BackendFallback
			state = stateDone
		}
	}

	field.Success = true
	field.LatencyMs = millis(time.Since(start))
	r.metrics.ObserveSubcall(op.capability, string(field.BackendUsed))
	return field
}

// invoke builds the native call from the registry's handle and hands it
// to the adapter.
func (op operation[T]) invoke(ctx context.Context, r *Router, req request) native.Outcome {
	desc, _ := r.registry.Descriptor(op.capability)
	module, spec, ok := r.registry.Module(op.capability)
	if !ok {
		return native.Outcome{Status: native.StatusUnavailable, Err: native.ErrUnavailable}
	}
	sym, ok := spec.Symbol(op.symbol)
	if !ok {
		return native.Outcome{
			Status: native.StatusUnavailable,
			Err:    fmt.Errorf("%w: %s", capability.ErrMissingSymbol, op.symbol),
		}
	}

	return r.adapter.Invoke(ctx, native.Call{
		Descriptor: desc,
		Module:     module,
		Allocator:  spec.Allocator,
		Symbol:     sym,
		Args:       op.args(req),
		Decode: func(raw native.Result) (any, error) {
			return op.decode(req, raw)
		},
	})
}
