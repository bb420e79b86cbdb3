package native

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Handler performs one native invocation.
type Handler func(ctx context.Context, call Call) Outcome

// Middleware is a function that wraps a Handler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
//
// Example usage:
//
//	tracing := func(next native.Handler) native.Handler {
//	    return func(ctx context.Context, call native.Call) native.Outcome {
//	        span := start(ctx, call.Symbol.Name)
//	        defer span.End()
//	        return next(ctx, call)
//	    }
//	}
type Middleware func(next Handler) Handler

// PanicRecoveryMiddleware returns a middleware that catches panics and converts
// them to a StatusFault outcome instead of crashing the host.
func PanicRecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call Call) (out Outcome) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "native call panicked",
						"module", call.Descriptor.Name,
						"symbol", call.Symbol.Name,
						"panic", r,
						"stack", string(debug.Stack()))
					out = Outcome{
						Status: StatusFault,
						Err: &RuntimeFault{
							Module: call.Descriptor.Name,
							Symbol: call.Symbol.Name,
							Phase:  PhasePanic,
							Err:    fmt.Errorf("%v", r),
						},
					}
				}
			}()
			return next(ctx, call)
		}
	}
}

// LoggingMiddleware returns a middleware that logs every invocation at debug
// level and every non-OK outcome at warn level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, call Call) Outcome {
			start := time.Now()
			logger.DebugContext(ctx, "invoking native symbol",
				"module", call.Descriptor.Name, "symbol", call.Symbol.Name)

			out := next(ctx, call)
			if out.OK() {
				logger.DebugContext(ctx, "native symbol completed",
					"module", call.Descriptor.Name,
					"symbol", call.Symbol.Name,
					"duration", time.Since(start))
			} else {
				logger.WarnContext(ctx, "native symbol failed",
					"module", call.Descriptor.Name,
					"symbol", call.Symbol.Name,
					"status", out.Status.String(),
					"error", out.Err)
			}
			return out
		}
	}
}

// chain wraps h so that mws[0] is the outermost layer.
func chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
