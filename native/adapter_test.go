package native_test

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/capability/capabilitytest"
	"github.com/reglet-dev/capbridge/native"
)

func loaded(t *testing.T, module *capabilitytest.FakeModule) (*capability.Registry, capability.Module, capability.ModuleSpec) {
	t.Helper()
	reg := capability.NewRegistry(capabilitytest.NewFakeLoader(module),
		capability.WithLogger(capabilitytest.NewTestLogger()))
	desc := reg.Load(context.Background(), module.Name, "/"+module.Name+".wasm")
	require.True(t, desc.Loaded(), "load %s: %v", module.Name, desc.Reason)
	handle, spec, ok := reg.Module(module.Name)
	require.True(t, ok)
	return reg, handle, spec
}

func secureCall(t *testing.T, reg *capability.Registry, handle capability.Module, spec capability.ModuleSpec, text string) native.Call {
	t.Helper()
	desc, _ := reg.Descriptor(capability.SecureCore)
	sym, ok := spec.Symbol(capability.SymbolSecureProcess)
	require.True(t, ok)
	return native.Call{
		Descriptor: desc,
		Module:     handle,
		Allocator:  spec.Allocator,
		Symbol:     sym,
		Args:       []native.Arg{native.Text(text)},
		Decode: func(r native.Result) (any, error) {
			if len(r.Buffer) != 8 {
				return nil, errors.New("short digest")
			}
			return binary.LittleEndian.Uint64(r.Buffer), nil
		},
	}
}

func newAdapter(opts ...native.Option) *native.Adapter {
	return native.NewAdapter(append([]native.Option{native.WithLogger(capabilitytest.NewTestLogger())}, opts...)...)
}

func TestAdapter_Success(t *testing.T) {
	module := capabilitytest.NewSecureCore()
	reg, handle, spec := loaded(t, module)

	out := newAdapter().Invoke(context.Background(), secureCall(t, reg, handle, spec, "alpha"))

	require.Equal(t, native.StatusOK, out.Status, "err: %v", out.Err)
	assert.Equal(t, uint64(0x8ac625bb85ed202b), out.Value)
	assert.Positive(t, out.Latency)

	stats := module.Stats()
	assert.Equal(t, 1, stats.Results)
	assert.Equal(t, 1, stats.Releases)
	assert.Zero(t, stats.DoubleReleases)
	assert.Equal(t, stats.InputAllocs, stats.InputFrees)
	assert.Equal(t, stats.Instances, stats.InstancesClosed)
}

func TestAdapter_ReleasedOnDecodeFailure(t *testing.T) {
	module := capabilitytest.NewSecureCore().
		Set(capability.SymbolSecureProcess, capabilitytest.BufferFunc([]byte{1, 2, 3}))
	reg, handle, spec := loaded(t, module)

	out := newAdapter().Invoke(context.Background(), secureCall(t, reg, handle, spec, "alpha"))

	assert.Equal(t, native.StatusFault, out.Status)
	var fault *native.RuntimeFault
	require.ErrorAs(t, out.Err, &fault)
	assert.Equal(t, native.PhaseDecode, fault.Phase)

	stats := module.Stats()
	assert.Equal(t, 1, stats.Results)
	assert.Equal(t, 1, stats.Releases)
	assert.Zero(t, stats.DoubleReleases)
}

func TestAdapter_ReleaseFailureIsFault(t *testing.T) {
	module := capabilitytest.NewSecureCore().
		Set(capability.ExportDeallocate, capabilitytest.TrapFunc())
	reg, handle, spec := loaded(t, module)

	out := newAdapter().Invoke(context.Background(), secureCall(t, reg, handle, spec, "alpha"))

	assert.Equal(t, native.StatusFault, out.Status)
	var fault *native.RuntimeFault
	require.ErrorAs(t, out.Err, &fault)
	assert.Equal(t, native.PhaseRelease, fault.Phase)
}

func TestAdapter_Faults(t *testing.T) {
	tests := []struct {
		name  string
		fn    capabilitytest.Func
		phase string
	}{
		{"trap", capabilitytest.TrapFunc(), native.PhaseCall},
		{"panic", capabilitytest.PanicFunc("guest exploded"), native.PhasePanic},
		{"null buffer", capabilitytest.NullBufferFunc(), native.PhaseCall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			module := capabilitytest.NewSecureCore().Set(capability.SymbolSecureProcess, tt.fn)
			reg, handle, spec := loaded(t, module)

			var out native.Outcome
			require.NotPanics(t, func() {
				out = newAdapter().Invoke(context.Background(), secureCall(t, reg, handle, spec, "alpha"))
			})

			assert.Equal(t, native.StatusFault, out.Status)
			assert.ErrorIs(t, out.Err, native.ErrRuntimeFault)
			var fault *native.RuntimeFault
			require.ErrorAs(t, out.Err, &fault)
			assert.Equal(t, tt.phase, fault.Phase)
			assert.Equal(t, capability.SecureCore, fault.Module)
			assert.Zero(t, module.Stats().Releases)
		})
	}
}

func TestAdapter_NullBufferSentinel(t *testing.T) {
	module := capabilitytest.NewSecureCore().
		Set(capability.SymbolSecureProcess, capabilitytest.NullBufferFunc())
	reg, handle, spec := loaded(t, module)

	out := newAdapter().Invoke(context.Background(), secureCall(t, reg, handle, spec, "alpha"))
	assert.ErrorIs(t, out.Err, native.ErrNullBuffer)
}

func TestAdapter_Timeout(t *testing.T) {
	module := capabilitytest.NewSecureCore().Set(capability.SymbolSecureProcess, capabilitytest.HangFunc())
	reg, handle, spec := loaded(t, module)

	start := time.Now()
	out := newAdapter(native.WithTimeout(20*time.Millisecond)).
		Invoke(context.Background(), secureCall(t, reg, handle, spec, "alpha"))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, native.StatusFault, out.Status)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	var fault *native.RuntimeFault
	require.ErrorAs(t, out.Err, &fault)
	assert.Equal(t, native.PhaseTimeout, fault.Phase)
}

func TestAdapter_Unavailable(t *testing.T) {
	reason := &capability.LoadError{Module: capability.SecureCore, Err: capability.ErrModuleNotFound}
	out := newAdapter().Invoke(context.Background(), native.Call{
		Descriptor: capability.Descriptor{Name: capability.SecureCore, State: capability.StateFailed, Reason: reason},
	})

	assert.Equal(t, native.StatusUnavailable, out.Status)
	assert.ErrorIs(t, out.Err, native.ErrUnavailable)
	assert.ErrorIs(t, out.Err, capability.ErrModuleNotFound)
}

func TestAdapter_EncodingError(t *testing.T) {
	module := capabilitytest.NewSecureCore()
	reg, handle, spec := loaded(t, module)

	out := newAdapter().Invoke(context.Background(), secureCall(t, reg, handle, spec, "bad\xff\xfe"))

	assert.Equal(t, native.StatusEncodingError, out.Status)
	assert.ErrorIs(t, out.Err, native.ErrEncoding)
	assert.ErrorIs(t, out.Err, native.ErrInvalidUTF8)
	assert.Zero(t, module.Stats().Calls[capability.SymbolSecureProcess])
}

func TestAdapter_TextTruncatedAtNUL(t *testing.T) {
	module := capabilitytest.NewSecureCore()
	reg, handle, spec := loaded(t, module)
	adapter := newAdapter()

	truncated := adapter.Invoke(context.Background(), secureCall(t, reg, handle, spec, "alpha\x00ignored"))
	plain := adapter.Invoke(context.Background(), secureCall(t, reg, handle, spec, "alpha"))

	require.True(t, truncated.OK())
	require.True(t, plain.OK())
	assert.Equal(t, plain.Value, truncated.Value)

	// Bytes after the NUL never reach validation.
	invalidTail := adapter.Invoke(context.Background(), secureCall(t, reg, handle, spec, "alpha\x00\xff"))
	assert.True(t, invalidTail.OK())
}

func TestAdapter_EmptyTextNeedsNoAllocation(t *testing.T) {
	module := capabilitytest.NewSecureCore()
	reg, handle, spec := loaded(t, module)

	out := newAdapter().Invoke(context.Background(), secureCall(t, reg, handle, spec, ""))

	require.True(t, out.OK(), "err: %v", out.Err)
	assert.Equal(t, uint64(0xcbf29ce484222325), out.Value)
	assert.Zero(t, module.Stats().InputAllocs)
}

func TestAdapter_ArgumentMismatchIsFault(t *testing.T) {
	module := capabilitytest.NewSecureCore()
	reg, handle, spec := loaded(t, module)

	call := secureCall(t, reg, handle, spec, "alpha")
	call.Args = []native.Arg{native.I32(7)}
	out := newAdapter().Invoke(context.Background(), call)
	assert.Equal(t, native.StatusFault, out.Status)

	call.Args = nil
	out = newAdapter().Invoke(context.Background(), call)
	assert.Equal(t, native.StatusFault, out.Status)
}

func TestAdapter_ScalarResult(t *testing.T) {
	module := capabilitytest.NewSecureCore()
	reg, handle, spec := loaded(t, module)
	desc, _ := reg.Descriptor(capability.SecureCore)
	sym, _ := spec.Symbol(capability.SymbolCanary)

	out := newAdapter().Invoke(context.Background(), native.Call{
		Descriptor: desc,
		Module:     handle,
		Allocator:  spec.Allocator,
		Symbol:     sym,
		Args:       []native.Arg{native.I32(capability.CanaryA), native.I32(capability.CanaryB)},
		Decode:     func(r native.Result) (any, error) { return r.I32(), nil },
	})

	require.True(t, out.OK(), "err: %v", out.Err)
	assert.Equal(t, capability.CanaryWant, out.Value)
}

func TestAdapter_ConcurrentCallsKeepTheirOwnPayload(t *testing.T) {
	module := capabilitytest.NewSecureCore()
	reg, handle, spec := loaded(t, module)
	adapter := newAdapter()

	want := map[string]uint64{
		"alpha": 0x8ac625bb85ed202b,
		"beta":  0x7627619b954620a7,
	}

	var wg sync.WaitGroup
	for range 50 {
		for payload, expected := range want {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out := adapter.Invoke(context.Background(), secureCall(t, reg, handle, spec, payload))
				assert.True(t, out.OK())
				assert.Equal(t, expected, out.Value, payload)
			}()
		}
	}
	wg.Wait()

	stats := module.Stats()
	assert.Equal(t, stats.Results, stats.Releases)
	assert.Zero(t, stats.DoubleReleases)
}

func TestAdapter_Middleware(t *testing.T) {
	module := capabilitytest.NewSecureCore()
	reg, handle, spec := loaded(t, module)

	var seen []string
	record := func(tag string) native.Middleware {
		return func(next native.Handler) native.Handler {
			return func(ctx context.Context, call native.Call) native.Outcome {
				seen = append(seen, tag+">"+call.Symbol.Name)
				return next(ctx, call)
			}
		}
	}

	adapter := newAdapter(native.WithMiddleware(
		native.LoggingMiddleware(capabilitytest.NewTestLogger()),
		record("outer"),
		record("inner"),
	))
	out := adapter.Invoke(context.Background(), secureCall(t, reg, handle, spec, "alpha"))

	require.True(t, out.OK())
	assert.Equal(t, []string{"outer>secure_process", "inner>secure_process"}, seen)
}

func TestOutcomeStatusString(t *testing.T) {
	assert.Equal(t, "ok", native.StatusOK.String())
	assert.Equal(t, "unavailable", native.StatusUnavailable.String())
	assert.Equal(t, "encoding_error", native.StatusEncodingError.String())
	assert.Equal(t, "fault", native.StatusFault.String())
}
