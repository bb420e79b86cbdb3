// Package capabilitytest provides in-memory test doubles for the
// capability ports. The fake modules implement the same operations as the
// wazero fixtures in host/testdata and count every allocation and release.
package capabilitytest

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"sync"

	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/wazero"
)

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ErrTrap is what trapping fake functions return.
var ErrTrap = errors.New("wasm error: unreachable")

// Func is a fake export. It may allocate result buffers with inst.Alloc.
type Func func(ctx context.Context, inst *FakeInstance, params []uint64) ([]uint64, error)

// FakeLoader implements capability.Loader over FakeModules.
type FakeLoader struct {
	mu      sync.Mutex
	modules map[string]*FakeModule
	errs    map[string]error
	opens   map[string]int
	sources map[string]capability.Source

	// OnOpen, when set, runs inside every Open before it resolves.
	OnOpen func(name string)
}

var _ capability.Loader = (*FakeLoader)(nil)

// NewFakeLoader creates a loader serving the given modules by name.
func NewFakeLoader(modules ...*FakeModule) *FakeLoader {
	l := &FakeLoader{
		modules: make(map[string]*FakeModule),
		errs:    make(map[string]error),
		opens:   make(map[string]int),
		sources: make(map[string]capability.Source),
	}
	for _, m := range modules {
		l.modules[m.Name] = m
	}
	return l
}

// Fail makes every Open of name return err.
func (l *FakeLoader) Fail(name string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs[name] = err
}

// Open implements capability.Loader. Every export named in spec must exist
// in the module's Funcs.
func (l *FakeLoader) Open(_ context.Context, src capability.Source, spec capability.ModuleSpec) (capability.Module, error) {
	if l.OnOpen != nil {
		l.OnOpen(spec.Name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.opens[spec.Name]++
	l.sources[spec.Name] = src

	if err := l.errs[spec.Name]; err != nil {
		return nil, err
	}
	m, ok := l.modules[spec.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", capability.ErrModuleNotFound, src.Path)
	}
	for _, sym := range spec.Symbols {
		if !m.has(sym.Name) {
			return nil, fmt.Errorf("%w: %s", capability.ErrMissingSymbol, sym.Name)
		}
	}
	return m, nil
}

// Opens returns how many times Open ran for name.
func (l *FakeLoader) Opens(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens[name]
}

// Source returns the last source Open received for name.
func (l *FakeLoader) Source(name string) capability.Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sources[name]
}

// Stats counts what happened across all instances of a FakeModule.
type Stats struct {
	Instances       int
	InstancesClosed int
	InputAllocs     int
	InputFrees      int
	Results         int
	Releases        int
	DoubleReleases  int
	Calls           map[string]int
}

// FakeModule implements capability.Module with Go functions.
type FakeModule struct {
	Name string

	mu     sync.Mutex
	funcs  map[string]Func
	stats  Stats
	closed bool
}

var _ capability.Module = (*FakeModule)(nil)

// NewFakeModule creates a module exporting only the allocator pair.
func NewFakeModule(name string) *FakeModule {
	return &FakeModule{
		Name:  name,
		funcs: make(map[string]Func),
		stats: Stats{Calls: make(map[string]int)},
	}
}

// Set installs or replaces an export.
func (m *FakeModule) Set(name string, fn Func) *FakeModule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[name] = fn
	return m
}

// Remove deletes an export.
func (m *FakeModule) Remove(name string) *FakeModule {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.funcs, name)
	return m
}

// Stats returns a snapshot of the module's counters.
func (m *FakeModule) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Calls = make(map[string]int, len(m.stats.Calls))
	for k, v := range m.stats.Calls {
		s.Calls[k] = v
	}
	return s
}

// Closed reports whether Close was called.
func (m *FakeModule) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *FakeModule) has(name string) bool {
	if name == capability.ExportAllocate || name == capability.ExportDeallocate {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.funcs[name]
	return ok
}

// NewInstance implements capability.Module.
func (m *FakeModule) NewInstance(ctx context.Context) (capability.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("module closed")
	}
	m.stats.Instances++
	return &FakeInstance{
		module:  m,
		memory:  make([]byte, 64*1024),
		heap:    1024,
		inputs:  make(map[uint32]bool),
		results: make(map[uint32]int),
	}, nil
}

// Close implements capability.Module.
func (m *FakeModule) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FakeInstance is one isolated instance with its own linear memory and
// bump allocator.
type FakeInstance struct {
	module *FakeModule
	memory []byte
	heap   uint32

	// inputs are host-requested allocations; results are guest ones.
	inputs  map[uint32]bool
	results map[uint32]int
}

var _ capability.Instance = (*FakeInstance)(nil)

// Call implements capability.Instance.
func (i *FakeInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := i.module
	m.mu.Lock()
	m.stats.Calls[name]++
	fn, ok := m.funcs[name]
	m.mu.Unlock()

	switch {
	case ok:
		return fn(ctx, i, params)
	case name == capability.ExportAllocate:
		ptr := i.bump(uint32(params[0]))
		i.inputs[ptr] = true
		m.count(func(s *Stats) { s.InputAllocs++ })
		return []uint64{uint64(ptr)}, nil
	case name == capability.ExportDeallocate:
		i.free(uint32(params[0]))
		return nil, nil
	default:
		return nil, fmt.Errorf("export %q not found", name)
	}
}

// Alloc places data in guest memory as a result buffer and returns the
// packed pointer/length.
func (i *FakeInstance) Alloc(data []byte) uint64 {
	ptr := i.bump(uint32(len(data)))
	copy(i.memory[ptr:], data)
	i.results[ptr] = 0
	i.module.count(func(s *Stats) { s.Results++ })
	return wazero.PackPtrLen(ptr, uint32(len(data)))
}

// ReadPacked reads the buffer a packed argument points at.
func (i *FakeInstance) ReadPacked(packed uint64) []byte {
	ptr, length := wazero.UnpackPtrLen(packed)
	data, _ := i.Read(ptr, length)
	return data
}

// Read implements capability.Instance.
func (i *FakeInstance) Read(ptr, length uint32) ([]byte, bool) {
	end := uint64(ptr) + uint64(length)
	if end > uint64(len(i.memory)) {
		return nil, false
	}
	return i.memory[ptr:end], true
}

// Write implements capability.Instance.
func (i *FakeInstance) Write(ptr uint32, data []byte) bool {
	if uint64(ptr)+uint64(len(data)) > uint64(len(i.memory)) {
		return false
	}
	copy(i.memory[ptr:], data)
	return true
}

// Close implements capability.Instance.
func (i *FakeInstance) Close(context.Context) error {
	i.module.count(func(s *Stats) { s.InstancesClosed++ })
	return nil
}

func (i *FakeInstance) bump(length uint32) uint32 {
	ptr := i.heap
	i.heap += (length + 7) &^ 7
	return ptr
}

func (i *FakeInstance) free(ptr uint32) {
	if i.inputs[ptr] {
		delete(i.inputs, ptr)
		i.module.count(func(s *Stats) { s.InputFrees++ })
		return
	}
	if n, ok := i.results[ptr]; ok {
		i.results[ptr] = n + 1
		i.module.count(func(s *Stats) {
			if n == 0 {
				s.Releases++
			} else {
				s.DoubleReleases++
			}
		})
	}
}

func (m *FakeModule) count(fn func(*Stats)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.stats)
}

// SecureProcess mirrors secure_process: FNV-1a 64 of the text as an 8 byte
// little-endian buffer.
func SecureProcess(_ context.Context, inst *FakeInstance, params []uint64) ([]uint64, error) {
	h := fnv.New64a()
	_, _ = h.Write(inst.ReadPacked(params[0]))
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, h.Sum64())
	return []uint64{inst.Alloc(out)}, nil
}

// ConcurrentProcess mirrors concurrent_process: one little-endian u32 byte
// sum per ceil(len/workers) chunk.
func ConcurrentProcess(_ context.Context, inst *FakeInstance, params []uint64) ([]uint64, error) {
	data := inst.ReadPacked(params[0])
	workers := int(int32(uint32(params[1])))
	if workers < 1 {
		workers = 1
	}
	cs := (len(data) + workers - 1) / workers
	out := make([]byte, 4*workers)
	for w := 0; w < workers; w++ {
		var sum uint32
		for j := w * cs; j < min((w+1)*cs, len(data)); j++ {
			sum += uint32(data[j])
		}
		binary.LittleEndian.PutUint32(out[4*w:], sum)
	}
	return []uint64{inst.Alloc(out)}, nil
}

// ReactiveScore mirrors reactive_score: len*314159/1000.
func ReactiveScore(_ context.Context, _ *FakeInstance, params []uint64) ([]uint64, error) {
	_, length := wazero.UnpackPtrLen(params[0])
	return []uint64{uint64(length) * 314159 / 1000}, nil
}

// CanaryFunc returns (a*b)<<3 plus skew. Zero skew is the correct canary.
func CanaryFunc(skew int32) Func {
	return func(_ context.Context, _ *FakeInstance, params []uint64) ([]uint64, error) {
		a, b := int32(uint32(params[0])), int32(uint32(params[1]))
		return []uint64{uint64(uint32((a*b)<<3 + skew))}, nil
	}
}

// TrapFunc fails like a trapping export.
func TrapFunc() Func {
	return func(context.Context, *FakeInstance, []uint64) ([]uint64, error) {
		return nil, ErrTrap
	}
}

// PanicFunc panics inside the call.
func PanicFunc(v any) Func {
	return func(context.Context, *FakeInstance, []uint64) ([]uint64, error) {
		panic(v)
	}
}

// HangFunc blocks until the call's context is done.
func HangFunc() Func {
	return func(ctx context.Context, _ *FakeInstance, _ []uint64) ([]uint64, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// NullBufferFunc returns a packed result with a zero pointer.
func NullBufferFunc() Func {
	return func(context.Context, *FakeInstance, []uint64) ([]uint64, error) {
		return []uint64{wazero.PackPtrLen(0, 8)}, nil
	}
}

// BufferFunc returns a fixed result buffer.
func BufferFunc(data []byte) Func {
	return func(_ context.Context, inst *FakeInstance, _ []uint64) ([]uint64, error) {
		return []uint64{inst.Alloc(data)}, nil
	}
}

// NewSecureCore returns a correct fake secure_core.
func NewSecureCore() *FakeModule {
	return NewFakeModule(capability.SecureCore).
		Set(capability.SymbolSecureProcess, SecureProcess).
		Set(capability.SymbolCanary, CanaryFunc(0))
}

// NewParallelCore returns a correct fake parallel_core.
func NewParallelCore() *FakeModule {
	return NewFakeModule(capability.ParallelCore).
		Set(capability.SymbolConcurrentProcess, ConcurrentProcess).
		Set(capability.SymbolCanary, CanaryFunc(0))
}

// NewReactiveCore returns a correct fake reactive_core.
func NewReactiveCore() *FakeModule {
	return NewFakeModule(capability.ReactiveCore).
		Set(capability.SymbolReactiveScore, ReactiveScore).
		Set(capability.SymbolCanary, CanaryFunc(0))
}

// NewCatalog returns correct fakes for every built-in module.
func NewCatalog() []*FakeModule {
	return []*FakeModule{NewSecureCore(), NewParallelCore(), NewReactiveCore()}
}
