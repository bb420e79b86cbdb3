package capability

// Built-in module names.
const (
	SecureCore   = "secure_core"
	ParallelCore = "parallel_core"
	ReactiveCore = "reactive_core"
)

// Built-in export names.
const (
	SymbolSecureProcess     = "secure_process"
	SymbolConcurrentProcess = "concurrent_process"
	SymbolReactiveScore     = "reactive_score"
	SymbolCanary            = "bridge_canary"

	ExportAllocate   = "allocate"
	ExportDeallocate = "deallocate"
)

// Canary inputs and expected output: (2*3)<<3.
const (
	CanaryA    int32 = 2
	CanaryB    int32 = 3
	CanaryWant int32 = 48
)

// DefaultAllocator is the allocator pair every built-in module exports.
var DefaultAllocator = Allocator{Alloc: ExportAllocate, Free: ExportDeallocate}

var canarySymbol = Symbol{
	Name:   SymbolCanary,
	Params: []Shape{ShapeI32, ShapeI32},
	Result: ShapeI32,
}

var defaultCanary = Canary{Symbol: SymbolCanary, A: CanaryA, B: CanaryB, Want: CanaryWant}

// SecureCoreSpec hashes text into an 8 byte digest buffer.
func SecureCoreSpec() ModuleSpec {
	return ModuleSpec{
		Name: SecureCore,
		Symbols: []Symbol{
			{
				Name:    SymbolSecureProcess,
				Params:  []Shape{ShapeText},
				Result:  ShapeBuffer,
				Release: ExportDeallocate,
			},
			canarySymbol,
		},
		Allocator: DefaultAllocator,
		Canary:    defaultCanary,
	}
}

// ParallelCoreSpec returns per-worker chunk checksums.
func ParallelCoreSpec() ModuleSpec {
	return ModuleSpec{
		Name: ParallelCore,
		Symbols: []Symbol{
			{
				Name:    SymbolConcurrentProcess,
				Params:  []Shape{ShapeText, ShapeI32},
				Result:  ShapeBuffer,
				Release: ExportDeallocate,
			},
			canarySymbol,
		},
		Allocator: DefaultAllocator,
		Canary:    defaultCanary,
	}
}

// ReactiveCoreSpec scores text in thousandths.
func ReactiveCoreSpec() ModuleSpec {
	return ModuleSpec{
		Name: ReactiveCore,
		Symbols: []Symbol{
			{
				Name:   SymbolReactiveScore,
				Params: []Shape{ShapeText},
				Result: ShapeI64,
			},
			canarySymbol,
		},
		Allocator: DefaultAllocator,
		Canary:    defaultCanary,
	}
}

// Catalog returns the specs of every built-in module.
func Catalog() []ModuleSpec {
	return []ModuleSpec{SecureCoreSpec(), ParallelCoreSpec(), ReactiveCoreSpec()}
}
