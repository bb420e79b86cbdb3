package capability

import (
	"context"

	"github.com/reglet-dev/capbridge/values"
)

// Source locates the bytes of a native module.
type Source struct {
	Path string
	// Digest pins the module bytes when set.
	Digest values.Digest
}

// Loader opens native modules. Open reads the module, verifies the pinned
// digest, compiles it and resolves every export in spec, returning an error
// wrapping ErrMissingSymbol or ErrSignatureMismatch when any is absent or
// mistyped.
type Loader interface {
	Open(ctx context.Context, src Source, spec ModuleSpec) (Module, error)
}

// Module is the long-lived handle to a loaded module. It must be safe for
// concurrent use.
type Module interface {
	// NewInstance creates an isolated instance for a single call.
	NewInstance(ctx context.Context) (Instance, error)
	Close(ctx context.Context) error
}

// Instance is a short-lived, single-goroutine view of a module.
type Instance interface {
	// Call invokes an export with raw i32/i64 parameters.
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	// Read copies length bytes of guest memory starting at ptr.
	Read(ptr, length uint32) ([]byte, bool)
	// Write copies data into guest memory at ptr.
	Write(ptr uint32, data []byte) bool
	Close(ctx context.Context) error
}

// Locator resolves a module name to a path for first-use loading.
type Locator interface {
	Locate(ctx context.Context, name string) (Source, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context, name string) (Source, error)

// Locate implements Locator.
func (f LocatorFunc) Locate(ctx context.Context, name string) (Source, error) {
	return f(ctx, name)
}

// Admitter decides whether a module may be loaded at all.
type Admitter interface {
	Admit(ctx context.Context, name, path string) error
}
