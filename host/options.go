package host

import (
	"log/slog"

	"github.com/tetratelabs/wazero"
)

// Option defines a functional option for configuring the Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for runtime diagnostics and guest log
// messages.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCompilationCache configures the runtime with a compilation cache.
// The caller keeps ownership of the cache.
func WithCompilationCache(cache wazero.CompilationCache) Option {
	return func(r *Runtime) {
		r.cache = cache
	}
}

// WithCompilationCacheDir persists compiled modules under dir. Ignored when
// WithCompilationCache is also given.
func WithCompilationCacheDir(dir string) Option {
	return func(r *Runtime) {
		r.cacheDir = dir
	}
}

// WithMemoryLimitPages caps each instance's linear memory in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(r *Runtime) {
		r.memoryLimitPages = pages
	}
}

// WithMaxModuleSize caps the size of module files Open will read. Values
// of zero or less keep DefaultMaxModuleSize.
func WithMaxModuleSize(bytes int64) Option {
	return func(r *Runtime) {
		if bytes > 0 {
			r.maxModuleSize = bytes
		}
	}
}
