package router

import (
	"time"

	"github.com/reglet-dev/capbridge/fallback"
)

// Backend names the path that produced a result.
type Backend string

const (
	BackendNative   Backend = "native"
	BackendFallback Backend = "fallback"
)

// StatusSuccess is the only status a Response ever carries.
const StatusSuccess = "success"

// Field is one capability's slot in a Result.
type Field[T any] struct {
	Value       T       `json:"value"`
	Success     bool    `json:"success"`
	BackendUsed Backend `json:"backend_used"`
	LatencyMs   float64 `json:"latency_ms"`
	// Reason explains a fallback.
	Reason string `json:"reason,omitempty"`
}

// Native reports whether the native path produced the value.
func (f *Field[T]) Native() bool {
	return f != nil && f.BackendUsed == BackendNative
}

// Result holds one slot per capability the mode required.
type Result struct {
	Security *Field[fallback.SecureResult]   `json:"security,omitempty"`
	Parallel *Field[fallback.ParallelResult] `json:"parallel,omitempty"`
	Reactive *Field[fallback.ReactiveResult] `json:"reactive,omitempty"`
	// Reason carries call-level diagnostics such as an unknown operation.
	Reason string `json:"reason,omitempty"`
}

// Backends maps each filled slot's capability to the backend it used.
func (r Result) Backends() map[string]Backend {
	out := make(map[string]Backend, 3)
	if r.Security != nil {
		out[fieldSecurity] = r.Security.BackendUsed
	}
	if r.Parallel != nil {
		out[fieldParallel] = r.Parallel.BackendUsed
	}
	if r.Reactive != nil {
		out[fieldReactive] = r.Reactive.BackendUsed
	}
	return out
}

// Response is what Call returns. Status is always "success"; Degraded and
// BackendUsed say what actually happened.
type Response struct {
	Status      string  `json:"status"`
	RequestID   string  `json:"request_id"`
	Operation   string  `json:"operation"`
	Mode        string  `json:"mode"`
	Result      Result  `json:"result"`
	BackendUsed Backend `json:"backend_used"`
	Degraded    bool    `json:"degraded"`
	LatencyMs   float64 `json:"latency_ms"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
