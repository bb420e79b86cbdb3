package router

import (
	"context"
	"fmt"
	"time"

	"github.com/reglet-dev/capbridge/capability"
	"github.com/reglet-dev/capbridge/native"
)

// Health statuses.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// CapabilityHealth is one module's health.
type CapabilityHealth struct {
	Loaded bool `json:"loaded"`
	// CanaryPassed is false both for unloaded modules and for loaded
	// modules whose canary returned the wrong value.
	CanaryPassed    bool    `json:"canary_passed"`
	CanaryLatencyMs float64 `json:"canary_latency_ms,omitempty"`
	Reason          string  `json:"reason,omitempty"`
}

// Performance holds the router's request counters.
type Performance struct {
	RequestsProcessed     int64   `json:"requests_processed"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
}

// Health is the health and canary surface.
type Health struct {
	Status        string                      `json:"status"`
	PerCapability map[string]CapabilityHealth `json:"per_capability"`
	// CanaryPassed is true when at least one canary ran and all passed.
	CanaryPassed bool        `json:"canary_passed"`
	Performance  Performance `json:"performance"`
}

// CanaryResult is the outcome of one canary run.
type CanaryResult struct {
	Module  string
	Passed  bool
	Got     int32
	Want    int32
	Latency time.Duration
	Err     error
}

// Canary runs name's canary symbol. Modules that are not loaded or declare
// no canary do not pass.
func (r *Router) Canary(ctx context.Context, name string) CanaryResult {
	res := CanaryResult{Module: name}

	module, spec, ok := r.registry.Module(name)
	if !ok {
		res.Err = native.ErrUnavailable
		return res
	}
	res.Want = spec.Canary.Want
	sym, ok := spec.Symbol(spec.Canary.Symbol)
	if spec.Canary.Symbol == "" || !ok {
		res.Err = fmt.Errorf("%w: no canary", capability.ErrMissingSymbol)
		return res
	}
	desc, _ := r.registry.Descriptor(name)

	out := r.adapter.Invoke(ctx, native.Call{
		Descriptor: desc,
		Module:     module,
		Allocator:  spec.Allocator,
		Symbol:     sym,
		Args:       []native.Arg{native.I32(spec.Canary.A), native.I32(spec.Canary.B)},
		Decode: func(raw native.Result) (any, error) {
			return raw.I32(), nil
		},
	})
	res.Latency = out.Latency
	if !out.OK() {
		res.Err = out.Err
		return res
	}

	res.Got, _ = out.Value.(int32)
	res.Passed = res.Got == res.Want
	if !res.Passed {
		res.Err = fmt.Errorf("canary %s(%d, %d) = %d, want %d",
			sym.Name, spec.Canary.A, spec.Canary.B, res.Got, res.Want)
	}
	return res
}

// HealthCheck reports load state and canary results for every module, plus
// the request counters.
func (r *Router) HealthCheck(ctx context.Context) Health {
	h := Health{
		Status:        HealthHealthy,
		PerCapability: make(map[string]CapabilityHealth),
		Performance:   r.Performance(),
	}

	ran, passed := 0, 0
	for _, d := range r.registry.Describe() {
		ch := CapabilityHealth{Loaded: d.Loaded, Reason: d.Reason}
		if d.Loaded {
			res := r.Canary(ctx, d.Name)
			ran++
			ch.CanaryPassed = res.Passed
			ch.CanaryLatencyMs = millis(res.Latency)
			if res.Passed {
				passed++
			} else if res.Err != nil {
				ch.Reason = res.Err.Error()
			}
			r.metrics.SetCanaryPassed(d.Name, res.Passed)
		}
		if !ch.Loaded || !ch.CanaryPassed {
			h.Status = HealthDegraded
		}
		h.PerCapability[d.Name] = ch
	}

	h.CanaryPassed = ran > 0 && ran == passed
	return h
}

// Performance returns the request counters.
func (r *Router) Performance() Performance {
	n := r.requests.Load()
	p := Performance{RequestsProcessed: n}
	if n > 0 {
		p.AverageResponseTimeMs = millis(time.Duration(r.totalLatency.Load() / n))
	}
	return p
}
