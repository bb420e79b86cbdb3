package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxStressIterations caps a stress run.
const MaxStressIterations = 100

const stressSampleCount = 5

// Stress errors.
var (
	ErrTooManyIterations = fmt.Errorf("iterations exceed %d", MaxStressIterations)
	ErrInvalidIterations = errors.New("iterations must be positive")
)

var stressPayload = strings.Repeat("Stress test data ", 50)

// StressSample describes one iteration of a stress run.
type StressSample struct {
	Iteration   int                `json:"iteration"`
	LatencyMs   float64            `json:"latency_ms"`
	BackendUsed Backend            `json:"backend_used"`
	Backends    map[string]Backend `json:"backends"`
}

// StressReport summarizes a stress run.
type StressReport struct {
	Status            string         `json:"status"`
	Mode              string         `json:"mode"`
	Iterations        int            `json:"iterations"`
	TotalMs           float64        `json:"total_ms"`
	AverageMs         float64        `json:"average_ms"`
	RequestsPerSecond float64        `json:"requests_per_second"`
	Degraded          int            `json:"degraded"`
	Samples           []StressSample `json:"samples"`
}

// Stress runs iterations sequential process calls, each with a distinct
// payload of about 1KB. Only the first five iterations are sampled.
func (r *Router) Stress(ctx context.Context, iterations int, mode Mode) (StressReport, error) {
	switch {
	case iterations <= 0:
		return StressReport{}, ErrInvalidIterations
	case iterations > MaxStressIterations:
		return StressReport{}, fmt.Errorf("%w: got %d", ErrTooManyIterations, iterations)
	}

	report := StressReport{
		Status:     "completed",
		Mode:       mode.String(),
		Iterations: iterations,
	}

	start := time.Now()
	for i := range iterations {
		if err := ctx.Err(); err != nil {
			return StressReport{}, err
		}
		payload := fmt.Sprintf("%s_%d", stressPayload, i)
		resp := r.Call(ctx, OperationProcess, []byte(payload), mode)
		if resp.Degraded {
			report.Degraded++
		}
		if len(report.Samples) < stressSampleCount {
			report.Samples = append(report.Samples, StressSample{
				Iteration:   i + 1,
				LatencyMs:   resp.LatencyMs,
				BackendUsed: resp.BackendUsed,
				Backends:    resp.Result.Backends(),
			})
		}
	}
	total := time.Since(start)

	report.TotalMs = millis(total)
	report.AverageMs = report.TotalMs / float64(iterations)
	if total > 0 {
		report.RequestsPerSecond = float64(iterations) / total.Seconds()
	}
	return report, nil
}
