// Package fallback implements every bridge operation in pure Go. The
// functions are total and deterministic: the same input always yields the
// same result, so they can stand in for a native module at any time.
package fallback

import (
	"fmt"
	"hash/fnv"
	"math"
)

// Worker bounds for the parallel operation.
const (
	DefaultWorkers = 4
	MaxWorkers     = 64
)

// DefaultEventType is used when no event type is given.
const DefaultEventType = "process"

// SecureHash returns the FNV-1a 64 digest of data. It is a stand-in, not a
// cryptographic hash.
func SecureHash(data []byte) SecureResult {
	return SecureResult{
		Hash:   FormatHash(Sum64(data)),
		Length: len(data),
	}
}

// Sum64 is FNV-1a 64 over data.
func Sum64(data []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}

// FormatHash renders a 64-bit digest as 16 hex digits.
func FormatHash(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}

// ClampWorkers maps any requested worker count into [1, MaxWorkers]; zero
// or negative selects DefaultWorkers.
func ClampWorkers(workers int) int {
	switch {
	case workers <= 0:
		return DefaultWorkers
	case workers > MaxWorkers:
		return MaxWorkers
	default:
		return workers
	}
}

// Parallel splits data into workers chunks of ceil(len/workers) bytes and
// returns each chunk's byte sum. Trailing chunks may be empty.
func Parallel(data []byte, workers int) ParallelResult {
	workers = ClampWorkers(workers)
	chunk := (len(data) + workers - 1) / workers

	sums := make([]uint32, workers)
	for w := range workers {
		start := min(w*chunk, len(data))
		end := min(start+chunk, len(data))
		for _, b := range data[start:end] {
			sums[w] += uint32(b)
		}
	}
	return NewParallelResult(sums)
}

// NewParallelResult builds the result from per-worker checksums.
func NewParallelResult(sums []uint32) ParallelResult {
	results := make([]string, len(sums))
	for i, s := range sums {
		results[i] = fmt.Sprintf("worker_%d:%08x", i, s)
	}
	return ParallelResult{
		Workers:   len(sums),
		Checksums: sums,
		Results:   results,
	}
}

// Reactive scores data at 0.314159 per byte, rounded to three places.
func Reactive(data []byte, eventType string) ReactiveResult {
	return NewReactiveResult(data, eventType, math.Round(float64(len(data))*314.159)/1000)
}

// NewReactiveResult builds the result for a score computed elsewhere. The
// event ID is derived from the event type and the data hash, so it is
// stable for identical input.
func NewReactiveResult(data []byte, eventType string, score float64) ReactiveResult {
	if eventType == "" {
		eventType = DefaultEventType
	}
	return ReactiveResult{
		EventID:    fmt.Sprintf("%s_%s", eventType, FormatHash(Sum64(data))),
		EventType:  eventType,
		Score:      score,
		DataLength: len(data),
	}
}
