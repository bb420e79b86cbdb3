// Package wazero holds the guest-facing pieces of the native calling
// convention: pointer/length packing and the env.log_message host import.
package wazero

import "context"

// LogMessage is the JSON payload a guest passes to env.log_message.
type LogMessage struct {
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Attrs     []LogAttr `json:"attrs,omitempty"`
}

// LogAttr is a typed key/value pair. Value is always a string on the wire;
// Type tells the host how to parse it.
type LogAttr struct {
	Key   string `json:"key"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// PackPtrLen packs a guest pointer and length into the single i64 used for
// buffer and text arguments and results.
func PackPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackPtrLen splits a packed i64 into guest pointer and length.
func UnpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}

type logContextKey string

const requestIDKey logContextKey = "request_id"

// WithRequestID tags ctx so guest log lines emitted during a call carry the
// caller's request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request ID set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
