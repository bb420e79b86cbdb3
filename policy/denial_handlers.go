package policy

import (
	"log/slog"
)

// Ensure implementations satisfy the interface.
var (
	_ DenialHandler = (*SlogDenialHandler)(nil)
	_ DenialHandler = (*NopDenialHandler)(nil)
)

// SlogDenialHandler logs denials at warn level.
type SlogDenialHandler struct {
	Logger *slog.Logger
}

func (h *SlogDenialHandler) OnDenial(kind string, request any, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("permission denied", "kind", kind, "request", request, "reason", reason)
}

// NopDenialHandler does nothing.
type NopDenialHandler struct{}

func (h *NopDenialHandler) OnDenial(kind string, request any, reason string) {}
