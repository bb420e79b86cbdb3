package wazero

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/tetratelabs/wazero/api"
)

// HostModuleName is the import module guests link env.log_message against.
const HostModuleName = "env"

// LogMessageFunc is the export name of the guest logging import.
const LogMessageFunc = "log_message"

// LogMessageHandler returns the `log_message` host function bound to logger.
// It receives a packed uint64 (ptr+len) pointing to a JSON-encoded LogMessage.
// It does not return any value.
func LogMessageHandler(logger *slog.Logger) api.GoModuleFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		logMsg, ok := readLogMessage(ctx, logger, mod, stack[0])
		if !ok {
			return
		}

		level := parseLogLevel(logger, logMsg.Level)
		attrs := convertLogAttrs(logMsg.Attrs)
		if id := requestID(ctx, logMsg); id != "" {
			attrs = append(attrs, slog.String(string(requestIDKey), id))
		}
		attrs = append(attrs, slog.String("guest", mod.Name()))

		logger.LogAttrs(ctx, level, logMsg.Message, attrs...)
	}
}

// readLogMessage reads and unmarshals the log message from guest memory.
func readLogMessage(ctx context.Context, logger *slog.Logger, mod api.Module, messagePacked uint64) (*LogMessage, bool) {
	ptr, length := UnpackPtrLen(messagePacked)

	messageBytes, ok := mod.Memory().Read(ptr, length)
	if !ok {
		logger.ErrorContext(ctx, "wazero: failed to read log message from guest memory",
			"ptr", ptr, "len", length)
		return nil, false
	}

	var logMsg LogMessage
	if err := json.Unmarshal(messageBytes, &logMsg); err != nil {
		logger.ErrorContext(ctx, "wazero: failed to unmarshal log message", "error", err)
		return nil, false
	}

	return &logMsg, true
}

// requestID prefers the ID the guest reported, then the caller's.
func requestID(ctx context.Context, logMsg *LogMessage) string {
	if logMsg.RequestID != "" {
		return logMsg.RequestID
	}
	return RequestIDFromContext(ctx)
}

// parseLogLevel converts a string level to slog.Level.
func parseLogLevel(logger *slog.Logger, levelStr string) slog.Level {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		logger.Warn("wazero: unknown log level from module", "level", levelStr)
	}
	return level
}

// convertLogAttrs converts wire attributes to slog.Attr slice.
func convertLogAttrs(wireAttrs []LogAttr) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(wireAttrs)+2)
	for _, attr := range wireAttrs {
		attrs = append(attrs, convertSingleAttr(attr))
	}
	return attrs
}

// convertSingleAttr converts a single wire attribute to slog.Attr.
func convertSingleAttr(attr LogAttr) slog.Attr {
	switch attr.Type {
	case "string":
		return slog.String(attr.Key, attr.Value)
	case "int64":
		if v, err := strconv.ParseInt(attr.Value, 10, 64); err == nil {
			return slog.Int64(attr.Key, v)
		}
	case "bool":
		if v, err := strconv.ParseBool(attr.Value); err == nil {
			return slog.Bool(attr.Key, v)
		}
	case "float64":
		if v, err := strconv.ParseFloat(attr.Value, 64); err == nil {
			return slog.Float64(attr.Key, v)
		}
	case "time":
		if v, err := time.Parse(time.RFC3339Nano, attr.Value); err == nil {
			return slog.Time(attr.Key, v)
		}
	case "error":
		return slog.Any(attr.Key, fmt.Errorf("%s", attr.Value))
	}
	// Unknown types and parse failures keep the raw string.
	return slog.Any(attr.Key, attr.Value)
}
