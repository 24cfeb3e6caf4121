package logger

import (
	"log/slog"
	"time"
)

// LogAPI logs an inbound protocol request and how it was answered.
func LogAPI(action, transactionID, ack string) {
	slog.Info("Request acknowledged",
		slog.String("type", "api"),
		slog.String("action", action),
		slog.String("transaction_id", transactionID),
		slog.String("ack", ack),
	)
}

// LogCallback logs an outbound protocol callback
func LogCallback(action, target string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("type", "cb"),
		slog.String("action", action),
		slog.String("target", target),
		slog.Duration("took", duration),
	}

	if err != nil {
		slog.Error("Callback failed", append(attrs, slog.Any("error", err))...)
	} else {
		slog.Info("Callback delivered", attrs...)
	}
}

// LogQuery logs database operations
func LogQuery(query string, duration time.Duration, err error) {
	attrs := []any{
		slog.String("type", "db"),
		slog.Duration("took", duration),
		slog.String("query", query),
	}

	if err != nil {
		slog.Error("Query failed", append(attrs, slog.Any("error", err))...)
	} else {
		slog.Debug("Query executed", attrs...)
	}
}

// LogSystem logs system events
func LogSystem(msg string, attrs ...any) {
	baseAttrs := []any{slog.String("type", "sys")}
	slog.Info(msg, append(baseAttrs, attrs...)...)
}

// LogError logs error events
func LogError(msg string, err error, attrs ...any) {
	baseAttrs := []any{
		slog.String("type", "error"),
		slog.Any("error", err),
	}
	slog.Error(msg, append(baseAttrs, attrs...)...)
}
