package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

type LogType string

const (
	TypeAPI      LogType = "API"
	TypeDB       LogType = "DB"
	TypeSystem   LogType = "SYS"
	TypeCallback LogType = "CB"
	TypeLedger   LogType = "LDG"
	TypeError    LogType = "ERR"
)

type CustomHandler struct {
	opts   *slog.HandlerOptions
	name   string
	out    io.Writer
	mu     *sync.Mutex
	attrs  []slog.Attr
	groups []string
}

func NewHandler(name string, level slog.Level) *CustomHandler {
	return NewHandlerWithWriter(os.Stdout, name, level)
}

func NewHandlerWithWriter(w io.Writer, name string, level slog.Level) *CustomHandler {
	return &CustomHandler{
		opts:   &slog.HandlerOptions{Level: level},
		name:   name,
		out:    w,
		mu:     &sync.Mutex{},
		attrs:  make([]slog.Attr, 0),
		groups: make([]string, 0),
	}
}

func (h *CustomHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *CustomHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &CustomHandler{
		opts:   h.opts,
		name:   h.name,
		out:    h.out,
		mu:     h.mu,
		attrs:  merged,
		groups: h.groups,
	}
}

func (h *CustomHandler) WithGroup(name string) slog.Handler {
	return &CustomHandler{
		opts:   h.opts,
		name:   h.name,
		out:    h.out,
		mu:     h.mu,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

func (h *CustomHandler) Handle(_ context.Context, r slog.Record) error {
	if shouldSkipLog(&r) {
		return nil
	}

	timestamp := r.Time.Format("15:04:05")
	if r.Time.IsZero() {
		timestamp = time.Now().Format("15:04:05")
	}

	var levelColor, levelText string
	switch {
	case r.Level >= slog.LevelError:
		levelColor = colorRed
		levelText = "ERROR"
	case r.Level >= slog.LevelWarn:
		levelColor = colorYellow
		levelText = "WARN"
	case r.Level >= slog.LevelInfo:
		levelColor = colorGreen
		levelText = "INFO"
	default:
		levelColor = colorPurple
		levelText = "DEBUG"
	}

	logType := h.getLogType(&r)
	action := findAttr(&r, "action")
	txID := findAttr(&r, "transaction_id")

	message := r.Message
	if r.Level >= slog.LevelError {
		if location := getErrorLocation(&r); location != "" {
			message = fmt.Sprintf("%s (%s)", message, location)
		}
		if details := findAttr(&r, "error"); details != "" {
			message = fmt.Sprintf("%s: %s", message, details)
		}
	}

	if action != "" && txID != "" {
		message = fmt.Sprintf("%s [%s txn=%s]", message, action, txID)
	} else if action != "" {
		message = fmt.Sprintf("%s [%s]", message, action)
	}

	var b strings.Builder
	for _, attr := range h.attrs {
		if !isInternalAttr(attr.Key) {
			fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if !isInternalAttr(a.Key) {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		}
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintf(h.out, "%s[%s] [%s] [%s%s%s] [%s%s%s] %s%s%s\n",
		colorWhite,
		h.name,
		timestamp,
		levelColor,
		levelText,
		colorWhite,
		typeColor(logType),
		logType,
		colorWhite,
		message,
		b.String(),
		colorReset,
	)
	return err
}

func shouldSkipLog(r *slog.Record) bool {
	skippedMessages := []string{
		"health check",
	}

	for _, skip := range skippedMessages {
		if strings.Contains(strings.ToLower(r.Message), skip) {
			return true
		}
	}
	return false
}

func (h *CustomHandler) getLogType(r *slog.Record) LogType {
	logType := TypeSystem
	resolve := func(a slog.Attr) bool {
		if a.Key != "type" {
			return true
		}
		switch a.Value.String() {
		case "api":
			logType = TypeAPI
		case "db":
			logType = TypeDB
		case "cb":
			logType = TypeCallback
		case "ledger":
			logType = TypeLedger
		case "error":
			logType = TypeError
		}
		return false
	}
	for _, a := range h.attrs {
		if !resolve(a) {
			break
		}
	}
	r.Attrs(resolve)
	return logType
}

func typeColor(t LogType) string {
	switch t {
	case TypeAPI:
		return colorCyan
	case TypeDB:
		return colorBlue
	case TypeCallback, TypeLedger:
		return colorPurple
	case TypeError:
		return colorRed
	default:
		return colorWhite
	}
}

func isInternalAttr(key string) bool {
	switch key {
	case "type", "action", "transaction_id", "error", "error_location":
		return true
	}
	return false
}

func findAttr(r *slog.Record, key string) string {
	var value string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			value = a.Value.String()
			return false
		}
		return true
	})
	return value
}

func getErrorLocation(r *slog.Record) string {
	if location := findAttr(r, "error_location"); location != "" {
		return location
	}
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		frame, _ := frames.Next()
		if frame.File != "" {
			return fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		}
	}
	return ""
}
