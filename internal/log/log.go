package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LevelTrace sits below debug and is used for cookie and token plumbing
const LevelTrace = slog.Level(-8)

var level = new(slog.LevelVar)

func init() {
	l, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		l = slog.LevelInfo
	}
	level.Set(l)
	SetOutput(os.Stderr)
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return slog.LevelError, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "TRACE":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}

func replaceAttr(jsonFormat bool) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey:
			if jsonFormat {
				return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return slog.String(slog.TimeKey, a.Value.Time().Format("2006-01-02 15:04:05.000-07:00"))
		case slog.LevelKey:
			if lv, ok := a.Value.Any().(slog.Level); ok && lv == LevelTrace {
				return slog.String(slog.LevelKey, "TRACE")
			}
		}
		return a
	}
}

// SetOutput rebuilds the default logger writing to w.
// LOG_FORMAT=json selects the JSON handler, anything else the text handler.
func SetOutput(w io.Writer) {
	jsonFormat := strings.EqualFold(os.Getenv("LOG_FORMAT"), "json")
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr(jsonFormat)}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel changes the level at runtime. The handler reads the shared
// LevelVar so no rebuild is needed.
func SetLogLevel(s string) error {
	l, err := parseLevel(s)
	if err != nil {
		return err
	}
	level.Set(l)
	LogDebugWithFields("logging", "Log level changed", map[string]any{"new_level": strings.ToLower(s)})
	return nil
}

// GetLogLevel returns the current level name
func GetLogLevel() string {
	switch level.Level() {
	case slog.LevelError:
		return "error"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelInfo:
		return "info"
	case slog.LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "unknown"
	}
}

func tracing() bool {
	return level.Level() <= LevelTrace
}

func Logf(format string, args ...any) {
	slog.Info(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
}

func LogWarn(format string, args ...any) {
	slog.Warn(fmt.Sprintf(format, args...))
}

func LogDebug(format string, args ...any) {
	slog.Debug(fmt.Sprintf(format, args...))
}

func LogTrace(format string, args ...any) {
	if tracing() {
		slog.Log(context.Background(), LevelTrace, fmt.Sprintf(format, args...))
	}
}

func fieldArgs(component string, fields map[string]any) []any {
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "component", component)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

func LogInfoWithFields(component, message string, fields map[string]any) {
	slog.Info(message, fieldArgs(component, fields)...)
}

func LogDebugWithFields(component, message string, fields map[string]any) {
	slog.Debug(message, fieldArgs(component, fields)...)
}

func LogWarnWithFields(component, message string, fields map[string]any) {
	slog.Warn(message, fieldArgs(component, fields)...)
}

func LogErrorWithFields(component, message string, fields map[string]any) {
	slog.Error(message, fieldArgs(component, fields)...)
}

func LogTraceWithFields(component, message string, fields map[string]any) {
	if tracing() {
		slog.Log(context.Background(), LevelTrace, message, fieldArgs(component, fields)...)
	}
}
