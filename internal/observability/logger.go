package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// LevelCritical marks failures that break the source-of-truth guarantee and
// need an operator.
const LevelCritical = slog.Level(12)

// SetupLogger installs the process-wide slog logger.
func SetupLogger(level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
					a.Value = slog.StringValue("CRITICAL")
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// Critical logs at LevelCritical on the default logger.
func Critical(ctx context.Context, msg string, args ...any) {
	slog.Log(ctx, LevelCritical, msg, args...)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
