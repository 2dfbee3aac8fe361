// Package logging configures structured logging for the vault daemon and
// its command line tools.
package logging

import (
	"log"
	"log/slog"
	"os"
	"strings"
)

// Setup installs a structured slog logger as the process default and returns
// it. Output goes to stderr so command stdout stays parseable. The minimum
// level comes from VAULTD_LOG_LEVEL (debug, info, warn, error) and
// VAULTD_LOG_FORMAT switches between json (the default) and text.
func Setup(service, env string) *slog.Logger {
	level := levelFromEnv()

	var handler slog.Handler
	if formatFromEnv() == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: renameCoreAttrs,
		})
	}

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	handler = handler.WithAttrs(attrs)

	base := slog.New(handler)
	slog.SetDefault(base)

	// Route the stdlib logger through the same handler so dependency logs
	// keep the structure.
	bridge := slog.NewLogLogger(handler, slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetOutput(bridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base
}

// renameCoreAttrs maps slog's default keys onto the field names the vault
// dashboards index.
func renameCoreAttrs(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "timestamp"
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "message"
	}
	return attr
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("VAULTD_LOG_LEVEL"))) {
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

func formatFromEnv() string {
	return strings.ToLower(strings.TrimSpace(os.Getenv("VAULTD_LOG_FORMAT")))
}
