package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ventra-io/fieldcore/internal/infrastructure/config"
)

// serviceName is stamped on every log record so fleet-wide log search can
// tell fieldcore entries apart from the other collectors on a box.
const serviceName = "fieldcore"

// Logger is the application-wide structured logger. It embeds *slog.Logger,
// so all the usual Info/Warn/Error/Debug methods are available directly.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of the config file. Every
// record carries the service name and build version as default attributes.
func New(cfg config.LoggingConfig, version string) *Logger {
	handler := newHandler(cfg).WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// Default returns a JSON logger at info level for use during early startup,
// before the config file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// With returns a child logger carrying additional default attributes,
// typically a component name:
//
//	log := logger.With("component", "ingest")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// newHandler selects the output stream and record format. JSON is the
// default; "text" is for watching a dev box interactively.
func newHandler(cfg config.LoggingConfig) slog.Handler {
	var w io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// parseLevel maps a config string to a slog level. Unrecognised values fall
// back to info rather than failing startup.
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
