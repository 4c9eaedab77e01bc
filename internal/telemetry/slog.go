package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// logLevel backs every handler built here, so the threshold can move at
// runtime without swapping the handler out from under slog.Default.
var logLevel slog.LevelVar

// SetupLogger installs the process-wide slog default. format picks the
// encoding: "json" for machine-readable lines, anything else for the text
// encoding used in local development. level names the initial threshold
// (debug, info, warn, error; case-insensitive; info when unrecognised).
// output selects the stream: "stderr", or stdout for anything else.
//
// Everything else in the application logs through the slog package-level
// functions, so no logger handle is threaded through constructors.
func SetupLogger(format, level, output string) {
	logLevel.Set(parseLevel(level))
	w := io.Writer(os.Stdout)
	if strings.EqualFold(output, "stderr") {
		w = os.Stderr
	}
	slog.SetDefault(slog.New(newHandler(w, format)))
	slog.Info("logger initialised", "format", format, "level", logLevel.Level().String())
}

// SetLevel moves the running logger to a new threshold without rebuilding
// the handler. The config watcher calls it when the logging section of the
// config file changes, so edits apply without a restart.
func SetLevel(level string) {
	next := parseLevel(level)
	if next == logLevel.Level() {
		return
	}
	logLevel.Set(next)
	slog.Info("log level changed", "level", next.String())
}

// newHandler builds the handler SetupLogger installs. Split out so tests
// can point it at a buffer instead of os.Stdout.
func newHandler(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: &logLevel,
		// file:line attribution is only worth its cost while debugging
		AddSource: logLevel.Level() == slog.LevelDebug,
	}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
