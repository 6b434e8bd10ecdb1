package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/nerrad567/tempmon-core/internal/infrastructure/config"
)

// serviceName is attached to every record.
const serviceName = "tempmon"

// Logger is a slog.Logger that may own a log file.
//
// Records always reach the console at the configured level. With a file sink,
// only records at the file level or above are also written to disk, as JSON.
//
// Thread Safety: safe for concurrent use.
type Logger struct {
	*slog.Logger

	file io.Closer
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// parseLevel maps a level name to slog.Level, falling back to info.
func parseLevel(name string) slog.Level {
	if l, ok := levels[strings.ToLower(strings.TrimSpace(name))]; ok {
		return l
	}
	return slog.LevelInfo
}

// handlerFor builds a JSON or text handler carrying the service fields.
// Any format other than "text" is JSON.
func handlerFor(w io.Writer, format string, level slog.Level, version string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return h.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
}

func consoleWriter(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

// New returns a console-only Logger.
//
// Parameters:
//   - cfg: logging section of the config; File is ignored
//   - version: reported in the version field
func New(cfg config.LoggingConfig, version string) *Logger {
	h := handlerFor(consoleWriter(cfg.Output), cfg.Format, parseLevel(cfg.Level), version)
	return &Logger{Logger: slog.New(h)}
}

// Open returns a Logger for cfg, adding the file sink when cfg.File.Path is
// set. The file is created with its directory and opened for append. An empty
// cfg.File.Level keeps only errors.
//
// Parameters:
//   - cfg: logging section of the config
//   - version: reported in the version field
//   - debug: forces debug level on the console (dev.debug_mode)
//
// Returns:
//   - *Logger: call Close when done to release the file
//   - error: the directory or file could not be opened
func Open(cfg config.LoggingConfig, version string, debug bool) (*Logger, error) {
	if debug {
		cfg.Level = "debug"
	}
	console := handlerFor(consoleWriter(cfg.Output), cfg.Format, parseLevel(cfg.Level), version)
	if cfg.File.Path == "" {
		return &Logger{Logger: slog.New(console)}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0o750); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	fileLevel := slog.LevelError
	if cfg.File.Level != "" {
		fileLevel = parseLevel(cfg.File.Level)
	}

	return &Logger{
		Logger: slog.New(teeHandler{console, handlerFor(f, "json", fileLevel, version)}),
		file:   f,
	}, nil
}

// Default is the logger used before the config file has been read: JSON on
// stdout at info.
func Default() *Logger {
	return New(config.LoggingConfig{Format: "json"}, "dev")
}

// With returns a child logger with extra attributes. The child shares the
// parent's file; close only the parent.
//
//	devLog := logger.With("component", "device")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
