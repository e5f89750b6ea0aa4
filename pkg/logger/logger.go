// Package logger builds the process slog.Logger: charm's pretty text output
// for terminals, or one JSON entry per line for log shippers.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"flowrelay/pkg/config"
)

const (
	formatText = "text"
	formatJSON = "json"

	envFormat    = "FLOWRELAY_LOG_FORMAT"
	envLevel     = "FLOWRELAY_LOG_LEVEL"
	envAddSource = "FLOWRELAY_LOG_ADD_SOURCE"
)

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// settings is the logging config after environment overrides.
type settings struct {
	format    string
	level     slog.Level
	addSource bool
}

// New builds the process logger. Output goes to stderr unless logging.file is
// set, in which case the returned closer owns the opened file.
func New(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	path := strings.TrimSpace(cfg.File)
	if path == "" {
		log, err := newWithWriter(cfg, os.Stderr)
		return log, io.NopCloser(nil), err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	log, err := newWithWriter(cfg, file)
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}
	return log, file, nil
}

func newWithWriter(cfg config.LoggingConfig, writer io.Writer) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch s.format {
	case formatText:
		handler = charmLog.NewWithOptions(writer, charmLog.Options{
			Level:           charmLevel(s.level),
			ReportTimestamp: true,
			ReportCaller:    s.addSource,
			Formatter:       charmLog.TextFormatter,
		})
	case formatJSON:
		handler = newEntryHandler(writer, s.level, s.addSource)
	}

	return slog.New(redactHandler{next: handler}), nil
}

func resolve(cfg config.LoggingConfig) (settings, error) {
	format := strings.ToLower(envOr(envFormat, cfg.Format, formatText))
	if format != formatText && format != formatJSON {
		return settings{}, fmt.Errorf("unsupported log format %q", format)
	}

	levelName := strings.ToLower(envOr(envLevel, cfg.Level, "info"))
	level, ok := levels[levelName]
	if !ok {
		return settings{}, fmt.Errorf("unsupported log level %q", levelName)
	}

	addSource := cfg.AddSource
	if raw := strings.TrimSpace(os.Getenv(envAddSource)); raw != "" {
		switch strings.ToLower(raw) {
		case "1", "true", "yes", "on":
			addSource = true
		default:
			addSource = false
		}
	}

	return settings{format: format, level: level, addSource: addSource}, nil
}

// envOr returns the environment value if set, then the configured value,
// then fallback.
func envOr(name, configured, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	if value := strings.TrimSpace(configured); value != "" {
		return value
	}
	return fallback
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}
