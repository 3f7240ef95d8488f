package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger builds the process logger: text on stderr and, when
// LogConfig.File is set, JSON lines appended to that file. The returned
// cleanup closes the file.
func SetupLogger(cfg LogConfig) (*slog.Logger, func() error) {
	if cfg.File == "" {
		return newLogger(os.Stderr, nil, cfg.Level), func() error { return nil }
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger := newLogger(os.Stderr, nil, cfg.Level)
		logger.Error("failed to open log file, using stderr only", "error", err, "file", cfg.File)
		return logger, func() error { return nil }
	}

	return newLogger(os.Stderr, file, cfg.Level), file.Close
}

// newLogger fans out to a text handler on stderr and, if file is non-nil,
// a JSON handler on file.
func newLogger(stderr, file io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	stderrHandler := slog.NewTextHandler(stderr, opts)
	if file == nil {
		return slog.New(stderrHandler)
	}
	return slog.New(slogmulti.Fanout(stderrHandler, slog.NewJSONHandler(file, opts)))
}
