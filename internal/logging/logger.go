// Package logging builds the per-orchestrator loggers: human-readable
// console output plus a durable append-only log file that also receives
// the raw output of external tools.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/lumberjack/v2"
	"github.com/rs/zerolog"

	"github.com/ivar/backstop/internal/config"
)

// NewLogger creates the logger for the named orchestrator and the writer
// external tool output is teed into. Structured events go to stderr and to
// <log_dir>/<name>.log; tool output goes to stdout and the same file. When
// the log directory cannot be created, logging degrades to console only
// and never fails the run.
func NewLogger(cfg *config.Config, name string) (zerolog.Logger, io.Writer) {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}

	logWriter := zerolog.MultiLevelWriter(console)
	toolWriter := io.Writer(os.Stdout)

	dirErr := os.MkdirAll(cfg.LogDir, 0o700)
	if dirErr == nil {
		file := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, name+".log"),
			MaxSize:    10,
			MaxBackups: 5,
			Compress:   true,
		}
		logWriter = zerolog.MultiLevelWriter(console, file)
		toolWriter = io.MultiWriter(os.Stdout, file)
	}

	logger := zerolog.New(logWriter).With().Timestamp().Str("service", name).Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	if dirErr != nil {
		logger.Warn().Err(dirErr).Str("dir", cfg.LogDir).Msg("log directory unavailable, console only")
	}
	return logger, toolWriter
}

// LogFile returns the path of the named orchestrator's log file.
func LogFile(cfg *config.Config, name string) string {
	return filepath.Join(cfg.LogDir, name+".log")
}
