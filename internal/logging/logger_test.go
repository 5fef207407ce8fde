package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivar/backstop/internal/config"
)

func TestNewLogger_WritesRunLog(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogDir = t.TempDir()
	cfg.LogLevel = "debug"

	logger, toolOut := NewLogger(cfg, "backstop")
	assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())

	logger.Info().Str("run_id", "abc").Msg("run started")
	_, err := toolOut.Write([]byte("processed 42 files\n"))
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(cfg.LogDir, "backstop.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "run started")
	assert.Contains(t, string(data), "processed 42 files")
}

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogDir = t.TempDir()
	cfg.LogLevel = "chatty"

	logger, _ := NewLogger(cfg, "backstop")
	assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
}

func TestNewLogger_DegradesWithoutLogDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	cfg := config.Defaults()
	cfg.LogDir = filepath.Join(blocker, "logs") // MkdirAll fails under a file

	logger, toolOut := NewLogger(cfg, "backstop")
	logger.Info().Msg("still alive")
	_, err := toolOut.Write([]byte("console only\n"))
	assert.NoError(t, err)
}

func TestLogFile(t *testing.T) {
	cfg := config.Defaults()
	cfg.LogDir = "/var/log/backstop"
	assert.Equal(t, "/var/log/backstop/backstop-mirror.log", LogFile(cfg, "backstop-mirror"))
}
