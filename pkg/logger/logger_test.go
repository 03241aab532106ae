package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	cfg := &Config{
		Level:      "DEBUG",
		Filename:   path,
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	}

	l, err := InitLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, l)
	assert.Same(t, l, Log)

	Log.Info("test log message")
	Sync()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestInitLoggerStdoutOnly(t *testing.T) {
	l, err := InitLogger(&Config{Level: "WARN"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	_, err := InitLogger(&Config{Level: "INVALID"})
	assert.Error(t, err)
}
