package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LevelWarn, ParseLevel("warning"))
	assert.Equal(t, LevelError, ParseLevel(" error "))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}

func TestNewLogger(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		logger := NewLogger(nil)
		require.NotNil(t, logger)
		assert.Equal(t, LevelInfo, logger.level)
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

		logger.Info(context.Background(), "pass finished", "modules", 12)

		var record map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
		assert.Equal(t, "pass finished", record["msg"])
		assert.Equal(t, float64(12), record["modules"])
	})
}

func TestBuildLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelWarn, Output: &buf})
	ctx := context.Background()

	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	assert.Empty(t, buf.String())

	logger.Warn(ctx, errors.New("cache miss"), "warn message")
	out := buf.String()
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error=\"cache miss\"")
}

func TestBuildLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LevelDebug, Output: &buf})

	logger := base.WithComponent("split").With("build_id", "b-1")
	logger.Info(context.Background(), "chunk created", "chunk", "vendors-main")

	out := buf.String()
	assert.Contains(t, out, "component=split")
	assert.Contains(t, out, "build_id=b-1")
	assert.Contains(t, out, "chunk=vendors-main")

	// Derived loggers must not leak fields into the parent.
	buf.Reset()
	base.Info(context.Background(), "plain")
	assert.False(t, strings.Contains(buf.String(), "build_id"))
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.Error(context.Background(), errors.New("x"), "dropped")
	})
}

func TestPerfLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Output: &buf})

	perf := StartOperation(logger, "graph")
	time.Sleep(time.Millisecond)
	d := perf.End(context.Background(), "modules", 3)

	assert.Greater(t, d, time.Duration(0))
	assert.Contains(t, buf.String(), "operation=graph")
	assert.Contains(t, buf.String(), "duration_ms=")

	buf.Reset()
	perf.EndWithError(context.Background(), errors.New("boom"))
	assert.Contains(t, buf.String(), "Operation failed")
}
