package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestConfigureWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	ConfigureWriter(&buf, Options{Level: "debug", JSON: true})
	t.Cleanup(func() { Configure(Options{}) })

	L().Debug("frame transformed", "offset", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "frame transformed", rec["msg"])
	assert.Equal(t, "xform", rec["service"])
	assert.Equal(t, float64(7), rec["offset"])
}

func TestConfigureWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	ConfigureWriter(&buf, Options{Level: "error"})
	t.Cleanup(func() { Configure(Options{}) })

	L().Info("dropped")
	assert.Zero(t, buf.Len())
}

func TestInitFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "warn")
	t.Setenv(EnvJSON, "true")
	InitFromEnv()
	t.Cleanup(func() { Configure(Options{}) })

	assert.False(t, L().Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, L().Enabled(context.Background(), slog.LevelWarn))
}
