package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithConfig(LogConfig{Level: "WARN", Format: "json", Output: &buf}))
	ctx := context.Background()

	Debug(ctx, "debug line")
	Info(ctx, "info line")
	Warn(ctx, "warn line", "market", "BTC-USD")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	require.Contains(t, out, "warn line")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &entry))
	assert.Equal(t, "BTC-USD", entry["market"])
	assert.Equal(t, "warn", entry["level"])
}

func TestErrorWithErrAddsErrorField(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithConfig(LogConfig{Level: "DEBUG", Format: "json", Output: &buf}))

	ErrorWithErr(context.Background(), "Order failed", errors.New("boom"), "market", "ETH-USD")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "ETH-USD", entry["market"])
	assert.True(t, IsDebugEnabled())
}

func TestParseLogLevelDefaultsToWarn(t *testing.T) {
	assert.Equal(t, "warn", parseLogLevel("nonsense").String())
	assert.Equal(t, "warn", parseLogLevel("warning").String())
	assert.Equal(t, "debug", parseLogLevel("debug").String())
}

func TestOrderEvent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, InitWithConfig(LogConfig{Level: "INFO", Format: "json", Output: &buf}))

	Order(context.Background(), "BTC-USD", "BUY", "0.01", "65000", "123")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ORDER", entry["type"])
	assert.Equal(t, "123", entry["order_id"])
}
