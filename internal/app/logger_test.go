package app

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerPicksHandler(t *testing.T) {
	logger := NewLogger(&Config{AppEnv: "development", LogFormat: "pretty"})
	require.IsType(t, &slog.TextHandler{}, logger.Handler())

	logger = NewLogger(&Config{AppEnv: "development", LogFormat: "json"})
	require.IsType(t, &slog.JSONHandler{}, logger.Handler())

	// Production forces JSON regardless of the configured format.
	logger = NewLogger(&Config{AppEnv: "production", LogFormat: "pretty"})
	require.IsType(t, &slog.JSONHandler{}, logger.Handler())
}
