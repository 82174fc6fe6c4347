package logging

import (
	"log/slog"
	"testing"

	"github.com/chanfm/cachefront/internal/config"
	"github.com/stretchr/testify/require"
)

func TestNewAcceptsKnownLevelsAndFormats(t *testing.T) {
	for _, format := range []string{"json", "text", "console", ""} {
		logger, err := New(config.LoggingConfig{Level: "info", Format: format})
		require.NoError(t, err, "format %q", format)
		require.NotNil(t, logger)
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel(" Warn ")
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, level)

	level, err = ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)

	_, err = ParseLevel("verbose")
	require.Error(t, err)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "verbose"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Format: "binary"})
	require.Error(t, err)
}
