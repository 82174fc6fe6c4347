// Package logging builds the gateway's slog root. Every subsystem derives
// from it with an "agent" attribute, so cache verdicts, lifecycle transitions,
// and background revalidation outcomes all share one stream.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/chanfm/cachefront/internal/config"
)

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel maps a configured level name onto a slog level. The empty string
// means info.
func ParseLevel(raw string) (slog.Level, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		return slog.LevelInfo, nil
	}
	level, ok := levels[name]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("logging: unsupported level %q", raw)
	}
	return level, nil
}

// New builds the root logger in the configured level and format. JSON is the
// default; "text" (alias "console") is for humans watching a terminal.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json", "":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "text", "console":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("logging: unsupported format %q", cfg.Format)
	}

	return slog.New(handler).With(slog.String("component", "cachefront")), nil
}
