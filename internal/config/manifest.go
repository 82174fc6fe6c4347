package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Manifest is the deploy artifact describing one cache generation: the
// version string that names it, the resources pre-warmed at install, and the
// cross-origin hosts eligible for caching. Bumping Version is the sole deploy
// mechanism for cache invalidation.
type Manifest struct {
	Version        string   `koanf:"version"`
	Precache       []string `koanf:"precache"`
	AllowedOrigins []string `koanf:"allowedOrigins"`
	FallbackPage   string   `koanf:"fallbackPage"`
}

// LoadManifest reads and validates a manifest document. The parser is chosen
// by file extension so deploy tooling can emit yaml, json, or toml.
func LoadManifest(path string) (Manifest, error) {
	parser, err := manifestParser(path)
	if err != nil {
		return Manifest{}, err
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return Manifest{}, fmt.Errorf("config: load manifest %s: %w", path, err)
	}

	var m Manifest
	if err := k.Unmarshal("", &m); err != nil {
		return Manifest{}, fmt.Errorf("config: unmarshal manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate enforces the structural invariants install and activate rely on.
func (m Manifest) Validate() error {
	version := strings.TrimSpace(m.Version)
	if version == "" {
		return errors.New("config: manifest version required")
	}
	// Generation names become redis key segments; the delimiter is reserved.
	if strings.Contains(version, ":") {
		return fmt.Errorf("config: manifest version must not contain ':': %s", version)
	}
	if len(m.Precache) == 0 {
		return errors.New("config: manifest precache list empty")
	}
	for _, path := range m.Precache {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("config: precache path must be absolute: %s", path)
		}
	}
	for _, origin := range m.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			return errors.New("config: allowedOrigins contains empty host")
		}
		if strings.Contains(trimmed, "/") {
			return fmt.Errorf("config: allowedOrigins entries are hostnames, not URLs: %s", origin)
		}
	}
	if m.FallbackPage != "" && !strings.HasPrefix(m.FallbackPage, "/") {
		return fmt.Errorf("config: fallbackPage must be absolute: %s", m.FallbackPage)
	}
	return nil
}

func manifestParser(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported manifest format: %s", path)
	}
}
