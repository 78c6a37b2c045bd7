package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Engine holds similarity engine tuning loaded from an optional YAML file.
type Engine struct {
	Fingerprint FingerprintConfig `koanf:"fingerprint"`
	Compare     CompareConfig     `koanf:"compare"`
	Cache       CacheConfig       `koanf:"cache"`
}

type FingerprintConfig struct {
	K      int `koanf:"k"`
	Window int `koanf:"window"`
}

type CompareConfig struct {
	// Occurrences per shared hash considered when building spans.
	MaxOccurrences int `koanf:"max_occurrences"`
	MaxSpans       int `koanf:"max_spans"`
}

type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// DefaultEngine returns the built-in engine tuning.
func DefaultEngine() *Engine {
	return &Engine{
		Fingerprint: FingerprintConfig{K: 5, Window: 4},
		Compare:     CompareConfig{MaxOccurrences: 8, MaxSpans: 200},
		Cache:       CacheConfig{TTL: 24 * time.Hour},
	}
}

// LoadEngine reads the engine file at path on top of the defaults.
// An empty path returns the defaults.
func LoadEngine(path string) (*Engine, error) {
	cfg := DefaultEngine()
	if path == "" {
		return cfg, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported engine config format %q", ext)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return cfg, nil
}

func (e *Engine) Validate() error {
	if e == nil {
		return fmt.Errorf("engine config is missing")
	}
	if e.Fingerprint.K <= 0 {
		return fmt.Errorf("fingerprint.k must be greater than 0")
	}
	if e.Fingerprint.Window <= 0 {
		return fmt.Errorf("fingerprint.window must be greater than 0")
	}
	if e.Compare.MaxOccurrences <= 0 {
		return fmt.Errorf("compare.max_occurrences must be greater than 0")
	}
	if e.Compare.MaxSpans <= 0 {
		return fmt.Errorf("compare.max_spans must be greater than 0")
	}
	return nil
}
