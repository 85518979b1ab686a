package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// Load reads path, resolving $include directives and ${VAR} environment
// expansion, decodes it strictly into a Config, applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRaw(raw)
	if err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return loadRawRecursive(path, map[string]bool{})
}

// loadRawRecursive loads one config file, expanding ${VAR} references and
// resolving $include directives relative to the including file, with
// cycle detection.
func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", absPath, err)
	}
	// $include is a directive, not a variable reference: keep it verbatim.
	expanded := os.Expand(string(data), func(name string) string {
		if "$"+name == includeKey {
			return includeKey
		}
		return os.Getenv(name)
	})
	raw, err := parseYAMLMap(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	baseDir := filepath.Dir(absPath)
	for _, inc := range includes {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(baseDir, incPath)
		}
		incRaw, err := loadRawRecursive(incPath, seen)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, incRaw)
	}

	return mergeMaps(merged, raw), nil
}

func parseYAMLMap(text string) (map[string]any, error) {
	decoder := yaml.NewDecoder(strings.NewReader(text))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil && err != io.EOF {
		return nil, err
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("expected a single YAML document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	val, ok := raw[includeKey]
	if !ok {
		return nil, nil
	}
	delete(raw, includeKey)
	switch typed := val.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings", includeKey)
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("%s must be a string or list of strings", includeKey)
	}
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

func decodeRaw(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("serialize merged config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}
