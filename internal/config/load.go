package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a JSON or YAML config file, resolves {"$env": "VAR"} references,
// applies defaults and validates the result.
func Load(path string) (Config, error) {
	raw, err := readRaw(path)
	if err != nil {
		return Config{}, err
	}

	resolved, err := resolveEnvRefs(raw, "")
	if err != nil {
		return Config{}, err
	}

	data, err := json.Marshal(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("re-encoding config: %w", err)
	}

	var config Config
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	config.ApplyDefaults()
	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

var errReadConfig = errors.New("reading config file")

// readRaw decodes the file into a generic tree without touching env refs
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errReadConfig, err)
	}

	var raw map[string]any
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config JSON: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("config file %s is empty", path)
	}
	return raw, nil
}

// envRef returns the variable named by a {"$env": "VAR"} object
func envRef(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	name, ok := m["$env"].(string)
	return name, ok
}

func resolveEnvRefs(v any, path string) (any, error) {
	if name, ok := envRef(v); ok {
		value := os.Getenv(name)
		if value == "" {
			return nil, fmt.Errorf("%s: environment variable %s not set", path, name)
		}
		return unquote(value), nil
	}

	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			resolved, err := resolveEnvRefs(child, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			resolved, err := resolveEnvRefs(child, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// unquote strips one matching pair of surrounding quotes
func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
