package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file. ${VAR} and ${VAR:-fallback} references are
// expanded from the environment before parsing, and keys that do not map to
// a config field are rejected.
func Load(path string) (*GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded, unset := expandEnv(string(data))

	var cfg GatewayConfig
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml %s: %w", path, err)
	}
	cfg.unsetEnv = unset

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*GatewayConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*GatewayConfig, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// UnsetEnv lists environment variables referenced by the file that were not
// set and had no fallback. They expanded to the empty string.
func (c *GatewayConfig) UnsetEnv() []string {
	return c.unsetEnv
}

// Defaulted lists the dotted keys filled in by applyDefaults, in order.
func (c *GatewayConfig) Defaulted() []string {
	return c.defaulted
}

// expandEnv expands ${VAR}, $VAR and ${VAR:-fallback}. It returns the sorted
// names of referenced variables that were unset and had no fallback.
func expandEnv(s string) (string, []string) {
	seen := make(map[string]bool)
	out := os.Expand(s, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if v, ok := os.LookupEnv(name); ok && (v != "" || !hasFallback) {
			return v
		}
		if hasFallback {
			return fallback
		}
		seen[name] = true
		return ""
	})

	unset := make([]string, 0, len(seen))
	for name := range seen {
		unset = append(unset, name)
	}
	sort.Strings(unset)
	return out, unset
}
