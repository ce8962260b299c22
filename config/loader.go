package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/ctcgateway/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CTCGW"

// durationSuffixes name the keys whose string values are parsed as
// durations ("30s", "1m30s", "2d").
var durationSuffixes = []string{"timeout", "interval", "_wait", "_after", "_base", "_max", "_window"}

// Loader reads a configuration file over the defaults and applies
// environment overrides.
type Loader struct {
	envPrefix  string
	validation bool
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a loader with validation enabled.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  EnvPrefix,
		validation: true,
		lookupEnv:  os.LookupEnv,
	}
}

// EnableValidation enables or disables validation at the end of Load
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// Load merges path (JSON or YAML, chosen by extension) onto the defaults,
// applies environment overrides and defaults, then validates. An empty path
// loads defaults and environment only.
func (l *Loader) Load(path string) (*Config, error) {
	base, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "encode defaults")
	}

	if path != "" {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "config", "Load", "read "+path)
		}
		base = deepMergeMaps(base, raw)
	}

	merged, err := json.Marshal(base)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "merge layers")
	}
	var cfg Config
	if err := json.Unmarshal(merged, &cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "config", "Load", "decode configuration")
	}

	if err := l.applyEnvOverrides(&cfg); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "config", "Load", "apply environment")
	}
	cfg.ApplyDefaults()

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "config", "Load", "validate")
		}
	}
	return &cfg, nil
}

func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	return m, json.Unmarshal(data, &m)
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not merged.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations converts duration strings to nanoseconds, in place and at
// any depth, for keys that name a duration.
func parseDurations(node any) error {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if s, ok := v.(string); ok && isDurationKey(k) {
				d, err := parseDurationWithDays(s)
				if err != nil {
					return fmt.Errorf("%s: %w", k, err)
				}
				n[k] = d.Nanoseconds()
				continue
			}
			if err := parseDurations(v); err != nil {
				return err
			}
		}
	case []any:
		for _, v := range n {
			if err := parseDurations(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func isDurationKey(key string) bool {
	for _, suffix := range durationSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies CTCGW_* variables over the file values
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) error {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		*dst = val
		return nil
	}

	if err := str("URL", &cfg.Gateway.Connection.URL); err != nil {
		return err
	}
	if err := str("EMAIL", &cfg.Gateway.Credentials.Email); err != nil {
		return err
	}
	if err := str("PASSWORD", &cfg.Gateway.Credentials.Password); err != nil {
		return err
	}
	if err := str("PREFERRED_SERIAL", &cfg.Gateway.PreferredSerial); err != nil {
		return err
	}

	var port string
	if err := str("METRICS_PORT", &port); err != nil {
		return err
	}
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%s_METRICS_PORT: %w", l.envPrefix, err)
		}
		cfg.Metrics.Port = n
	}
	return nil
}
