// Package config loads the resourcebus configuration.
//
// A configuration is built from defaults, then JSON file layers merged in
// order (later layers override earlier ones key by key), then environment
// overrides with the RESOURCEBUS_ prefix.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c360/resourcebus/errors"
)

// Config represents the complete application configuration
type Config struct {
	Manager   ManagerConfig   `json:"manager"`
	Detectors DetectorConfigs `json:"detectors"`
	NATS      NATSConfig      `json:"nats"`
	Metrics   MetricsConfig   `json:"metrics"`

	// Local lists resources this process publishes. Detectors that share
	// resources, such as natsbridge, advertise them to other instances.
	Local []LocalResource `json:"local,omitempty"`
}

// LocalResource describes a resource provided by this process.
type LocalResource struct {
	ID    string            `json:"id"`
	Class string            `json:"class"`
	URI   string            `json:"uri"`
	Label string            `json:"label,omitempty"`
	Hash  string            `json:"hash,omitempty"`
	Extra map[string]string `json:"extra,omitempty"`
}

// ManagerConfig configures the resource manager.
type ManagerConfig struct {
	IdleSleep          Duration `json:"idle_sleep"`
	SupportedProtocols []string `json:"supported_protocols,omitempty"`
	SupportedClasses   []string `json:"supported_classes,omitempty"`
	QueueCapacity      int      `json:"queue_capacity,omitempty"`
}

// DetectorConfig configures one detector instance. Config is decoded by the
// factory registered for Type.
type DetectorConfig struct {
	Type    string          `json:"type"`
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// DetectorConfigs maps instance names to detector configurations.
type DetectorConfigs map[string]DetectorConfig

// Enabled returns the names of the enabled detectors in sorted order.
func (d DetectorConfigs) Enabled() []string {
	var names []string
	for name, dc := range d {
		if dc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// NATSConfig defines the NATS connection. An empty URL disables NATS.
type NATSConfig struct {
	URL           string   `json:"url,omitempty"`
	Name          string   `json:"name,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty"`
	ReconnectWait Duration `json:"reconnect_wait,omitempty"`
	PingInterval  Duration `json:"ping_interval,omitempty"`
	DrainTimeout  Duration `json:"drain_timeout,omitempty"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`

	// EventSubject is the subject prefix resource events are mirrored to.
	// Empty disables the mirror.
	EventSubject string `json:"event_subject,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Manager.IdleSleep < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "manager.idle_sleep must not be negative")
	}
	if c.Manager.QueueCapacity < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "manager.queue_capacity must not be negative")
	}

	for name, dc := range c.Detectors {
		if name == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "detector name cannot be empty")
		}
		if dc.Enabled && dc.Type == "" {
			return errors.WrapInvalid(fmt.Errorf("%w: detector %s has no type", errors.ErrMissingConfig, name),
				"Config", "Validate", "detector type check")
		}
	}

	seen := make(map[string]bool, len(c.Local))
	for i, r := range c.Local {
		if r.ID == "" || r.Class == "" || r.URI == "" {
			return errors.WrapInvalid(fmt.Errorf("%w: local resource %d needs id, class and uri", errors.ErrMissingConfig, i),
				"Config", "Validate", "local resource check")
		}
		if seen[r.ID] {
			return errors.WrapInvalid(fmt.Errorf("%w: duplicate local resource %s", errors.ErrInvalidConfig, r.ID),
				"Config", "Validate", "local resource check")
		}
		seen[r.ID] = true
	}

	if c.NATS.URL != "" && !strings.Contains(c.NATS.URL, "://") {
		return errors.WrapInvalid(fmt.Errorf("%w: nats.url %q has no scheme", errors.ErrInvalidConfig, c.NATS.URL),
			"Config", "Validate", "nats url check")
	}
	if s := c.NATS.EventSubject; s != "" && !isValidSubject(s) {
		return errors.WrapInvalid(fmt.Errorf("%w: nats.event_subject %q", errors.ErrInvalidConfig, s),
			"Config", "Validate", "nats subject check")
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return errors.WrapInvalid(fmt.Errorf("%w: metrics.port %d", errors.ErrInvalidConfig, c.Metrics.Port),
			"Config", "Validate", "metrics port check")
	}
	return nil
}

// isValidSubject checks that s is a dot-separated NATS subject without
// wildcards. Tokens are alphanumeric with dashes and underscores.
func isValidSubject(s string) bool {
	for _, tok := range strings.Split(s, ".") {
		if tok == "" {
			return false
		}
		for _, r := range tok {
			ok := r == '-' || r == '_' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !ok {
				return false
			}
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

// Loader merges configuration layers.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: "RESOURCEBUS"}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRawJSON(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "load "+path)
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "merge "+path)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the default configuration: no detectors, no NATS,
// metrics disabled.
func Defaults() *Config {
	return &Config{
		Manager: ManagerConfig{
			IdleSleep: Duration(50 * time.Millisecond),
		},
		Detectors: DetectorConfigs{},
		NATS: NATSConfig{
			Name:          "resourcebus",
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(errors.ErrParsingFailed, "Loader", "loadRawJSON", err.Error())
	}
	return raw, nil
}

// mergeFromMap overrides only the fields present in override.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	if merged.Detectors == nil {
		merged.Detectors = DetectorConfigs{}
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
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

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	lookup := func(name string) (string, error) {
		key := l.envPrefix + "_" + name
		val := os.Getenv(key)
		return val, checkEnvValue(key, val)
	}

	overrides := []struct {
		name string
		set  func(string) error
	}{
		{"NATS_URL", func(v string) error { cfg.NATS.URL = v; return nil }},
		{"NATS_USERNAME", func(v string) error { cfg.NATS.Username = v; return nil }},
		{"NATS_PASSWORD", func(v string) error { cfg.NATS.Password = v; return nil }},
		{"NATS_TOKEN", func(v string) error { cfg.NATS.Token = v; return nil }},
		{"METRICS_PORT", func(v string) error {
			port, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			cfg.Metrics.Port = port
			cfg.Metrics.Enabled = true
			return nil
		}},
	}

	for _, o := range overrides {
		val, err := lookup(o.name)
		if err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", o.name)
		}
		if val == "" {
			continue
		}
		if err := o.set(val); err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", o.name)
		}
	}
	return nil
}
