package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/sotramsa/enruta/infra/mqtt"
)

type Config struct {
	Database DatabaseConfig `json:"database"`
	HTTP     HTTPConfig     `json:"http"`
	MQTT     mqtt.Config    `json:"mqtt"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// DatabaseConfig selects and parameterizes the repository backend.
type DatabaseConfig struct {
	// Driver selects the backend: "postgres" or "memory" (dev/demo).
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
	// RouteCacheTTLSeconds bounds staleness of the active-route cache.
	RouteCacheTTLSeconds int `json:"route_cache_ttl_seconds"`
}

// SetDefaults applies sane defaults.
func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "postgres"
	}
	if c.RouteCacheTTLSeconds <= 0 {
		c.RouteCacheTTLSeconds = 60
	}
}

// Validate checks mandatory fields.
func (c DatabaseConfig) Validate() error {
	switch c.Driver {
	case "memory":
		return nil
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("database: dsn is required for the postgres driver")
		}
		return nil
	default:
		return fmt.Errorf("database: unknown driver %s", c.Driver)
	}
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

type MetricsConfig struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
}

func (c *MetricsConfig) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = ":9090"
	}
}

// Load reads the configuration file (yaml or json) and applies ENRUTA_
// environment overrides, e.g. ENRUTA_DATABASE__DSN.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider("ENRUTA_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "enruta_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Database.SetDefaults()
	cfg.HTTP.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.MQTT.SetDefaults()
	if err := cfg.Database.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.MQTT.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
