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

	"github.com/voltplan/voltplan/core/planner"
	"github.com/voltplan/voltplan/infra/metrics"
	"github.com/voltplan/voltplan/infra/mqtt"
)

type Config struct {
	Planner planner.Config     `json:"planner"`
	Loop    planner.LoopConfig `json:"loop"`
	MQTT    mqtt.Config        `json:"mqtt"`
	Metrics MetricsConfig      `json:"metrics"`
	API     APIConfig          `json:"api"`
}

// MetricsConfig selects the evaluation sinks.
type MetricsConfig struct {
	Prometheus PrometheusConfig     `json:"prometheus"`
	Influx     metrics.InfluxConfig `json:"influx"`
}

// PrometheusConfig controls the /metrics endpoint.
type PrometheusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// SetDefaults applies sane defaults.
func (c *PrometheusConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":9095"
	}
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// SetDefaults applies sane defaults.
func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8088"
	}
}

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
	// Optional environment overrides
	if err := k.Load(env.Provider("VP_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "vp_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Planner.SetDefaults()
	cfg.Loop.SetDefaults()
	cfg.MQTT.SetDefaults()
	cfg.Metrics.Prometheus.SetDefaults()
	cfg.API.SetDefaults()
	if err := cfg.Planner.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Loop.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
