// Package config loads the service configuration from environment
// variables (optionally a .env file) and the endpoints YAML file.
// Configuration is read once at startup; no state is persisted.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"convoproxy/pkg/log"
)

var (
	// ErrNoEndpoints is returned when neither the YAML file nor the
	// environment define any endpoint.
	ErrNoEndpoints = errors.New("no endpoints configured")
)

// Config is the full runtime configuration.
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":7001"`
	APIKey     string `env:"API_KEY"`
	Debug      bool   `env:"DEBUG" envDefault:"false"`

	// Endpoint sources: a YAML file and/or a comma-separated address
	// list. Addresses from the environment get generated identifiers
	// and weight 1.
	EndpointsFile string   `env:"ENDPOINTS_FILE"`
	EndpointAddrs []string `env:"ENDPOINTS" envSeparator:","`

	Strategy      string `env:"STRATEGY" envDefault:"round_robin"`
	FallbackToAny bool   `env:"FALLBACK_TO_ANY" envDefault:"false"`

	ProbeInterval    time.Duration `env:"PROBE_INTERVAL" envDefault:"10s"`
	ProbeTimeout     time.Duration `env:"PROBE_TIMEOUT" envDefault:"5s"`
	ProbePath        string        `env:"PROBE_PATH" envDefault:"/healthz"`
	DegradeThreshold int           `env:"DEGRADE_THRESHOLD" envDefault:"3"`
	DownThreshold    int           `env:"DOWN_THRESHOLD" envDefault:"3"`

	DispatchTimeout time.Duration `env:"DISPATCH_TIMEOUT" envDefault:"15s"`
	MaxRetries      int           `env:"MAX_RETRIES" envDefault:"2"`
	InPlaceRetries  int           `env:"IN_PLACE_RETRIES" envDefault:"0"`
	RetryWaitMin    time.Duration `env:"RETRY_WAIT_MIN" envDefault:"100ms"`
	RetryWaitMax    time.Duration `env:"RETRY_WAIT_MAX" envDefault:"1s"`

	MetricsWindow time.Duration `env:"METRICS_WINDOW" envDefault:"60s"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"100"`

	Endpoints []EndpointConfig `env:"-"`
}

// EndpointConfig is one configured backend target. Weight is a
// pointer so an explicit 0 (selectable by no weighted draw) is
// distinguishable from an omitted weight, which defaults to 1.
type EndpointConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
	Weight  *int   `yaml:"weight"`
}

// EffectiveWeight resolves the configured weight, defaulting to 1.
func (e EndpointConfig) EffectiveWeight() int {
	if e.Weight == nil {
		return 1
	}
	return *e.Weight
}

type endpointsFile struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// Load reads the environment (and .env if present) and resolves the
// endpoint list.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.EndpointsFile != "" {
		fromFile, err := loadEndpointsFile(cfg.EndpointsFile)
		if err != nil {
			return nil, err
		}
		cfg.Endpoints = fromFile
	}
	for i, addr := range cfg.EndpointAddrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		cfg.Endpoints = append(cfg.Endpoints, EndpointConfig{
			ID:      fmt.Sprintf("endpoint-%d", i+1),
			Address: addr,
		})
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEndpointsFile parses the YAML endpoints file.
func loadEndpointsFile(path string) ([]EndpointConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}

	var parsed endpointsFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse endpoints file: %w", err)
	}
	return parsed.Endpoints, nil
}

// validate normalizes and checks the resolved configuration.
func (c *Config) validate() error {
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}

	for i := range c.Endpoints {
		ep := &c.Endpoints[i]
		ep.Address = strings.TrimRight(strings.TrimSpace(ep.Address), "/")
		if ep.Address == "" {
			return fmt.Errorf("endpoint %q: address is required", ep.ID)
		}
		if !strings.HasPrefix(ep.Address, "http://") && !strings.HasPrefix(ep.Address, "https://") {
			return fmt.Errorf("endpoint %q: address must start with http:// or https://", ep.ID)
		}
		if ep.ID == "" {
			ep.ID = fmt.Sprintf("endpoint-%d", i+1)
		}
		if ep.Weight != nil && *ep.Weight < 0 {
			return fmt.Errorf("endpoint %q: weight must be >= 0", ep.ID)
		}
	}
	return nil
}
