package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultScrapeInterval = 30 * time.Second
	DefaultShipInterval   = 15 * time.Second
	DefaultBufferSize     = 1000
	DefaultAuthHeader     = "x-api-key"
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent settings.
type AgentConfig struct {
	// ServerEndpoint is the gRPC address of tagalarm-server (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// ScrapeInterval controls how often each source is polled.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// ShipInterval controls how often buffered updates are sent to the server.
	ShipInterval time.Duration `yaml:"ship_interval"`

	// BufferSize is the maximum number of tag updates held in memory while
	// the server is unreachable. The oldest are dropped first.
	BufferSize int `yaml:"buffer_size"`

	Sources []Source `yaml:"sources"`

	// ServerAuth configures how the agent authenticates to the server.
	// Only apikey and none are meaningful here.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// Source is one endpoint serving the Prometheus text exposition format.
type Source struct {
	ID       string     `yaml:"id"`
	Endpoint string     `yaml:"endpoint"`
	Auth     AuthConfig `yaml:"auth"`
	TLS      TLSConfig  `yaml:"tls"`

	// Prefix is prepended to every tag name produced by this source.
	Prefix string `yaml:"prefix"`

	// Tags maps metric families to tags. When empty, every family in the
	// scrape becomes a tag named Prefix + family name.
	Tags []TagMapping `yaml:"tags"`
}

// TagMapping turns one metric family into one tag. Samples whose labels
// match every entry of Labels are summed.
type TagMapping struct {
	Name   string            `yaml:"name"`
	Metric string            `yaml:"metric"`
	Labels map[string]string `yaml:"labels"`
}

// AuthConfig specifies how to authenticate to a source or to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	Header string `yaml:"header"`
	KeyEnv string `yaml:"key_env"`

	TokenEnv string `yaml:"token_env"`

	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key resolved from the environment.
func (a AuthConfig) Key() string { return getenv(a.KeyEnv) }

// Token returns the bearer token resolved from the environment.
func (a AuthConfig) Token() string { return getenv(a.TokenEnv) }

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string { return getenv(a.PasswordEnv) }

// EffectiveHeader returns Header, or DefaultAuthHeader when unset.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return DefaultAuthHeader
	}
	return a.Header
}

func getenv(name string) string {
	if name == "" {
		return ""
	}
	return os.Getenv(name)
}

// TLSConfig holds per-source TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables certificate verification. Development only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ScrapeInterval: DefaultScrapeInterval,
			ShipInterval:   DefaultShipInterval,
			BufferSize:     DefaultBufferSize,
		},
	}
}

func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if a.ScrapeInterval <= 0 {
		return fmt.Errorf("agent.scrape_interval must be positive")
	}
	if a.ShipInterval <= 0 {
		return fmt.Errorf("agent.ship_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a.ServerAuth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unsupported mode %q", a.ServerAuth.Mode)
	}

	seen := make(map[string]bool, len(a.Sources))
	for i, src := range a.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if src.Endpoint == "" {
			return fmt.Errorf("sources[%d] %q: endpoint is required", i, src.ID)
		}
		switch src.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("sources[%d] %q: unknown auth mode %q", i, src.ID, src.Auth.Mode)
		}
		for j, m := range src.Tags {
			if strings.TrimSpace(m.Name) == "" {
				return fmt.Errorf("sources[%d] %q: tags[%d]: name is required", i, src.ID, j)
			}
			if m.Metric == "" {
				return fmt.Errorf("sources[%d] %q: tags[%d] %q: metric is required", i, src.ID, j, m.Name)
			}
		}
	}
	return nil
}
