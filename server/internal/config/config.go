package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort       = 50051
	DefaultHTTPPort       = 8080
	DefaultTagTTL         = 10 * time.Minute
	DefaultStreamInterval = 5 * time.Second
	DefaultHistorySize    = 1000
	DefaultNotifyTimeout  = 30 * time.Second
	DefaultSMTPServer     = "localhost"
	DefaultSMTPPort       = 587
	DefaultEmailFrom      = "tagalarm@localhost"
)

// Debounce modes accepted in server.alarms.debounce_mode.
const (
	DebounceSuppress   = "suppress"
	DebounceNotifyOnly = "notify_only"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// GRPCPort is the port the tag receiver listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port the REST API, WebSocket hub and /metrics listen on
	// (default 8080).
	HTTPPort int `yaml:"http_port"`

	Auth   AuthConfig   `yaml:"auth"`
	Tags   TagsConfig   `yaml:"tags"`
	Stream StreamConfig `yaml:"stream"`
	Alarms AlarmsConfig `yaml:"alarms"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// KeyMissing reports whether mode is apikey but no key resolves. The guards
// then let every request through.
func (a AuthConfig) KeyMissing() bool {
	return a.Mode == "apikey" && a.Key() == ""
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// TagsConfig controls the last-value tag cache.
type TagsConfig struct {
	// TTL is how long a tag stays readable after its last update. Zero keeps
	// tags forever.
	TTL time.Duration `yaml:"ttl"`
}

// StreamConfig controls the WebSocket push cadence.
type StreamConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// AlarmsConfig holds rule definitions and notification channel settings.
type AlarmsConfig struct {
	Rules         []RuleConfig        `yaml:"rules"`
	Notifications NotificationsConfig `yaml:"notifications"`

	// HistorySize bounds the number of retained history records (default 1000).
	HistorySize int `yaml:"history_size"`

	// NotifyTimeout bounds one channel send (default 30s).
	NotifyTimeout time.Duration `yaml:"notify_timeout"`

	// DebounceMode is "suppress" (default) or "notify_only". In notify_only
	// mode a trigger inside the debounce window still opens an active
	// record but sends no notification.
	DebounceMode string `yaml:"debounce_mode"`
}

// RuleConfig is one alarm rule as written in YAML. Optional fields are
// pointers or zero values so the engine can apply its own defaults; the
// threshold keeps whatever scalar type YAML decoded it as.
type RuleConfig struct {
	Name            string   `yaml:"name"`
	Tag             string   `yaml:"tag"`
	Condition       string   `yaml:"condition"`
	Threshold       any      `yaml:"threshold"`
	Priority        string   `yaml:"priority"`
	DebounceSeconds *float64 `yaml:"debounce_seconds"`
	Message         string   `yaml:"message"`
	AutoClear       *bool    `yaml:"auto_clear"`
	Channels        []string `yaml:"channels"`
}

// NotificationsConfig groups per-channel delivery settings. A channel that
// is not enabled is never registered with the dispatcher.
type NotificationsConfig struct {
	Email EmailConfig `yaml:"email"`
	Slack SlackConfig `yaml:"slack"`
	SMS   SMSConfig   `yaml:"sms"`
}

// EmailConfig configures SMTP delivery.
type EmailConfig struct {
	Enabled     bool     `yaml:"enabled"`
	SMTPServer  string   `yaml:"smtp_server"`
	SMTPPort    int      `yaml:"smtp_port"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	PasswordEnv string   `yaml:"password_env"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
}

// EffectivePassword prefers the environment variable over the inline value.
func (e EmailConfig) EffectivePassword() string {
	return fromEnv(e.PasswordEnv, e.Password)
}

// SlackConfig configures the incoming-webhook channel.
type SlackConfig struct {
	Enabled       bool   `yaml:"enabled"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookURLEnv string `yaml:"webhook_url_env"`
}

// URL returns the webhook URL, resolving WebhookURLEnv first.
func (s SlackConfig) URL() string {
	return fromEnv(s.WebhookURLEnv, s.WebhookURL)
}

// SMSConfig configures the SMS gateway channel.
type SMSConfig struct {
	Enabled      bool     `yaml:"enabled"`
	AccountSID   string   `yaml:"account_sid"`
	AuthToken    string   `yaml:"auth_token"`
	AuthTokenEnv string   `yaml:"auth_token_env"`
	FromNumber   string   `yaml:"from_number"`
	ToNumbers    []string `yaml:"to_numbers"`
	APIBaseURL   string   `yaml:"api_base_url"`
}

// Token returns the gateway auth token, resolving AuthTokenEnv first.
func (s SMSConfig) Token() string {
	return fromEnv(s.AuthTokenEnv, s.AuthToken)
}

func fromEnv(name, fallback string) string {
	if name != "" {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return fallback
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with defaults before validation. Individual rules
// are not validated here; the alarm engine rejects bad rules one by one.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			Tags:     TagsConfig{TTL: DefaultTagTTL},
			Stream:   StreamConfig{Interval: DefaultStreamInterval},
			Alarms: AlarmsConfig{
				HistorySize:   DefaultHistorySize,
				NotifyTimeout: DefaultNotifyTimeout,
				DebounceMode:  DebounceSuppress,
				Notifications: NotificationsConfig{
					Email: EmailConfig{
						SMTPServer: DefaultSMTPServer,
						SMTPPort:   DefaultSMTPPort,
						From:       DefaultEmailFrom,
					},
				},
			},
		},
	}
}

func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Tags.TTL < 0 {
		return fmt.Errorf("server.tags.ttl must not be negative")
	}
	if s.Stream.Interval <= 0 {
		return fmt.Errorf("server.stream.interval must be positive")
	}
	if s.Alarms.HistorySize <= 0 {
		return fmt.Errorf("server.alarms.history_size must be positive, got %d", s.Alarms.HistorySize)
	}
	if s.Alarms.NotifyTimeout <= 0 {
		return fmt.Errorf("server.alarms.notify_timeout must be positive")
	}
	switch s.Alarms.DebounceMode {
	case DebounceSuppress, DebounceNotifyOnly:
	default:
		return fmt.Errorf("server.alarms.debounce_mode %q unknown: want %s|%s",
			s.Alarms.DebounceMode, DebounceSuppress, DebounceNotifyOnly)
	}
	if e := s.Alarms.Notifications.Email; e.Enabled {
		if e.SMTPServer == "" {
			return fmt.Errorf("server.alarms.notifications.email.smtp_server is required when email is enabled")
		}
		if e.SMTPPort <= 0 || e.SMTPPort > 65535 {
			return fmt.Errorf("server.alarms.notifications.email.smtp_port %d is out of range [1, 65535]", e.SMTPPort)
		}
	}
	return nil
}
