// Package config provides configuration management for the bus.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Version is the bus protocol/server version reported to clients.
const Version = "0.1.0"

// Config holds all configuration sections for the bus.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Bus      BusConfig      `mapstructure:"bus"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Events   EventsConfig   `mapstructure:"events"`
	MCP      MCPConfig      `mapstructure:"mcp"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds the SQLite database configuration.
type DatabaseConfig struct {
	Path        string `mapstructure:"path"`        // file path, empty means default location
	BusyTimeout int    `mapstructure:"busyTimeout"` // in milliseconds
	OpTimeout   int    `mapstructure:"opTimeout"`   // per-operation timeout, in seconds
}

// NATSConfig holds NATS messaging configuration.
// An empty URL means use the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// BusConfig holds bus identity and conversation behavior.
type BusConfig struct {
	Name             string `mapstructure:"name"`
	Language         string `mapstructure:"language"`
	HeartbeatTimeout int    `mapstructure:"heartbeatTimeout"` // seconds before an agent is offline
	WaitTimeout      int    `mapstructure:"waitTimeout"`      // default msg.wait long-poll timeout, seconds
}

// PolicyConfig holds rate limiting and inactivity sweeping settings.
type PolicyConfig struct {
	RateLimit          int  `mapstructure:"rateLimit"`          // messages per minute per agent, 0 disables
	ContentFilter      bool `mapstructure:"contentFilter"`      // block messages containing secrets
	SweepInterval      int  `mapstructure:"sweepInterval"`      // inactivity sweeper period, seconds
	ConversationExpiry int  `mapstructure:"conversationExpiry"` // idle seconds before a discuss thread is closed, 0 disables
}

// EventsConfig holds fan-out event log retention settings.
type EventsConfig struct {
	MaxAge        int `mapstructure:"maxAge"`        // seconds to retain event rows
	PruneInterval int `mapstructure:"pruneInterval"` // seconds between prune passes
}

// MCPConfig holds the Model Context Protocol server settings.
type MCPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// OpTimeoutDuration returns the per-operation database timeout.
func (d *DatabaseConfig) OpTimeoutDuration() time.Duration {
	return time.Duration(d.OpTimeout) * time.Second
}

// HeartbeatTimeoutDuration returns the agent presence timeout.
func (b *BusConfig) HeartbeatTimeoutDuration() time.Duration {
	return time.Duration(b.HeartbeatTimeout) * time.Second
}

// WaitTimeoutDuration returns the default msg.wait timeout.
func (b *BusConfig) WaitTimeoutDuration() time.Duration {
	return time.Duration(b.WaitTimeout) * time.Second
}

// ConversationExpiryDuration returns the idle window before a discuss
// thread is closed by the sweeper.
func (p *PolicyConfig) ConversationExpiryDuration() time.Duration {
	return time.Duration(p.ConversationExpiry) * time.Second
}

// SweepIntervalDuration returns the sweeper period.
func (p *PolicyConfig) SweepIntervalDuration() time.Duration {
	return time.Duration(p.SweepInterval) * time.Second
}

// MaxAgeDuration returns the event retention window.
func (e *EventsConfig) MaxAgeDuration() time.Duration {
	return time.Duration(e.MaxAge) * time.Second
}

// PruneIntervalDuration returns the event prune period.
func (e *EventsConfig) PruneIntervalDuration() time.Duration {
	return time.Duration(e.PruneInterval) * time.Second
}

// Endpoint returns the base HTTP endpoint clients should connect to.
func (s *ServerConfig) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// LanguageSource reports where the preferred language came from:
// "env" when AGENTCHATBUS_BUS_LANGUAGE is set, "default" otherwise.
func (b *BusConfig) LanguageSource() string {
	if os.Getenv("AGENTCHATBUS_BUS_LANGUAGE") != "" {
		return "env"
	}
	return "default"
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" for production environments, "text" for terminal use.
func detectDefaultLogFormat() string {
	if env := os.Getenv("AGENTCHATBUS_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// defaultDatabasePath returns the default location of the bus database file.
func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agentchatbus.db"
	}
	return filepath.Join(home, ".agentchatbus", "agentchatbus.db")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults. The bus binds to loopback only.
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 39765)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)

	// Database defaults
	v.SetDefault("database.path", defaultDatabasePath())
	v.SetDefault("database.busyTimeout", 5000)
	v.SetDefault("database.opTimeout", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.maxReconnects", 10)

	// Bus defaults
	v.SetDefault("bus.name", "AgentChatBus")
	v.SetDefault("bus.language", "English")
	v.SetDefault("bus.heartbeatTimeout", 30)
	v.SetDefault("bus.waitTimeout", 60)

	// Policy defaults
	v.SetDefault("policy.rateLimit", 10)
	v.SetDefault("policy.contentFilter", true)
	v.SetDefault("policy.sweepInterval", 60)
	v.SetDefault("policy.conversationExpiry", 1800)

	// Event log defaults
	v.SetDefault("events.maxAge", 600)
	v.SetDefault("events.pruneInterval", 60)

	// MCP defaults
	v.SetDefault("mcp.enabled", true)
	v.SetDefault("mcp.port", 39766)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTCHATBUS_ with snake_case naming.
// Config file should be named config.json and placed in the current directory
// or ~/.agentchatbus/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTCHATBUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("bus.heartbeatTimeout", "AGENTCHATBUS_BUS_HEARTBEAT_TIMEOUT")
	_ = v.BindEnv("bus.waitTimeout", "AGENTCHATBUS_BUS_WAIT_TIMEOUT")
	_ = v.BindEnv("policy.rateLimit", "AGENTCHATBUS_POLICY_RATE_LIMIT")
	_ = v.BindEnv("policy.contentFilter", "AGENTCHATBUS_POLICY_CONTENT_FILTER")
	_ = v.BindEnv("policy.conversationExpiry", "AGENTCHATBUS_POLICY_CONVERSATION_EXPIRY")
	_ = v.BindEnv("database.path", "AGENTCHATBUS_DATABASE_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("json")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".agentchatbus"))
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if cfg.Database.BusyTimeout <= 0 {
		errs = append(errs, "database.busyTimeout must be positive")
	}
	if cfg.Database.OpTimeout <= 0 {
		errs = append(errs, "database.opTimeout must be positive")
	}

	if cfg.Bus.HeartbeatTimeout <= 0 {
		errs = append(errs, "bus.heartbeatTimeout must be positive")
	}
	if cfg.Bus.WaitTimeout <= 0 {
		errs = append(errs, "bus.waitTimeout must be positive")
	}
	if cfg.Bus.Language == "" {
		errs = append(errs, "bus.language must not be empty")
	}

	// Zero disables rate limiting and the inactivity sweeper.
	if cfg.Policy.RateLimit < 0 {
		errs = append(errs, "policy.rateLimit must not be negative")
	}
	if cfg.Policy.ConversationExpiry < 0 {
		errs = append(errs, "policy.conversationExpiry must not be negative")
	}

	if cfg.Events.MaxAge <= 0 {
		errs = append(errs, "events.maxAge must be positive")
	}
	if cfg.Events.PruneInterval <= 0 {
		errs = append(errs, "events.pruneInterval must be positive")
	}

	if cfg.MCP.Enabled && (cfg.MCP.Port <= 0 || cfg.MCP.Port > 65535) {
		errs = append(errs, "mcp.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
