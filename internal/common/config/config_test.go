package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Host: "127.0.0.1", Port: 39765},
		Database: DatabaseConfig{Path: "bus.db", BusyTimeout: 5000, OpTimeout: 5},
		Bus:      BusConfig{Name: "AgentChatBus", Language: "English", HeartbeatTimeout: 30, WaitTimeout: 60},
		Policy:   PolicyConfig{RateLimit: 10, ContentFilter: true, SweepInterval: 60, ConversationExpiry: 1800},
		Events:   EventsConfig{MaxAge: 600, PruneInterval: 60},
		MCP:      MCPConfig{Enabled: true, Port: 39766},
		Logging:  LoggingConfig{Level: "info", Format: "json", OutputPath: "stdout"},
	}
}

func TestValidateAcceptsDisabledPolicies(t *testing.T) {
	cfg := validConfig()
	cfg.Policy.RateLimit = 0
	cfg.Policy.ConversationExpiry = 0
	if err := validate(cfg); err != nil {
		t.Errorf("expected zero to mean disabled, got %v", err)
	}
}

func TestValidateRejectsNegativePolicies(t *testing.T) {
	cfg := validConfig()
	cfg.Policy.RateLimit = -1
	err := validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "policy.rateLimit") {
		t.Errorf("expected rateLimit error, got %v", err)
	}

	cfg = validConfig()
	cfg.Policy.ConversationExpiry = -1
	err = validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "policy.conversationExpiry") {
		t.Errorf("expected conversationExpiry error, got %v", err)
	}
}

func TestValidateRejectsBadPorts(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	if err := validate(cfg); err == nil {
		t.Error("expected server.port error")
	}

	cfg = validConfig()
	cfg.MCP.Port = 70000
	if err := validate(cfg); err == nil {
		t.Error("expected mcp.port error")
	}

	// A disabled MCP server does not need a valid port.
	cfg.MCP.Enabled = false
	if err := validate(cfg); err != nil {
		t.Errorf("expected disabled MCP to skip port validation, got %v", err)
	}
}
