package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config aggregates all service settings.
type Config struct {
	Server ServerConfig
	Agent  AgentConfig
	Log    LogConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	agent, err := loadAgentConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Agent:  agent,
		Log: LogConfig{
			Level: getEnvOrDefault("LOG_LEVEL", "info"),
		},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	origins := []string{"http://localhost:5173", "http://localhost:3000"}
	if raw := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); raw != "" {
		origins = origins[:0]
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	return ServerConfig{Addr: addr, AllowedOrigins: origins}, nil
}

// AgentConfig describes the upstream agent service.
type AgentConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Enabled reports whether an agent endpoint was configured.
func (c AgentConfig) Enabled() bool {
	return c.BaseURL != ""
}

func loadAgentConfig() (AgentConfig, error) {
	timeout := 5 * time.Minute
	if raw := strings.TrimSpace(os.Getenv("AGENT_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return AgentConfig{}, fmt.Errorf("invalid AGENT_TIMEOUT value %q: %w", raw, err)
		}
		timeout = parsed
	}

	return AgentConfig{
		BaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("AGENT_BASE_URL")), "/"),
		Timeout: timeout,
	}, nil
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
