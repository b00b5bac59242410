package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for chatrelay
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Database DatabaseConfig `mapstructure:"database"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Chat     ChatConfig     `mapstructure:"chat"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	BaseURL      string   `mapstructure:"base_url"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// AdminConfig holds admin authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RemoteConfig holds the remote question-answering service configuration
type RemoteConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	StreamTimeout time.Duration `mapstructure:"stream_timeout"`
	RetrievalStep string        `mapstructure:"retrieval_step"`
}

// ChatConfig holds turn presentation configuration
type ChatConfig struct {
	Models       []string `mapstructure:"models"`
	DefaultModel string   `mapstructure:"default_model"`
	// Questions are the suggested starter questions shown to a client
	// with an empty conversation.
	Questions []string `mapstructure:"questions"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("CHATRELAY")
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("admin.api_key", "")

	v.SetDefault("database.path", "./data/chatrelay.db")

	v.SetDefault("remote.base_url", "http://localhost:8000")
	v.SetDefault("remote.stream_timeout", time.Minute)
	v.SetDefault("remote.retrieval_step", "FindDocs")

	v.SetDefault("chat.models", []string{
		"openai_gpt_3_5_turbo",
		"anthropic_claude_3_haiku",
		"google_gemini_pro",
		"fireworks_mixtral",
		"cohere_command",
	})
	v.SetDefault("chat.default_model", "openai_gpt_3_5_turbo")
	v.SetDefault("chat.questions", []string{})
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
