package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main parley configuration
type Config struct {
	// Inference provider
	Inference InferenceConfig `json:"inference" mapstructure:"inference"`

	// Models maps display labels to provider model ids, in menu order
	Models []ModelConfig `json:"models" mapstructure:"models"`

	// DefaultModel is the display label selected at startup
	DefaultModel string `json:"default_model" mapstructure:"default_model"`

	// Durable transcript store
	Database DatabaseConfig `json:"database" mapstructure:"database"`

	// Session defaults
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// InferenceConfig holds inference provider settings
type InferenceConfig struct {
	Provider         string  `json:"provider" mapstructure:"provider"` // groq, openai, anthropic
	APIKey           string  `json:"api_key" mapstructure:"api_key"`
	BaseURL          string  `json:"base_url" mapstructure:"base_url"`
	Temperature      float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens        int     `json:"max_tokens" mapstructure:"max_tokens"`
	RequestTimeoutMs int     `json:"request_timeout_ms" mapstructure:"request_timeout_ms"` // 0: no limit
}

// ModelConfig is one entry of the model menu
type ModelConfig struct {
	Label string `json:"label" mapstructure:"label"`
	ID    string `json:"id" mapstructure:"id"`
}

// DatabaseConfig holds persistence settings
type DatabaseConfig struct {
	Driver           string `json:"driver" mapstructure:"driver"` // mysql, sqlite3, none
	Host             string `json:"host" mapstructure:"host"`
	Port             int    `json:"port" mapstructure:"port"`
	User             string `json:"user" mapstructure:"user"`
	Password         string `json:"password" mapstructure:"password"`
	Name             string `json:"name" mapstructure:"name"`
	Path             string `json:"path" mapstructure:"path"` // sqlite3 only
	Table            string `json:"table" mapstructure:"table"`
	ConnectTimeoutMs int    `json:"connect_timeout_ms" mapstructure:"connect_timeout_ms"`
	WriteTimeoutMs   int    `json:"write_timeout_ms" mapstructure:"write_timeout_ms"`
}

// SessionConfig holds per-session defaults
type SessionConfig struct {
	DisplayName string `json:"display_name" mapstructure:"display_name"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Inference: InferenceConfig{
			Provider:         "groq",
			Temperature:      0.7,
			MaxTokens:        2048,
			RequestTimeoutMs: 120000,
		},
		Models: []ModelConfig{
			{Label: "Rápido (8B)", ID: "llama-3.1-8b-instant"},
			{Label: "Potente (70B)", ID: "llama-3.3-70b-versatile"},
		},
		DefaultModel: "Rápido (8B)",
		Database: DatabaseConfig{
			Driver:           "mysql",
			Host:             "localhost",
			Port:             3306,
			Name:             "asistentia",
			Table:            "messages",
			ConnectTimeoutMs: 3000,
			WriteTimeoutMs:   2000,
		},
		Session: SessionConfig{
			DisplayName: "Usuario",
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// RequestTimeout bounds one streamed completion; zero means no limit
func (i InferenceConfig) RequestTimeout() time.Duration {
	return time.Duration(i.RequestTimeoutMs) * time.Millisecond
}

// ConnectTimeout returns the database connect timeout
func (d DatabaseConfig) ConnectTimeout() time.Duration {
	return time.Duration(d.ConnectTimeoutMs) * time.Millisecond
}

// WriteTimeout returns the database write timeout
func (d DatabaseConfig) WriteTimeout() time.Duration {
	return time.Duration(d.WriteTimeoutMs) * time.Millisecond
}

// ModelLabels returns the display labels in menu order
func (c *Config) ModelLabels() []string {
	labels := make([]string, 0, len(c.Models))
	for _, m := range c.Models {
		labels = append(labels, m.Label)
	}
	return labels
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Inference.APIKey = mask(c.Inference.APIKey)
	masked.Database.Password = mask(c.Database.Password)
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// Validate checks that the configuration is usable. A missing inference
// credential is not an error here; the inference factory reports it when the
// chat feature starts.
func (c *Config) Validate() error {
	validProviders := []string{"groq", "openai", "anthropic"}
	valid := false
	for _, vp := range validProviders {
		if c.Inference.Provider == vp {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid inference provider %q (must be: groq, openai, anthropic)", c.Inference.Provider)
	}

	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}

	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Label == "" {
			return fmt.Errorf("model %d: label is required", i)
		}
		if m.ID == "" {
			return fmt.Errorf("model %s: id is required", m.Label)
		}
		if seen[m.Label] {
			return fmt.Errorf("model %s: duplicate label", m.Label)
		}
		seen[m.Label] = true
	}

	if c.DefaultModel != "" && !seen[c.DefaultModel] {
		return fmt.Errorf("default model %q is not in the model list", c.DefaultModel)
	}

	switch c.Database.Driver {
	case "", "none", "mysql", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver %q (must be: mysql, sqlite3, none)", c.Database.Driver)
	}

	return nil
}
