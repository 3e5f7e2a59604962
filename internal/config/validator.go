package config

import (
	"fmt"
	"regexp"
	"strings"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateProvider validates an inference provider name
func (v *Validator) ValidateProvider(provider string) error {
	validProviders := []string{"groq", "openai", "anthropic"}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "groq":
		if !strings.HasPrefix(key, "gsk_") {
			return fmt.Errorf("invalid Groq API key format (should start with gsk_)")
		}
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModels validates the model menu and the default selection
func (v *Validator) ValidateModels(models []ModelConfig, defaultModel string) []error {
	var errors []error

	if len(models) == 0 {
		return append(errors, fmt.Errorf("at least one model must be configured"))
	}

	seen := make(map[string]bool, len(models))
	for i, m := range models {
		if strings.TrimSpace(m.Label) == "" {
			errors = append(errors, fmt.Errorf("model %d: label is required", i))
			continue
		}
		if strings.TrimSpace(m.ID) == "" {
			errors = append(errors, fmt.Errorf("model %d (%s): id is required", i, m.Label))
		}
		if seen[m.Label] {
			errors = append(errors, fmt.Errorf("model %d (%s): duplicate label", i, m.Label))
		}
		seen[m.Label] = true
	}

	if defaultModel != "" && !seen[defaultModel] {
		errors = append(errors, fmt.Errorf("default model %q is not in the model list", defaultModel))
	}

	return errors
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateDatabase validates persistence settings. An unconfigured database
// is valid; persistence is then disabled at runtime.
func (v *Validator) ValidateDatabase(db DatabaseConfig) []error {
	var errors []error

	switch db.Driver {
	case "", "none":
		return nil
	case "mysql":
		if db.Port < 0 || db.Port > 65535 {
			errors = append(errors, fmt.Errorf("database port out of range: %d", db.Port))
		}
	case "sqlite3":
	default:
		return append(errors, fmt.Errorf("invalid database driver: %s (must be one of: mysql, sqlite3, none)", db.Driver))
	}

	if !tableNamePattern.MatchString(db.Table) {
		errors = append(errors, fmt.Errorf("invalid database table name: %q", db.Table))
	}
	if db.ConnectTimeoutMs < 0 {
		errors = append(errors, fmt.Errorf("database.connect_timeout_ms must be >= 0"))
	}
	if db.WriteTimeoutMs < 0 {
		errors = append(errors, fmt.Errorf("database.write_timeout_ms must be >= 0"))
	}

	return errors
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateProvider(cfg.Inference.Provider); err != nil {
		errors = append(errors, err)
	}
	if cfg.Inference.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Inference.APIKey, cfg.Inference.Provider); err != nil {
			errors = append(errors, err)
		}
	}
	if err := v.ValidateTemperature(cfg.Inference.Temperature); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxTokens(cfg.Inference.MaxTokens); err != nil {
		errors = append(errors, err)
	}

	errors = append(errors, v.ValidateModels(cfg.Models, cfg.DefaultModel)...)
	errors = append(errors, v.ValidateDatabase(cfg.Database)...)

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Addr) == "" {
		errors = append(errors, fmt.Errorf("metrics.addr is required when metrics are enabled"))
	}

	return errors
}
