package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
	base   *Config
}

// NewWizard creates a new configuration wizard on stdin/stdout
func NewWizard() *Wizard {
	return NewWizardWithIO(os.Stdin, os.Stdout, nil)
}

// NewWizardWithIO creates a wizard reading answers from in and writing prompts
// to out. Answers left blank keep the values of base, or the defaults when
// base is nil.
func NewWizardWithIO(in io.Reader, out io.Writer, base *Config) *Wizard {
	if base == nil {
		base = DefaultConfig()
	}
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
		base:   base,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	w.println("=== Parley Configuration Wizard ===")
	w.println()

	cfg := *w.base
	cfg.Models = append([]ModelConfig(nil), w.base.Models...)
	validator := NewValidator()

	// Inference
	w.println("Inference:")
	for {
		w.printf("Provider (groq/openai/anthropic) [%s]: ", cfg.Inference.Provider)
		provider, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if provider == "" {
			break
		}
		if err := validator.ValidateProvider(provider); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Inference.Provider = provider
		break
	}

	for {
		prompt := "API Key: "
		if cfg.Inference.APIKey != "" {
			prompt = "API Key (press Enter to keep current): "
		}
		w.printf("%s", prompt)
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if key == "" {
			if cfg.Inference.APIKey == "" {
				w.println("Error: an API key is required to chat")
				continue
			}
			break
		}
		if err := validator.ValidateAPIKey(key, cfg.Inference.Provider); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Inference.APIKey = key
		break
	}

	w.println()

	// Default model
	w.println("Models:")
	for i, m := range cfg.Models {
		w.printf("  %d. %s (%s)\n", i+1, m.Label, m.ID)
	}
	for {
		w.printf("Default model [%s]: ", cfg.DefaultModel)
		choice, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if choice == "" {
			break
		}
		if label, ok := pickModel(cfg.Models, choice); ok {
			cfg.DefaultModel = label
			break
		}
		w.printf("Error: unknown model %q\n", choice)
	}

	w.println()

	// Session
	w.printf("Display name [%s]: ", cfg.Session.DisplayName)
	name, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if name != "" {
		cfg.Session.DisplayName = name
	}

	w.println()

	// Database
	w.println("Transcript database:")
	for {
		w.printf("Driver (mysql/sqlite3/none) [%s]: ", cfg.Database.Driver)
		driver, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if driver == "" {
			break
		}
		switch driver {
		case "mysql", "sqlite3", "none":
			cfg.Database.Driver = driver
		default:
			w.printf("Error: invalid driver %q\n", driver)
			continue
		}
		break
	}

	switch cfg.Database.Driver {
	case "mysql":
		if err := w.askMySQL(&cfg.Database); err != nil {
			return nil, err
		}
	case "sqlite3":
		w.printf("Database file [%s]: ", cfg.Database.Path)
		path, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if path != "" {
			cfg.Database.Path = path
		}
	}

	w.println()

	// Log Level
	w.println("Logging:")
	w.printf("Log level (debug/info/warn/error) [%s]: ", cfg.Logging.Level)
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}

	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			w.printf("Warning: %v, keeping %s\n", err, cfg.Logging.Level)
		} else {
			cfg.Logging.Level = level
		}
	}

	w.println()
	w.println("Configuration complete!")

	return &cfg, nil
}

func (w *Wizard) askMySQL(db *DatabaseConfig) error {
	fields := []struct {
		prompt string
		target *string
		secret bool
	}{
		{"Host", &db.Host, false},
		{"User", &db.User, false},
		{"Password", &db.Password, true},
		{"Database name", &db.Name, false},
	}

	for _, f := range fields {
		current := *f.target
		if f.secret && current != "" {
			current = "keep current"
		}
		w.printf("%s [%s]: ", f.prompt, current)
		value, err := w.readLine()
		if err != nil {
			return err
		}
		if value != "" {
			*f.target = value
		}
	}

	for {
		w.printf("Port [%d]: ", db.Port)
		value, err := w.readLine()
		if err != nil {
			return err
		}
		if value == "" {
			return nil
		}
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			w.printf("Error: invalid port %q\n", value)
			continue
		}
		db.Port = port
		return nil
	}
}

// pickModel accepts either a 1-based menu index or an exact label.
func pickModel(models []ModelConfig, choice string) (string, bool) {
	if idx, err := strconv.Atoi(choice); err == nil {
		if idx >= 1 && idx <= len(models) {
			return models[idx-1].Label, true
		}
		return "", false
	}
	for _, m := range models {
		if m.Label == choice {
			return m.Label, true
		}
	}
	return "", false
}

func (w *Wizard) println(a ...interface{}) {
	fmt.Fprintln(w.out, a...)
}

func (w *Wizard) printf(format string, a ...interface{}) {
	fmt.Fprintf(w.out, format, a...)
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimSpace(line), nil
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}
