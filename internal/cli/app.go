package cli

import (
	"context"
	"fmt"

	"github.com/harun/parley/internal/config"
	"github.com/harun/parley/internal/logger"
	"github.com/harun/parley/internal/tracing"
	"github.com/harun/parley/pkg/inference"
	"github.com/harun/parley/pkg/models"
	"github.com/harun/parley/pkg/persistence"
	"github.com/rs/zerolog/log"
)

const serviceName = "parley"

// app holds what every command needs: validated config, logging, the model
// catalog and the inference clients built from the config.
type app struct {
	cfg     *config.Config
	logger  *logger.Logger
	catalog *models.Catalog
	clients *inference.Cache
}

func loadApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	for _, problem := range config.NewValidator().ValidateConfig(cfg) {
		log.Warn().Err(problem).Msg("Configuration problem")
	}

	if err := tracing.Init(tracing.Config{ServiceName: serviceName, ServiceVersion: version}); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}

	catalog, err := catalogFromConfig(cfg)
	if err != nil {
		_ = lg.Close()
		return nil, fmt.Errorf("invalid model catalog: %w", err)
	}

	return &app{cfg: cfg, logger: lg, catalog: catalog, clients: inference.NewCache()}, nil
}

// inferenceClient returns the client for the configured provider. A missing
// credential comes back as *inference.ConfigurationError.
func (a *app) inferenceClient() (inference.Client, error) {
	return a.clients.Get(inferenceConfig(a.cfg))
}

func (a *app) Close() {
	if err := tracing.Shutdown(context.Background()); err != nil {
		log.Debug().Err(err).Msg("Tracer shutdown failed")
	}
	_ = a.logger.Close()
}

func catalogFromConfig(cfg *config.Config) (*models.Catalog, error) {
	if len(cfg.Models) == 0 {
		return models.Default(), nil
	}
	entries := make([]models.Model, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		entries = append(entries, models.Model{Label: m.Label, ID: m.ID})
	}
	return models.NewCatalog(entries)
}

func inferenceConfig(cfg *config.Config) inference.Config {
	return inference.Config{
		Provider:       cfg.Inference.Provider,
		APIKey:         cfg.Inference.APIKey,
		BaseURL:        cfg.Inference.BaseURL,
		RequestTimeout: cfg.Inference.RequestTimeout(),
	}
}

func persistenceConfig(db config.DatabaseConfig) persistence.Config {
	return persistence.Config{
		Driver:         db.Driver,
		Host:           db.Host,
		Port:           db.Port,
		User:           db.User,
		Password:       db.Password,
		Database:       db.Name,
		Path:           db.Path,
		Table:          db.Table,
		ConnectTimeout: db.ConnectTimeout(),
		WriteTimeout:   db.WriteTimeout(),
	}
}
