package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "parley.persistence"

// Defaults
const (
	DefaultTable          = "messages"
	DefaultConnectTimeout = 3 * time.Second
	DefaultWriteTimeout   = 2 * time.Second
)

// Supported drivers
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config describes the durable store
type Config struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Path     string // sqlite3 file
	Table    string

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Driver == DriverMySQL {
		if c.Host == "" {
			c.Host = "localhost"
		}
		if c.Port == 0 {
			c.Port = 3306
		}
	}
	return c
}

// Enabled reports whether a driver is configured at all
func (c Config) Enabled() bool {
	switch strings.TrimSpace(c.Driver) {
	case "", "none":
		return false
	}
	return true
}

// Record is one persisted transcript row
type Record struct {
	Author  string
	Content string
}

// Store appends transcript records to a SQL table
type Store struct {
	db           *sql.DB
	driver       string
	table        string
	insertSQL    string
	writeTimeout time.Duration
}

// TryConnect opens the store, verifies connectivity, and makes sure the table
// exists. It returns nil, after logging a warning, when any step fails.
func TryConnect(ctx context.Context, cfg Config) *Store {
	observability.EnsureRegistered()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg = cfg.withDefaults()
	logger := tracing.LoggerFromContext(ctx, log.Logger).With().
		Str("component", "persistence").
		Str("driver", cfg.Driver).
		Logger()

	if !cfg.Enabled() {
		logger.Info().Msg("Transcript persistence disabled")
		observability.SetPersistenceConnected(false)
		return nil
	}

	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"persistence.connect",
		attribute.String("driver", cfg.Driver),
	)
	defer span.End()

	store, err := connect(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Msg("Transcript database unavailable, continuing without persistence")
		observability.SetPersistenceConnected(false)
		return nil
	}

	observability.SetPersistenceConnected(true)
	logger.Info().Str("table", cfg.Table).Msg("Transcript database connected")
	return store
}

func connect(ctx context.Context, cfg Config) (*Store, error) {
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Table)
	}

	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(connectCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{
		db:           db,
		driver:       cfg.Driver,
		table:        cfg.Table,
		insertSQL:    fmt.Sprintf("INSERT INTO `%s` (`user`, `message`) VALUES (?, ?)", cfg.Table),
		writeTimeout: cfg.WriteTimeout,
	}

	if err := s.migrate(connectCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func open(cfg Config) (*sql.DB, error) {
	switch cfg.Driver {
	case DriverMySQL:
		if cfg.User == "" {
			return nil, fmt.Errorf("database credentials are not configured")
		}
		driverLogger := log.Logger.With().Str("component", "mysql").Logger()
		_ = mysql.SetLogger(&driverLogger)

		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		mc.DBName = cfg.Database
		mc.Timeout = cfg.ConnectTimeout
		mc.ReadTimeout = cfg.WriteTimeout
		mc.WriteTimeout = cfg.WriteTimeout

		connector, err := mysql.NewConnector(mc)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql configuration: %w", err)
		}
		db := sql.OpenDB(connector)
		db.SetMaxOpenConns(2)
		db.SetConnMaxIdleTime(5 * time.Minute)
		return db, nil

	case DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("sqlite database path is not configured")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// Lock waits happen inside sqlite and ignore the context, so they are
		// capped at the write timeout.
		dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d", cfg.Path, cfg.WriteTimeout.Milliseconds())
		db, err := sql.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		db.SetMaxOpenConns(1)
		return db, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func (s *Store) migrate(ctx context.Context) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (`user` TEXT, `message` TEXT)", s.table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

// TryPersist inserts one record. It reports whether the row was written;
// failures are logged and counted, never returned. Safe on a nil Store.
func (s *Store) TryPersist(ctx context.Context, author, content string) (ok bool) {
	if s == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger).With().
		Str("component", "persistence").
		Str("table", s.table).
		Logger()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Transcript write panicked")
			ok = false
		}
		observability.RecordPersistWrite(time.Since(start), ok)
	}()

	ctx, span := tracing.StartSpan(
		ctx,
		tracerName,
		"persistence.insert",
		attribute.String("table", s.table),
		attribute.String("author", author),
	)
	defer span.End()

	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(writeCtx, s.insertSQL, author, content); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Str("author", author).Msg("Failed to persist transcript record")
		return false
	}

	logger.Debug().Str("author", author).Int("bytes", len(content)).Msg("Transcript record persisted")
	return true
}

// Persist implements the chat persister contract with a synchronous write.
func (s *Store) Persist(ctx context.Context, author, content string) {
	s.TryPersist(ctx, author, content)
}

// Driver returns the driver name, or "none" for a nil Store.
func (s *Store) Driver() string {
	if s == nil {
		return "none"
	}
	return s.driver
}

// Close closes the database handle. Safe on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	observability.SetPersistenceConnected(false)
	return s.db.Close()
}
