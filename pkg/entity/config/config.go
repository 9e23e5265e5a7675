package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-entity/pkg/entity"
	"github.com/tendant/simple-entity/pkg/entity/repo/memory"
	repopg "github.com/tendant/simple-entity/pkg/entity/repo/postgres"
	reposqlite "github.com/tendant/simple-entity/pkg/entity/repo/sqlite"
	fsstorage "github.com/tendant/simple-entity/pkg/entity/storage/fs"
	memorystorage "github.com/tendant/simple-entity/pkg/entity/storage/memory"
	s3storage "github.com/tendant/simple-entity/pkg/entity/storage/s3"
)

// Database kinds recognised in DATABASE_URL.
const (
	DatabaseMemory   = "memory"
	DatabasePostgres = "postgres"
	DatabaseSQLite   = "sqlite"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Host:               "localhost",
		Port:               "8080",
		Environment:        "development",
		DatabaseURL:        DatabaseMemory,
		AutoMigrate:        true,
		StorageURL:         "memory://",
		Location:           "UTC",
		PageSize:           entity.DefaultPageSize,
		LogLevel:           "info",
		LogFormat:          "text",
		EnableEventLogging: true,
	}
}

// ServerConfig configures a mapper and the HTTP server exposing it. Fields
// carry the environment variable names read by WithEnv and the JSON keys read
// by WithFile.
type ServerConfig struct {
	Host        string `json:"host" env:"HOST" env-description:"Listen host"`
	Port        string `json:"port" env:"PORT" env-description:"Listen port"`
	Environment string `json:"environment" env:"ENVIRONMENT" env-description:"development, production or testing"`

	// Database configuration
	DatabaseURL string `json:"database_url" env:"DATABASE_URL" env-description:"memory, postgres://... or sqlite://path"`
	DBSchema    string `json:"db_schema" env:"DB_SCHEMA" env-description:"Postgres search_path"`
	AutoMigrate bool   `json:"auto_migrate" env:"AUTO_MIGRATE" env-description:"Create tables on startup"`

	// Storage configuration
	StorageURL string `json:"storage_url" env:"STORAGE_URL" env-description:"memory://, file:///dir or s3://bucket?region=..."`
	URLPrefix  string `json:"url_prefix" env:"STORAGE_URL_PREFIX" env-description:"Download URL prefix for file storage"`

	// Mapper options
	Location string `json:"location" env:"LOCATION" env-description:"Time zone of datetime properties"`
	PageSize int    `json:"page_size" env:"PAGE_SIZE" env-description:"Elements fetched per round-trip"`

	// Logging
	LogLevel           string `json:"log_level" env:"LOG_LEVEL" env-description:"debug, info, warn or error"`
	LogFormat          string `json:"log_format" env:"LOG_FORMAT" env-description:"text or json"`
	EnableEventLogging bool   `json:"enable_event_logging" env:"ENABLE_EVENT_LOGGING" env-description:"Log every element write"`

	// HTTP authentication
	APIKeySHA256 string `json:"api_key_sha256" env:"API_KEY_SHA256" env-description:"Hex SHA256 of the key clients send in X-API-Key"`
	JWTSecret    string `json:"jwt_secret" env:"JWT_SECRET" env-description:"HS256 secret for bearer tokens"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if _, _, err := c.database(); err != nil {
		return err
	}

	if _, err := c.storage(); err != nil {
		return err
	}

	if _, err := time.LoadLocation(c.Location); err != nil {
		return fmt.Errorf("invalid location %q: %w", c.Location, err)
	}

	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got: %d", c.PageSize)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be 'text' or 'json', got: %s", c.LogFormat)
	}

	return nil
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// database classifies DatabaseURL and returns the kind and its target.
func (c *ServerConfig) database() (string, string, error) {
	switch {
	case c.DatabaseURL == "" || c.DatabaseURL == DatabaseMemory:
		return DatabaseMemory, "", nil
	case strings.HasPrefix(c.DatabaseURL, "postgres://"), strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return DatabasePostgres, c.DatabaseURL, nil
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"):
		path := strings.TrimPrefix(c.DatabaseURL, "sqlite://")
		if path == "" {
			return "", "", errors.New("sqlite path cannot be empty in DATABASE_URL")
		}
		return DatabaseSQLite, path, nil
	}
	return "", "", fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory', 'postgres://...' or 'sqlite://path')", c.DatabaseURL)
}

// storage classifies StorageURL and returns the backend name.
func (c *ServerConfig) storage() (string, error) {
	switch {
	case c.StorageURL == "" || c.StorageURL == "memory" || c.StorageURL == "memory://":
		return "memory", nil
	case strings.HasPrefix(c.StorageURL, "file://"):
		if strings.TrimPrefix(c.StorageURL, "file://") == "" {
			return "", errors.New("filesystem path cannot be empty in STORAGE_URL")
		}
		return "fs", nil
	case strings.HasPrefix(c.StorageURL, "s3://"):
		if _, err := s3storage.ConfigFromURL(c.StorageURL); err != nil {
			return "", err
		}
		return "s3", nil
	}
	return "", fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...' or 's3://...')", c.StorageURL)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return level, nil
}

// Logger builds the slog logger described by LogLevel and LogFormat.
func (c *ServerConfig) Logger() *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// BuildMapper creates a Mapper from the configuration. The returned cleanup
// function releases database connections.
func (c *ServerConfig) BuildMapper(ctx context.Context, logger *slog.Logger) (*entity.Mapper, func(), error) {
	if logger == nil {
		logger = c.Logger()
	}
	options := []entity.Option{entity.WithLogger(logger), entity.WithPageSize(c.PageSize)}

	repo, cleanup, err := c.buildRepository(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, entity.WithRepository(repo))

	name, store, err := c.buildStorageBackend(ctx)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to build storage backend: %w", err)
	}
	options = append(options, entity.WithBlobStore(name, store))

	loc, err := time.LoadLocation(c.Location)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("invalid location %q: %w", c.Location, err)
	}
	options = append(options, entity.WithLocation(loc))

	if c.EnableEventLogging {
		options = append(options, entity.WithEventSink(entity.NewLogEventSink(logger)))
	}

	m, err := entity.New(options...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return m, cleanup, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context) (entity.Repository, func(), error) {
	kind, target, err := c.database()
	if err != nil {
		return nil, nil, err
	}

	switch kind {
	case DatabasePostgres:
		pool, err := NewPool(ctx, target, c.DBSchema)
		if err != nil {
			return nil, nil, err
		}
		if c.AutoMigrate {
			if err := repopg.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repopg.NewWithPool(pool), pool.Close, nil
	case DatabaseSQLite:
		repo, err := reposqlite.Open(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { repo.Close() }, nil
	default:
		return memory.New(), func() {}, nil
	}
}

// NewPool opens a pgx pool, setting search_path on every connection when
// schema is not empty.
func NewPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return pool, nil
}

// buildStorageBackend creates a BlobStore based on StorageURL
func (c *ServerConfig) buildStorageBackend(ctx context.Context) (string, entity.BlobStore, error) {
	name, err := c.storage()
	if err != nil {
		return "", nil, err
	}

	switch name {
	case "fs":
		u, err := url.Parse(c.StorageURL)
		if err != nil {
			return "", nil, fmt.Errorf("invalid STORAGE_URL: %w", err)
		}
		store, err := fsstorage.New(fsstorage.Config{BaseDir: u.Host + u.Path, URLPrefix: c.URLPrefix})
		return name, store, err
	case "s3":
		s3cfg, err := s3storage.ConfigFromURL(c.StorageURL)
		if err != nil {
			return "", nil, err
		}
		store, err := s3storage.New(ctx, s3cfg)
		return name, store, err
	default:
		return name, memorystorage.New(), nil
	}
}
