package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for kgforge-engine.
// Configuration can come from a YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values. Secrets
// (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8086"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// Metadata store (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Triple store (SPARQL protocol endpoint, system of record)
	TripleStore TripleStoreConfig `yaml:"triple_store"`

	// Property-graph store (bolt, derived read-optimized mirror)
	GraphStore GraphStoreConfig `yaml:"graph_store"`

	// Sync engine tuning
	Sync SyncConfig `yaml:"sync"`

	// Event publishing (optional)
	NATS NATSConfig `yaml:"nats"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated against
	// JWKS. Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr.
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL metadata-store configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"kgforge"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"kgforge_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"./migrations"`
}

// URL builds a pgx-compatible connection URL.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// TripleStoreConfig holds SPARQL endpoint configuration.
type TripleStoreConfig struct {
	// QueryURL is the SPARQL query endpoint (e.g. http://fuseki:3030/kg/query).
	QueryURL string `yaml:"query_url" env:"TRIPLESTORE_QUERY_URL" env-default:"http://localhost:3030/kg/query"`
	// UpdateURL is the SPARQL update endpoint.
	UpdateURL string `yaml:"update_url" env:"TRIPLESTORE_UPDATE_URL" env-default:"http://localhost:3030/kg/update"`
	// Timeout bounds a single SPARQL request.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"TRIPLESTORE_TIMEOUT_SECONDS" env-default:"30"`
}

// Timeout returns the request timeout as a duration.
func (c *TripleStoreConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GraphStoreConfig holds property-graph (bolt) configuration.
type GraphStoreConfig struct {
	URI      string `yaml:"uri" env:"GRAPHSTORE_URI" env-default:"bolt://localhost:7687"`
	Username string `yaml:"username" env:"GRAPHSTORE_USERNAME" env-default:"neo4j"`
	Password string `yaml:"-" env:"GRAPHSTORE_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"GRAPHSTORE_DATABASE" env-default:"neo4j"`
}

// SyncConfig tunes the sync worker pool and run lifecycle.
type SyncConfig struct {
	// Workers is the number of concurrent sync jobs across all workspaces.
	Workers int `yaml:"workers" env:"SYNC_WORKERS" env-default:"4"`
	// RunTimeoutMinutes is how long a run may stay in running before the
	// sweep marks it abandoned.
	RunTimeoutMinutes int `yaml:"run_timeout_minutes" env:"SYNC_RUN_TIMEOUT_MINUTES" env-default:"30"`
	// RetentionDays is how long terminal run records are kept before the
	// cleanup job reaps them. Versions, provenance and audit are never pruned.
	RetentionDays int `yaml:"retention_days" env:"SYNC_RETENTION_DAYS" env-default:"30"`
	// BatchSize bounds how many entities one instance-sync batch maps.
	BatchSize int `yaml:"batch_size" env:"SYNC_BATCH_SIZE" env-default:"500"`
}

// RunTimeout returns the abandoned-run threshold as a duration.
func (c *SyncConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

// NATSConfig holds optional event-publishing configuration.
// An empty URL disables publishing.
type NATSConfig struct {
	URL string `yaml:"url" env:"NATS_URL" env-default:""`
}

// Load reads configuration from config.yaml (if present) and the environment.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.Version = version

	if err := cfg.parseJWKSEndpoints(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseJWKSEndpoints parses the comma-separated issuer=url list.
func (c *Config) parseJWKSEndpoints() error {
	c.Auth.JWKSEndpoints = make(map[string]string)
	if c.Auth.JWKSEndpointsStr == "" {
		return nil
	}

	for _, pair := range strings.Split(c.Auth.JWKSEndpointsStr, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return fmt.Errorf("invalid JWKS endpoint pair %q (want issuer=url)", pair)
		}
		c.Auth.JWKSEndpoints[parts[0]] = parts[1]
	}
	return nil
}

func (c *Config) validate() error {
	if c.Auth.EnableVerification && len(c.Auth.JWKSEndpoints) == 0 {
		return fmt.Errorf("auth verification enabled but no JWKS endpoints configured")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be >= 1, got %d", c.Sync.Workers)
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be >= 1, got %d", c.Sync.BatchSize)
	}
	return nil
}
