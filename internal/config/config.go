package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/postpipe/connector/internal/httputil"
	"github.com/postpipe/connector/internal/models"
	"github.com/postpipe/connector/internal/targets"
)

type Config struct {
	Server        ServerConfig             `mapstructure:"server"`
	Connector     ConnectorConfig          `mapstructure:"connector"`
	Ingestion     IngestionConfig          `mapstructure:"ingestion"`
	Storage       StorageConfig            `mapstructure:"storage"`
	Redis         RedisConfig              `mapstructure:"redis"`
	Events        EventsConfig             `mapstructure:"events"`
	CORS          CORSConfig               `mapstructure:"cors"`
	Logging       LoggingConfig            `mapstructure:"logging"`
	RoutesFile    string                   `mapstructure:"routes_file"`
	DefaultTarget string                   `mapstructure:"default_target"`
	Targets       map[string]targets.Entry `mapstructure:"targets"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ConnectorConfig struct {
	ID     string `mapstructure:"id"`
	Secret string `mapstructure:"secret"`
	// VarPrefix namespaces the default environment keys for multi-tenant
	// deployments.
	VarPrefix string `mapstructure:"var_prefix"`
}

type IngestionConfig struct {
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	TimestampSkew     time.Duration `mapstructure:"timestamp_skew"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	DeliveryTimeout   time.Duration `mapstructure:"delivery_timeout"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	// TrustedProxies lists peers (addresses or CIDRs) whose forwarding
	// headers are believed. Empty means the socket address is the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type StorageConfig struct {
	DefaultKind string         `mapstructure:"default_kind"`
	Postgres    PostgresConfig `mapstructure:"postgres"`
	MongoDB     MongoDBConfig  `mapstructure:"mongodb"`
}

type PostgresConfig struct {
	URL             string        `mapstructure:"url"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"db_name"`
	Collection string `mapstructure:"collection"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type EventsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	URL           string        `mapstructure:"url"`
	SubjectPrefix string        `mapstructure:"subject_prefix"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// legacyEnv maps config keys onto the variable names used by existing
// connector deployments. The prefixed name is tried first.
var legacyEnv = map[string][]string{
	"server.port":                {"POSTPIPE_SERVER_PORT", "PORT"},
	"storage.default_kind":       {"POSTPIPE_STORAGE_DEFAULT_KIND", "DB_TYPE"},
	"storage.postgres.url":       {"POSTPIPE_STORAGE_POSTGRES_URL", "DATABASE_URL", "POSTGRES_URL"},
	"storage.mongodb.uri":        {"POSTPIPE_STORAGE_MONGODB_URI", "MONGODB_URI"},
	"storage.mongodb.db_name":    {"POSTPIPE_STORAGE_MONGODB_DB_NAME", "MONGODB_DB_NAME"},
	"storage.mongodb.collection": {"POSTPIPE_STORAGE_MONGODB_COLLECTION", "MONGODB_COLLECTION"},
	"connector.var_prefix":       {"POSTPIPE_VAR_PREFIX"},
	"connector.id":               {"POSTPIPE_CONNECTOR_ID"},
	"connector.secret":           {"POSTPIPE_CONNECTOR_SECRET"},
	"routes_file":                {"POSTPIPE_ROUTES_FILE", "DB_ROUTES_FILE"},
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 3002)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("connector.id", "")
	v.SetDefault("connector.secret", "")
	v.SetDefault("connector.var_prefix", "")
	v.SetDefault("ingestion.max_body_bytes", 5<<20)
	v.SetDefault("ingestion.timestamp_skew", "5m")
	v.SetDefault("ingestion.rate_limit_enabled", true)
	v.SetDefault("ingestion.rate_limit_requests", 100)
	v.SetDefault("ingestion.rate_limit_window", "1m")
	v.SetDefault("ingestion.delivery_timeout", "30s")
	v.SetDefault("ingestion.max_concurrency", 0)
	v.SetDefault("ingestion.trusted_proxies", []string{})
	v.SetDefault("storage.default_kind", "memory")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.table", targets.DefaultTable)
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 0)
	v.SetDefault("storage.postgres.max_conn_lifetime", "1h")
	v.SetDefault("storage.postgres.max_conn_idle_time", "30m")
	v.SetDefault("storage.mongodb.uri", "")
	v.SetDefault("storage.mongodb.db_name", targets.DefaultDatabase)
	v.SetDefault("storage.mongodb.collection", targets.DefaultCollection)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.url", "nats://localhost:4222")
	v.SetDefault("events.subject_prefix", "postpipe.deliveries")
	v.SetDefault("events.timeout", "10s")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("routes_file", "")
	v.SetDefault("default_target", "")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/postpipe/connector")
	}

	// Environment variables override
	v.SetEnvPrefix("POSTPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.applyTenantPrefix(os.LookupEnv)

	return &cfg, nil
}

// applyTenantPrefix lets <PREFIX>_POSTPIPE_CONNECTOR_ID and _SECRET take
// precedence when a variable prefix is configured.
func (c *Config) applyTenantPrefix(lookup func(string) (string, bool)) {
	if c.Connector.VarPrefix == "" {
		return
	}
	prefix := strings.TrimSuffix(c.Connector.VarPrefix, "_") + "_"
	if id, ok := lookup(prefix + "POSTPIPE_CONNECTOR_ID"); ok && id != "" {
		c.Connector.ID = id
	}
	if secret, ok := lookup(prefix + "POSTPIPE_CONNECTOR_SECRET"); ok && secret != "" {
		c.Connector.Secret = secret
	}
}

var (
	ErrMissingConnectorID     = errors.New("connector id is required (POSTPIPE_CONNECTOR_ID)")
	ErrMissingConnectorSecret = errors.New("connector secret is required (POSTPIPE_CONNECTOR_SECRET)")
)

// Validate rejects configurations the connector cannot safely run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Connector.ID == "" {
		errs = append(errs, ErrMissingConnectorID)
	}
	if c.Connector.Secret == "" {
		errs = append(errs, ErrMissingConnectorSecret)
	}
	if _, ok := models.ParseKind(c.Storage.DefaultKind); !ok {
		errs = append(errs, fmt.Errorf("unknown storage.default_kind %q", c.Storage.DefaultKind))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server.port %d", c.Server.Port))
	}
	if c.Ingestion.RateLimitEnabled {
		if c.Ingestion.RateLimitRequests <= 0 {
			errs = append(errs, fmt.Errorf("ingestion.rate_limit_requests must be positive"))
		}
		if c.Ingestion.RateLimitWindow <= 0 {
			errs = append(errs, fmt.Errorf("ingestion.rate_limit_window must be positive"))
		}
	}
	if c.Ingestion.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("ingestion.max_concurrency must not be negative"))
	}
	if _, err := c.TrustedProxies(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Registry(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// TrustedProxies parses ingestion.trusted_proxies.
func (c *Config) TrustedProxies() (*httputil.TrustedProxies, error) {
	return httputil.ParseTrustedProxies(c.Ingestion.TrustedProxies)
}

// DefaultKind returns the parsed storage.default_kind, memory when invalid.
func (c *Config) DefaultKind() models.Kind {
	if kind, ok := models.ParseKind(c.Storage.DefaultKind); ok {
		return kind
	}
	return models.KindMemory
}

// Registry builds the explicit target registry from the targets map and the
// optional routes file. Entries in the config file win over the routes file.
func (c *Config) Registry() (*targets.Registry, error) {
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]targets.Entry, 0, len(names))
	for _, name := range names {
		e := c.Targets[name]
		e.Name = name
		entries = append(entries, e)
	}
	reg, err := targets.NewRegistry(entries...)
	if err != nil {
		return nil, err
	}

	if c.RoutesFile != "" {
		routes, err := targets.LoadRoutesFile(c.RoutesFile)
		if err != nil {
			return nil, err
		}
		reg.Merge(routes)
	}
	if c.DefaultTarget != "" {
		if err := reg.SetDefaultTarget(c.DefaultTarget); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// ResolverDefaults returns the connection fallbacks used when no target
// names a connection.
func (c *Config) ResolverDefaults() targets.Defaults {
	return targets.Defaults{
		RelationalURL: c.Storage.Postgres.URL,
		DocumentURI:   c.Storage.MongoDB.URI,
		Database:      c.Storage.MongoDB.Database,
		Collection:    c.Storage.MongoDB.Collection,
		Table:         c.Storage.Postgres.Table,
	}
}
