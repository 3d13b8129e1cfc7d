package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"rendezvous-backend/pkg/env"
)

// Config holds all configuration for the chat service
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Cassandra    CassandraConfig    `yaml:"cassandra"`
	JWT          JWTConfig          `yaml:"jwt"`
	Cipher       CipherConfig       `yaml:"cipher"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
	SessionCache SessionCacheConfig `yaml:"session_cache"`
	Push         PushConfig         `yaml:"push"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Environment    string        `yaml:"environment"` // development, staging, production
	ServiceName    string        `yaml:"service_name"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RateLimit      int           `yaml:"rate_limit"` // mutations per minute per user
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"-"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CassandraConfig holds Cassandra configuration
type CassandraConfig struct {
	Hosts    []string      `yaml:"hosts"`
	Keyspace string        `yaml:"keyspace"`
	Username string        `yaml:"username"`
	Password string        `yaml:"-"`
	Timeout  time.Duration `yaml:"timeout"`
}

// JWTConfig holds session token verification settings
type JWTConfig struct {
	Secret string `yaml:"-"`
}

// CipherConfig holds the at-rest message encryption secret
type CipherConfig struct {
	Secret string `yaml:"-"`
}

// RealtimeConfig holds push channel and dispatcher settings
type RealtimeConfig struct {
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`
	QueueSize         int           `yaml:"queue_size"`
	Workers           int           `yaml:"workers"`
	RelayEnabled      bool          `yaml:"relay_enabled"`
	RelayChannel      string        `yaml:"relay_channel"`
}

// SessionCacheConfig holds the session memoization settings
type SessionCacheConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxSize int           `yaml:"max_size"`
}

// PushConfig holds offline push fallback settings
type PushConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // fcm, apns, mock
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// Defaults returns the configuration used when neither a file nor env vars say otherwise
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8082,
			Environment:    "development",
			ServiceName:    "chat-service",
			RequestTimeout: 30 * time.Second,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
			RateLimit:      120,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     26257,
			User:     "root",
			Database: "rendezvous",
			SSLMode:  "disable",
			MaxConns: 25,
			MinConns: 5,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			PoolSize: 10,
			Timeout:  5 * time.Second,
		},
		Cassandra: CassandraConfig{
			Hosts:    []string{"localhost"},
			Keyspace: "rendezvous",
			Timeout:  600 * time.Millisecond,
		},
		Realtime: RealtimeConfig{
			KeepAliveInterval: 30 * time.Second,
			QueueSize:         1024,
			Workers:           4,
			RelayChannel:      "notify",
		},
		SessionCache: SessionCacheConfig{
			TTL:     30 * time.Second,
			MaxSize: 10000,
		},
		Push: PushConfig{
			Provider: "mock",
		},
		Log: LogConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: "/logs/app.log",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, then environment variables.
// Secrets are only read from the environment (or *_FILE secrets), never from the YAML file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = env.GetInt("PORT", cfg.Server.Port)
	cfg.Server.Environment = env.GetString("ENV", cfg.Server.Environment)
	cfg.Server.ServiceName = env.GetString("SERVICE_NAME", cfg.Server.ServiceName)
	cfg.Server.RequestTimeout = env.GetDuration("REQUEST_TIMEOUT", cfg.Server.RequestTimeout)
	cfg.Server.AllowedOrigins = env.GetStringSlice("CORS_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Server.RateLimit = env.GetInt("RATE_LIMIT_PER_MINUTE", cfg.Server.RateLimit)

	cfg.Database.Host = env.GetString("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = env.GetInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = env.GetString("DB_USER", cfg.Database.User)
	cfg.Database.Password = env.GetStringFromFile("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = env.GetString("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = env.GetString("DB_SSL_MODE", cfg.Database.SSLMode)
	cfg.Database.MaxConns = env.GetInt("DB_MAX_CONNS", cfg.Database.MaxConns)
	cfg.Database.MinConns = env.GetInt("DB_MIN_CONNS", cfg.Database.MinConns)

	cfg.Redis.Host = env.GetString("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = env.GetInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = env.GetStringFromFile("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = env.GetInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.PoolSize = env.GetInt("REDIS_POOL_SIZE", cfg.Redis.PoolSize)
	cfg.Redis.Timeout = env.GetDuration("REDIS_TIMEOUT", cfg.Redis.Timeout)

	cfg.Cassandra.Hosts = env.GetStringSlice("CASSANDRA_HOSTS", cfg.Cassandra.Hosts)
	cfg.Cassandra.Keyspace = env.GetString("CASSANDRA_KEYSPACE", cfg.Cassandra.Keyspace)
	cfg.Cassandra.Username = env.GetString("CASSANDRA_USER", cfg.Cassandra.Username)
	cfg.Cassandra.Password = env.GetStringFromFile("CASSANDRA_PASSWORD", cfg.Cassandra.Password)
	cfg.Cassandra.Timeout = env.GetDuration("CASSANDRA_TIMEOUT", cfg.Cassandra.Timeout)

	cfg.JWT.Secret = env.GetStringFromFile("JWT_SECRET", cfg.JWT.Secret)
	cfg.Cipher.Secret = env.GetStringFromFile("MESSAGE_CIPHER_SECRET", cfg.Cipher.Secret)

	cfg.Realtime.KeepAliveInterval = env.GetDuration("PUSH_KEEPALIVE_INTERVAL", cfg.Realtime.KeepAliveInterval)
	cfg.Realtime.QueueSize = env.GetInt("DISPATCH_QUEUE_SIZE", cfg.Realtime.QueueSize)
	cfg.Realtime.Workers = env.GetInt("DISPATCH_WORKERS", cfg.Realtime.Workers)
	cfg.Realtime.RelayEnabled = env.GetBool("RELAY_ENABLED", cfg.Realtime.RelayEnabled)
	cfg.Realtime.RelayChannel = env.GetString("RELAY_CHANNEL", cfg.Realtime.RelayChannel)

	cfg.SessionCache.TTL = env.GetDuration("SESSION_CACHE_TTL", cfg.SessionCache.TTL)
	cfg.SessionCache.MaxSize = env.GetInt("SESSION_CACHE_SIZE", cfg.SessionCache.MaxSize)

	cfg.Push.Enabled = env.GetBool("PUSH_ENABLED", cfg.Push.Enabled)
	cfg.Push.Provider = env.GetString("PUSH_PROVIDER", cfg.Push.Provider)

	cfg.Log.Level = env.GetString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = env.GetString("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = env.GetString("LOG_OUTPUT", cfg.Log.Output)
	cfg.Log.FilePath = env.GetString("LOG_FILE_PATH", cfg.Log.FilePath)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}
		if len(c.Cipher.Secret) < 32 {
			return fmt.Errorf("MESSAGE_CIPHER_SECRET must be at least 32 characters in production")
		}
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.Cipher.Secret == "" {
		return fmt.Errorf("MESSAGE_CIPHER_SECRET must be set")
	}
	if c.Realtime.KeepAliveInterval <= 0 {
		return fmt.Errorf("keep-alive interval must be positive")
	}
	if c.Realtime.Workers <= 0 || c.Realtime.QueueSize <= 0 {
		return fmt.Errorf("dispatcher workers and queue size must be positive")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
