package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Credential CredentialConfig `mapstructure:"credential"`
	Store      StoreConfig      `mapstructure:"store"`
	Security   SecurityConfig   `mapstructure:"security"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig validates the tokens callers present to the API
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// AgentConfig describes the remote agent runtimes, keyed by agent mode
type AgentConfig struct {
	Endpoints                 map[string]string `mapstructure:"endpoints"`
	ConnectTimeout            time.Duration     `mapstructure:"connect_timeout"`
	CallTimeout               time.Duration     `mapstructure:"call_timeout"`
	ChunkTimeout              time.Duration     `mapstructure:"chunk_timeout"`
	CredentialRejectedPhrases []string          `mapstructure:"credential_rejected_phrases"`
}

type CredentialConfig struct {
	// Type is one of static, jwt, oauth2
	Type          string        `mapstructure:"type"`
	Token         string        `mapstructure:"token"`
	SigningSecret string        `mapstructure:"signing_secret"`
	Subject       string        `mapstructure:"subject"`
	Audience      string        `mapstructure:"audience"`
	TTL           time.Duration `mapstructure:"ttl"`
	RefreshBuffer time.Duration `mapstructure:"refresh_buffer"`
	OAuth2        OAuth2Config  `mapstructure:"oauth2"`
	// Shared caches the credential in Redis, sealed with CacheKey
	Shared   bool   `mapstructure:"shared"`
	CacheKey string `mapstructure:"cache_key"`
}

type OAuth2Config struct {
	TokenURL     string   `mapstructure:"token_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`
}

// StoreConfig selects the session store backend
type StoreConfig struct {
	// Driver is one of postgres, sqlite, mysql, mongo, remote, memory
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	Remote RemoteConfig `mapstructure:"remote"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SecurityConfig struct {
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	TurnLockTTL time.Duration   `mapstructure:"turn_lock_ttl"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	// streamed turns outlive ordinary requests
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "copilot")
	v.SetDefault("database.database", "copilot")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.migrations_path", "file://migrations")

	// Redis
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.token_ttl", "12h")

	// Agent
	v.SetDefault("agent.connect_timeout", "10s")
	v.SetDefault("agent.call_timeout", "5m")
	v.SetDefault("agent.chunk_timeout", "60s")
	v.SetDefault("agent.credential_rejected_phrases", []string{"ineffectual token", "token has expired"})

	// Credential
	v.SetDefault("credential.type", "jwt")
	v.SetDefault("credential.subject", "sales-copilot")
	v.SetDefault("credential.ttl", "3300s")
	v.SetDefault("credential.refresh_buffer", "300s")
	v.SetDefault("credential.shared", false)

	// Store
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite.path", "chat_history.db")
	v.SetDefault("store.mongo.database", "copilot")
	v.SetDefault("store.remote.timeout", "10s")

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 30)
	v.SetDefault("security.rate_limit.burst", 10)
	v.SetDefault("security.turn_lock_ttl", "6m")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_age", "168h")
	v.SetDefault("logging.rotation_time", "24h")
}

func bindEnvVars(v *viper.Viper) {
	// Database
	v.BindEnv("database.password", "POSTGRES_PASSWORD")
	v.BindEnv("database.host", "POSTGRES_HOST")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.host", "REDIS_HOST")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// Agent endpoints
	v.BindEnv("agent.endpoints.pre-call", "PRE_CALL_AGENT_URL")
	v.BindEnv("agent.endpoints.post-call", "POST_CALL_AGENT_URL")

	// Credential
	v.BindEnv("credential.token", "AGENT_TOKEN")
	v.BindEnv("credential.signing_secret", "AGENT_SIGNING_SECRET")
	v.BindEnv("credential.cache_key", "CREDENTIAL_CACHE_KEY")
	v.BindEnv("credential.oauth2.client_id", "AGENT_CLIENT_ID")
	v.BindEnv("credential.oauth2.client_secret", "AGENT_CLIENT_SECRET")
	v.BindEnv("credential.oauth2.token_url", "AGENT_TOKEN_URL")

	// Store
	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("store.mysql.dsn", "MYSQL_DSN")
	v.BindEnv("store.mongo.uri", "MONGO_URI")
	v.BindEnv("store.remote.base_url", "CHAT_STORE_URL")
}
