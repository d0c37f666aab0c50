package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "CODEMENTOR"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultDatabasePath        = "codementor.db"
	defaultRoomStore           = RoomStoreSQLite
	defaultMongoURI            = "mongodb://localhost:27017"
	defaultMongoDatabase       = "codementor"
	defaultTokenTTLMinutes     = 720
	defaultLogLevel            = "info"
	defaultExecutionBaseURL    = "https://emkc.org/api/v2/piston"
	defaultExecutionTimeoutSec = 30
	defaultRequestsPerMinute   = 120
	defaultAllowedOrigins      = "*"

	// RoomStoreSQLite keeps room documents in the gorm database.
	RoomStoreSQLite = "sqlite"
	// RoomStoreMongo keeps room documents in a MongoDB collection.
	RoomStoreMongo = "mongo"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	RoomStore         string
	MongoURI          string
	MongoDatabase     string
	SigningSecret     string
	TokenTTL          time.Duration
	LogLevel          string
	ExecutionBaseURL  string
	ExecutionTimeout  time.Duration
	RedisAddress      string
	RequestsPerMinute int
	AllowedOrigins    []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("rooms.store", defaultRoomStore)
	configViper.SetDefault("mongo.uri", defaultMongoURI)
	configViper.SetDefault("mongo.database", defaultMongoDatabase)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("execution.base_url", defaultExecutionBaseURL)
	configViper.SetDefault("execution.timeout_seconds", defaultExecutionTimeoutSec)
	configViper.SetDefault("ratelimit.redis_address", "")
	configViper.SetDefault("ratelimit.requests_per_minute", defaultRequestsPerMinute)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		RoomStore:         strings.ToLower(strings.TrimSpace(configViper.GetString("rooms.store"))),
		MongoURI:          configViper.GetString("mongo.uri"),
		MongoDatabase:     configViper.GetString("mongo.database"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenTTL:          time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		LogLevel:          configViper.GetString("log.level"),
		ExecutionBaseURL:  strings.TrimRight(configViper.GetString("execution.base_url"), "/"),
		ExecutionTimeout:  time.Duration(configViper.GetInt("execution.timeout_seconds")) * time.Second,
		RedisAddress:      strings.TrimSpace(configViper.GetString("ratelimit.redis_address")),
		RequestsPerMinute: configViper.GetInt("ratelimit.requests_per_minute"),
		AllowedOrigins:    splitList(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.RoomStore {
	case RoomStoreSQLite:
	case RoomStoreMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("mongo.uri is required when rooms.store is %s", RoomStoreMongo)
		}
		if strings.TrimSpace(c.MongoDatabase) == "" {
			return fmt.Errorf("mongo.database is required when rooms.store is %s", RoomStoreMongo)
		}
	default:
		return fmt.Errorf("rooms.store must be %s or %s", RoomStoreSQLite, RoomStoreMongo)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.ExecutionBaseURL == "" {
		return fmt.Errorf("execution.base_url is required")
	}
	if c.ExecutionTimeout <= 0 {
		return fmt.Errorf("execution.timeout_seconds must be positive")
	}
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("ratelimit.requests_per_minute must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
