package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/aziende/editorbridge/pkg/logger"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Editor    EditorConfig
	Store     StoreConfig
	MySQL     MySQLConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	RateLimit RateLimitConfig
	Keycloak  KeycloakConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	PublicURL    string // base URL the editor server uses to reach this service
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// EditorConfig describes the external document editor server and the
// secrets used to sign session tokens and verify its callbacks.
type EditorConfig struct {
	ServerURL         string
	JWTSecret         string
	JWTEnabled        bool
	JWTHeader         string
	TokenSecret       string
	TokenKeyVersion   string
	PreviousSecrets   map[string]string // key version -> secret, still accepted for verification
	TokenTTL          time.Duration
	CallbackTTL       time.Duration
	FetchTimeout      time.Duration
	MaxContentBytes   int64
	RestrictFetchHost bool
	PresenceTTL       time.Duration
}

type StoreConfig struct {
	Driver string // memory | mysql | mongo
}

type MySQLConfig struct {
	DSN          string
	MaxOpenConns int
	AutoMigrate  bool
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

type KeycloakConfig struct {
	URL           string
	Realm         string
	ClientID      string
	AllowInsecure bool // decode bearer tokens without verification; local testing only
}

// IssuerURL is the realm issuer used for OIDC discovery.
func (k KeycloakConfig) IssuerURL() string {
	if k.URL == "" || k.Realm == "" {
		return ""
	}
	return strings.TrimRight(k.URL, "/") + "/realms/" + k.Realm
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "5010")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_ENVIRONMENT", "development")
	v.SetDefault("STORE_DRIVER", "memory")
	v.SetDefault("MYSQL_MAX_OPEN_CONNS", 10)
	v.SetDefault("MONGODB_TIMEOUT", 10)
	v.SetDefault("MONGODB_DATABASE", "aziende")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("MINIO_BUCKET", "documents")
	v.SetDefault("EDITOR_JWT_ENABLED", true)
	v.SetDefault("EDITOR_JWT_HEADER", "Authorization")
	v.SetDefault("EDITOR_TOKEN_KEY_VERSION", "v1")
	v.SetDefault("EDITOR_TOKEN_TTL_MINUTES", 60)
	v.SetDefault("EDITOR_CALLBACK_TTL_MINUTES", 720)
	v.SetDefault("EDITOR_FETCH_TIMEOUT_SECONDS", 20)
	v.SetDefault("EDITOR_MAX_CONTENT_BYTES", 100<<20)
	v.SetDefault("EDITOR_RESTRICT_FETCH_HOST", false)
	v.SetDefault("EDITOR_PRESENCE_TTL_SECONDS", 120)
	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_RPS", 20.0)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("SERVER_PORT"),
			Host:         v.GetString("SERVER_HOST"),
			Environment:  v.GetString("SERVER_ENVIRONMENT"),
			PublicURL:    strings.TrimRight(v.GetString("SERVER_PUBLIC_URL"), "/"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Editor: EditorConfig{
			ServerURL:         strings.TrimRight(v.GetString("EDITOR_SERVER_URL"), "/"),
			JWTSecret:         os.Getenv("EDITOR_JWT_SECRET"),
			JWTEnabled:        v.GetBool("EDITOR_JWT_ENABLED"),
			JWTHeader:         v.GetString("EDITOR_JWT_HEADER"),
			TokenSecret:       os.Getenv("EDITOR_TOKEN_SECRET"),
			TokenKeyVersion:   v.GetString("EDITOR_TOKEN_KEY_VERSION"),
			PreviousSecrets:   parseKeyring(os.Getenv("EDITOR_TOKEN_PREVIOUS_SECRETS")),
			TokenTTL:          time.Duration(v.GetInt("EDITOR_TOKEN_TTL_MINUTES")) * time.Minute,
			CallbackTTL:       time.Duration(v.GetInt("EDITOR_CALLBACK_TTL_MINUTES")) * time.Minute,
			FetchTimeout:      time.Duration(v.GetInt("EDITOR_FETCH_TIMEOUT_SECONDS")) * time.Second,
			MaxContentBytes:   v.GetInt64("EDITOR_MAX_CONTENT_BYTES"),
			RestrictFetchHost: v.GetBool("EDITOR_RESTRICT_FETCH_HOST"),
			PresenceTTL:       time.Duration(v.GetInt("EDITOR_PRESENCE_TTL_SECONDS")) * time.Second,
		},
		Store: StoreConfig{
			Driver: strings.ToLower(v.GetString("STORE_DRIVER")),
		},
		MySQL: MySQLConfig{
			DSN:          os.Getenv("MYSQL_DSN"),
			MaxOpenConns: v.GetInt("MYSQL_MAX_OPEN_CONNS"),
			AutoMigrate:  v.GetBool("MYSQL_AUTO_MIGRATE"),
		},
		MongoDB: MongoDBConfig{
			URI:      v.GetString("MONGODB_URI"),
			Database: v.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(v.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
			Bucket:    v.GetString("MINIO_BUCKET"),
		},
		RateLimit: RateLimitConfig{
			Enabled:       v.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      v.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           v.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         v.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Keycloak: KeycloakConfig{
			URL:           v.GetString("KEYCLOAK_URL"),
			Realm:         v.GetString("KEYCLOAK_REALM"),
			ClientID:      v.GetString("KEYCLOAK_CLIENT_ID"),
			AllowInsecure: v.GetBool("ALLOW_INSECURE_TOKEN"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}

	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%s", cfg.Server.Port)
	}
	if cfg.Editor.TokenSecret == "" {
		// session tokens fall back to the editor secret when no dedicated secret is set
		cfg.Editor.TokenSecret = cfg.Editor.JWTSecret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the service cannot run without.
func (c *Config) Validate() error {
	if c.Editor.TokenSecret == "" {
		return fmt.Errorf("EDITOR_TOKEN_SECRET or EDITOR_JWT_SECRET is required")
	}
	if c.Editor.JWTEnabled && c.Editor.JWTSecret == "" {
		return fmt.Errorf("EDITOR_JWT_SECRET is required when EDITOR_JWT_ENABLED=true")
	}
	if c.Editor.RestrictFetchHost {
		if _, err := url.Parse(c.Editor.ServerURL); err != nil || c.Editor.ServerURL == "" {
			return fmt.Errorf("EDITOR_SERVER_URL must be a valid URL when EDITOR_RESTRICT_FETCH_HOST=true")
		}
	}
	switch c.Store.Driver {
	case "memory":
	case "mysql":
		if c.MySQL.DSN == "" {
			return fmt.Errorf("MYSQL_DSN is required for STORE_DRIVER=mysql")
		}
	case "mongo":
		if c.MongoDB.URI == "" {
			return fmt.Errorf("MONGODB_URI is required for STORE_DRIVER=mongo")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if len(c.Editor.TokenSecret) < 32 {
		logger.Warnf("EDITOR_TOKEN_SECRET is shorter than 32 bytes; set a secure value in production")
	}
	return nil
}

// parseKeyring reads "v0:secret,v00:other" into a version -> secret map.
func parseKeyring(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ver, secret, ok := strings.Cut(part, ":")
		if !ok || ver == "" || secret == "" {
			continue
		}
		out[strings.TrimSpace(ver)] = strings.TrimSpace(secret)
	}
	return out
}
