package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable for the gateway, loaded once at startup
// from the environment (and an optional .env file).
type Config struct {
	Env  string
	Addr string

	GracefulTimeout time.Duration
	LogLevel        string

	// DBType selects the Key Repository backend: "sqlite" or "postgres".
	DBType      string
	DatabaseURL string

	RedisURL string

	// ProxyTokens is the set of bearer tokens accepted on inbound
	// requests. Unknown tokens are rejected with 403.
	ProxyTokens    map[string]struct{}
	ProxyAPIHeader string

	UpstreamChatURL   string
	UpstreamModelsURL string

	MaxRetries              int
	MaxCallsPerKeyPerWindow int
	UsageWindowSeconds      int
	MaxActiveKeysLimit      int

	DispatchTimeout   time.Duration
	ValidatorTimeout  time.Duration
	ValidatorInterval time.Duration

	MaxBodyBytes int64
}

// Load reads configuration from environment variables and an optional
// .env file, applying the defaults the original service shipped with.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Env:  getEnv("ENV", "development"),
		Addr: getEnv("GATEWAY_ADDR", ":8080"),

		GracefulTimeout: getEnvDuration("GATEWAY_GRACEFUL_TIMEOUT_SEC", 15*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		DBType:      getEnv("DB_TYPE", "sqlite"),
		DatabaseURL: getEnv("DATABASE_URL", "gpt_proxy.db"),

		RedisURL: getEnv("REDIS_URL", ""),

		ProxyTokens:    parseTokenSet(getEnv("PROXY_API_KEYS", "")),
		ProxyAPIHeader: getEnv("PROXY_API_KEY_HEADER", "Authorization"),

		UpstreamChatURL:   getEnv("UPSTREAM_CHAT_URL", "https://api.openai.com/v1/chat/completions"),
		UpstreamModelsURL: getEnv("UPSTREAM_MODELS_URL", "https://api.openai.com/v1/models"),

		MaxRetries:              getEnvInt("APP_CONFIG_MAX_RETRIES", 5),
		MaxCallsPerKeyPerWindow: getEnvInt("MAX_CALLS_PER_KEY_PER_WINDOW", 1000),
		UsageWindowSeconds:      getEnvInt("USAGE_WINDOW_SECONDS", 86400),
		MaxActiveKeysLimit:      getEnvInt("MAX_ACTIVE_KEYS_LIMIT", 100),

		DispatchTimeout:   getEnvDuration("GATEWAY_DEFAULT_TIMEOUT_SEC", 30*time.Second),
		ValidatorTimeout:  getEnvDuration("VALIDATOR_TIMEOUT_SEC", 15*time.Second),
		ValidatorInterval: getEnvDuration("VALIDATOR_INTERVAL_SEC", 0),

		MaxBodyBytes: int64(getEnvInt("GATEWAY_MAX_BODY_BYTES", 1*1024*1024)),
	}

	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func parseTokenSet(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration reads an integer number of seconds from the named
// variable (matching the original *_SEC naming), falling back to fallback.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return fallback
}
