package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/tabauth/pkg/otelx"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Issuer string // Optional: issuer claim for tokens (default: tabauth)

	Algorithm            string        // Optional: JWT signing algorithm (ES256, EdDSA) (default: EdDSA)
	NumKeys              int           // Optional: number of signing keys to generate (default: 3, min: 1, max: 10)
	KeyStorageMode       string        // Optional: key storage mode (ephemeral, persistent) (default: ephemeral)
	KeyLifetime          time.Duration // Optional: how long a persisted key verifies tokens (default: 90 days)
	MasterKeyPath        string        // Optional: path to master encryption key file (for persistent keys)
	MasterKey            string        // Optional: master key material when no file is given
	DatabaseFile         string        // Optional: path to SQLite database file (default: ./auth.db)
	PepperFile           string        // Optional: path to file containing pepper for password hashing (default: ./pepper)
	AccessTokenTTL       time.Duration // Optional: access token lifetime (default: 15m)
	MaxSessions          int           // Optional: concurrent sessions per user (default: 5)
	AdminEmails          []string      // Optional: addresses granted the admin role at registration
	RevealMail           bool          // Optional: log codes and tokens in LogMailer output (never in prod)
	CookieDomain         string        // Optional: Domain attribute of the session cookies
	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)

	WebAuthn  WebAuthnConfig
	Redis     RedisConfig
	Telemetry otelx.Config
}

// WebAuthnConfig is the relying party.
type WebAuthnConfig struct {
	RPDisplayName string   `env:"AUTH_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"TabAuth"`
	RPID          string   `env:"AUTH_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string `env:"AUTH_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
}

// RedisConfig enables the token version cache when Addr is set.
type RedisConfig struct {
	Addr     string        `env:"AUTH_REDIS_ADDR"`
	Password string        `env:"AUTH_REDIS_PASSWORD"`
	DB       int           `env:"AUTH_REDIS_DB"`
	TTL      time.Duration `env:"AUTH_REDIS_TTL" envDefault:"5m"`
}

// SecureCookies reports whether cookies carry the Secure attribute.
func (c Config) SecureCookies() bool {
	return c.Env == "prod"
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:               getEnvOrDefault("AUTH_ISSUER", "tabauth"),
		Algorithm:            getEnvOrDefault("AUTH_ALGORITHM", "EdDSA"),
		NumKeys:              getEnvIntOrDefault("AUTH_NUM_KEYS", 0), // 0 lets the KeyManager pick
		KeyStorageMode:       getEnvOrDefault("AUTH_KEY_STORAGE_MODE", "ephemeral"),
		KeyLifetime:          getEnvDurationOrDefault("AUTH_KEY_LIFETIME", 90*24*time.Hour),
		MasterKeyPath:        os.Getenv("AUTH_MASTER_KEY_PATH"),
		MasterKey:            os.Getenv("AUTH_MASTER_KEY"),
		DatabaseFile:         getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		PepperFile:           getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		AccessTokenTTL:       getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
		MaxSessions:          getEnvIntOrDefault("AUTH_MAX_SESSIONS", 5),
		AdminEmails:          getEnvListOrDefault("AUTH_ADMIN_EMAILS", nil),
		RevealMail:           getEnvBoolOrDefault("AUTH_MAIL_REVEAL", false),
		CookieDomain:         os.Getenv("AUTH_COOKIE_DOMAIN"),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	// Struct-tagged blocks. Parse errors leave the defaults in place.
	if err := env.Parse(&cfg.WebAuthn); err != nil {
		cfg.WebAuthn = WebAuthnConfig{RPDisplayName: "TabAuth", RPID: "localhost"}
	}
	if len(cfg.WebAuthn.RPOrigins) == 0 {
		cfg.WebAuthn.RPOrigins = []string{"http://localhost:" + strconv.Itoa(cfg.Port)}
	}
	if err := env.Parse(&cfg.Redis); err != nil {
		cfg.Redis = RedisConfig{}
	}
	if err := env.Parse(&cfg.Telemetry); err != nil {
		cfg.Telemetry = otelx.Config{}
	}

	// Mail contents never reach prod logs.
	if cfg.Env == "prod" {
		cfg.RevealMail = false
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

// getEnvListOrDefault splits a comma separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
