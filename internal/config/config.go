package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Port            int
	JWTSecret       string
	GinMode         string
	TLSCertFile     string
	TLSKeyFile      string
	TokenExpiry     time.Duration
	DefaultTenantID string
	DBURL           string

	OIDCIssuer      string
	OIDCClientID    string
	OIDCRedirectURL string

	Presence Tuning
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

func LoadConfig() (Config, error) {
	return LoadConfigFromEnv(osEnv{})
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:            3000,
		GinMode:         "release",
		TokenExpiry:     30 * 24 * time.Hour,
		DefaultTenantID: "default",
		Presence:        DefaultTuning(),
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.JWTSecret = env.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	if raw := env.Getenv("DEFAULT_TENANT_ID"); raw != "" {
		cfg.DefaultTenantID = raw
	}
	cfg.DBURL = env.Getenv("DB_URL")

	cfg.OIDCIssuer = env.Getenv("OIDC_ISSUER")
	cfg.OIDCClientID = env.Getenv("OIDC_CLIENT_ID")
	cfg.OIDCRedirectURL = env.Getenv("OIDC_REDIRECT_URL")

	if path := env.Getenv("PRESENCE_CONFIG_FILE"); path != "" {
		tuning, err := LoadTuningFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Presence = tuning
	}

	return cfg, nil
}

// SidecarConfig configures the client-side reporter. Flags given to the
// sidecar binary override these values.
type SidecarConfig struct {
	APIBaseURL string
	TenantID   string
	UserID     string
	Token      string
	QueueFile  string
}

func LoadSidecarFromEnv(env Env) SidecarConfig {
	cfg := SidecarConfig{
		APIBaseURL: env.Getenv("SIDECAR_API_BASE_URL"),
		TenantID:   env.Getenv("SIDECAR_TENANT_ID"),
		UserID:     env.Getenv("SIDECAR_USER_ID"),
		Token:      env.Getenv("SIDECAR_TOKEN"),
		QueueFile:  env.Getenv("SIDECAR_QUEUE_FILE"),
	}
	if cfg.QueueFile == "" {
		if home := env.Getenv("HOME"); home != "" {
			cfg.QueueFile = filepath.Join(home, ".teamclaude", "queue.ndjson")
		}
	}
	return cfg
}

func LoadSidecarConfig() SidecarConfig {
	return LoadSidecarFromEnv(osEnv{})
}
