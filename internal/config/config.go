package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultJWTSecret = "change-me-in-production-secret-key"

// Config holds the application configuration
type Config struct {
	ServerAddress string
	Environment   string
	LogJSON       bool
	DatabasePath  string
	Auth          AuthConfig
	Upstream      UpstreamConfig
	CORS          CORSConfig
	Cleanup       CleanupConfig
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret    string
	GitHub       GitHubOAuthConfig
	SecureCookie bool
	BaseURL      string // Public URL of this backend, used for the OAuth redirect URI
	FrontendURL  string // Where the browser lands after login
	// TokenEncryptionKey is a base64 encoded AES key (16, 24 or 32 bytes).
	// Empty means tokens are stored in plain text.
	TokenEncryptionKey string
	// AdminPassword enables basic auth as "admin"; empty disables it
	AdminPassword string
}

// GitHubOAuthConfig holds GitHub OAuth configuration
type GitHubOAuthConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// UpstreamConfig holds settings for calls to the GitHub REST API
type UpstreamConfig struct {
	BaseURL string
	Timeout time.Duration
	// PassThroughStatus forwards upstream 4xx/5xx statuses instead of a generic 500
	PassThroughStatus bool
}

// CleanupConfig controls the stale token purge job
type CleanupConfig struct {
	Schedule   string
	PurgeAfter time.Duration
}

// Enabled reports whether the GitHub login flow has credentials
func (a AuthConfig) Enabled() bool {
	return a.GitHub.ClientID != "" && a.GitHub.ClientSecret != ""
}

// EncryptionKey decodes TokenEncryptionKey. A nil key means encryption is off.
func (a AuthConfig) EncryptionKey() ([]byte, error) {
	if a.TokenEncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(a.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY is not valid base64: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	default:
		return nil, fmt.Errorf("TOKEN_ENCRYPTION_KEY must decode to 16, 24 or 32 bytes, got %d", len(key))
	}
}

// Load loads configuration from environment variables with defaults.
// If CONFIG_FILE points to a YAML file, its keys act as defaults that the
// environment can still override.
func Load() (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	environment := src.get("APP_ENV", "production")

	// Default: JSON in production, text in development
	logJSON := environment != "development"
	if v := src.get("LOG_JSON", ""); v != "" {
		logJSON = v == "true"
	}

	upstreamTimeout, err := src.duration("UPSTREAM_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	purgeAfter, err := src.duration("TOKEN_PURGE_AFTER", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}

	corsOrigins := src.get("CORS_ALLOWED_ORIGINS", "http://localhost:3000")
	scopes := src.get("GITHUB_SCOPES", "read:user,user:email,repo")

	cfg := &Config{
		ServerAddress: src.get("SERVER_ADDRESS", ":8081"),
		Environment:   environment,
		LogJSON:       logJSON,
		DatabasePath:  src.get("DATABASE_PATH", "./data/arceon.db"),
		Auth: AuthConfig{
			JWTSecret:          src.get("JWT_SECRET", defaultJWTSecret),
			SecureCookie:       src.get("AUTH_SECURE_COOKIE", "false") == "true",
			BaseURL:            strings.TrimRight(src.get("AUTH_BASE_URL", "http://localhost:8081"), "/"),
			FrontendURL:        strings.TrimRight(src.get("FRONTEND_URL", "http://localhost:3000"), "/"),
			TokenEncryptionKey: src.get("TOKEN_ENCRYPTION_KEY", ""),
			AdminPassword:      src.get("ADMIN_PASSWORD", ""),
			GitHub: GitHubOAuthConfig{
				ClientID:     src.get("GITHUB_CLIENT_ID", ""),
				ClientSecret: src.get("GITHUB_CLIENT_SECRET", ""),
				Scopes:       parseCommaSeparatedList(scopes),
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:           strings.TrimRight(src.get("UPSTREAM_BASE_URL", "https://api.github.com"), "/"),
			Timeout:           upstreamTimeout,
			PassThroughStatus: src.get("UPSTREAM_STATUS_PASSTHROUGH", "false") == "true",
		},
		CORS: CORSConfig{
			AllowedOrigins: parseCommaSeparatedList(corsOrigins),
		},
		Cleanup: CleanupConfig{
			Schedule:   src.get("TOKEN_PURGE_SCHEDULE", "@every 1h"),
			PurgeAfter: purgeAfter,
		},
	}

	return cfg, nil
}

// Validate checks settings that would otherwise fail later at request time
func (c *Config) Validate() error {
	if c.Environment == "production" && c.Auth.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set in production")
	}
	if _, err := c.Auth.EncryptionKey(); err != nil {
		return err
	}
	if c.Upstream.Timeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be positive")
	}
	if c.Upstream.BaseURL == "" {
		return errors.New("UPSTREAM_BASE_URL must not be empty")
	}
	return nil
}

// source resolves keys from the environment first, then the optional file
type source struct {
	file map[string]string
}

func newSource(path string) (*source, error) {
	s := &source{file: map[string]string{}}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return s, nil
}

func (s *source) get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value, ok := s.file[key]; ok && value != "" {
		return value
	}
	return defaultValue
}

func (s *source) duration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := s.get(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

// parseCommaSeparatedList splits a comma-separated string into a slice
func parseCommaSeparatedList(s string) []string {
	if s == "" {
		return []string{}
	}

	items := strings.Split(s, ",")
	result := make([]string, 0, len(items))

	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}

	return result
}
