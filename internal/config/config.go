package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override the client section
const (
	EnvBackendURL     = "GAMEHOST_BACKEND_URL"
	EnvBackendAnonKey = "GAMEHOST_BACKEND_ANON_KEY"
	EnvAPIBaseURL     = "GAMEHOST_API_BASE_URL"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Queue    QueueConfig    `yaml:"queue"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Client   ClientConfig   `yaml:"client"`
}

// ServerConfig holds HTTP server settings for the backend
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
	PublicURL  string `yaml:"public_url"`
	StaticDir  string `yaml:"static_dir"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication settings
type AuthConfig struct {
	JWTSecret            string        `yaml:"jwt_secret"`
	AccessTokenDuration  time.Duration `yaml:"access_token_duration"`
	RefreshTokenDuration time.Duration `yaml:"refresh_token_duration"`
	AnonKey              string        `yaml:"anon_key"`
	ServiceKey           string        `yaml:"service_key"`
	RedirectAllowlist    []string      `yaml:"redirect_allowlist"`
	Discord              OAuthProvider `yaml:"discord"`
	Steam                SteamConfig   `yaml:"steam"`
	// LoginRate is the number of sign-in attempts per second allowed per client IP
	LoginRate  float64 `yaml:"login_rate"`
	LoginBurst int     `yaml:"login_burst"`
	// TrustedProxies are reverse proxy addresses or CIDRs allowed to set
	// X-Forwarded-For; without any, the rate limiter keys on the peer address
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// OAuthProvider holds OAuth2 client credentials
type OAuthProvider struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// SteamConfig holds Steam OpenID settings
type SteamConfig struct {
	Enabled bool `yaml:"enabled"`
	// APIKey is optional; when set, persona name and avatar are fetched after login
	APIKey string `yaml:"api_key"`
}

// QueueConfig holds command queue settings
type QueueConfig struct {
	MaxAttempts        int  `yaml:"max_attempts"`
	EnforceTransitions bool `yaml:"enforce_transitions"`
}

// RealtimeConfig holds the embedded NATS change bus settings
type RealtimeConfig struct {
	// NATSPort exposes the bus to external workers; 0 keeps it in-process only
	NATSPort int    `yaml:"nats_port"`
	NATSHost string `yaml:"nats_host"`
}

// ClientConfig holds the dashboard client settings
type ClientConfig struct {
	BackendURL  string `yaml:"backend_url"`
	AnonKey     string `yaml:"anon_key"`
	APIBaseURL  string `yaml:"api_base_url"`
	SessionPath string `yaml:"session_path"`
	ServerID    string `yaml:"server_id"`
}

// BackendConfigured reports whether the client has backend credentials
func (c ClientConfig) BackendConfigured() bool {
	return c.BackendURL != "" && c.AnonKey != ""
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// LoadClient reads the configuration for client commands. A missing file is
// not an error: the client runs from environment variables alone, and with
// none set it runs against the null backend.
func LoadClient(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if path != "" && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg = &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Server.HTTPPort)
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/gamehost/gamehost.db"
	}
	// Note: StaticDir intentionally has no default - empty means don't serve static files

	if cfg.Auth.AccessTokenDuration == 0 {
		cfg.Auth.AccessTokenDuration = time.Hour
	}
	if cfg.Auth.RefreshTokenDuration == 0 {
		cfg.Auth.RefreshTokenDuration = 30 * 24 * time.Hour
	}
	if cfg.Auth.LoginRate == 0 {
		cfg.Auth.LoginRate = 1
	}
	if cfg.Auth.LoginBurst == 0 {
		cfg.Auth.LoginBurst = 5
	}

	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 3
	}

	if cfg.Realtime.NATSHost == "" {
		cfg.Realtime.NATSHost = "127.0.0.1"
	}

	if cfg.Client.SessionPath == "" {
		cfg.Client.SessionPath = defaultSessionPath()
	}
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv(EnvBackendURL); v != "" {
		cfg.Client.BackendURL = v
	}
	if v := os.Getenv(EnvBackendAnonKey); v != "" {
		cfg.Client.AnonKey = v
	}
	if v := os.Getenv(EnvAPIBaseURL); v != "" {
		cfg.Client.APIBaseURL = v
	}
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".gamehost-session.json"
	}
	return filepath.Join(dir, "gamehost", "session.json")
}
