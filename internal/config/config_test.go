package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "auth:\n  jwt_secret: s3cret\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Auth.AccessTokenDuration != time.Hour {
		t.Errorf("Expected 1h access tokens, got %v", cfg.Auth.AccessTokenDuration)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("Expected 3 max attempts, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.EnforceTransitions {
		t.Error("Expected transitions to be accepted as-is by default")
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("Expected jwt secret from file, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadParsesSections(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9090
  public_url: https://play.example.com
auth:
  access_token_duration: 15m
  redirect_allowlist: ["https://play.example.com"]
  trusted_proxies: ["10.0.0.0/8", "127.0.0.1"]
  discord:
    client_id: abc
queue:
  max_attempts: 5
  enforce_transitions: true
client:
  backend_url: https://api.example.com
  anon_key: anon
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9090 || cfg.Server.PublicURL != "https://play.example.com" {
		t.Errorf("Unexpected server section: %+v", cfg.Server)
	}
	if cfg.Auth.AccessTokenDuration != 15*time.Minute {
		t.Errorf("Expected 15m, got %v", cfg.Auth.AccessTokenDuration)
	}
	if cfg.Auth.Discord.ClientID != "abc" || len(cfg.Auth.RedirectAllowlist) != 1 || len(cfg.Auth.TrustedProxies) != 2 {
		t.Errorf("Unexpected auth section: %+v", cfg.Auth)
	}
	if cfg.Queue.MaxAttempts != 5 || !cfg.Queue.EnforceTransitions {
		t.Errorf("Unexpected queue section: %+v", cfg.Queue)
	}
	if !cfg.Client.BackendConfigured() {
		t.Error("Expected client backend to be configured")
	}
}

func TestEnvOverridesClient(t *testing.T) {
	t.Setenv(EnvBackendURL, "http://env-backend")
	t.Setenv(EnvBackendAnonKey, "env-key")
	t.Setenv(EnvAPIBaseURL, "http://env-api")

	path := writeConfig(t, "client:\n  backend_url: http://file-backend\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Client.BackendURL != "http://env-backend" {
		t.Errorf("Expected env backend url, got %q", cfg.Client.BackendURL)
	}
	if cfg.Client.AnonKey != "env-key" || cfg.Client.APIBaseURL != "http://env-api" {
		t.Errorf("Unexpected client section: %+v", cfg.Client)
	}
}

func TestLoadClientWithoutFile(t *testing.T) {
	t.Setenv(EnvBackendURL, "")
	t.Setenv(EnvBackendAnonKey, "")

	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.yml"))
	if err != nil {
		t.Fatalf("LoadClient: %v", err)
	}
	if cfg.Client.BackendConfigured() {
		t.Error("Expected unconfigured backend without file or env")
	}
	if cfg.Client.SessionPath == "" {
		t.Error("Expected a default session path")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not, a, map")
	if _, err := Load(path); err == nil {
		t.Error("Expected parse error")
	}
	if _, err := LoadClient(path); err == nil {
		t.Error("Expected LoadClient to surface parse errors for existing files")
	}
}
