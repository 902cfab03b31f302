// Package config loads and validates the application configuration from a
// YAML file, a .env file, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials"`
	Tokens      TokensConfig      `yaml:"tokens"`
	MFA         MFAConfig         `yaml:"mfa"`
	Mailbox     MailboxConfig     `yaml:"mailbox"`
	Notify      NotifyConfig      `yaml:"notify"`
	Audit       AuditConfig       `yaml:"audit"`
	Retry       RetryConfig       `yaml:"retry"`
	Login       LoginConfig       `yaml:"login"`
	Log         LogConfig         `yaml:"log"`
}

// CredentialsConfig holds the Garmin Connect account credentials.
// They are never written back to disk by this program.
type CredentialsConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// TokensConfig defines where session token bundles are persisted
type TokensConfig struct {
	Path       string `yaml:"path"`        // Token bundle directory
	Base64Path string `yaml:"base64_path"` // Single-file base64 companion bundle
}

// MFAConfig defines the MFA code sources and resolution behavior
type MFAConfig struct {
	Code                   string `yaml:"code"`                     // Pre-shared code (highest priority strategy)
	File                   string `yaml:"file"`                     // Transient code drop file
	WebhookURL             string `yaml:"webhook_url"`              // Operator-supplied code endpoint
	WaitSeconds            int    `yaml:"wait_seconds"`             // Delay before the first mailbox search
	StrategyTimeoutSeconds int    `yaml:"strategy_timeout_seconds"` // Per-strategy timeout
}

// MailboxConfig defines how to reach the monitored inbox. Token-based
// fields (client_id/client_secret/refresh_token) and password-based
// fields (user/password) are alternative capability sets; when both are
// present the token flow is preferred.
type MailboxConfig struct {
	Server        string `yaml:"server"`         // IMAP server host
	Port          int    `yaml:"port"`           // IMAP port (TLS)
	User          string `yaml:"user"`           // Mailbox address
	Password      string `yaml:"password"`       // Application password (basic auth flow)
	ClientID      string `yaml:"client_id"`      // OAuth2 client ID (token flow)
	ClientSecret  string `yaml:"client_secret"`  // OAuth2 client secret (token flow)
	RefreshToken  string `yaml:"refresh_token"`  // OAuth2 refresh token (token flow)
	TokenURL      string `yaml:"token_url"`      // OAuth2 token endpoint
	TokenPath     string `yaml:"token_path"`     // Access token cache file
	SenderDomain  string `yaml:"sender_domain"`  // Sender domain of verification mail
	WindowMinutes int    `yaml:"window_minutes"` // Widened recency search window
}

// NotifyConfig defines the ntfy notification sink
type NotifyConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Server        string `yaml:"server"`         // ntfy server base URL
	Topic         string `yaml:"topic"`          // Topic on the primary server
	Token         string `yaml:"token"`          // Bearer token for the primary server
	FallbackTopic string `yaml:"fallback_topic"` // Topic on the public fallback server
}

// AuditConfig defines where the authentication attempt log is kept
type AuditConfig struct {
	Path string `yaml:"path"`
}

// RetryConfig defines the retry policy between full authentication cycles
type RetryConfig struct {
	MaxAttempts            int `yaml:"max_attempts"`             // Total attempts including the first
	InitialIntervalSeconds int `yaml:"initial_interval_seconds"` // First backoff interval
}

// LoginConfig defines upstream login behavior
type LoginConfig struct {
	BaseURL            string `yaml:"base_url"`             // SSO endpoint (empty for production)
	MinIntervalSeconds int    `yaml:"min_interval_seconds"` // Minimum spacing between fresh logins
}

// LogConfig defines logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads the configuration. A .env file in the working directory is
// loaded first when present (the classic deployment shape), then the YAML
// file, then environment variable overrides. A missing YAML file is not an
// error: all settings can come from the environment.
func Load(path string) (*Config, error) {
	// Best effort; absence of .env is normal
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// Environment-only configuration
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Tokens: TokensConfig{
			Path:       filepath.Join(home, ".garminconnect"),
			Base64Path: filepath.Join(home, ".garminconnect_base64"),
		},
		MFA: MFAConfig{
			File:                   "/tmp/garmin_mfa.txt",
			WaitSeconds:            15,
			StrategyTimeoutSeconds: 10,
		},
		Mailbox: MailboxConfig{
			Server:        "imap.gmail.com",
			Port:          993,
			TokenURL:      "https://oauth2.googleapis.com/token",
			TokenPath:     filepath.Join(home, ".gmail_token.json"),
			SenderDomain:  "garmin.com",
			WindowMinutes: 10,
		},
		Notify: NotifyConfig{
			Enabled:       true,
			Server:        "https://ntfy.sh",
			Topic:         "garmin-auth",
			FallbackTopic: "garmin-auth-" + os.Getenv("USER"),
		},
		Audit: AuditConfig{
			Path: filepath.Join(home, ".garmin_auth_log.json"),
		},
		Retry: RetryConfig{
			MaxAttempts:            1,
			InitialIntervalSeconds: 30,
		},
		Login: LoginConfig{
			MinIntervalSeconds: 30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnvOverrides applies environment variable overrides. The variable
// names match the ones the deployment scripts have always used.
func (c *Config) applyEnvOverrides() {
	// Credentials
	if v := os.Getenv("GARMIN_EMAIL"); v != "" {
		c.Credentials.Email = v
	}
	if v := os.Getenv("GARMIN_PASSWORD"); v != "" {
		c.Credentials.Password = v
	}

	// Token store
	if v := os.Getenv("GARMINTOKENS"); v != "" {
		c.Tokens.Path = expandHome(v)
	}
	if v := os.Getenv("GARMINTOKENS_BASE64"); v != "" {
		c.Tokens.Base64Path = expandHome(v)
	}

	// MFA sources
	if v := os.Getenv("GARMIN_MFA_CODE"); v != "" {
		c.MFA.Code = v
	}
	if v := os.Getenv("GARMIN_MFA_FILE"); v != "" {
		c.MFA.File = v
	}
	if v := os.Getenv("GARMIN_MFA_WEBHOOK"); v != "" {
		c.MFA.WebhookURL = v
	}

	// Mailbox
	if v := os.Getenv("EMAIL_USER"); v != "" {
		c.Mailbox.User = v
	}
	if v := os.Getenv("EMAIL_PASSWORD"); v != "" {
		c.Mailbox.Password = v
	}
	if v := os.Getenv("EMAIL_SERVER"); v != "" {
		c.Mailbox.Server = v
	}
	if v := os.Getenv("EMAIL_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Mailbox.Port = port
		}
	}

	// Notifications
	if v := os.Getenv("NTFY_SERVER"); v != "" {
		c.Notify.Server = v
	}
	if v := os.Getenv("NTFY_TOPIC"); v != "" {
		c.Notify.Topic = v
	}
	if v := os.Getenv("NTFY_TOKEN"); v != "" {
		c.Notify.Token = v
	}

	// Log
	if v := os.Getenv("GARMIN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("GARMIN_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
}

// Validate checks that the configuration is internally consistent.
// Credential presence is not checked here: commands that do not log in
// (status, mfa-code) run without credentials, and the orchestrator
// surfaces missing credentials as its own fatal condition.
func (c *Config) Validate() error {
	if c.Tokens.Path == "" {
		return fmt.Errorf("tokens.path is required")
	}

	if c.MFA.WaitSeconds < 0 {
		return fmt.Errorf("mfa.wait_seconds must not be negative")
	}
	if c.MFA.StrategyTimeoutSeconds <= 0 {
		return fmt.Errorf("mfa.strategy_timeout_seconds must be positive")
	}
	if c.MFA.WebhookURL != "" &&
		!strings.HasPrefix(c.MFA.WebhookURL, "http://") &&
		!strings.HasPrefix(c.MFA.WebhookURL, "https://") {
		return fmt.Errorf("mfa.webhook_url must be a valid HTTP(S) URL")
	}

	if c.Mailbox.Port <= 0 || c.Mailbox.Port > 65535 {
		return fmt.Errorf("mailbox.port must be a valid port number")
	}
	if c.Mailbox.WindowMinutes <= 0 {
		return fmt.Errorf("mailbox.window_minutes must be positive")
	}
	if c.Mailbox.SenderDomain == "" {
		return fmt.Errorf("mailbox.sender_domain is required")
	}

	if c.Notify.Enabled {
		if c.Notify.Server == "" {
			return fmt.Errorf("notify.server is required when notifications are enabled")
		}
		if !strings.HasPrefix(c.Notify.Server, "http://") && !strings.HasPrefix(c.Notify.Server, "https://") {
			return fmt.Errorf("notify.server must be a valid HTTP(S) URL")
		}
		if c.Notify.Topic == "" {
			return fmt.Errorf("notify.topic is required when notifications are enabled")
		}
	}

	if c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required")
	}

	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Retry.InitialIntervalSeconds <= 0 {
		return fmt.Errorf("retry.initial_interval_seconds must be positive")
	}

	if c.Login.MinIntervalSeconds < 0 {
		return fmt.Errorf("login.min_interval_seconds must not be negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	return nil
}

// MailboxConfigured reports whether any mailbox capability set is complete
// enough to attempt a search.
func (c *Config) MailboxConfigured() bool {
	return c.Mailbox.TokenFlowConfigured() || c.Mailbox.PasswordFlowConfigured()
}

// TokenFlowConfigured reports whether the stored-refreshable-token
// capability set is present.
func (m *MailboxConfig) TokenFlowConfigured() bool {
	return m.User != "" && m.ClientID != "" && m.ClientSecret != "" && m.RefreshToken != ""
}

// PasswordFlowConfigured reports whether the username/application-password
// capability set is present.
func (m *MailboxConfig) PasswordFlowConfigured() bool {
	return m.User != "" && m.Password != ""
}

// Redact returns a deep-enough copy of the config with secrets redacted for safe logging
func (c *Config) Redact() *Config {
	redacted := *c
	if redacted.Credentials.Password != "" {
		redacted.Credentials.Password = "[REDACTED]"
	}
	if redacted.MFA.Code != "" {
		redacted.MFA.Code = "[REDACTED]"
	}
	if redacted.Mailbox.Password != "" {
		redacted.Mailbox.Password = "[REDACTED]"
	}
	if redacted.Mailbox.ClientSecret != "" {
		redacted.Mailbox.ClientSecret = "[REDACTED]"
	}
	if redacted.Mailbox.RefreshToken != "" {
		redacted.Mailbox.RefreshToken = "[REDACTED]"
	}
	if redacted.Notify.Token != "" {
		redacted.Notify.Token = "[REDACTED]"
	}
	return &redacted
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return p
}
