package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "inboxflow"
	DefaultPGSSLMode    = "disable"
	DefaultOperatorUI   = "http://localhost:3000/dashboard"
	DefaultSweepPattern = "@every 10m"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Operator  OperatorConfig  `toml:"operator"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Instagram OAuthAppConfig  `toml:"instagram"`
	Messenger OAuthAppConfig  `toml:"messenger"`
	WhatsApp  WhatsAppConfig  `toml:"whatsapp"`
	Responder ResponderConfig `toml:"responder"`
	Handoff   HandoffConfig   `toml:"handoff"`
	Sweep     SweepConfig     `toml:"sweep"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// OperatorConfig holds the operator login and the UI location used for
// OAuth callback redirects.
type OperatorConfig struct {
	Username     string `toml:"username"`
	PasswordHash string `toml:"password_hash"`
	UIBaseURL    string `toml:"ui_base_url"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Database, c.SSLMode)
}

// OAuthAppConfig holds the app registration for an OAuth-based channel.
type OAuthAppConfig struct {
	AppID       string `toml:"app_id"`
	AppSecret   string `toml:"app_secret"`
	CallbackURL string `toml:"callback_url"`
}

// WhatsAppConfig holds the phone-number-based channel credentials.
// The access token is issued per phone number id, not via OAuth.
type WhatsAppConfig struct {
	PhoneNumberID string `toml:"phone_number_id"`
	AccessToken   string `toml:"access_token"`
	BusinessID    string `toml:"business_id"`
}

type ResponderConfig struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// HandoffConfig tunes the AI hand-off simulation delays, in milliseconds.
type HandoffConfig struct {
	InitialDelayMs int `toml:"initial_delay_ms"`
	ReplyDelayMs   int `toml:"reply_delay_ms"`
	MinGapMs       int `toml:"min_gap_ms"`
	MaxGapMs       int `toml:"max_gap_ms"`
}

type SweepConfig struct {
	Pattern string `toml:"pattern"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Operator: OperatorConfig{
			Username:  "operator",
			UIBaseURL: DefaultOperatorUI,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Responder: ResponderConfig{
			Model:          "gpt-4o-mini",
			TimeoutSeconds: 30,
		},
		Handoff: HandoffConfig{
			InitialDelayMs: 3000,
			ReplyDelayMs:   1500,
			MinGapMs:       3000,
			MaxGapMs:       8000,
		},
		Sweep: SweepConfig{
			Pattern: DefaultSweepPattern,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays secrets from the environment so deployments can keep
// them out of the config file.
func applyEnv(cfg *Config) {
	overlay := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	overlay(&cfg.Auth.JWTSecret, "INBOXFLOW_JWT_SECRET")
	overlay(&cfg.Operator.PasswordHash, "INBOXFLOW_OPERATOR_PASSWORD_HASH")
	overlay(&cfg.Postgres.Password, "INBOXFLOW_PG_PASSWORD")
	overlay(&cfg.Instagram.AppID, "INSTAGRAM_APP_ID")
	overlay(&cfg.Instagram.AppSecret, "INSTAGRAM_APP_SECRET")
	overlay(&cfg.Instagram.CallbackURL, "INSTAGRAM_CALLBACK_URL")
	overlay(&cfg.Messenger.AppID, "FACEBOOK_APP_ID")
	overlay(&cfg.Messenger.AppSecret, "FACEBOOK_APP_SECRET")
	overlay(&cfg.Messenger.CallbackURL, "FACEBOOK_CALLBACK_URL")
	overlay(&cfg.WhatsApp.PhoneNumberID, "WHATSAPP_PHONE_NUMBER_ID")
	overlay(&cfg.WhatsApp.AccessToken, "WHATSAPP_ACCESS_TOKEN")
	overlay(&cfg.Responder.APIKey, "RESPONDER_API_KEY")
}

// Validate reports startup-time misconfiguration. A missing required value
// here is fatal; it is never surfaced as a per-request error.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		missing = append(missing, "auth.jwt_secret")
	}
	if strings.TrimSpace(c.Instagram.AppID) == "" || strings.TrimSpace(c.Instagram.AppSecret) == "" {
		missing = append(missing, "instagram.app_id/app_secret")
	}
	if strings.TrimSpace(c.Messenger.AppID) == "" || strings.TrimSpace(c.Messenger.AppSecret) == "" {
		missing = append(missing, "messenger.app_id/app_secret")
	}
	if strings.TrimSpace(c.WhatsApp.PhoneNumberID) == "" || strings.TrimSpace(c.WhatsApp.AccessToken) == "" {
		missing = append(missing, "whatsapp.phone_number_id/access_token")
	}
	if strings.TrimSpace(c.Responder.APIKey) == "" {
		missing = append(missing, "responder.api_key")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Handoff.MinGapMs <= 0 || c.Handoff.MaxGapMs < c.Handoff.MinGapMs {
		return fmt.Errorf("handoff gap range is invalid: min=%d max=%d", c.Handoff.MinGapMs, c.Handoff.MaxGapMs)
	}
	return nil
}
