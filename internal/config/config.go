package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Remote API
	APIBaseURL   string        `envconfig:"API_BASE_URL" required:"true"`
	HTTPTimeout  time.Duration `envconfig:"HTTP_TIMEOUT" default:"0s"`
	APIRateLimit float64       `envconfig:"API_RATE_LIMIT" default:"10"`
	APIRateBurst int           `envconfig:"API_RATE_BURST" default:"20"`

	// Session
	SessionFile string `envconfig:"SESSION_FILE"`
	Username    string `envconfig:"SOCIAL_USERNAME"`
	Password    string `envconfig:"SOCIAL_PASSWORD"`

	// Polling
	ChatPollInterval    time.Duration `envconfig:"CHAT_POLL_INTERVAL" default:"5s"`
	RequestPollInterval time.Duration `envconfig:"REQUEST_POLL_INTERVAL" default:"10s"`
	PageIdleTimeout     time.Duration `envconfig:"PAGE_IDLE_TIMEOUT" default:"30m"`

	// Media
	ImageMinLength int `envconfig:"IMAGE_MIN_LENGTH" default:"3"`

	// Bridge
	BridgePort        string `envconfig:"BRIDGE_PORT" default:"8090"`
	CORSAllowedOrigin string `envconfig:"CORS_ALLOWED_ORIGIN" default:"http://localhost:3000"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return cfg, nil
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL: %q", c.APIBaseURL)
	}
	if c.ChatPollInterval <= 0 {
		return fmt.Errorf("CHAT_POLL_INTERVAL must be positive: %s", c.ChatPollInterval)
	}
	if c.RequestPollInterval <= 0 {
		return fmt.Errorf("REQUEST_POLL_INTERVAL must be positive: %s", c.RequestPollInterval)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("HTTP_TIMEOUT must not be negative: %s", c.HTTPTimeout)
	}
	return nil
}
