package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// TokenMargin is subtracted from the gateway's expires_in when caching the
	// access token, so cached tokens are dropped before they actually expire.
	TokenMargin time.Duration `yaml:"token_margin"`
}

type MpesaConfig struct {
	ConsumerKey    string        `yaml:"consumer_key"`
	ConsumerSecret string        `yaml:"consumer_secret"`
	Passkey        string        `yaml:"passkey"`
	Shortcode      string        `yaml:"shortcode"`
	CallbackURL    string        `yaml:"callback_url"`
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"` // outbound HTTP timeout
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Mpesa      MpesaConfig      `yaml:"mpesa"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Mpesa.Timeout <= 0 {
		cfg.Mpesa.Timeout = 15 * time.Second
	}
	if cfg.Redis.TokenMargin <= 0 {
		cfg.Redis.TokenMargin = time.Minute
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 5 * time.Minute
	}

	// All gateway credentials are required up front; a missing one must fail
	// here, not on the first request.
	if cfg.Mpesa.ConsumerKey == "" {
		return nil, errors.New("mpesa.consumer_key is required")
	}
	if cfg.Mpesa.ConsumerSecret == "" {
		return nil, errors.New("mpesa.consumer_secret is required")
	}
	if cfg.Mpesa.Passkey == "" {
		return nil, errors.New("mpesa.passkey is required")
	}
	if cfg.Mpesa.Shortcode == "" {
		return nil, errors.New("mpesa.shortcode is required")
	}
	if cfg.Mpesa.CallbackURL == "" {
		return nil, errors.New("mpesa.callback_url is required")
	}
	if cfg.Mpesa.BaseURL == "" {
		return nil, errors.New("mpesa.base_url is required")
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
