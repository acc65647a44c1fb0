package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "PIXELBOARD"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "pixelboard.db"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 60
	defaultCommitTimeoutMS  = 2000
	defaultSubscriberBuffer = 64
)

// AppConfig captures runtime configuration for the placement engine API.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	SigningSecret    string
	TokenTTL         time.Duration
	CommitTimeout    time.Duration
	SubscriberBuffer int
	RedisAddress     string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("placement.commit_timeout_ms", defaultCommitTimeoutMS)
	configViper.SetDefault("hub.subscriber_buffer", defaultSubscriberBuffer)
	configViper.SetDefault("redis.address", "")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		SigningSecret:    configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		CommitTimeout:    time.Duration(configViper.GetInt("placement.commit_timeout_ms")) * time.Millisecond,
		SubscriberBuffer: configViper.GetInt("hub.subscriber_buffer"),
		RedisAddress:     configViper.GetString("redis.address"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.CommitTimeout <= 0 {
		return fmt.Errorf("placement.commit_timeout_ms must be positive")
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("hub.subscriber_buffer must be positive")
	}
	return nil
}
