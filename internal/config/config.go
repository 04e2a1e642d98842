package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultReconnectBase     = time.Second
	DefaultReconnectAttempts = 5
	DefaultTypingThrottle    = time.Second
	DefaultTypingQuiet       = time.Second
	DefaultTypingDecay       = 3 * time.Second
	DefaultPollInterval      = 30 * time.Second
	DefaultHistoryLimit      = 50
)

type Config struct {
	// TransportURL is the websocket endpoint for the persistent connection.
	TransportURL string `env:"AURONTEK_TRANSPORT_URL"`
	// APIBaseURL is the base URL for REST calls (chat history, notifications).
	APIBaseURL string `env:"AURONTEK_API_BASE_URL"`

	ReconnectBase     time.Duration `env:"AURONTEK_RECONNECT_BASE" envDefault:"1s"`
	ReconnectAttempts int           `env:"AURONTEK_RECONNECT_ATTEMPTS" envDefault:"5"`
	TypingThrottle    time.Duration `env:"AURONTEK_TYPING_THROTTLE" envDefault:"1s"`
	TypingQuiet       time.Duration `env:"AURONTEK_TYPING_QUIET" envDefault:"1s"`
	TypingDecay       time.Duration `env:"AURONTEK_TYPING_DECAY" envDefault:"3s"`
	PollInterval      time.Duration `env:"AURONTEK_POLL_INTERVAL" envDefault:"30s"`
	HistoryLimit      int           `env:"AURONTEK_HISTORY_LIMIT" envDefault:"50"`
}

func NewConfig(transportURL, apiBaseURL string) (*Config, error) {
	cfg := &Config{
		TransportURL:      transportURL,
		APIBaseURL:        apiBaseURL,
		ReconnectBase:     DefaultReconnectBase,
		ReconnectAttempts: DefaultReconnectAttempts,
		TypingThrottle:    DefaultTypingThrottle,
		TypingQuiet:       DefaultTypingQuiet,
		TypingDecay:       DefaultTypingDecay,
		PollInterval:      DefaultPollInterval,
		HistoryLimit:      DefaultHistoryLimit,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv loads configuration from AURONTEK_* environment variables.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.TransportURL == "" {
		return fmt.Errorf("transport URL cannot be empty")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("API base URL cannot be empty")
	}
	if c.ReconnectBase <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}
	if c.ReconnectAttempts <= 0 {
		return fmt.Errorf("reconnect attempt cap must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history limit must be positive")
	}

	return nil
}
