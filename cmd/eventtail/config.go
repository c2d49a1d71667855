package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	realtime "github.com/kitaflow/realtime-go-sdk"
	"github.com/kitaflow/realtime-go-sdk/api"
	"github.com/kitaflow/realtime-go-sdk/cache/redisstore"
)

// Config is the YAML file read by eventtail.
type Config struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// Token is sent as a bearer credential. Overridden by --token and
	// $REALTIME_TOKEN.
	Token string `yaml:"token"`
	// SessionCookie switches to polling the web app's session endpoint
	// instead of a static token.
	SessionCookie string `yaml:"session_cookie"`

	EventsPath           string          `yaml:"events_path"`
	ReconnectInterval    time.Duration   `yaml:"reconnect_interval" validate:"gte=0"`
	MaxReconnectAttempts int             `yaml:"max_reconnect_attempts" validate:"gte=0"`
	MaxReconnectDelay    time.Duration   `yaml:"max_reconnect_delay" validate:"gte=0"`
	DebounceWindow       time.Duration   `yaml:"debounce_window" validate:"gte=0"`
	ReadTimeout          time.Duration   `yaml:"read_timeout" validate:"gte=0"`
	EventTypes           []api.EventType `yaml:"event_types" validate:"dive,required"`

	KeyPatterns realtime.KeyPatterns `yaml:"key_patterns"`
	Redis       *redisstore.Config   `yaml:"redis"`
}

var validate = validator.New()

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) options() *realtime.Options {
	return &realtime.Options{
		EventsPath:           c.EventsPath,
		ReconnectInterval:    c.ReconnectInterval,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		MaxReconnectDelay:    c.MaxReconnectDelay,
		DebounceWindow:       c.DebounceWindow,
		ReadTimeout:          c.ReadTimeout,
		EventTypes:           c.EventTypes,
		KeyPatterns:          c.KeyPatterns,
	}
}
