package config

import "time"

// Config holds client configuration values.
type Config struct {
	// WSEndpoint is the realtime gateway WebSocket URL.
	WSEndpoint string `mapstructure:"ws_endpoint" yaml:"ws_endpoint"`
	// APIEndpoint is the REST base URL (history, conversations, attachments).
	APIEndpoint string `mapstructure:"api_endpoint" yaml:"api_endpoint"`
	// PollEndpoint is the long-poll base URL used when the WebSocket is unreachable.
	PollEndpoint string `mapstructure:"poll_endpoint" yaml:"poll_endpoint"`
	// EnablePollFallback switches the transport to HTTP long-polling when the
	// WebSocket dial fails with a non-auth error.
	EnablePollFallback bool `mapstructure:"enable_poll_fallback" yaml:"enable_poll_fallback"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`

	DialTimeout      time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReconnectInitial time.Duration `mapstructure:"reconnect_initial" yaml:"reconnect_initial"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max" yaml:"reconnect_max"`

	TypingDebounce time.Duration `mapstructure:"typing_debounce" yaml:"typing_debounce"`
	TypingExpiry   time.Duration `mapstructure:"typing_expiry" yaml:"typing_expiry"`

	// Caps for the two notification logs; oldest entries are evicted past these.
	GenericNotificationCap int `mapstructure:"generic_notification_cap" yaml:"generic_notification_cap"`
	MessageNotificationCap int `mapstructure:"message_notification_cap" yaml:"message_notification_cap"`

	HistoryPageSize int `mapstructure:"history_page_size" yaml:"history_page_size"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		WSEndpoint:             "ws://localhost:8080/ws",
		APIEndpoint:            "http://localhost:8080/api",
		PollEndpoint:           "http://localhost:8080/poll",
		EnablePollFallback:     true,
		DatabasePath:           "realtime.db",
		LogLevel:               "info",
		DialTimeout:            10 * time.Second,
		ReconnectInitial:       500 * time.Millisecond,
		ReconnectMax:           15 * time.Second,
		TypingDebounce:         2 * time.Second,
		TypingExpiry:           3 * time.Second,
		GenericNotificationCap: 100,
		MessageNotificationCap: 50,
		HistoryPageSize:        30,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.WSEndpoint != "" {
		c.WSEndpoint = other.WSEndpoint
	}
	if other.APIEndpoint != "" {
		c.APIEndpoint = other.APIEndpoint
	}
	if other.PollEndpoint != "" {
		c.PollEndpoint = other.PollEndpoint
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DialTimeout != 0 {
		c.DialTimeout = other.DialTimeout
	}
	if other.ReconnectInitial != 0 {
		c.ReconnectInitial = other.ReconnectInitial
	}
	if other.ReconnectMax != 0 {
		c.ReconnectMax = other.ReconnectMax
	}
	if other.TypingDebounce != 0 {
		c.TypingDebounce = other.TypingDebounce
	}
	if other.TypingExpiry != 0 {
		c.TypingExpiry = other.TypingExpiry
	}
	if other.GenericNotificationCap != 0 {
		c.GenericNotificationCap = other.GenericNotificationCap
	}
	if other.MessageNotificationCap != 0 {
		c.MessageNotificationCap = other.MessageNotificationCap
	}
	if other.HistoryPageSize != 0 {
		c.HistoryPageSize = other.HistoryPageSize
	}
}
