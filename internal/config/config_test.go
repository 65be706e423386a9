package config

import (
	"testing"
	"time"
)

func TestDefaultCaps(t *testing.T) {
	cfg := Default()
	if cfg.GenericNotificationCap != 100 || cfg.MessageNotificationCap != 50 {
		t.Fatalf("notification caps = %d/%d, want 100/50", cfg.GenericNotificationCap, cfg.MessageNotificationCap)
	}
	if cfg.TypingDebounce != 2*time.Second || cfg.TypingExpiry != 3*time.Second {
		t.Fatalf("typing windows = %v/%v, want 2s/3s", cfg.TypingDebounce, cfg.TypingExpiry)
	}
}

func TestUpdateFromOverridesNonZero(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{
		WSEndpoint:     "wss://gw.example.com/ws",
		ReconnectMax:   time.Minute,
		TypingDebounce: 5 * time.Second,
	})

	if cfg.WSEndpoint != "wss://gw.example.com/ws" {
		t.Fatalf("ws endpoint = %q", cfg.WSEndpoint)
	}
	if cfg.ReconnectMax != time.Minute || cfg.TypingDebounce != 5*time.Second {
		t.Fatalf("overrides not applied: %v/%v", cfg.ReconnectMax, cfg.TypingDebounce)
	}
	// Zero values leave the existing settings alone.
	if cfg.APIEndpoint != Default().APIEndpoint || cfg.MessageNotificationCap != 50 {
		t.Fatal("zero-value override clobbered a default")
	}
}
