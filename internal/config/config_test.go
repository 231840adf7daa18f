package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultsAndEnv(t *testing.T) {
	os.Setenv("HTTP_ADDRESS", "")
	os.Setenv("ICE_SERVERS_JSON", "")
	os.Setenv("SILENCE_WINDOW_MS", "")
	os.Setenv("DEEPGRAM_MODEL", "")
	cfg := Load()
	if cfg.HTTPAddress == "" {
		t.Fatalf("expected default http address")
	}
	if cfg.ICEServersJSON == "" {
		t.Fatalf("expected default ice servers json")
	}
	if cfg.SilenceWindow != 2500*time.Millisecond {
		t.Fatalf("expected default silence window, got %v", cfg.SilenceWindow)
	}
	if cfg.DeepgramModel == "" {
		t.Fatalf("expected default deepgram model")
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	os.Setenv("WATCHDOG_INTERVAL_MS", "nope")
	defer os.Unsetenv("WATCHDOG_INTERVAL_MS")
	cfg := Load()
	if cfg.WatchdogInterval != 5*time.Second {
		t.Fatalf("expected default watchdog interval, got %v", cfg.WatchdogInterval)
	}
}

func TestLoad_DurationOverride(t *testing.T) {
	os.Setenv("SILENCE_WINDOW_MS", "3000")
	defer os.Unsetenv("SILENCE_WINDOW_MS")
	cfg := Load()
	if cfg.SilenceWindow != 3*time.Second {
		t.Fatalf("expected 3s silence window, got %v", cfg.SilenceWindow)
	}
}
