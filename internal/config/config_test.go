package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPAddr != "127.0.0.1:8484" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if len(cfg.ICEServerURLs) != 1 || cfg.ICEServerURLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("ICEServerURLs = %v", cfg.ICEServerURLs)
	}
	if cfg.GatheringTimeout != 15*time.Second {
		t.Errorf("GatheringTimeout = %v", cfg.GatheringTimeout)
	}
	if cfg.TargetLanguage != "en" {
		t.Errorf("TargetLanguage = %q", cfg.TargetLanguage)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PAIRCALL_HTTP_ADDR", "127.0.0.1:9000")
	t.Setenv("PAIRCALL_ICE_SERVERS", "stun:a.example:3478, turn:b.example:3478 ,")
	t.Setenv("PAIRCALL_GATHERING_TIMEOUT", "2s")
	t.Setenv("PAIRCALL_DEBOUNCE_WINDOW", "bogus")

	cfg := Load()
	if cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	want := []string{"stun:a.example:3478", "turn:b.example:3478"}
	if len(cfg.ICEServerURLs) != len(want) {
		t.Fatalf("ICEServerURLs = %v", cfg.ICEServerURLs)
	}
	for i := range want {
		if cfg.ICEServerURLs[i] != want[i] {
			t.Errorf("ICEServerURLs[%d] = %q, want %q", i, cfg.ICEServerURLs[i], want[i])
		}
	}
	if cfg.GatheringTimeout != 2*time.Second {
		t.Errorf("GatheringTimeout = %v", cfg.GatheringTimeout)
	}
	if cfg.DebounceWindow != 400*time.Millisecond {
		t.Errorf("unparseable duration did not fall back: %v", cfg.DebounceWindow)
	}
}
