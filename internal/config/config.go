// Package config loads runtime settings from the environment.
package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	// HTTPAddr is the loopback control API listen address.
	HTTPAddr string

	// ICEServerURLs seed the transport's candidate gathering.
	ICEServerURLs []string
	// GatheringTimeout bounds the wait for candidate gathering. Zero waits
	// forever.
	GatheringTimeout time.Duration

	// AudioRTPAddr and VideoRTPAddr are the local UDP sockets the capture
	// pipeline feeds RTP into.
	AudioRTPAddr string
	VideoRTPAddr string

	// STTURL is the websocket speech engine endpoint. Empty disables
	// captions; "scripted" replays a canned transcript for demos.
	STTURL string
	// CaptureLanguage is the language tag sent to the recognizer.
	CaptureLanguage string

	// TranslateURL is the translation endpoint. Empty falls back to the
	// built-in dictionary stub.
	TranslateURL    string
	TranslateAPIKey string
	// TargetLanguage is the initial language remote captions are
	// translated into.
	TargetLanguage string
	// DebounceWindow delays translation until remote captions settle.
	DebounceWindow time.Duration

	LogLevel string
}

func Load() Config {
	return Config{
		HTTPAddr:         getenv("PAIRCALL_HTTP_ADDR", "127.0.0.1:8484"),
		ICEServerURLs:    getenvList("PAIRCALL_ICE_SERVERS", "stun:stun.l.google.com:19302"),
		GatheringTimeout: getenvDuration("PAIRCALL_GATHERING_TIMEOUT", 15*time.Second),
		AudioRTPAddr:     getenv("PAIRCALL_AUDIO_RTP_ADDR", "127.0.0.1:5004"),
		VideoRTPAddr:     getenv("PAIRCALL_VIDEO_RTP_ADDR", "127.0.0.1:5006"),
		STTURL:           getenv("PAIRCALL_STT_URL", ""),
		CaptureLanguage:  getenv("PAIRCALL_CAPTURE_LANGUAGE", "en"),
		TranslateURL:     getenv("PAIRCALL_TRANSLATE_URL", ""),
		TranslateAPIKey:  getenv("PAIRCALL_TRANSLATE_API_KEY", ""),
		TargetLanguage:   getenv("PAIRCALL_TARGET_LANGUAGE", "en"),
		DebounceWindow:   getenvDuration("PAIRCALL_DEBOUNCE_WINDOW", 400*time.Millisecond),
		LogLevel:         getenv("PAIRCALL_LOG_LEVEL", "info"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvList(key, fallback string) []string {
	raw := getenv(key, fallback)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
