package translate

import (
	"context"
	"time"
)

// StubConfig configures the stub translator behavior.
type StubConfig struct {
	// ProcessingDelay simulates translation latency.
	ProcessingDelay time.Duration
	// Dictionary maps [targetLang][sourceText] to translated text. Missing
	// entries fall back to a "[lang] " prefix.
	Dictionary map[string]map[string]string
}

// DefaultStubConfig returns a small deterministic dictionary for testing.
func DefaultStubConfig() *StubConfig {
	return &StubConfig{
		ProcessingDelay: 20 * time.Millisecond,
		Dictionary: map[string]map[string]string{
			"en": {
				"hola mundo":    "hello world",
				"hasta luego":   "see you later",
				"no te escucho": "I can't hear you",
				"ya te veo":     "I can see you now",
			},
			"es": {
				"hello world":   "hola mundo",
				"see you later": "hasta luego",
			},
		},
	}
}

// Stub is a deterministic in-process translator.
type Stub struct {
	config *StubConfig
}

func NewStub(config *StubConfig) *Stub {
	if config == nil {
		config = DefaultStubConfig()
	}
	return &Stub{config: config}
}

func (s *Stub) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if s.config.ProcessingDelay > 0 {
		select {
		case <-time.After(s.config.ProcessingDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if dict, ok := s.config.Dictionary[targetLang]; ok {
		if translated, ok := dict[text]; ok {
			return translated, nil
		}
	}
	return "[" + targetLang + "] " + text, nil
}
