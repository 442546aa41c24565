package service

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// TranslationConfig tunes the translation relay.
type TranslationConfig struct {
	// TargetLanguage is the language captions are translated into.
	TargetLanguage string
	// DebounceWindow coalesces rapid successive captions into one
	// translation call per window.
	DebounceWindow time.Duration
	// RequestTimeout bounds each remote translation call.
	RequestTimeout time.Duration
}

func (c TranslationConfig) withDefaults() TranslationConfig {
	if c.TargetLanguage == "" {
		c.TargetLanguage = "en"
	}
	if c.DebounceWindow == 0 {
		c.DebounceWindow = 400 * time.Millisecond
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// TranslationService turns inbound remote captions into a displayed
// translation. Requests carry a monotonically increasing sequence number and
// only the highest-sequence response ever reaches the display, so late
// responses from slow calls cannot overwrite newer ones.
type TranslationService struct {
	translator port.Translator
	cfg        TranslationConfig

	mu          sync.Mutex
	target      string
	debounced   func(func())
	seq         uint64
	applied     uint64
	lastCaption *domain.CaptionMessage
	displayed   string

	onTranslation func(string)
}

// NewTranslationService builds a relay for the given translator.
func NewTranslationService(translator port.Translator, cfg TranslationConfig) *TranslationService {
	cfg = cfg.withDefaults()
	return &TranslationService{
		translator: translator,
		cfg:        cfg,
		target:     cfg.TargetLanguage,
		debounced:  debounce.New(cfg.DebounceWindow),
	}
}

// OnTranslation registers the display observer. An empty string clears the
// displayed translation.
func (t *TranslationService) OnTranslation(fn func(string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTranslation = fn
}

// Translation returns the currently displayed translation.
func (t *TranslationService) Translation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.displayed
}

// TargetLanguage returns the configured target language.
func (t *TranslationService) TargetLanguage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// HandleCaption schedules translation of a remote caption after the
// debounce window. Captions already in the target language clear the
// display instead. Wire it to CallService.OnRemoteCaption.
func (t *TranslationService) HandleCaption(msg domain.CaptionMessage) {
	t.mu.Lock()
	t.lastCaption = &msg
	if msg.Language == t.target {
		notify := t.applyLocked("")
		t.mu.Unlock()
		notify()
		return
	}
	schedule := t.debounced
	t.mu.Unlock()
	schedule(t.fire)
}

// SetTargetLanguage switches the display language and immediately
// re-translates the latest known remote caption, bypassing the debounce.
func (t *TranslationService) SetTargetLanguage(lang string) {
	t.mu.Lock()
	if lang == "" || lang == t.target {
		t.mu.Unlock()
		return
	}
	t.target = lang
	last := t.lastCaption
	t.mu.Unlock()
	log.Info().Str("target", lang).Msg("caption target language changed")
	if last != nil {
		t.fire()
	}
}

// fire issues one sequence-numbered translation request for the latest
// caption.
func (t *TranslationService) fire() {
	t.mu.Lock()
	last := t.lastCaption
	target := t.target
	if last == nil {
		t.mu.Unlock()
		return
	}
	if last.Language == target {
		notify := t.applyLocked("")
		t.mu.Unlock()
		notify()
		return
	}
	t.seq++
	seq := t.seq
	t.mu.Unlock()

	go t.run(seq, last.Text, last.Language, target)
}

func (t *TranslationService) run(seq uint64, text, source, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RequestTimeout)
	defer cancel()

	translated, err := t.translator.Translate(ctx, text, source, target)

	t.mu.Lock()
	if seq < t.applied {
		// A newer response already reached the display.
		t.mu.Unlock()
		return
	}
	t.applied = seq
	var notify func()
	if err != nil {
		log.Warn().Err(err).Str("source", source).Str("target", target).Msg("translation failed, clearing display")
		notify = t.applyLocked("")
	} else {
		notify = t.applyLocked(translated)
	}
	t.mu.Unlock()
	notify()
}

func (t *TranslationService) applyLocked(text string) func() {
	t.displayed = text
	cb := t.onTranslation
	return func() {
		if cb != nil {
			cb(text)
		}
	}
}
