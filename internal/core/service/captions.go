package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/port"
	"github.com/rs/zerolog/log"
)

// CaptionSender is the outbound half of the caption channel protocol, as
// exposed by the call service.
type CaptionSender interface {
	SendCaption(text, language string)
}

// CaptionConfig tunes the capture loop.
type CaptionConfig struct {
	// Language is the capture language tag sent to the recognizer.
	Language string
	// RestartInitialDelay seeds the backoff used between recognizer
	// restarts after an unexpected end of stream.
	RestartInitialDelay time.Duration
}

func (c CaptionConfig) withDefaults() CaptionConfig {
	if c.Language == "" {
		c.Language = "en"
	}
	if c.RestartInitialDelay == 0 {
		c.RestartInitialDelay = 500 * time.Millisecond
	}
	return c
}

// CaptionService bridges recognizer events into outbound caption messages.
// It runs only while the call is connected. Every activation and restart
// gets a fresh generation id; events and restart timers carrying a stale
// generation are ignored, so two recognizers can never run concurrently.
type CaptionService struct {
	recognizer port.Recognizer
	sender     CaptionSender
	cfg        CaptionConfig

	mu      sync.Mutex
	active  bool
	gen     domain.GenerationID
	stream  port.RecognitionStream
	interim string
	retry   *backoff.ExponentialBackOff

	onLocal func(string)
}

// NewCaptionService builds an inactive capture loop.
func NewCaptionService(recognizer port.Recognizer, sender CaptionSender, cfg CaptionConfig) *CaptionService {
	cfg = cfg.withDefaults()
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = cfg.RestartInitialDelay
	retry.MaxElapsedTime = 0
	return &CaptionService{
		recognizer: recognizer,
		sender:     sender,
		cfg:        cfg,
		retry:      retry,
	}
}

// OnLocalCaption registers the observer for the locally displayed caption
// text. An empty string clears the display.
func (c *CaptionService) OnLocalCaption(fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLocal = fn
}

// LocalCaption returns the most recent interim or final transcript.
func (c *CaptionService) LocalCaption() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interim
}

// HandlePhase activates capture on Connected and deactivates it on any
// other phase. Wire it to CallService.OnPhaseChange.
func (c *CaptionService) HandlePhase(phase domain.CallPhase) {
	if phase == domain.PhaseConnected {
		c.activate()
		return
	}
	c.deactivate()
}

func (c *CaptionService) activate() {
	if !c.recognizer.Supported() {
		log.Debug().Msg("speech capture unsupported, captions stay off")
		return
	}
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return
	}
	c.active = true
	c.retry.Reset()
	c.startLocked()
	c.mu.Unlock()
}

func (c *CaptionService) deactivate() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	stream := c.stream
	c.stream = nil
	c.interim = ""
	notify := c.notifyLocalLocked("")
	c.mu.Unlock()
	if stream != nil {
		stream.Stop()
	}
	notify()
	log.Debug().Msg("caption capture deactivated")
}

// startLocked begins a capture stream under a fresh generation. Callers
// hold c.mu and have verified c.active.
func (c *CaptionService) startLocked() {
	gen := domain.NewGenerationID()
	c.gen = gen
	stream, err := c.recognizer.Start(context.Background(), c.cfg.Language)
	if err != nil {
		log.Warn().Err(err).Msg("recognizer start failed, will retry")
		c.scheduleRestartLocked(gen)
		return
	}
	c.stream = stream
	log.Debug().Str("generation", gen.String()).Msg("caption capture started")
	go c.consume(gen, stream)
}

func (c *CaptionService) consume(gen domain.GenerationID, stream port.RecognitionStream) {
	for ev := range stream.Events() {
		switch ev.Kind {
		case port.RecognizerResult:
			c.handleResult(gen, ev)
		case port.RecognizerError:
			c.handleError(gen, ev.Err)
		case port.RecognizerEnd:
			c.handleEnd(gen)
			return
		}
	}
	// Stream closed without an explicit end event.
	c.handleEnd(gen)
}

func (c *CaptionService) handleResult(gen domain.GenerationID, ev port.RecognizerEvent) {
	c.mu.Lock()
	if !c.active || c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.interim = ev.Text
	notify := c.notifyLocalLocked(ev.Text)
	c.mu.Unlock()
	notify()
	if ev.Final && ev.Text != "" {
		c.sender.SendCaption(ev.Text, c.cfg.Language)
	}
}

func (c *CaptionService) handleError(gen domain.GenerationID, err error) {
	if !errors.Is(err, domain.ErrRecognizerFatal) {
		// Transient: no-speech, no-signal, cancelled. The restart path
		// after the end event recovers these.
		log.Debug().Err(err).Msg("transient recognizer error")
		return
	}
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.active = false
	stream := c.stream
	c.stream = nil
	c.interim = ""
	notify := c.notifyLocalLocked("")
	c.mu.Unlock()
	if stream != nil {
		stream.Stop()
	}
	notify()
	log.Error().Err(err).Msg("fatal recognizer error, captions terminated for this call")
}

// handleEnd restarts capture after an unexpected end of stream, but only if
// the generation that ended is still the current one.
func (c *CaptionService) handleEnd(gen domain.GenerationID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active || c.gen != gen {
		return
	}
	c.stream = nil
	c.scheduleRestartLocked(gen)
}

func (c *CaptionService) scheduleRestartLocked(gen domain.GenerationID) {
	delay := c.retry.NextBackOff()
	log.Debug().Dur("delay", delay).Msg("scheduling recognizer restart")
	time.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.active || c.gen != gen {
			return
		}
		c.startLocked()
	})
}

func (c *CaptionService) notifyLocalLocked(text string) func() {
	cb := c.onLocal
	return func() {
		if cb != nil {
			cb(text)
		}
	}
}
