package recognizer

import (
	"context"
	"sync"
	"time"

	"github.com/paircall/paircall/internal/core/port"
)

// ScriptedConfig configures the scripted recognizer behavior.
type ScriptedConfig struct {
	// EventDelay is the pause between replayed events.
	EventDelay time.Duration
	// Script is the sequence of events each capture stream replays. An
	// end event is appended automatically.
	Script []port.RecognizerEvent
	// Loop replays the script forever instead of ending the stream.
	Loop bool
}

// DefaultScriptedConfig returns a short demo transcript.
func DefaultScriptedConfig() *ScriptedConfig {
	return &ScriptedConfig{
		EventDelay: 300 * time.Millisecond,
		Script: []port.RecognizerEvent{
			{Kind: port.RecognizerResult, Text: "hello"},
			{Kind: port.RecognizerResult, Text: "hello there"},
			{Kind: port.RecognizerResult, Text: "hello there, can you hear me", Final: true},
		},
	}
}

// Scripted is a deterministic recognizer for tests and offline demos.
type Scripted struct {
	config *ScriptedConfig
}

func NewScripted(config *ScriptedConfig) *Scripted {
	if config == nil {
		config = DefaultScriptedConfig()
	}
	return &Scripted{config: config}
}

func (s *Scripted) Supported() bool { return true }

func (s *Scripted) Start(ctx context.Context, language string) (port.RecognitionStream, error) {
	stream := &scriptedStream{
		events: make(chan port.RecognizerEvent, 4),
		stop:   make(chan struct{}),
	}
	go stream.replay(ctx, s.config)
	return stream, nil
}

type scriptedStream struct {
	events chan port.RecognizerEvent
	stop   chan struct{}
	once   sync.Once
}

func (s *scriptedStream) Events() <-chan port.RecognizerEvent { return s.events }

func (s *scriptedStream) Stop() {
	s.once.Do(func() { close(s.stop) })
}

func (s *scriptedStream) replay(ctx context.Context, cfg *ScriptedConfig) {
	defer func() {
		s.events <- port.RecognizerEvent{Kind: port.RecognizerEnd}
		close(s.events)
	}()
	for {
		for _, ev := range cfg.Script {
			if cfg.EventDelay > 0 {
				select {
				case <-time.After(cfg.EventDelay):
				case <-s.stop:
					return
				case <-ctx.Done():
					return
				}
			}
			select {
			case s.events <- ev:
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
		if !cfg.Loop {
			return
		}
	}
}
