// Package recognizer provides speech-to-text capability adapters: a
// websocket client for a streaming recognition engine, and a scripted
// implementation for tests and demos.
package recognizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/port"
)

// WSConfig points at a streaming speech-to-text engine endpoint.
type WSConfig struct {
	// URL is the websocket endpoint, e.g. "ws://127.0.0.1:7700/stt".
	// Empty means speech capture is unsupported on this install.
	URL string
	// DialTimeout bounds the websocket handshake.
	DialTimeout time.Duration
}

func (c WSConfig) withDefaults() WSConfig {
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// WSRecognizer speaks a small JSON protocol with the engine: one start
// frame out, then a stream of result/error/end frames in. The engine owns
// microphone capture; this side only consumes transcript events.
type WSRecognizer struct {
	cfg    WSConfig
	dialer *websocket.Dialer
}

func NewWS(cfg WSConfig) *WSRecognizer {
	cfg = cfg.withDefaults()
	return &WSRecognizer{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
	}
}

func (r *WSRecognizer) Supported() bool { return r.cfg.URL != "" }

type startFrame struct {
	Action     string `json:"action"`
	Language   string `json:"language"`
	Continuous bool   `json:"continuous"`
	Interim    bool   `json:"interim"`
}

type wireEvent struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Final   bool   `json:"final,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (r *WSRecognizer) Start(ctx context.Context, language string) (port.RecognitionStream, error) {
	if !r.Supported() {
		return nil, fmt.Errorf("%w: no recognizer endpoint configured", domain.ErrRecognizerFatal)
	}
	conn, _, err := r.dialer.DialContext(ctx, r.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrRecognizerTransient, r.cfg.URL, err)
	}
	if err := conn.WriteJSON(startFrame{Action: "start", Language: language, Continuous: true, Interim: true}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: start frame: %v", domain.ErrRecognizerTransient, err)
	}
	s := &wsStream{
		conn:   conn,
		events: make(chan port.RecognizerEvent, 16),
	}
	go s.readLoop()
	return s, nil
}

type wsStream struct {
	conn   *websocket.Conn
	events chan port.RecognizerEvent
	once   sync.Once
}

func (s *wsStream) Events() <-chan port.RecognizerEvent { return s.events }

func (s *wsStream) Stop() {
	s.once.Do(func() {
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stop"), deadline)
		s.conn.Close()
	})
}

func (s *wsStream) readLoop() {
	defer func() {
		s.events <- port.RecognizerEvent{Kind: port.RecognizerEnd}
		close(s.events)
		s.once.Do(func() { s.conn.Close() })
	}()
	for {
		var ev wireEvent
		if err := s.conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("recognizer socket closed unexpectedly")
			}
			return
		}
		switch ev.Type {
		case "result":
			s.events <- port.RecognizerEvent{Kind: port.RecognizerResult, Text: ev.Text, Final: ev.Final}
		case "error":
			s.events <- port.RecognizerEvent{Kind: port.RecognizerError, Err: mapEngineError(ev)}
		case "end":
			return
		default:
			log.Debug().Str("type", ev.Type).Msg("ignoring unknown recognizer frame")
		}
	}
}

// mapEngineError classifies engine error codes. Permission revocations are
// fatal; everything else (no-speech, no-signal, cancelled) is transient and
// recovered by the caption loop's restart path.
func mapEngineError(ev wireEvent) error {
	switch ev.Code {
	case "not-allowed", "service-not-allowed", "permission-revoked":
		return fmt.Errorf("%w: %s: %s", domain.ErrRecognizerFatal, ev.Code, ev.Message)
	default:
		return fmt.Errorf("%w: %s: %s", domain.ErrRecognizerTransient, ev.Code, ev.Message)
	}
}
