package service

import (
	"context"
	"sync"
	"time"

	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/port"
	"github.com/paircall/paircall/internal/core/signaling"
	"github.com/rs/zerolog/log"
)

// CallConfig tunes the call service. Zero values fall back to defaults.
type CallConfig struct {
	ICEServerURLs []string
	// GatheringTimeout bounds the wait for candidate gathering. Zero means
	// wait forever on the transport's own completion signal.
	GatheringTimeout time.Duration
	// CaptionRetryDelay is the single retry delay when the caption channel
	// is not yet open at send time.
	CaptionRetryDelay time.Duration
}

func (c CallConfig) withDefaults() CallConfig {
	if c.GatheringTimeout == 0 {
		c.GatheringTimeout = 15 * time.Second
	}
	if c.CaptionRetryDelay == 0 {
		c.CaptionRetryDelay = 300 * time.Millisecond
	}
	return c
}

// CallService owns the session lifecycle: the phase state machine, the peer
// session and its auxiliary caption channel, and the write-once offer/answer
// payloads. All other components observe it through callbacks and accessors;
// none of them hold an independent reference to the peer connection.
type CallService struct {
	transport port.Transport
	media     port.MediaSource
	cfg       CallConfig

	mu                 sync.Mutex
	id                 domain.SessionID
	role               domain.Role
	phase              domain.CallPhase
	pc                 port.PeerConnection
	tracks             []port.MediaTrack
	attached           int
	offer              *domain.SessionDescription
	answer             *domain.SessionDescription
	remoteApplied      bool
	transportConnected bool
	channel            port.DataChannel
	remoteTrack        port.RemoteTrack
	lastRemoteCaption  *domain.CaptionMessage
	released           bool

	onPhase   func(domain.CallPhase)
	onCaption func(domain.CaptionMessage)
	onWarning func(error)
}

// NewCallService builds an idle call bound to the given transport and media
// capabilities.
func NewCallService(transport port.Transport, media port.MediaSource, cfg CallConfig) *CallService {
	return &CallService{
		transport: transport,
		media:     media,
		cfg:       cfg.withDefaults(),
		id:        domain.NewSessionID(),
		phase:     domain.PhaseIdle,
	}
}

// OnPhaseChange registers the phase observer. Register before driving the
// call; the callback fires outside the service lock.
func (s *CallService) OnPhaseChange(fn func(domain.CallPhase)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPhase = fn
}

// OnRemoteCaption registers the observer for inbound caption messages.
func (s *CallService) OnRemoteCaption(fn func(domain.CaptionMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCaption = fn
}

// OnWarning registers the observer for non-fatal negotiation warnings.
func (s *CallService) OnWarning(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWarning = fn
}

// SessionID returns the id of this call session.
func (s *CallService) SessionID() domain.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Phase returns the current call phase.
func (s *CallService) Phase() domain.CallPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Role returns the role fixed for this session, or RoleUnassigned.
func (s *CallService) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// RemoteCaption returns the most recent caption received from the peer.
func (s *CallService) RemoteCaption() (domain.CaptionMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRemoteCaption == nil {
		return domain.CaptionMessage{}, false
	}
	return *s.lastRemoteCaption, true
}

// RemoteTrack returns the inbound media track reference, if one arrived.
func (s *CallService) RemoteTrack() (port.RemoteTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteTrack == nil {
		return nil, false
	}
	return s.remoteTrack, true
}

// SetRole fixes the role for this session. Setting the same role twice is a
// no-op; changing an assigned role fails with RoleMismatch.
func (s *CallService) SetRole(role domain.Role) error {
	if role != domain.RoleHost && role != domain.RoleGuest {
		return domain.ErrRoleMismatch
	}
	s.mu.Lock()
	if s.phase == domain.PhaseEnded {
		s.mu.Unlock()
		return domain.ErrSessionEnded
	}
	if s.role != domain.RoleUnassigned {
		same := s.role == role
		s.mu.Unlock()
		if same {
			return nil
		}
		return domain.ErrRoleMismatch
	}
	s.role = role
	notify := s.noNotify()
	if s.phase == domain.PhaseMediaReady {
		notify = s.setPhaseLocked(domain.PhaseWaitingOffer)
	}
	s.mu.Unlock()
	notify()
	return nil
}

// AcquireMedia requests camera and microphone once. A second call returns
// without re-prompting. Idle moves to MediaReady; if the role is already
// fixed the phase advances straight to WaitingOffer.
func (s *CallService) AcquireMedia(ctx context.Context) error {
	s.mu.Lock()
	if s.phase == domain.PhaseEnded {
		s.mu.Unlock()
		return domain.ErrSessionEnded
	}
	if s.tracks != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	tracks, err := s.media.Acquire(ctx)
	if err != nil {
		log.Error().Err(err).Msg("local media acquisition failed")
		return err
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		s.media.Release()
		return domain.ErrSessionEnded
	}
	s.tracks = tracks
	var notifies []func()
	if s.phase == domain.PhaseIdle {
		notifies = append(notifies, s.setPhaseLocked(domain.PhaseMediaReady))
	}
	if s.role != domain.RoleUnassigned && s.phase == domain.PhaseMediaReady {
		notifies = append(notifies, s.setPhaseLocked(domain.PhaseWaitingOffer))
	}
	s.mu.Unlock()
	for _, notify := range notifies {
		notify()
	}
	return nil
}

// CreateOffer synthesizes the connection code. Host only, once per session:
// it builds the peer session if needed, attaches local tracks, pre-creates
// the caption channel, sets the local offer and waits for candidate
// gathering so the returned code is self-contained.
func (s *CallService) CreateOffer(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.phase == domain.PhaseEnded {
		s.mu.Unlock()
		return "", domain.ErrSessionEnded
	}
	if s.role != domain.RoleHost {
		s.mu.Unlock()
		return "", domain.ErrRoleMismatch
	}
	if s.offer != nil {
		s.mu.Unlock()
		return "", domain.ErrAlreadyOffered
	}
	pc, err := s.ensureSessionLocked()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	if _, exists := pc.LocalDescription(); exists {
		s.mu.Unlock()
		return "", domain.ErrAlreadyOffered
	}
	s.attachTracksLocked(pc)

	offer, err := pc.CreateOffer()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		s.mu.Unlock()
		return "", err
	}
	gathered := pc.GatheringComplete()
	s.mu.Unlock()

	if err := s.waitGathering(ctx, gathered); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return "", domain.ErrSessionEnded
	}
	desc, ok := pc.LocalDescription()
	if !ok {
		s.mu.Unlock()
		return "", domain.ErrWrongNegotiationState
	}
	s.offer = &desc
	s.mu.Unlock()

	log.Info().Str("session_id", s.id.String()).Msg("offer created, connection code ready")
	return signaling.Encode(desc)
}

// ApplyOffer applies a pasted connection code and produces the response
// code. Guest only; a second application fails with AlreadyApplied.
func (s *CallService) ApplyOffer(ctx context.Context, code string) (string, error) {
	desc, err := signaling.Decode(code)
	if err != nil {
		return "", err
	}
	if desc.Type != domain.SDPOffer {
		return "", domain.NewInvalidPayload("expected an offer, got %q", desc.Type)
	}

	s.mu.Lock()
	if s.phase == domain.PhaseEnded {
		s.mu.Unlock()
		return "", domain.ErrSessionEnded
	}
	if s.role != domain.RoleGuest {
		s.mu.Unlock()
		return "", domain.ErrRoleMismatch
	}
	if s.remoteApplied {
		s.mu.Unlock()
		return "", domain.ErrAlreadyApplied
	}
	pc, err := s.ensureSessionLocked()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	s.attachTracksLocked(pc)
	if err := pc.SetRemoteDescription(desc); err != nil {
		s.mu.Unlock()
		return "", domain.NewInvalidPayload("transport rejected offer: %v", err)
	}
	s.remoteApplied = true

	answer, err := pc.CreateAnswer()
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		s.mu.Unlock()
		return "", err
	}
	gathered := pc.GatheringComplete()
	s.mu.Unlock()

	if err := s.waitGathering(ctx, gathered); err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return "", domain.ErrSessionEnded
	}
	local, ok := pc.LocalDescription()
	if !ok {
		s.mu.Unlock()
		return "", domain.ErrWrongNegotiationState
	}
	s.answer = &local
	notify := s.noNotify()
	// The transport may already have connected while gathering; never
	// regress out of Connected.
	if s.phase == domain.PhaseWaitingOffer {
		notify = s.setPhaseLocked(domain.PhaseWaitingAnswer)
	}
	s.mu.Unlock()
	notify()

	log.Info().Str("session_id", s.id.String()).Msg("offer applied, response code ready")
	return signaling.Encode(local)
}

// ApplyAnswer applies the pasted response code. Host only, requires an
// existing local offer, no remote description yet, and the transport in
// exactly the offer-sent negotiation state.
func (s *CallService) ApplyAnswer(code string) error {
	desc, err := signaling.Decode(code)
	if err != nil {
		return err
	}
	if desc.Type != domain.SDPAnswer {
		return domain.NewInvalidPayload("expected an answer, got %q", desc.Type)
	}

	s.mu.Lock()
	if s.phase == domain.PhaseEnded {
		s.mu.Unlock()
		return domain.ErrSessionEnded
	}
	if s.role != domain.RoleHost {
		s.mu.Unlock()
		return domain.ErrRoleMismatch
	}
	if s.offer == nil {
		s.mu.Unlock()
		return domain.ErrNoOfferYet
	}
	if s.remoteApplied {
		s.mu.Unlock()
		return domain.ErrAlreadyApplied
	}
	pc := s.pc
	if pc == nil || pc.SignalingState() != domain.SignalingHaveLocalOffer {
		s.mu.Unlock()
		return domain.ErrWrongNegotiationState
	}
	if err := pc.SetRemoteDescription(desc); err != nil {
		s.mu.Unlock()
		return domain.NewInvalidPayload("transport rejected answer: %v", err)
	}
	s.remoteApplied = true
	s.answer = &desc
	notify := s.noNotify()
	if s.phase == domain.PhaseWaitingOffer || s.phase == domain.PhaseWaitingAnswer {
		notify = s.setPhaseLocked(domain.PhaseConnected)
	}
	s.mu.Unlock()
	notify()
	return nil
}

// SendCaption ships one finalized utterance to the peer. Delivery is
// best-effort: if the channel is not open yet the send is retried once after
// a short delay, then dropped.
func (s *CallService) SendCaption(text, language string) {
	msg := domain.NewCaption(text, language)
	data, err := msg.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("caption marshal failed")
		return
	}

	s.mu.Lock()
	ch := s.channel
	retry := s.cfg.CaptionRetryDelay
	s.mu.Unlock()
	if ch == nil {
		log.Debug().Msg("caption dropped: no channel yet")
		return
	}
	if ch.IsOpen() {
		if err := ch.Send(data); err != nil {
			log.Warn().Err(err).Msg("caption send failed")
		}
		return
	}
	time.AfterFunc(retry, func() {
		s.mu.Lock()
		stale := s.released || s.channel != ch
		s.mu.Unlock()
		if stale || !ch.IsOpen() {
			log.Debug().Msg("caption dropped: channel never opened")
			return
		}
		if err := ch.Send(data); err != nil {
			log.Warn().Err(err).Msg("caption send failed on retry")
		}
	})
}

// HangUp ends the call from any state. It is idempotent: callbacks are
// unregistered before resources are released, so a late transport callback
// observes released state and does nothing.
func (s *CallService) HangUp() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	pc := s.pc
	ch := s.channel
	if pc != nil {
		pc.OnConnectionStateChange(nil)
		pc.OnDataChannel(nil)
		pc.OnTrack(nil)
		pc.OnWarning(nil)
	}
	if ch != nil {
		ch.OnOpen(nil)
		ch.OnMessage(nil)
	}
	s.pc = nil
	s.channel = nil
	s.tracks = nil
	s.attached = 0
	s.offer = nil
	s.answer = nil
	s.remoteApplied = false
	s.transportConnected = false
	s.remoteTrack = nil
	notify := s.noNotify()
	if s.phase != domain.PhaseEnded {
		notify = s.setPhaseLocked(domain.PhaseEnded)
	}
	s.mu.Unlock()

	if ch != nil {
		if err := ch.Close(); err != nil {
			log.Debug().Err(err).Msg("caption channel close")
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Debug().Err(err).Msg("peer connection close")
		}
	}
	s.media.Release()
	notify()
	log.Info().Str("session_id", s.id.String()).Msg("call ended")
}

// ensureSessionLocked lazily builds the single peer session: wires the
// transport callbacks, and for the host pre-creates the caption channel.
// Callers hold s.mu.
func (s *CallService) ensureSessionLocked() (port.PeerConnection, error) {
	if s.pc != nil {
		return s.pc, nil
	}
	pc, err := s.transport.NewPeerConnection(port.SessionConfig{ICEServerURLs: s.cfg.ICEServerURLs})
	if err != nil {
		return nil, err
	}
	pc.OnConnectionStateChange(s.handleConnectionState)
	pc.OnDataChannel(s.handleChannelAnnounce)
	pc.OnTrack(s.handleRemoteTrack)
	pc.OnWarning(s.handleTransportWarning)

	if s.role == domain.RoleHost {
		ch, err := pc.CreateDataChannel(domain.CaptionChannelLabel)
		if err != nil {
			pc.Close()
			return nil, err
		}
		ch.OnMessage(s.handleChannelMessage)
		s.channel = ch
	}
	s.pc = pc
	log.Debug().Str("session_id", s.id.String()).Str("role", s.role.String()).Msg("peer session created")
	return pc, nil
}

// attachTracksLocked attaches any acquired local tracks not yet attached.
func (s *CallService) attachTracksLocked(pc port.PeerConnection) {
	for ; s.attached < len(s.tracks); s.attached++ {
		if err := pc.AddTrack(s.tracks[s.attached]); err != nil {
			log.Warn().Err(err).Msg("failed to attach local track")
		}
	}
}

func (s *CallService) waitGathering(ctx context.Context, gathered <-chan struct{}) error {
	if s.cfg.GatheringTimeout <= 0 {
		select {
		case <-gathered:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	timer := time.NewTimer(s.cfg.GatheringTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
		return nil
	case <-timer.C:
		return domain.ErrGatheringTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CallService) handleConnectionState(state domain.ConnectionState) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	log.Debug().Str("state", string(state)).Str("phase", s.phase.String()).Msg("transport state change")
	if state == domain.ConnectionConnected {
		s.transportConnected = true
		notify := s.noNotify()
		// A connected notification may precede the explicit phase
		// advance; short-circuit straight to Connected.
		if s.phase == domain.PhaseWaitingOffer || s.phase == domain.PhaseWaitingAnswer {
			notify = s.setPhaseLocked(domain.PhaseConnected)
		}
		s.mu.Unlock()
		notify()
		return
	}
	if state.Terminal() {
		s.mu.Unlock()
		s.HangUp()
		return
	}
	s.mu.Unlock()
}

func (s *CallService) handleChannelAnnounce(ch port.DataChannel) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		ch.Close()
		return
	}
	if ch.Label() != domain.CaptionChannelLabel {
		s.mu.Unlock()
		log.Debug().Str("label", ch.Label()).Msg("ignoring unknown channel announcement")
		return
	}
	if s.channel != nil {
		s.mu.Unlock()
		log.Debug().Msg("ignoring duplicate caption channel announcement")
		return
	}
	ch.OnMessage(s.handleChannelMessage)
	s.channel = ch
	s.mu.Unlock()
	log.Debug().Str("session_id", s.id.String()).Msg("caption channel received")
}

func (s *CallService) handleChannelMessage(data []byte) {
	msg, err := domain.DecodeCaption(data)
	if err != nil {
		// Malformed or foreign payloads never crash the session.
		log.Debug().Err(err).Msg("dropping unusable channel payload")
		return
	}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.lastRemoteCaption = &msg
	cb := s.onCaption
	s.mu.Unlock()
	if cb != nil {
		cb(msg)
	}
}

func (s *CallService) handleRemoteTrack(track port.RemoteTrack) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.remoteTrack = track
	s.mu.Unlock()
	log.Debug().Str("kind", track.Kind()).Str("track_id", track.ID()).Msg("remote track attached")
}

func (s *CallService) handleTransportWarning(err error) {
	warn := &domain.NetworkNegotiationWarning{Err: err}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	cb := s.onWarning
	s.mu.Unlock()
	log.Warn().Err(err).Msg("network negotiation warning")
	if cb != nil {
		cb(warn)
	}
}

func (s *CallService) setPhaseLocked(p domain.CallPhase) func() {
	from := s.phase
	s.phase = p
	cb := s.onPhase
	log.Info().Str("session_id", s.id.String()).Str("from", from.String()).Str("to", p.String()).Msg("call phase transition")
	return func() {
		if cb != nil {
			cb(p)
		}
	}
}

func (s *CallService) noNotify() func() { return func() {} }
