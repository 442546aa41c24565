// Package pion adapts pion/webrtc to the transport port. Gathering is
// non-trickle: descriptions are handed out only after candidate gathering
// completes, so the signaling codec can emit self-contained codes.
package pion

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/port"
)

const pliInterval = 3 * time.Second

// Transport builds pion peer connections sharing one API instance.
type Transport struct {
	api *webrtc.API
}

// NewTransport registers the default codecs and routes pion's internal
// logging into zerolog.
func NewTransport() *Transport {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		panic(err)
	}
	se := webrtc.SettingEngine{LoggerFactory: newLoggerFactory()}
	return &Transport{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)),
	}
}

func (t *Transport) NewPeerConnection(cfg port.SessionConfig) (port.PeerConnection, error) {
	conf := webrtc.Configuration{}
	if len(cfg.ICEServerURLs) > 0 {
		conf.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServerURLs}}
	}
	pc, err := t.api.NewPeerConnection(conf)
	if err != nil {
		return nil, err
	}
	p := &peerConnection{
		pc: pc,
		// Created before any description is set so the promise observes
		// the whole gathering run.
		gathered: webrtc.GatheringCompletePromise(pc),
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.mu.Lock()
		fn := p.onState
		p.mu.Unlock()
		if fn != nil {
			fn(mapConnectionState(state))
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.mu.Lock()
		fn := p.onDataChannel
		p.mu.Unlock()
		if fn != nil {
			fn(wrapDataChannel(dc))
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.handleRemoteTrack(remote)
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state != webrtc.ICEConnectionStateDisconnected {
			return
		}
		p.mu.Lock()
		fn := p.onWarning
		p.mu.Unlock()
		if fn != nil {
			fn(errors.New("ICE connectivity lost, candidates renegotiating"))
		}
	})
	return p, nil
}

type peerConnection struct {
	pc       *webrtc.PeerConnection
	gathered <-chan struct{}

	mu            sync.Mutex
	onState       func(domain.ConnectionState)
	onDataChannel func(port.DataChannel)
	onTrack       func(port.RemoteTrack)
	onWarning     func(error)
}

func (p *peerConnection) AddTrack(track port.MediaTrack) error {
	lt, ok := track.(*LocalTrack)
	if !ok {
		return fmt.Errorf("track %q was not produced by the pion media source", track.ID())
	}
	sender, err := p.pc.AddTrack(lt.track)
	if err != nil {
		return err
	}
	// Drain sender RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (p *peerConnection) CreateDataChannel(label string) (port.DataChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return wrapDataChannel(dc), nil
}

func (p *peerConnection) OnDataChannel(fn func(port.DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDataChannel = fn
}

func (p *peerConnection) OnTrack(fn func(port.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *peerConnection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *peerConnection) OnWarning(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWarning = fn
}

func (p *peerConnection) CreateOffer() (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: offer.SDP}, nil
}

func (p *peerConnection) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP}, nil
}

func (p *peerConnection) SetLocalDescription(desc domain.SessionDescription) error {
	sd, err := toWebRTC(desc)
	if err != nil {
		return err
	}
	return p.pc.SetLocalDescription(sd)
}

func (p *peerConnection) SetRemoteDescription(desc domain.SessionDescription) error {
	sd, err := toWebRTC(desc)
	if err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(sd)
}

func (p *peerConnection) LocalDescription() (domain.SessionDescription, bool) {
	sd := p.pc.LocalDescription()
	if sd == nil {
		return domain.SessionDescription{}, false
	}
	typ := domain.SDPOffer
	if sd.Type == webrtc.SDPTypeAnswer {
		typ = domain.SDPAnswer
	}
	return domain.SessionDescription{Type: typ, SDP: sd.SDP}, true
}

func (p *peerConnection) SignalingState() domain.SignalingState {
	switch p.pc.SignalingState() {
	case webrtc.SignalingStateStable:
		return domain.SignalingStable
	case webrtc.SignalingStateHaveLocalOffer:
		return domain.SignalingHaveLocalOffer
	case webrtc.SignalingStateHaveRemoteOffer:
		return domain.SignalingHaveRemoteOffer
	case webrtc.SignalingStateHaveLocalPranswer:
		return domain.SignalingHaveLocalPranswer
	case webrtc.SignalingStateHaveRemotePranswer:
		return domain.SignalingHaveRemotePranswer
	default:
		return domain.SignalingClosed
	}
}

func (p *peerConnection) GatheringComplete() <-chan struct{} { return p.gathered }

func (p *peerConnection) Close() error { return p.pc.Close() }

// handleRemoteTrack surfaces the inbound track and keeps video keyframes
// flowing with periodic PLI requests.
func (p *peerConnection) handleRemoteTrack(remote *webrtc.TrackRemote) {
	log.Debug().Str("kind", remote.Kind().String()).Str("track_id", remote.ID()).Msg("inbound track")
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(remoteTrack{id: remote.ID(), kind: remote.Kind().String()})
	}

	if remote.Kind() == webrtc.RTPCodecTypeVideo {
		go p.pliLoop(remote)
	}

	// Playback rendering is external; keep the receive buffer drained.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := remote.Read(buf); err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug().Err(err).Msg("remote track read ended")
				}
				return
			}
		}
	}()
}

func (p *peerConnection) pliLoop(remote *webrtc.TrackRemote) {
	sendPLI := func() {
		err := p.pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(remote.SSRC())},
		})
		if err != nil {
			// Benign on a closed connection.
			return
		}
	}
	sendPLI()
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for range ticker.C {
		if p.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
			return
		}
		sendPLI()
	}
}

type remoteTrack struct{ id, kind string }

func (r remoteTrack) ID() string   { return r.id }
func (r remoteTrack) Kind() string { return r.kind }

func toWebRTC(desc domain.SessionDescription) (webrtc.SessionDescription, error) {
	switch desc.Type {
	case domain.SDPOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}, nil
	case domain.SDPAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}, nil
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unknown description type %q", desc.Type)
	}
}

func mapConnectionState(state webrtc.PeerConnectionState) domain.ConnectionState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return domain.ConnectionNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.ConnectionFailed
	default:
		return domain.ConnectionClosed
	}
}

type dataChannel struct {
	dc *webrtc.DataChannel
}

func wrapDataChannel(dc *webrtc.DataChannel) port.DataChannel {
	return &dataChannel{dc: dc}
}

func (d *dataChannel) Label() string { return d.dc.Label() }

func (d *dataChannel) IsOpen() bool {
	return d.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (d *dataChannel) OnOpen(fn func()) {
	if fn == nil {
		d.dc.OnOpen(func() {})
		return
	}
	d.dc.OnOpen(fn)
}

func (d *dataChannel) OnMessage(fn func([]byte)) {
	if fn == nil {
		d.dc.OnMessage(func(webrtc.DataChannelMessage) {})
		return
	}
	d.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (d *dataChannel) Send(data []byte) error { return d.dc.Send(data) }

func (d *dataChannel) Close() error { return d.dc.Close() }
