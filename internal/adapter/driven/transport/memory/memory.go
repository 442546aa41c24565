// Package memory provides an in-process transport pair. Two peer
// connections created from the same Link negotiate through plain struct
// state instead of a network, which makes session orchestration fully
// deterministic in tests.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/port"
)

const (
	sideA = 0
	sideB = 1
)

// Link couples two transports. Once both sides have applied local and
// remote descriptions, the link reports connected on both peer connections
// and announces side A's channels to side B and vice versa.
type Link struct {
	mu  sync.Mutex
	pcs [2]*PeerConnection
}

func NewLink() *Link { return &Link{} }

// SideA returns the transport for the first party.
func (l *Link) SideA() port.Transport { return &Transport{link: l, side: sideA} }

// SideB returns the transport for the second party.
func (l *Link) SideB() port.Transport { return &Transport{link: l, side: sideB} }

// PeerA exposes side A's peer connection for test inspection.
func (l *Link) PeerA() *PeerConnection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pcs[sideA]
}

// PeerB exposes side B's peer connection for test inspection.
func (l *Link) PeerB() *PeerConnection {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pcs[sideB]
}

// Drop simulates a transport-level failure on both sides.
func (l *Link) Drop() {
	l.mu.Lock()
	pcs := l.pcs
	l.mu.Unlock()
	for _, pc := range pcs {
		if pc != nil {
			pc.FireConnectionState(domain.ConnectionFailed)
		}
	}
}

// Transport implements port.Transport for one side of a link.
type Transport struct {
	link *Link
	side int
}

func (t *Transport) NewPeerConnection(cfg port.SessionConfig) (port.PeerConnection, error) {
	t.link.mu.Lock()
	defer t.link.mu.Unlock()
	if t.link.pcs[t.side] != nil {
		return nil, errors.New("memory transport: connection already created for this side")
	}
	pc := &PeerConnection{
		link:       t.link,
		side:       t.side,
		signaling:  domain.SignalingStable,
		gathered:   make(chan struct{}),
		channels:   map[string]*DataChannel{},
		iceServers: cfg.ICEServerURLs,
	}
	t.link.pcs[t.side] = pc
	return pc, nil
}

// PeerConnection is one side of the in-memory session.
type PeerConnection struct {
	link *Link
	side int

	mu          sync.Mutex
	iceServers  []string
	local       *domain.SessionDescription
	remote      *domain.SessionDescription
	signaling   domain.SignalingState
	forcedState *domain.SignalingState
	gathered    chan struct{}
	gatherDone  bool
	closed      bool
	connected   bool
	tracks      []port.MediaTrack
	channels    map[string]*DataChannel

	onDataChannel func(port.DataChannel)
	onTrack       func(port.RemoteTrack)
	onState       func(domain.ConnectionState)
	onWarning     func(error)
}

func (p *PeerConnection) AddTrack(track port.MediaTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("memory transport: connection closed")
	}
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *PeerConnection) CreateDataChannel(label string) (port.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("memory transport: connection closed")
	}
	if _, exists := p.channels[label]; exists {
		return nil, fmt.Errorf("memory transport: channel %q already exists", label)
	}
	ch := &DataChannel{label: label, owner: p}
	p.channels[label] = ch
	return ch, nil
}

func (p *PeerConnection) OnDataChannel(fn func(port.DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDataChannel = fn
}

func (p *PeerConnection) OnTrack(fn func(port.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *PeerConnection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *PeerConnection) OnWarning(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWarning = fn
}

func (p *PeerConnection) CreateOffer() (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.SessionDescription{}, errors.New("memory transport: connection closed")
	}
	sdp := fmt.Sprintf("v=0\r\no=- memory-%d 1 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n", p.side)
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: sdp}, nil
}

func (p *PeerConnection) CreateAnswer() (domain.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.SessionDescription{}, errors.New("memory transport: connection closed")
	}
	if p.remote == nil || p.remote.Type != domain.SDPOffer {
		return domain.SessionDescription{}, errors.New("memory transport: no remote offer to answer")
	}
	sdp := fmt.Sprintf("v=0\r\no=- memory-%d 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n", p.side)
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: sdp}, nil
}

func (p *PeerConnection) SetLocalDescription(desc domain.SessionDescription) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("memory transport: connection closed")
	}
	switch desc.Type {
	case domain.SDPOffer:
		if p.signaling != domain.SignalingStable {
			p.mu.Unlock()
			return fmt.Errorf("memory transport: cannot set local offer in state %s", p.signaling)
		}
		p.signaling = domain.SignalingHaveLocalOffer
	case domain.SDPAnswer:
		if p.signaling != domain.SignalingHaveRemoteOffer {
			p.mu.Unlock()
			return fmt.Errorf("memory transport: cannot set local answer in state %s", p.signaling)
		}
		p.signaling = domain.SignalingStable
	default:
		p.mu.Unlock()
		return fmt.Errorf("memory transport: unknown description type %q", desc.Type)
	}
	// Gathering completes instantly: candidates are appended right away.
	withCandidates := desc
	withCandidates.SDP += "a=candidate:1 1 udp 2130706431 127.0.0.1 4242 typ host\r\n"
	p.local = &withCandidates
	if !p.gatherDone {
		p.gatherDone = true
		close(p.gathered)
	}
	p.mu.Unlock()
	p.link.maybeConnect()
	return nil
}

func (p *PeerConnection) SetRemoteDescription(desc domain.SessionDescription) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("memory transport: connection closed")
	}
	switch desc.Type {
	case domain.SDPOffer:
		if p.signaling != domain.SignalingStable {
			p.mu.Unlock()
			return fmt.Errorf("memory transport: cannot set remote offer in state %s", p.signaling)
		}
		p.signaling = domain.SignalingHaveRemoteOffer
	case domain.SDPAnswer:
		if p.signaling != domain.SignalingHaveLocalOffer {
			p.mu.Unlock()
			return fmt.Errorf("memory transport: cannot set remote answer in state %s", p.signaling)
		}
		p.signaling = domain.SignalingStable
	default:
		p.mu.Unlock()
		return fmt.Errorf("memory transport: unknown description type %q", desc.Type)
	}
	p.remote = &desc
	p.mu.Unlock()
	p.link.maybeConnect()
	return nil
}

func (p *PeerConnection) LocalDescription() (domain.SessionDescription, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		return domain.SessionDescription{}, false
	}
	return *p.local, true
}

func (p *PeerConnection) SignalingState() domain.SignalingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.forcedState != nil {
		return *p.forcedState
	}
	return p.signaling
}

func (p *PeerConnection) GatheringComplete() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gathered
}

func (p *PeerConnection) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.connected = false
	chans := p.channels
	p.channels = map[string]*DataChannel{}
	p.mu.Unlock()
	for _, ch := range chans {
		ch.Close()
	}
	return nil
}

// Channel exposes a local channel object for test injection.
func (p *PeerConnection) Channel(label string) (*DataChannel, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[label]
	return ch, ok
}

// ForceSignalingState pins the reported negotiation state. Test hook.
func (p *PeerConnection) ForceSignalingState(s domain.SignalingState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forcedState = &s
}

// FireConnectionState delivers a transport state change asynchronously,
// like a real transport would. Test hook and link-internal.
func (p *PeerConnection) FireConnectionState(state domain.ConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		go fn(state)
	}
}

// EmitWarning delivers a non-fatal negotiation warning. Test hook.
func (p *PeerConnection) EmitWarning(err error) {
	p.mu.Lock()
	fn := p.onWarning
	p.mu.Unlock()
	if fn != nil {
		go fn(err)
	}
}

// maybeConnect flips both sides to connected once the full offer/answer
// exchange happened, then pairs and announces data channels and tracks.
func (l *Link) maybeConnect() {
	l.mu.Lock()
	a, b := l.pcs[sideA], l.pcs[sideB]
	l.mu.Unlock()
	if a == nil || b == nil {
		return
	}
	if !a.negotiated() || !b.negotiated() {
		return
	}
	a.markConnected()
	b.markConnected()
	pairChannels(a, b)
	pairChannels(b, a)
	announceTracks(a, b)
	announceTracks(b, a)
}

func (p *PeerConnection) negotiated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && p.local != nil && p.remote != nil && p.signaling == domain.SignalingStable
}

func (p *PeerConnection) markConnected() {
	p.mu.Lock()
	already := p.connected
	p.connected = true
	p.mu.Unlock()
	if !already {
		p.FireConnectionState(domain.ConnectionConnected)
	}
}

// pairChannels mirrors channels created on src onto dst and opens both ends.
func pairChannels(src, dst *PeerConnection) {
	src.mu.Lock()
	var created []*DataChannel
	for _, ch := range src.channels {
		if ch.peer() == nil {
			created = append(created, ch)
		}
	}
	src.mu.Unlock()

	for _, ch := range created {
		dst.mu.Lock()
		if _, exists := dst.channels[ch.label]; exists {
			dst.mu.Unlock()
			continue
		}
		mirror := &DataChannel{label: ch.label, owner: dst}
		dst.channels[ch.label] = mirror
		announce := dst.onDataChannel
		dst.mu.Unlock()

		ch.pairWith(mirror)
		mirror.pairWith(ch)
		if announce != nil {
			go announce(mirror)
		}
		ch.open()
		mirror.open()
	}
}

func announceTracks(src, dst *PeerConnection) {
	src.mu.Lock()
	tracks := append([]port.MediaTrack(nil), src.tracks...)
	src.mu.Unlock()
	dst.mu.Lock()
	fn := dst.onTrack
	dst.mu.Unlock()
	if fn == nil {
		return
	}
	for _, t := range tracks {
		go fn(remoteTrack{id: t.ID(), kind: t.Kind()})
	}
}

type remoteTrack struct{ id, kind string }

func (r remoteTrack) ID() string   { return r.id }
func (r remoteTrack) Kind() string { return r.kind }

// DataChannel is one end of an in-memory reliable channel.
type DataChannel struct {
	label string
	owner *PeerConnection

	mu        sync.Mutex
	other     *DataChannel
	opened    bool
	closed    bool
	onOpen    func()
	onMessage func([]byte)
}

func (d *DataChannel) Label() string { return d.label }

func (d *DataChannel) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened && !d.closed
}

func (d *DataChannel) OnOpen(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onOpen = fn
}

func (d *DataChannel) OnMessage(fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onMessage = fn
}

func (d *DataChannel) Send(data []byte) error {
	d.mu.Lock()
	if d.closed || !d.opened {
		d.mu.Unlock()
		return errors.New("memory transport: channel not open")
	}
	other := d.other
	d.mu.Unlock()
	if other == nil {
		return errors.New("memory transport: channel not paired")
	}
	other.deliver(append([]byte(nil), data...))
	return nil
}

func (d *DataChannel) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *DataChannel) pairWith(other *DataChannel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.other = other
}

func (d *DataChannel) peer() *DataChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.other
}

func (d *DataChannel) open() {
	d.mu.Lock()
	already := d.opened
	d.opened = true
	fn := d.onOpen
	d.mu.Unlock()
	if !already && fn != nil {
		go fn()
	}
}

func (d *DataChannel) deliver(data []byte) {
	d.mu.Lock()
	fn := d.onMessage
	closed := d.closed
	d.mu.Unlock()
	if closed || fn == nil {
		return
	}
	go fn(data)
}
