package port

import (
	"github.com/paircall/paircall/internal/core/domain"
)

// SessionConfig carries the transport parameters for one peer connection.
type SessionConfig struct {
	// ICEServerURLs lists STUN/TURN server URLs handed to the transport.
	ICEServerURLs []string
}

// Transport is the real-time transport capability. NAT traversal, media
// encode/decode and encryption all live behind it; the core only drives
// descriptions, tracks and the auxiliary channel.
type Transport interface {
	NewPeerConnection(cfg SessionConfig) (PeerConnection, error)
}

// PeerConnection is one transport session. Callbacks registered on it may
// fire from transport goroutines at any time, including after Close; passing
// nil unregisters a callback.
type PeerConnection interface {
	AddTrack(track MediaTrack) error
	CreateDataChannel(label string) (DataChannel, error)
	OnDataChannel(fn func(DataChannel))
	OnTrack(fn func(RemoteTrack))
	OnConnectionStateChange(fn func(domain.ConnectionState))
	OnWarning(fn func(error))

	CreateOffer() (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetLocalDescription(desc domain.SessionDescription) error
	SetRemoteDescription(desc domain.SessionDescription) error
	// LocalDescription returns the local description including any
	// candidates gathered so far.
	LocalDescription() (domain.SessionDescription, bool)
	SignalingState() domain.SignalingState
	// GatheringComplete is closed once candidate gathering finishes.
	GatheringComplete() <-chan struct{}

	Close() error
}

// DataChannel is the reliable, ordered auxiliary channel carried by the
// session.
type DataChannel interface {
	Label() string
	IsOpen() bool
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	Send(data []byte) error
	Close() error
}

// RemoteTrack is an inbound media track, exposed only for playback wiring.
type RemoteTrack interface {
	ID() string
	Kind() string
}
