package domain

// Role identifies which side of the call this process plays. It is fixed
// once per session and only reset by teardown.
type Role string

const (
	RoleUnassigned Role = ""
	RoleHost       Role = "host"
	RoleGuest      Role = "guest"
)

func (r Role) String() string {
	if r == RoleUnassigned {
		return "unassigned"
	}
	return string(r)
}

// CallPhase is the authoritative session lifecycle state. Exactly one phase
// exists per session; only the call service and its transport-state callback
// write it.
type CallPhase string

const (
	PhaseIdle          CallPhase = "idle"
	PhaseMediaReady    CallPhase = "media_ready"
	PhaseWaitingOffer  CallPhase = "waiting_offer"
	PhaseWaitingAnswer CallPhase = "waiting_answer"
	PhaseConnected     CallPhase = "connected"
	PhaseEnded         CallPhase = "ended"
)

func (p CallPhase) String() string { return string(p) }

// SDPType distinguishes the two halves of a description exchange.
type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

// SessionDescription is an opaque session description, complete with its
// gathered candidates once the transport reports gathering done.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// SignalingState mirrors the transport's negotiation state. The call service
// consults it to reject out-of-order description application.
type SignalingState string

const (
	SignalingStable             SignalingState = "stable"
	SignalingHaveLocalOffer     SignalingState = "have_local_offer"
	SignalingHaveRemoteOffer    SignalingState = "have_remote_offer"
	SignalingHaveLocalPranswer  SignalingState = "have_local_pranswer"
	SignalingHaveRemotePranswer SignalingState = "have_remote_pranswer"
	SignalingClosed             SignalingState = "closed"
)

// ConnectionState is the transport-level connection state. Changes arrive
// asynchronously and drive phase transitions.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// Terminal reports whether the state forces the call to end.
func (s ConnectionState) Terminal() bool {
	switch s {
	case ConnectionDisconnected, ConnectionFailed, ConnectionClosed:
		return true
	}
	return false
}
