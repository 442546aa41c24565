package port

import "context"

// MediaTrack is a local track ready to be attached to a peer connection.
// Concrete track types belong to the transport adapter that produced them.
type MediaTrack interface {
	ID() string
	Kind() string
}

// MediaSource is the camera+microphone capability. Acquire is idempotent:
// the first call prompts or opens devices, later calls return the cached
// tracks without prompting again.
type MediaSource interface {
	Acquire(ctx context.Context) ([]MediaTrack, error)
	Release()
}
