package memory

import (
	"context"
	"sync"

	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/port"
)

// Track is a minimal local media track for in-memory sessions.
type Track struct {
	TrackID   string
	TrackKind string
}

func (t Track) ID() string   { return t.TrackID }
func (t Track) Kind() string { return t.TrackKind }

// MediaSource hands out a fixed audio+video track pair. Deny makes every
// acquisition fail with MediaAccessDenied.
type MediaSource struct {
	Deny bool

	mu       sync.Mutex
	acquired bool
	releases int
}

func (m *MediaSource) Acquire(ctx context.Context) ([]port.MediaTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Deny {
		return nil, domain.ErrMediaAccessDenied
	}
	m.acquired = true
	return []port.MediaTrack{
		Track{TrackID: "mem-audio", TrackKind: "audio"},
		Track{TrackID: "mem-video", TrackKind: "video"},
	}, nil
}

func (m *MediaSource) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquired = false
	m.releases++
}

// Releases reports how many times Release was called. Test hook.
func (m *MediaSource) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}
