package pion

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/port"
)

// LocalTrack wraps a pion local track so it can travel through the media
// port without leaking pion types into the core.
type LocalTrack struct {
	track *webrtc.TrackLocalStaticRTP
}

func (t *LocalTrack) ID() string   { return t.track.ID() }
func (t *LocalTrack) Kind() string { return t.track.Kind().String() }

// RTPSourceConfig names the loopback UDP ports an external capture process
// (ffmpeg, gstreamer) feeds RTP into.
type RTPSourceConfig struct {
	// AudioAddr receives Opus RTP, e.g. "127.0.0.1:5004".
	AudioAddr string
	// VideoAddr receives VP8 RTP, e.g. "127.0.0.1:5006". Empty disables
	// video.
	VideoAddr string
}

// RTPMediaSource turns locally ingested RTP into attachable tracks. Acquire
// binds the ports once and caches the tracks; failing to bind maps to
// MediaAccessDenied, the closest thing a headless capture path has to a
// permission refusal.
type RTPMediaSource struct {
	cfg RTPSourceConfig

	mu     sync.Mutex
	tracks []port.MediaTrack
	conns  []*net.UDPConn
}

func NewRTPMediaSource(cfg RTPSourceConfig) *RTPMediaSource {
	return &RTPMediaSource{cfg: cfg}
}

func (s *RTPMediaSource) Acquire(ctx context.Context) ([]port.MediaTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracks != nil {
		return s.tracks, nil
	}
	if s.cfg.AudioAddr == "" {
		return nil, fmt.Errorf("%w: no audio capture address configured", domain.ErrMediaAccessDenied)
	}

	var tracks []port.MediaTrack
	var conns []*net.UDPConn
	cleanup := func() {
		for _, c := range conns {
			c.Close()
		}
	}

	audio, conn, err := s.openTrack(s.cfg.AudioAddr, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio")
	if err != nil {
		return nil, err
	}
	tracks = append(tracks, audio)
	conns = append(conns, conn)

	if s.cfg.VideoAddr != "" {
		video, conn, err := s.openTrack(s.cfg.VideoAddr, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video")
		if err != nil {
			cleanup()
			return nil, err
		}
		tracks = append(tracks, video)
		conns = append(conns, conn)
	}

	s.tracks = tracks
	s.conns = conns
	return tracks, nil
}

func (s *RTPMediaSource) openTrack(addr string, codec webrtc.RTPCodecCapability, id string) (*LocalTrack, *net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad capture address %q: %v", domain.ErrMediaAccessDenied, addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cannot bind %q: %v", domain.ErrMediaAccessDenied, addr, err)
	}
	track, err := webrtc.NewTrackLocalStaticRTP(codec, id, "paircall")
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	go relayRTP(conn, track)
	log.Debug().Str("addr", addr).Str("kind", id).Msg("local capture port bound")
	return &LocalTrack{track: track}, conn, nil
}

// relayRTP copies raw RTP packets from the capture socket onto the track
// until the socket closes.
func relayRTP(conn *net.UDPConn, track *webrtc.TrackLocalStaticRTP) {
	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if _, err := track.Write(buf[:n]); err != nil {
			return
		}
	}
}

func (s *RTPMediaSource) Release() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.tracks = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
