package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paircall/paircall/internal/adapter/driven/transport/memory"
	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/signaling"
)

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", msg)
}

type pair struct {
	link        *memory.Link
	host, guest *CallService
	hostMedia   *memory.MediaSource
	guestMedia  *memory.MediaSource
}

func newPair(t *testing.T, cfg CallConfig) *pair {
	t.Helper()
	link := memory.NewLink()
	hostMedia := &memory.MediaSource{}
	guestMedia := &memory.MediaSource{}
	p := &pair{
		link:       link,
		host:       NewCallService(link.SideA(), hostMedia, cfg),
		guest:      NewCallService(link.SideB(), guestMedia, cfg),
		hostMedia:  hostMedia,
		guestMedia: guestMedia,
	}
	t.Cleanup(func() {
		p.host.HangUp()
		p.guest.HangUp()
	})
	return p
}

// connect drives the full manual exchange and returns the two codes.
func (p *pair) connect(t *testing.T) (offerCode, answerCode string) {
	t.Helper()
	ctx := context.Background()
	if err := p.host.SetRole(domain.RoleHost); err != nil {
		t.Fatalf("host SetRole: %v", err)
	}
	if err := p.host.AcquireMedia(ctx); err != nil {
		t.Fatalf("host AcquireMedia: %v", err)
	}
	offerCode, err := p.host.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := p.guest.SetRole(domain.RoleGuest); err != nil {
		t.Fatalf("guest SetRole: %v", err)
	}
	if err := p.guest.AcquireMedia(ctx); err != nil {
		t.Fatalf("guest AcquireMedia: %v", err)
	}
	answerCode, err = p.guest.ApplyOffer(ctx, offerCode)
	if err != nil {
		t.Fatalf("ApplyOffer: %v", err)
	}
	if err := p.host.ApplyAnswer(answerCode); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}
	return offerCode, answerCode
}

func TestScenarioHostGuestHandshake(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{})
	ctx := context.Background()

	var hostPhases []domain.CallPhase
	p.host.OnPhaseChange(func(ph domain.CallPhase) { hostPhases = append(hostPhases, ph) })

	if err := p.host.SetRole(domain.RoleHost); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if err := p.host.AcquireMedia(ctx); err != nil {
		t.Fatalf("AcquireMedia: %v", err)
	}
	if got := p.host.Phase(); got != domain.PhaseWaitingOffer {
		t.Fatalf("host phase after media = %s, want %s", got, domain.PhaseWaitingOffer)
	}
	if len(hostPhases) < 2 || hostPhases[0] != domain.PhaseMediaReady || hostPhases[1] != domain.PhaseWaitingOffer {
		t.Errorf("host phase sequence = %v, want [media_ready waiting_offer]", hostPhases)
	}

	offerCode, err := p.host.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if _, err := signaling.Decode(offerCode); err != nil {
		t.Fatalf("connection code does not decode: %v", err)
	}

	if err := p.guest.SetRole(domain.RoleGuest); err != nil {
		t.Fatalf("guest SetRole: %v", err)
	}
	if err := p.guest.AcquireMedia(ctx); err != nil {
		t.Fatalf("guest AcquireMedia: %v", err)
	}
	answerCode, err := p.guest.ApplyOffer(ctx, offerCode)
	if err != nil {
		t.Fatalf("ApplyOffer: %v", err)
	}
	if got := p.guest.Phase(); got != domain.PhaseWaitingAnswer {
		t.Fatalf("guest phase after answering = %s, want %s", got, domain.PhaseWaitingAnswer)
	}

	if err := p.host.ApplyAnswer(answerCode); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}
	if got := p.host.Phase(); got != domain.PhaseConnected {
		t.Fatalf("host phase after answer = %s, want %s", got, domain.PhaseConnected)
	}
	eventually(t, func() bool { return p.guest.Phase() == domain.PhaseConnected },
		"guest never reached connected")
}

func TestCreateOfferOnlyOnce(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{})
	ctx := context.Background()
	p.host.SetRole(domain.RoleHost)
	p.host.AcquireMedia(ctx)

	first, err := p.host.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("first CreateOffer: %v", err)
	}
	if _, err := p.host.CreateOffer(ctx); !errors.Is(err, domain.ErrAlreadyOffered) {
		t.Fatalf("second CreateOffer error = %v, want ErrAlreadyOffered", err)
	}

	// The first payload is unchanged: the stored local description still
	// decodes to the same offer.
	desc, err := signaling.Decode(first)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if desc.Type != domain.SDPOffer {
		t.Errorf("payload type mutated to %s", desc.Type)
	}
	if p.host.Phase() != domain.PhaseWaitingOffer {
		t.Errorf("failed second offer mutated phase to %s", p.host.Phase())
	}
}

func TestCreateOfferRoleChecks(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{})
	ctx := context.Background()

	if _, err := p.host.CreateOffer(ctx); !errors.Is(err, domain.ErrRoleMismatch) {
		t.Errorf("unassigned CreateOffer error = %v, want ErrRoleMismatch", err)
	}
	p.guest.SetRole(domain.RoleGuest)
	if _, err := p.guest.CreateOffer(ctx); !errors.Is(err, domain.ErrRoleMismatch) {
		t.Errorf("guest CreateOffer error = %v, want ErrRoleMismatch", err)
	}
	if err := p.guest.SetRole(domain.RoleHost); !errors.Is(err, domain.ErrRoleMismatch) {
		t.Errorf("role reassignment error = %v, want ErrRoleMismatch", err)
	}
}

func TestApplyAnswerGuards(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{})
	ctx := context.Background()
	p.host.SetRole(domain.RoleHost)
	p.host.AcquireMedia(ctx)

	answerCode, err := signaling.Encode(domain.SessionDescription{
		Type: domain.SDPAnswer,
		SDP:  "v=0\r\no=- crafted 1 IN IP4 127.0.0.1\r\n",
	})
	if err != nil {
		t.Fatalf("encode crafted answer: %v", err)
	}

	if err := p.host.ApplyAnswer(answerCode); !errors.Is(err, domain.ErrNoOfferYet) {
		t.Fatalf("ApplyAnswer before offer = %v, want ErrNoOfferYet", err)
	}

	if _, err := p.host.CreateOffer(ctx); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	// Pin the transport in a state other than offer-sent.
	p.link.PeerA().ForceSignalingState(domain.SignalingStable)
	if err := p.host.ApplyAnswer(answerCode); !errors.Is(err, domain.ErrWrongNegotiationState) {
		t.Fatalf("ApplyAnswer in wrong state = %v, want ErrWrongNegotiationState", err)
	}
	if p.host.Phase() != domain.PhaseWaitingOffer {
		t.Errorf("rejected ApplyAnswer mutated phase to %s", p.host.Phase())
	}

	p.link.PeerA().ForceSignalingState(domain.SignalingHaveLocalOffer)
	if err := p.host.ApplyAnswer("not a code"); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Fatalf("ApplyAnswer with junk = %v, want ErrInvalidPayload", err)
	}

	if err := p.host.ApplyAnswer(answerCode); err != nil {
		t.Fatalf("valid ApplyAnswer: %v", err)
	}
	if err := p.host.ApplyAnswer(answerCode); !errors.Is(err, domain.ErrAlreadyApplied) {
		t.Fatalf("second ApplyAnswer = %v, want ErrAlreadyApplied", err)
	}
}

func TestGuestApplyOfferGuards(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{})
	ctx := context.Background()

	p.host.SetRole(domain.RoleHost)
	p.host.AcquireMedia(ctx)
	offerCode, err := p.host.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	if _, err := p.host.ApplyOffer(ctx, offerCode); !errors.Is(err, domain.ErrRoleMismatch) {
		t.Errorf("host ApplyOffer = %v, want ErrRoleMismatch", err)
	}

	p.guest.SetRole(domain.RoleGuest)
	p.guest.AcquireMedia(ctx)
	if _, err := p.guest.ApplyOffer(ctx, "garbage with no json"); !errors.Is(err, domain.ErrInvalidPayload) {
		t.Errorf("ApplyOffer junk = %v, want ErrInvalidPayload", err)
	}
	if _, err := p.guest.ApplyOffer(ctx, offerCode); err != nil {
		t.Fatalf("ApplyOffer: %v", err)
	}
	if _, err := p.guest.ApplyOffer(ctx, offerCode); !errors.Is(err, domain.ErrAlreadyApplied) {
		t.Errorf("second ApplyOffer = %v, want ErrAlreadyApplied", err)
	}
}

func TestMediaDenied(t *testing.T) {
	t.Parallel()

	link := memory.NewLink()
	media := &memory.MediaSource{Deny: true}
	call := NewCallService(link.SideA(), media, CallConfig{})
	defer call.HangUp()

	if err := call.AcquireMedia(context.Background()); !errors.Is(err, domain.ErrMediaAccessDenied) {
		t.Fatalf("AcquireMedia = %v, want ErrMediaAccessDenied", err)
	}
	if call.Phase() != domain.PhaseIdle {
		t.Errorf("denied media mutated phase to %s", call.Phase())
	}
}

func TestCaptionDelivery(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{CaptionRetryDelay: 50 * time.Millisecond})

	var remote []domain.CaptionMessage
	done := make(chan struct{}, 8)
	p.guest.OnRemoteCaption(func(m domain.CaptionMessage) {
		remote = append(remote, m)
		done <- struct{}{}
	})

	p.connect(t)
	eventually(t, func() bool { return p.guest.Phase() == domain.PhaseConnected }, "guest connect")

	p.host.SendCaption("hello over there", "en")
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("caption never delivered")
	}
	if remote[0].Text != "hello over there" || remote[0].Kind != domain.CaptionKind {
		t.Errorf("unexpected caption %+v", remote[0])
	}
	if remote[0].Timestamp == 0 {
		t.Error("caption missing timestamp")
	}
	if got, ok := p.guest.RemoteCaption(); !ok || got.Text != "hello over there" {
		t.Errorf("RemoteCaption = %+v, %v", got, ok)
	}
}

func TestCaptionSendRetriesOnceBeforeOpen(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{CaptionRetryDelay: 80 * time.Millisecond})
	ctx := context.Background()

	delivered := make(chan domain.CaptionMessage, 1)
	p.guest.OnRemoteCaption(func(m domain.CaptionMessage) { delivered <- m })

	p.host.SetRole(domain.RoleHost)
	p.host.AcquireMedia(ctx)
	offerCode, err := p.host.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	// The channel exists but is not open yet; the send arms its single
	// retry while the handshake completes underneath it.
	p.host.SendCaption("early bird", "en")

	p.guest.SetRole(domain.RoleGuest)
	p.guest.AcquireMedia(ctx)
	answerCode, err := p.guest.ApplyOffer(ctx, offerCode)
	if err != nil {
		t.Fatalf("ApplyOffer: %v", err)
	}
	if err := p.host.ApplyAnswer(answerCode); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}

	select {
	case m := <-delivered:
		if m.Text != "early bird" {
			t.Errorf("got %q", m.Text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("retried caption never delivered")
	}
}

func TestNonCaptionPayloadsDropped(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{})
	p.guest.OnRemoteCaption(func(m domain.CaptionMessage) {
		t.Errorf("unexpected caption delivered: %+v", m)
	})
	p.connect(t)
	eventually(t, func() bool { return p.guest.Phase() == domain.PhaseConnected }, "guest connect")

	ch, ok := p.link.PeerB().Channel(domain.CaptionChannelLabel)
	if !ok {
		t.Fatal("guest has no caption channel")
	}
	eventually(t, ch.IsOpen, "channel open")

	for _, payload := range []string{`{"kind":"ping"}`, `{broken`, `42`, ``} {
		if err := ch.Send([]byte(payload)); err != nil {
			t.Fatalf("Send(%q): %v", payload, err)
		}
	}
	time.Sleep(100 * time.Millisecond)
	if _, ok := p.host.RemoteCaption(); ok {
		t.Error("non-caption payload updated remote caption state")
	}
}

func TestDuplicateChannelAnnouncementIgnored(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{})
	p.connect(t)
	eventually(t, func() bool { return p.guest.Phase() == domain.PhaseConnected }, "guest connect")

	first, ok := p.link.PeerB().Channel(domain.CaptionChannelLabel)
	if !ok {
		t.Fatal("no guest channel")
	}
	// A second announcement with the caption label must not replace the
	// wired channel.
	dup := &fakeChannel{label: domain.CaptionChannelLabel}
	p.guest.handleChannelAnnounce(dup)
	if dup.gotHandler {
		t.Error("duplicate announcement was wired up")
	}
	// An unrelated label is ignored outright.
	other := &fakeChannel{label: "files"}
	p.guest.handleChannelAnnounce(other)
	if other.gotHandler {
		t.Error("foreign channel announcement was wired up")
	}
	_ = first
}

type fakeChannel struct {
	label      string
	gotHandler bool
}

func (f *fakeChannel) Label() string          { return f.label }
func (f *fakeChannel) IsOpen() bool           { return true }
func (f *fakeChannel) OnOpen(func())          {}
func (f *fakeChannel) OnMessage(fn func([]byte)) {
	if fn != nil {
		f.gotHandler = true
	}
}
func (f *fakeChannel) Send([]byte) error { return nil }
func (f *fakeChannel) Close() error      { return nil }

func TestHangUpIdempotentAndLateCallbacksNoOp(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{})
	p.connect(t)
	eventually(t, func() bool { return p.guest.Phase() == domain.PhaseConnected }, "guest connect")

	before := p.hostMedia.Releases()
	p.host.HangUp()
	p.host.HangUp()
	if got := p.hostMedia.Releases(); got != before+1 {
		t.Errorf("media released %d times after double hang-up, want %d", got, before+1)
	}
	if p.host.Phase() != domain.PhaseEnded {
		t.Fatalf("phase after hang-up = %s", p.host.Phase())
	}

	// A queued transport callback delivered after hang-up must observe
	// released state and do nothing.
	p.host.handleConnectionState(domain.ConnectionConnected)
	p.host.handleChannelMessage([]byte(`{"kind":"caption","text":"late","language":"en","timestamp":1}`))
	if p.host.Phase() != domain.PhaseEnded {
		t.Errorf("late callback mutated phase to %s", p.host.Phase())
	}
	if _, ok := p.host.RemoteCaption(); ok {
		t.Error("late caption mutated released state")
	}

	// Transport-level drop ends the surviving side.
	p.link.Drop()
	eventually(t, func() bool { return p.guest.Phase() == domain.PhaseEnded }, "guest ended after drop")
}

func TestHangUpFromAnyState(t *testing.T) {
	t.Parallel()

	link := memory.NewLink()
	call := NewCallService(link.SideA(), &memory.MediaSource{}, CallConfig{})
	call.HangUp()
	if call.Phase() != domain.PhaseEnded {
		t.Fatalf("phase = %s, want ended", call.Phase())
	}
	if err := call.SetRole(domain.RoleHost); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("SetRole after end = %v, want ErrSessionEnded", err)
	}
	if err := call.AcquireMedia(context.Background()); !errors.Is(err, domain.ErrSessionEnded) {
		t.Errorf("AcquireMedia after end = %v, want ErrSessionEnded", err)
	}
}

func TestTransportConnectShortCircuitsPhase(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{})
	ctx := context.Background()
	p.guest.SetRole(domain.RoleGuest)
	p.guest.AcquireMedia(ctx)
	if p.guest.Phase() != domain.PhaseWaitingOffer {
		t.Fatalf("phase = %s", p.guest.Phase())
	}
	// The transport reports connected before any explicit phase advance.
	p.guest.handleConnectionState(domain.ConnectionConnected)
	if p.guest.Phase() != domain.PhaseConnected {
		t.Fatalf("early transport connect did not short-circuit, phase = %s", p.guest.Phase())
	}
}

func TestNegotiationWarningDoesNotChangePhase(t *testing.T) {
	t.Parallel()

	p := newPair(t, CallConfig{})
	ctx := context.Background()
	p.host.SetRole(domain.RoleHost)
	p.host.AcquireMedia(ctx)
	if _, err := p.host.CreateOffer(ctx); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	warned := make(chan error, 1)
	p.host.OnWarning(func(err error) { warned <- err })
	p.link.PeerA().EmitWarning(errors.New("stun binding failed"))

	select {
	case err := <-warned:
		var w *domain.NetworkNegotiationWarning
		if !errors.As(err, &w) {
			t.Errorf("warning type = %T", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("warning never surfaced")
	}
	if p.host.Phase() != domain.PhaseWaitingOffer {
		t.Errorf("warning mutated phase to %s", p.host.Phase())
	}
}
