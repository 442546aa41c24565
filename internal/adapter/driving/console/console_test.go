package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/paircall/paircall/internal/adapter/driven/recognizer"
	"github.com/paircall/paircall/internal/adapter/driven/translate"
	"github.com/paircall/paircall/internal/adapter/driven/transport/memory"
	"github.com/paircall/paircall/internal/core/port"
	"github.com/paircall/paircall/internal/core/service"
)

func newConsole(t *testing.T, side port.Transport, in string) (*Console, *bytes.Buffer) {
	t.Helper()
	call := service.NewCallService(side, &memory.MediaSource{}, service.CallConfig{})
	captions := service.NewCaptionService(recognizer.NewWS(recognizer.WSConfig{}), call, service.CaptionConfig{})
	translations := service.NewTranslationService(translate.NewStub(nil), service.TranslationConfig{})
	t.Cleanup(call.HangUp)

	out := &bytes.Buffer{}
	return New(call, captions, translations, strings.NewReader(in), out), out
}

func TestConsoleHostFlowPrintsCode(t *testing.T) {
	t.Parallel()

	c, out := newConsole(t, memory.NewLink().SideA(), "host\nmedia\noffer\nstatus\nquit\n")
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "send this connection code") {
		t.Errorf("offer produced no code prompt:\n%s", got)
	}
	if !strings.Contains(got, `{"type":"offer"`) {
		t.Errorf("output carries no offer code:\n%s", got)
	}
	if !strings.Contains(got, "role:    host") {
		t.Errorf("status missing role:\n%s", got)
	}
}

func TestConsoleReportsErrorsAndUnknownCommands(t *testing.T) {
	t.Parallel()

	c, out := newConsole(t, memory.NewLink().SideA(), "offer\naccept not-a-code\nfrobnicate\nquit\n")
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "error:") {
		t.Errorf("offer without a role reported nothing:\n%s", got)
	}
	if !strings.Contains(got, "that code was not usable") {
		t.Errorf("bad code not reported as unusable:\n%s", got)
	}
	if !strings.Contains(got, `unknown command "frobnicate"`) {
		t.Errorf("unknown command not flagged:\n%s", got)
	}
}

func TestConsoleStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	c, _ := newConsole(t, memory.NewLink().SideA(), "")
	// A reader that never yields a line.
	c.in = blockingReader{}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Run returned nil after cancel")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

type blockingReader struct{}

func (blockingReader) Read(p []byte) (int, error) {
	select {}
}
