// Package console is the interactive terminal surface. The two parties read
// connection and response codes off their screens and paste them to each
// other over any side channel.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/paircall/paircall/internal/core/domain"
	"github.com/paircall/paircall/internal/core/service"
)

type Console struct {
	call         *service.CallService
	captions     *service.CaptionService
	translations *service.TranslationService
	in           io.Reader
	out          io.Writer
}

func New(call *service.CallService, captions *service.CaptionService, translations *service.TranslationService, in io.Reader, out io.Writer) *Console {
	return &Console{
		call:         call,
		captions:     captions,
		translations: translations,
		in:           in,
		out:          out,
	}
}

// PrintPhase, PrintLocalCaption, PrintRemoteCaption and PrintTranslation are
// observer sinks; the composition root fans service callbacks into them.

func (c *Console) PrintPhase(phase domain.CallPhase) {
	fmt.Fprintf(c.out, "\n[call] phase: %s\n> ", phase)
}

func (c *Console) PrintLocalCaption(text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(c.out, "\n[you] %s\n> ", text)
}

func (c *Console) PrintRemoteCaption(msg domain.CaptionMessage) {
	fmt.Fprintf(c.out, "\n[peer %s] %s\n> ", msg.Language, msg.Text)
}

func (c *Console) PrintTranslation(text string) {
	if text == "" {
		return
	}
	fmt.Fprintf(c.out, "\n[peer, translated] %s\n> ", text)
}

func (c *Console) PrintWarning(err error) {
	fmt.Fprintf(c.out, "\n[warning] %v\n> ", err)
}

const usage = `commands:
  host               take the host role
  guest              take the guest role
  media              request camera and microphone
  offer              create a connection code (host)
  answer <code>      apply a pasted connection code (guest)
  accept <code>      apply a pasted response code (host)
  lang <tag>         change the caption target language
  status             show session state
  hangup             end the call
  quit               hang up and exit
`

// Run reads commands until EOF, the quit command, or context cancellation.
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprint(c.out, usage)
	fmt.Fprint(c.out, "> ")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Err(err).Msg("console input closed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if done := c.dispatch(ctx, line); done {
				return nil
			}
			fmt.Fprint(c.out, "> ")
		}
	}
}

func (c *Console) dispatch(ctx context.Context, line string) (done bool) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "":
	case "help":
		fmt.Fprint(c.out, usage)
	case "host":
		c.report(c.call.SetRole(domain.RoleHost))
	case "guest":
		c.report(c.call.SetRole(domain.RoleGuest))
	case "media":
		c.report(c.call.AcquireMedia(ctx))
	case "offer":
		code, err := c.call.CreateOffer(ctx)
		if err != nil {
			c.report(err)
			break
		}
		fmt.Fprintf(c.out, "send this connection code to your peer:\n%s\n", code)
	case "answer":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: answer <code>")
			break
		}
		code, err := c.call.ApplyOffer(ctx, arg)
		if err != nil {
			c.report(err)
			break
		}
		fmt.Fprintf(c.out, "send this response code back to your peer:\n%s\n", code)
	case "accept":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: accept <code>")
			break
		}
		c.report(c.call.ApplyAnswer(arg))
	case "lang":
		if arg == "" {
			fmt.Fprintln(c.out, "usage: lang <tag>")
			break
		}
		c.translations.SetTargetLanguage(arg)
		fmt.Fprintf(c.out, "captions will be translated to %q\n", arg)
	case "status":
		c.printStatus()
	case "hangup":
		c.call.HangUp()
	case "quit", "exit":
		c.call.HangUp()
		return true
	default:
		fmt.Fprintf(c.out, "unknown command %q, try help\n", cmd)
	}
	return false
}

func (c *Console) printStatus() {
	fmt.Fprintf(c.out, "session: %s\n", c.call.SessionID())
	fmt.Fprintf(c.out, "role:    %s\n", c.call.Role())
	fmt.Fprintf(c.out, "phase:   %s\n", c.call.Phase())
	if local := c.captions.LocalCaption(); local != "" {
		fmt.Fprintf(c.out, "you:     %s\n", local)
	}
	if remote, ok := c.call.RemoteCaption(); ok {
		fmt.Fprintf(c.out, "peer:    [%s] %s\n", remote.Language, remote.Text)
	}
	if tr := c.translations.Translation(); tr != "" {
		fmt.Fprintf(c.out, "translated: %s\n", tr)
	}
}

func (c *Console) report(err error) {
	if err == nil {
		fmt.Fprintln(c.out, "ok")
		return
	}
	var invalid *domain.InvalidPayloadError
	if errors.As(err, &invalid) {
		fmt.Fprintf(c.out, "that code was not usable: %s\n", invalid.Reason)
		return
	}
	fmt.Fprintf(c.out, "error: %v\n", err)
}
