// Package signaling encodes session descriptions as the opaque text tokens
// the two parties exchange by hand. One token per direction: the host's
// connection code carries the offer, the guest's response code carries the
// answer. Candidates are embedded in the SDP, so a token is self-contained
// and needs no follow-up exchange.
package signaling

import (
	"encoding/json"
	"strings"

	"github.com/paircall/paircall/internal/core/domain"
)

type payload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Encode serializes a session description to a single-line JSON token
// suitable for copy/paste.
func Encode(desc domain.SessionDescription) (string, error) {
	if desc.Type != domain.SDPOffer && desc.Type != domain.SDPAnswer {
		return "", domain.NewInvalidPayload("unknown description type %q", desc.Type)
	}
	if desc.SDP == "" {
		return "", domain.NewInvalidPayload("empty session description")
	}
	b, err := json.Marshal(payload{Type: string(desc.Type), SDP: desc.SDP})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses a pasted token back into a session description. Pasted text
// is messy: it may carry whitespace, a byte-order mark, or surrounding chat
// noise, so Decode extracts the first balanced brace-delimited structure and
// parses that.
func Decode(raw string) (domain.SessionDescription, error) {
	cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "\uFEFF"))
	if cleaned == "" {
		return domain.SessionDescription{}, domain.NewInvalidPayload("empty input")
	}

	obj, ok := extractObject(cleaned)
	if !ok {
		return domain.SessionDescription{}, domain.NewInvalidPayload("no balanced JSON object found")
	}

	var p payload
	if err := json.Unmarshal([]byte(obj), &p); err != nil {
		return domain.SessionDescription{}, domain.NewInvalidPayload("malformed JSON: %v", err)
	}
	switch p.Type {
	case string(domain.SDPOffer), string(domain.SDPAnswer):
	default:
		return domain.SessionDescription{}, domain.NewInvalidPayload("missing or unknown description type %q", p.Type)
	}
	if p.SDP == "" {
		return domain.SessionDescription{}, domain.NewInvalidPayload("missing session description body")
	}
	return domain.SessionDescription{Type: domain.SDPType(p.Type), SDP: p.SDP}, nil
}

// extractObject returns the first balanced {...} span in s. Brace counting
// skips braces inside JSON string literals, including escaped quotes.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
