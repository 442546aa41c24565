package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// CaptionKind is the only message kind the caption channel carries today.
// Anything else received on the channel is dropped.
const CaptionKind = "caption"

// CaptionChannelLabel names the auxiliary channel used for captions. The
// host creates it; the guest accepts the first announcement with this label
// and ignores duplicates.
const CaptionChannelLabel = "captions"

// CaptionMessage is one finalized utterance sent over the caption channel.
// Delivery is best-effort; the timestamp is carried for future ordering use.
type CaptionMessage struct {
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	Language  string `json:"language"`
	Timestamp int64  `json:"timestamp"`
}

// NewCaption stamps a caption message with the current wall clock in
// milliseconds.
func NewCaption(text, language string) CaptionMessage {
	return CaptionMessage{
		Kind:      CaptionKind,
		Text:      text,
		Language:  language,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Marshal serializes the caption for the wire.
func (m CaptionMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeCaption parses an inbound channel payload. It fails on malformed
// JSON or a kind other than "caption"; receivers drop such payloads without
// touching caption state.
func DecodeCaption(data []byte) (CaptionMessage, error) {
	var m CaptionMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return CaptionMessage{}, err
	}
	if m.Kind != CaptionKind {
		return CaptionMessage{}, errors.New("not a caption message")
	}
	return m, nil
}
