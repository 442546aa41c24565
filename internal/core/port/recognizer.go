package port

import "context"

// RecognizerEventKind discriminates the events a recognition stream emits.
type RecognizerEventKind int

const (
	// RecognizerResult carries transcript text, interim or final.
	RecognizerResult RecognizerEventKind = iota
	// RecognizerError carries a transient or fatal recognizer failure.
	RecognizerError
	// RecognizerEnd marks the end of the stream. It is always the last
	// event before the channel closes.
	RecognizerEnd
)

// RecognizerEvent is one event from an active recognition stream.
type RecognizerEvent struct {
	Kind  RecognizerEventKind
	Text  string
	Final bool
	// Err wraps domain.ErrRecognizerTransient or domain.ErrRecognizerFatal.
	Err error
}

// RecognitionStream is one continuous capture stream. Events delivers
// interim and final transcripts until the stream ends; the channel is closed
// after the end event. Stop releases the capture resources.
type RecognitionStream interface {
	Events() <-chan RecognizerEvent
	Stop()
}

// Recognizer is the speech-to-text capability, configured for continuous
// capture with interim results.
type Recognizer interface {
	Start(ctx context.Context, language string) (RecognitionStream, error)
	// Supported reports whether speech capture is available at all; when
	// false the caption loop stays inactive for the whole call.
	Supported() bool
}
