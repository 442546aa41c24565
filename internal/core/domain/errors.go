package domain

import (
	"errors"
	"fmt"
)

// Role and ordering violations. These are surfaced to the caller and never
// mutate the call phase.
var (
	ErrMediaAccessDenied     = errors.New("local media access denied")
	ErrRoleMismatch          = errors.New("operation not valid for this role")
	ErrAlreadyOffered        = errors.New("an offer was already created for this session")
	ErrAlreadyApplied        = errors.New("a remote description was already applied")
	ErrNoOfferYet            = errors.New("no local offer exists yet")
	ErrWrongNegotiationState = errors.New("transport negotiation state does not allow this operation")
	ErrGatheringTimeout      = errors.New("candidate gathering did not complete in time")
	ErrSessionEnded          = errors.New("session already ended")
)

// ErrInvalidPayload is the sentinel all payload decoding failures wrap.
// Match with errors.Is; inspect the reason with errors.As on
// InvalidPayloadError.
var ErrInvalidPayload = errors.New("invalid signaling payload")

// InvalidPayloadError carries the reason a connection or response code could
// not be decoded.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid signaling payload: %s", e.Reason)
}

func (e *InvalidPayloadError) Unwrap() error { return ErrInvalidPayload }

// NewInvalidPayload builds an InvalidPayloadError with a formatted reason.
func NewInvalidPayload(format string, args ...any) error {
	return &InvalidPayloadError{Reason: fmt.Sprintf(format, args...)}
}

// NetworkNegotiationWarning is a non-fatal candidate negotiation problem.
// It is reported to the warning callback and never changes the call phase.
type NetworkNegotiationWarning struct {
	Err error
}

func (w *NetworkNegotiationWarning) Error() string {
	return fmt.Sprintf("network negotiation warning: %v", w.Err)
}

func (w *NetworkNegotiationWarning) Unwrap() error { return w.Err }

// Recognizer failures come in two severities. Transient errors are swallowed
// by the caption service and recovered through its restart path; fatal errors
// terminate captioning for the rest of the call.
var (
	ErrRecognizerTransient = errors.New("transient recognizer error")
	ErrRecognizerFatal     = errors.New("fatal recognizer error")
)

// ErrTranslationFailure marks a failed translation call. The relay clears the
// displayed translation and does not retry.
var ErrTranslationFailure = errors.New("translation failed")
