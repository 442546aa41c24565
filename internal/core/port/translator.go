package port

import "context"

// Translator is the remote text-translation capability. Implementations
// fail open: a failure surfaces as an error but never blocks teardown.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}
