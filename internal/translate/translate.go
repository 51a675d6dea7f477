// Package translate converts captions between languages using an external
// translation service.
package translate

import (
	"context"
	"errors"

	"golang.org/x/text/language"
)

// ErrMalformedResponse is returned when the service answered with a body
// that could not be understood.
var ErrMalformedResponse = errors.New("malformed translation response")

// Translator converts text from src to dst.
type Translator interface {
	Translate(ctx context.Context, text string, src, dst language.Tag) (string, error)
}
