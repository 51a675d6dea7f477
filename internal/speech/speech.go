// Package speech turns translated captions into PCM audio.
package speech

import (
	"context"
	"errors"
)

var (
	// ErrEmptyText is returned when there is nothing to synthesize
	ErrEmptyText = errors.New("text cannot be empty")

	// ErrTextTooLong is returned when the text exceeds the engine limit
	ErrTextTooLong = errors.New("text too long")
)

// Synthesizer produces signed 16-bit little-endian PCM for text spoken in
// lang (a BCP 47 tag such as "vi").
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}
