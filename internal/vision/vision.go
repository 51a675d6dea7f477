// Package vision turns image bytes into a short English caption using an
// external captioning model.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCaption is returned when the model answered with no text.
var ErrEmptyCaption = errors.New("captioner returned an empty caption")

// Captioner describes an image.
type Captioner interface {
	Caption(ctx context.Context, image []byte) (string, error)
}

// Backend names accepted by New.
const (
	BackendBLIP   = "blip"
	BackendOpenAI = "openai"
)

// Config selects and configures a captioner backend.
type Config struct {
	Backend string
	BLIP    BLIPConfig
	OpenAI  OpenAIConfig
}

// New builds the captioner named by config.Backend.
func New(config Config) (Captioner, error) {
	switch strings.ToLower(config.Backend) {
	case "", BackendBLIP:
		return NewBLIP(config.BLIP)
	case BackendOpenAI:
		return NewOpenAI(config.OpenAI)
	default:
		return nil, fmt.Errorf("unknown caption backend %q", config.Backend)
	}
}

func cleanCaption(s string) (string, error) {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, `"`)
	if s == "" {
		return "", ErrEmptyCaption
	}
	return s, nil
}
