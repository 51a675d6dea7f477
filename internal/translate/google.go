package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
	"resty.dev/v3"
)

// DefaultGoogleURL is the public endpoint used by Google's own web clients.
const DefaultGoogleURL = "https://translate.googleapis.com"

// GoogleConfig configures the Google translate client.
type GoogleConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	Logger            *log.Logger
}

// Google translates through the translate_a/single endpoint with client=gtx,
// which needs no API key.
type Google struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

// NewGoogle creates a Google translate client.
func NewGoogle(config GoogleConfig) *Google {
	if config.BaseURL == "" {
		config.BaseURL = DefaultGoogleURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.Logger == nil {
		config.Logger = log.Default().WithPrefix("translate")
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", "Mozilla/5.0")

	return &Google{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
		logger:  config.Logger,
	}
}

// Translate returns text translated from src to dst. Empty input is returned
// as is without a request.
func (g *Google) Translate(ctx context.Context, text string, src, dst language.Tag) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("translate: rate limit wait failed: %w", err)
	}

	start := time.Now()
	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"client": "gtx",
			"sl":     langCode(src),
			"tl":     langCode(dst),
			"dt":     "t",
			"q":      text,
		}).
		Get("/translate_a/single")
	if err != nil {
		return "", fmt.Errorf("translate: request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("translate: request failed with status %d", resp.StatusCode())
	}

	translated, err := parseSingle(resp.String())
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}

	g.logger.Debug("Translated", "src", langCode(src), "dst", langCode(dst), "duration", time.Since(start))
	return translated, nil
}

// Close releases the HTTP client.
func (g *Google) Close() error {
	return g.client.Close()
}

func langCode(tag language.Tag) string {
	if tag == language.Und {
		return "auto"
	}
	return tag.String()
}

// parseSingle extracts the translation from the nested array answer:
// [[["translated", "source", ...], ...], null, "en", ...]
func parseSingle(body string) (string, error) {
	var top []any
	if err := json.Unmarshal([]byte(body), &top); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if len(top) == 0 {
		return "", ErrMalformedResponse
	}

	segments, ok := top[0].([]any)
	if !ok || len(segments) == 0 {
		return "", ErrMalformedResponse
	}

	var b strings.Builder
	for _, seg := range segments {
		parts, ok := seg.([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		if s, ok := parts[0].(string); ok {
			b.WriteString(s)
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", ErrMalformedResponse
	}
	return out, nil
}
