package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gabriel-vasile/mimetype"
	"resty.dev/v3"
)

// BLIPConfig configures the BLIP inference server client.
type BLIPConfig struct {
	// BaseURL of the inference server, e.g. http://127.0.0.1:5000
	BaseURL string

	// Path of the caption endpoint
	Path string

	Timeout time.Duration
	Logger  *log.Logger
}

// BLIP calls a BLIP image captioning server. The server accepts a multipart
// upload in the "image" field and answers {"caption": "..."}.
type BLIP struct {
	client *resty.Client
	path   string
	logger *log.Logger
}

type blipResponse struct {
	Caption string `json:"caption"`
}

type blipError struct {
	Error string `json:"error"`
}

// NewBLIP creates a BLIP client.
func NewBLIP(config BLIPConfig) (*BLIP, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("blip: base URL is required")
	}
	if config.Path == "" {
		config.Path = "/caption"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.Default().WithPrefix("vision")
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(config.Timeout)

	return &BLIP{
		client: client,
		path:   config.Path,
		logger: config.Logger,
	}, nil
}

// Caption uploads the image and returns the model's caption.
func (b *BLIP) Caption(ctx context.Context, image []byte) (string, error) {
	var result blipResponse

	mime := mimetype.Detect(image)
	start := time.Now()
	resp, err := b.client.R().
		SetContext(ctx).
		SetMultipartField("image", "image"+mime.Extension(), mime.String(), bytes.NewReader(image)).
		SetResult(&result).
		Post(b.path)
	if err != nil {
		return "", fmt.Errorf("blip: caption request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("blip: caption request failed with status %d: %s", resp.StatusCode(), errorMessage(resp.String()))
	}

	caption, err := cleanCaption(result.Caption)
	if err != nil {
		return "", fmt.Errorf("blip: %w", err)
	}

	b.logger.Debug("Caption generated", "backend", BackendBLIP, "duration", time.Since(start))
	return caption, nil
}

func errorMessage(body string) string {
	var apiErr blipError
	if err := json.Unmarshal([]byte(body), &apiErr); err == nil && apiErr.Error != "" {
		return apiErr.Error
	}
	return strings.TrimSpace(body)
}

// Close releases the HTTP client.
func (b *BLIP) Close() error {
	return b.client.Close()
}
