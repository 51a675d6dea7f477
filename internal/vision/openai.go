package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gabriel-vasile/mimetype"
	openai "github.com/sashabaranov/go-openai"
)

const defaultPrompt = "Describe this image in one short English sentence, like an image caption. Reply with the caption only."

// OpenAIConfig configures an OpenAI-compatible vision model.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint for compatible servers
	BaseURL string

	Model     string
	Prompt    string
	MaxTokens int
	Logger    *log.Logger
}

// OpenAI captions images with a vision-capable chat completion model.
type OpenAI struct {
	client    *openai.Client
	model     string
	prompt    string
	maxTokens int
	logger    *log.Logger
}

// NewOpenAI creates an OpenAI captioner.
func NewOpenAI(config OpenAIConfig) (*OpenAI, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.Prompt == "" {
		config.Prompt = defaultPrompt
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 60
	}
	if config.Logger == nil {
		config.Logger = log.Default().WithPrefix("vision")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAI{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     config.Model,
		prompt:    config.Prompt,
		maxTokens: config.MaxTokens,
		logger:    config.Logger,
	}, nil
}

// Caption sends the image inline as a data URL.
func (o *OpenAI) Caption(ctx context.Context, image []byte) (string, error) {
	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: o.prompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL(image),
							Detail: openai.ImageURLDetailLow,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai: caption request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: %w", ErrEmptyCaption)
	}

	caption, err := cleanCaption(resp.Choices[0].Message.Content)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	o.logger.Debug("Caption generated", "backend", BackendOpenAI, "model", o.model,
		"tokens", resp.Usage.TotalTokens, "duration", time.Since(start))
	return caption, nil
}

func dataURL(image []byte) string {
	mime := mimetype.Detect(image).String()
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
}
