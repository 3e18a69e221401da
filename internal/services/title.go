package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAITitler generates short chat titles from the first user message with a
// plain, non-streaming chat completion call.
type OpenAITitler struct {
	model  string
	prompt string

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAITitler creates a new OpenAITitler with the specified API key, base
// URL (empty for the default), model name, and system prompt.
func NewOpenAITitler(apiKey, baseURL, model, prompt string, logger *slog.Logger) OpenAITitler {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAITitler{
		model:  model,
		prompt: prompt,
		client: goopenai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("module", "titler")),
	}
}

// GenerateTitle sends the message to the model and returns the first response
// choice as the chat title.
func (t OpenAITitler) GenerateTitle(ctx context.Context, message string) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: t.model,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleSystem,
				Content: t.prompt,
			},
			{
				Role:    goopenai.ChatMessageRoleUser,
				Content: message,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("no choices found")
	}

	t.logger.Debug("Generated title", slog.String("title", resp.Choices[0].Message.Content))
	return resp.Choices[0].Message.Content, nil
}
