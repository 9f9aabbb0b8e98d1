package translate

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

type openAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIClient talks to the chat completions API. A non-empty baseURL
// points it at any compatible server.
func NewOpenAIClient(apiKey, baseURL, model string, temperature float64) (Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: float32(temperature),
	}, nil
}

func (c *openAIClient) Translate(ctx context.Context, text, sourceCode, targetCode string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: ollamaSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: translationPrompt(text, sourceCode, targetCode)},
		},
		Temperature: c.temperature,
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai chat completion: no response choices")
	}
	return resp.Choices[0].Message.Content, nil
}
