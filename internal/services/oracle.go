package services

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiOracle categorizes transactions with a Gemini model
type GeminiOracle struct {
	client *genai.Client
	model  string
}

// NewGeminiOracle creates an oracle backed by the Gemini API
func NewGeminiOracle(ctx context.Context, apiKey, model string) (*GeminiOracle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key cannot be empty")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiOracle{client: client, model: model}, nil
}

// Categorize sends one prompt for the whole batch and returns the model text
func (o *GeminiOracle) Categorize(ctx context.Context, items []OracleItem) (string, error) {
	prompt, err := buildCategorizationPrompt(items)
	if err != nil {
		return "", err
	}

	resp, err := o.client.Models.GenerateContent(ctx, o.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}
