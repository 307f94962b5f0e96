package provider

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"agora/internal/logging"
	"agora/internal/types"
)

// =============================================================================
// GOOGLE GENAI CLIENT
// =============================================================================

// GeminiClient implements types.ModelClient on the Google GenAI SDK. The
// Gemini API has no server-side conversation continuity, so the
// continuation token is ignored; the HUD carries the full context anyway.
type GeminiClient struct {
	client *genai.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// Complete sends one request and returns the model's reply.
func (c *GeminiClient) Complete(ctx context.Context, req types.CompletionRequest) (*types.CompletionResult, error) {
	model := req.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
	}
	if req.Instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.Instructions, genai.RoleUser)
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	result, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Message: err.Error()}
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return nil, &ProviderError{Provider: "gemini", Message: "no output text returned"}
	}

	tokens := 0
	if result.UsageMetadata != nil {
		tokens = int(result.UsageMetadata.TotalTokenCount)
	}
	logging.Provider("gemini: completed tokens=%d", tokens)

	return &types.CompletionResult{
		Text:       text,
		TokensUsed: tokens,
	}, nil
}
