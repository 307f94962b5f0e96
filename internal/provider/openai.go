package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agora/internal/logging"
	"agora/internal/types"
)

// =============================================================================
// OPENAI RESPONSES API CLIENT
// =============================================================================

// OpenAIConfig configures the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Retries int
}

// OpenAIClient implements types.ModelClient against the Responses API.
// Conversation continuity uses previous_response_id: the continuation token
// stored per agent is the id of the agent's last response.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	retries    int
	httpClient *http.Client
}

// NewOpenAIClient creates an OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		retries:    retries,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type openAIRequest struct {
	Model              string  `json:"model"`
	Instructions       string  `json:"instructions,omitempty"`
	Input              string  `json:"input"`
	Temperature        float64 `json:"temperature,omitempty"`
	PreviousResponseID string  `json:"previous_response_id,omitempty"`
}

type openAIResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one request and returns the model's reply.
func (c *OpenAIClient) Complete(ctx context.Context, req types.CompletionRequest) (*types.CompletionResult, error) {
	if c.apiKey == "" {
		return nil, &ProviderError{Provider: "openai", Message: "API key not configured"}
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.httpClient.Timeout)
		defer cancel()
	}

	body := openAIRequest{
		Model:              req.Model,
		Instructions:       req.Instructions,
		Input:              req.Prompt,
		Temperature:        req.Temperature,
		PreviousResponseID: req.Continuation,
	}

	started := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
		}

		result, retryable, err := c.send(ctx, body)
		if err == nil {
			logging.Provider("openai: completed in %v tokens=%d", time.Since(started), result.TokensUsed)
			return result, nil
		}
		if !retryable {
			// A stale previous_response_id surfaces as a 400; retry
			// once from a fresh conversation before giving up.
			if body.PreviousResponseID != "" && isContinuationError(err) {
				logging.ProviderWarn("openai: continuation rejected, retrying fresh: %v", err)
				body.PreviousResponseID = ""
				lastErr = err
				continue
			}
			return nil, err
		}
		lastErr = err
		logging.ProviderWarn("openai: attempt %d failed: %v", attempt+1, err)
	}
	return nil, fmt.Errorf("openai: retries exceeded: %w", lastErr)
}

// send performs a single HTTP exchange. The bool reports whether the
// failure is worth retrying.
func (c *OpenAIClient) send(ctx context.Context, body openAIRequest) (*types.CompletionResult, bool, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, false, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, &ProviderError{Provider: "openai", Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	case resp.StatusCode != http.StatusOK:
		return nil, false, &ProviderError{Provider: "openai", Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, false, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, false, &ProviderError{Provider: "openai", Message: parsed.Error.Message}
	}

	var text strings.Builder
	for _, out := range parsed.Output {
		if out.Type != "message" {
			continue
		}
		for _, part := range out.Content {
			if part.Type == "output_text" {
				text.WriteString(part.Text)
			}
		}
	}
	if text.Len() == 0 {
		return nil, false, &ProviderError{Provider: "openai", Message: "no output text returned"}
	}

	return &types.CompletionResult{
		Text:         strings.TrimSpace(text.String()),
		Continuation: parsed.ID,
		TokensUsed:   parsed.Usage.TotalTokens,
	}, false, nil
}

func isContinuationError(err error) bool {
	pe, ok := err.(*ProviderError)
	return ok && pe.Status == http.StatusBadRequest &&
		strings.Contains(pe.Message, "previous_response_id")
}
