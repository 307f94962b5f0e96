// Package provider holds the model provider clients. Each client speaks one
// vendor API and implements types.ModelClient; the heartbeat scheduler owns
// timeouts and treats the boundary as opaque.
package provider

import (
	"fmt"
	"os"
	"time"

	"agora/internal/config"
	"agora/internal/types"
)

// ProviderError wraps a provider-side failure with enough context to log
// and surface to the agent's action log.
type ProviderError struct {
	Provider string
	Status   int // HTTP status when applicable, 0 otherwise
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// NewClient builds the model client selected by the configuration.
func NewClient(cfg *config.Config) (types.ModelClient, error) {
	llm := cfg.LLM
	switch llm.Provider {
	case "openai", "":
		apiKey := llm.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai: API key not configured")
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  apiKey,
			BaseURL: llm.BaseURL,
			Timeout: cfg.ProviderTimeout(),
			Retries: llm.Retries,
		}), nil
	case "gemini":
		apiKey := llm.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("gemini: API key not configured")
		}
		return NewGeminiClient(apiKey)
	default:
		return nil, fmt.Errorf("unknown provider: %s", llm.Provider)
	}
}

// backoff returns the sleep before retry attempt i (1-based).
func backoff(i int) time.Duration {
	return time.Duration(1<<uint(i-1)) * time.Second
}
