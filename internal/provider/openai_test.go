package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/types"
)

func responseBody(id, text string, tokens int) map[string]any {
	return map[string]any{
		"id":     id,
		"status": "completed",
		"output": []map[string]any{
			{
				"type": "message",
				"content": []map[string]any{
					{"type": "output_text", "text": text},
				},
			},
		},
		"usage": map[string]any{"total_tokens": tokens},
	}
}

func testClient(url string) *OpenAIClient {
	return NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: url,
		Timeout: 5 * time.Second,
		Retries: 2,
	})
}

func TestOpenAIComplete(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(responseBody("resp_1", "hello from the model", 321))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	res, err := c.Complete(context.Background(), types.CompletionRequest{
		Model:        "gpt-4.1-mini",
		Instructions: "be brief",
		Prompt:       "hud text",
		Temperature:  0.7,
		Continuation: "resp_0",
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from the model", res.Text)
	assert.Equal(t, "resp_1", res.Continuation)
	assert.Equal(t, 321, res.TokensUsed)

	assert.Equal(t, "gpt-4.1-mini", got.Model)
	assert.Equal(t, "be brief", got.Instructions)
	assert.Equal(t, "hud text", got.Input)
	assert.Equal(t, "resp_0", got.PreviousResponseID)
}

func TestOpenAIRetriesOnRateLimit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(responseBody("resp_1", "ok", 1))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	res, err := c.Complete(context.Background(), types.CompletionRequest{
		Model: "gpt-4.1-mini", Prompt: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 2, calls)
}

func TestOpenAINoRetryOnClientError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key"}}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Complete(context.Background(), types.CompletionRequest{
		Model: "gpt-4.1-mini", Prompt: "x",
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusUnauthorized, pe.Status)
}

func TestOpenAIStaleContinuationRetriesFresh(t *testing.T) {
	var continuations []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		json.NewDecoder(r.Body).Decode(&req)
		continuations = append(continuations, req.PreviousResponseID)
		if req.PreviousResponseID != "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "previous_response_id not found"}}`))
			return
		}
		json.NewEncoder(w).Encode(responseBody("resp_new", "fresh start", 5))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	res, err := c.Complete(context.Background(), types.CompletionRequest{
		Model: "gpt-4.1-mini", Prompt: "x", Continuation: "resp_stale",
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh start", res.Text)
	assert.Equal(t, []string{"resp_stale", ""}, continuations)
	assert.Equal(t, "resp_new", res.Continuation)
}

func TestOpenAINoAPIKey(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{})
	_, err := c.Complete(context.Background(), types.CompletionRequest{Prompt: "x"})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Message, "API key")
}
