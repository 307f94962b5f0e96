package heartbeat

import (
	"encoding/json"
	"fmt"
	"strings"

	"agora/internal/codec"
	"agora/internal/types"
)

// DecodeResponse parses a model reply in the agent's wire format into the
// structured response. A malformed reply fails as a whole; the caller
// discards the cycle.
func DecodeResponse(text string, f codec.Format) (*types.AgentResponse, error) {
	text = stripFences(text)
	node, err := codec.Decode(text, f)
	if err != nil {
		return nil, err
	}

	// Normalize through JSON so the response struct's tags do the field
	// mapping regardless of wire format.
	raw, err := json.Marshal(node.Interface())
	if err != nil {
		return nil, fmt.Errorf("normalize response: %w", err)
	}
	var resp types.AgentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &codec.FormatError{Format: f, Msg: fmt.Sprintf("response shape: %v", err)}
	}
	return &resp, nil
}

// stripFences removes a surrounding markdown code fence, which models add
// despite instructions not to.
func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		t = t[i+1:]
	}
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}

// splitParagraphs breaks a response message on blank lines for paced
// delivery. Whitespace-only chunks are dropped.
func splitParagraphs(text string) []string {
	var out []string
	for _, chunk := range strings.Split(text, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}

// truncateWords caps text at limit words, keeping whole words.
func truncateWords(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}
	return strings.Join(words[:limit], " ")
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
