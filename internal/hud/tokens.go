package hud

import (
	"unicode/utf8"

	"agora/internal/tree"
)

// ============================================================================
// Token Counting Utilities
// ============================================================================
// Token estimation for context budget management. The heuristic is
// calibrated at ~4 characters per token, which tracks common BPE
// tokenizers closely enough for budgeting purposes.

// TokenCounter provides token estimation for strings and value trees.
type TokenCounter struct {
	// Calibration factor (characters per token)
	charsPerToken float64
}

// NewTokenCounter creates a token counter with default calibration.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{
		charsPerToken: 4.0,
	}
}

// CountString estimates tokens in a string.
func (tc *TokenCounter) CountString(s string) int {
	if s == "" {
		return 0
	}
	runeCount := utf8.RuneCountInString(s)
	return int(float64(runeCount)/tc.charsPerToken) + 1
}

// CountNode estimates tokens for an entire value tree, including the
// structural overhead of keys and punctuation.
func (tc *TokenCounter) CountNode(n *tree.Node) int {
	if n == nil {
		return 0
	}
	switch n.Kind {
	case tree.KindNull, tree.KindBool:
		return 1
	case tree.KindNumber:
		return 2
	case tree.KindString:
		return tc.CountString(n.Str) + 1
	case tree.KindArray:
		total := 2
		for _, item := range n.Items {
			total += tc.CountNode(item) + 1
		}
		return total
	case tree.KindObject:
		total := 2
		for _, k := range n.Keys {
			total += tc.CountString(k) + 1 + tc.CountNode(n.Fields[k])
		}
		return total
	}
	return 1
}
