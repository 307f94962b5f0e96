// Package codec serializes HUD trees to one of three interchangeable wire
// formats and decodes agent responses back into trees.
//
// Formats:
//   - verbose: standard indented JSON
//   - compact: JSON with a fixed table of shortened keys
//   - toon:    a positional, schema-once text format optimized for token
//     economy (field names declared once, values positional)
package codec

import (
	"encoding/json"
	"fmt"

	"agora/internal/tree"
)

// Format selects a wire encoding.
type Format string

const (
	FormatVerbose Format = "verbose"
	FormatCompact Format = "compact"
	FormatTOON    Format = "toon"
)

// ParseFormat normalizes a format selector, defaulting to verbose.
func ParseFormat(s string) Format {
	switch Format(s) {
	case FormatCompact:
		return FormatCompact
	case FormatTOON:
		return FormatTOON
	default:
		return FormatVerbose
	}
}

// FormatError reports a grammar violation in text being decoded.
type FormatError struct {
	Format Format
	Line   int
	Msg    string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s decode error at line %d: %s", e.Format, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s decode error: %s", e.Format, e.Msg)
}

// Encode serializes a tree under the default root name "hud".
func Encode(n *tree.Node, f Format) (string, error) {
	return EncodeNamed(n, f, "hud")
}

// EncodeNamed serializes a tree. The root name only appears in TOON output;
// JSON formats ignore it. Never fails on well-formed trees.
func EncodeNamed(n *tree.Node, f Format, root string) (string, error) {
	if n == nil {
		n = tree.Null()
	}
	switch f {
	case FormatCompact:
		b, err := json.Marshal(compactKeys(n.Interface()))
		if err != nil {
			return "", fmt.Errorf("compact encode: %w", err)
		}
		return string(b), nil
	case FormatTOON:
		return encodeTOON(n, root), nil
	default:
		b, err := json.MarshalIndent(n.Interface(), "", "  ")
		if err != nil {
			return "", fmt.Errorf("verbose encode: %w", err)
		}
		return string(b), nil
	}
}

// Decode parses text in the given format back into a tree. Returns a
// *FormatError when the text violates the format's grammar.
func Decode(text string, f Format) (*tree.Node, error) {
	switch f {
	case FormatCompact:
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, &FormatError{Format: f, Msg: err.Error()}
		}
		return tree.FromValue(expandKeys(v)), nil
	case FormatTOON:
		return decodeTOON(text)
	default:
		var v any
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return nil, &FormatError{Format: f, Msg: err.Error()}
		}
		return tree.FromValue(v), nil
	}
}
