// Package knowledge implements the per-agent knowledge store: a JSON-shaped
// tree addressed by dot-separated paths. It is the agent's only cross-cycle
// memory; agents mutate it exclusively through set/delete/append actions and
// the HUD builder reads it every cycle.
package knowledge

import (
	"encoding/json"
	"fmt"
	"strconv"

	"agora/internal/tree"
)

// Store is one agent's knowledge tree. Not safe for concurrent use; the
// scheduler guarantees at most one in-flight cycle per agent.
type Store struct {
	data map[string]any
}

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[string]any)}
}

// FromJSON restores a store from its serialized form. Malformed or empty
// input yields an empty store rather than an error: a corrupt knowledge
// blob must never stop an agent's cycle.
func FromJSON(s string) *Store {
	st := New()
	if s == "" {
		return st
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil || data == nil {
		return st
	}
	st.data = data
	return st
}

// ToJSON serializes the store.
func (s *Store) ToJSON() (string, error) {
	b, err := json.Marshal(s.data)
	if err != nil {
		return "", fmt.Errorf("marshal knowledge: %w", err)
	}
	return string(b), nil
}

// Tree converts the store to a value tree for HUD assembly. Cyclic or
// unsupported subtrees become error-marker leaves (see tree.FromValue).
func (s *Store) Tree() *tree.Node {
	return tree.FromValue(s.data)
}

// Raw exposes the underlying map. Used by tests and the token estimator.
func (s *Store) Raw() map[string]any {
	return s.data
}

// ParsePath splits a dot path into segments. Segments may be quoted with
// single or double quotes to embed literal dots:
//
//	people."J. Doe".trust -> ["people", "J. Doe", "trust"]
func ParsePath(path string) []string {
	if path == "" {
		return nil
	}
	var segs []string
	var cur []rune
	inQuote := false
	var quote rune
	for _, r := range path {
		switch {
		case (r == '"' || r == '\'') && !inQuote:
			inQuote = true
			quote = r
		case inQuote && r == quote:
			inQuote = false
		case r == '.' && !inQuote:
			if len(cur) > 0 {
				segs = append(segs, string(cur))
				cur = cur[:0]
			}
		default:
			cur = append(cur, r)
		}
	}
	if len(cur) > 0 {
		segs = append(segs, string(cur))
	}
	return segs
}

// Get returns the value at path, or nil if absent. An empty path returns
// the whole tree.
func (s *Store) Get(path string) any {
	segs := ParsePath(path)
	if len(segs) == 0 {
		return s.data
	}
	var cur any = s.data
	for _, seg := range segs {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil
			}
			cur = c[idx]
		default:
			return nil
		}
	}
	return cur
}

// Set writes value at path, creating intermediate objects as needed.
// Fails when the path is empty or traverses a non-object.
func (s *Store) Set(path string, value any) bool {
	segs := ParsePath(path)
	if len(segs) == 0 {
		return false
	}
	cur := s.data
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg]
		if !ok {
			child := make(map[string]any)
			cur[seg] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return false
		}
		cur = child
	}
	cur[segs[len(segs)-1]] = value
	return true
}

// SetWeighted stores value wrapped as {"v": value, "w": weight} with the
// weight clamped to [0, 1].
func (s *Store) SetWeighted(path string, value any, weight float64) bool {
	if weight < 0 {
		weight = 0
	} else if weight > 1 {
		weight = 1
	}
	return s.Set(path, map[string]any{"v": value, "w": weight})
}

// Delete removes the value at path. Supports numeric segments indexing
// into arrays. Returns false when the path does not resolve.
func (s *Store) Delete(path string) bool {
	segs := ParsePath(path)
	if len(segs) == 0 {
		return false
	}
	var cur any = s.data
	for _, seg := range segs[:len(segs)-1] {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return false
			}
			cur = c[idx]
		default:
			return false
		}
	}
	last := segs[len(segs)-1]
	switch c := cur.(type) {
	case map[string]any:
		if _, ok := c[last]; !ok {
			return false
		}
		delete(c, last)
		return true
	case []any:
		// Array element deletion needs the parent to reassign; resolve
		// again one level up.
		idx, err := strconv.Atoi(last)
		if err != nil || idx < 0 || idx >= len(c) {
			return false
		}
		return s.spliceParent(segs, idx)
	}
	return false
}

// spliceParent removes element idx of the array located at segs[:len-1]
// by writing the shortened slice back into its parent container.
func (s *Store) spliceParent(segs []string, idx int) bool {
	parentPath := segs[:len(segs)-1]
	arrAny := s.getSegs(parentPath)
	arr, ok := arrAny.([]any)
	if !ok {
		return false
	}
	spliced := append(append([]any{}, arr[:idx]...), arr[idx+1:]...)
	if len(parentPath) == 0 {
		return false
	}
	container := s.getSegs(parentPath[:len(parentPath)-1])
	switch c := container.(type) {
	case map[string]any:
		c[parentPath[len(parentPath)-1]] = spliced
		return true
	case []any:
		i, err := strconv.Atoi(parentPath[len(parentPath)-1])
		if err != nil || i < 0 || i >= len(c) {
			return false
		}
		c[i] = spliced
		return true
	}
	return false
}

func (s *Store) getSegs(segs []string) any {
	var cur any = s.data
	for _, seg := range segs {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil
			}
			cur = c[idx]
		default:
			return nil
		}
	}
	return cur
}

// Append adds value to the array at path. A missing path becomes a
// one-element array; a scalar at the path is promoted to a two-element
// array holding the old and new values.
func (s *Store) Append(path string, value any) bool {
	existing := s.Get(path)
	switch e := existing.(type) {
	case nil:
		return s.Set(path, []any{value})
	case []any:
		return s.Set(path, append(e, value))
	default:
		return s.Set(path, []any{existing, value})
	}
}
