// Package tree provides the tagged-variant value tree shared by the
// knowledge store, the HUD builder, and the format codecs. A Node is one of
// object/array/string/number/bool/null; conversion from arbitrary Go values
// is cycle-safe and replaces unconvertible subtrees with an error marker
// instead of failing the whole conversion.
package tree

import (
	"fmt"
	"reflect"
	"sort"
)

// Kind discriminates the node variants.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrorMarker is the leaf value substituted for a subtree that could not be
// serialized (cyclic or unsupported). It is a valid string leaf and encodes
// in every format.
const ErrorMarker = "<unserializable>"

// Node is one value in the logical tree. Exactly the fields for its Kind
// are meaningful.
type Node struct {
	Kind Kind

	Bool   bool
	Number float64
	Str    string

	Items []*Node // KindArray

	// KindObject: Keys preserves insertion order; Fields maps key -> child.
	Keys   []string
	Fields map[string]*Node
}

// Constructors.

func Null() *Node            { return &Node{Kind: KindNull} }
func Bool(v bool) *Node      { return &Node{Kind: KindBool, Bool: v} }
func Number(v float64) *Node { return &Node{Kind: KindNumber, Number: v} }
func String(v string) *Node  { return &Node{Kind: KindString, Str: v} }

// Array builds an array node from children.
func Array(items ...*Node) *Node {
	return &Node{Kind: KindArray, Items: items}
}

// Object builds an empty object node.
func Object() *Node {
	return &Node{Kind: KindObject, Fields: make(map[string]*Node)}
}

// Set adds or replaces a field on an object node, preserving first-set
// order, and returns the node for chaining.
func (n *Node) Set(key string, child *Node) *Node {
	if n.Kind != KindObject {
		return n
	}
	if n.Fields == nil {
		n.Fields = make(map[string]*Node)
	}
	if _, exists := n.Fields[key]; !exists {
		n.Keys = append(n.Keys, key)
	}
	n.Fields[key] = child
	return n
}

// Get returns the named field of an object node, or nil.
func (n *Node) Get(key string) *Node {
	if n == nil || n.Kind != KindObject {
		return nil
	}
	return n.Fields[key]
}

// Append adds a child to an array node.
func (n *Node) Append(child *Node) *Node {
	if n.Kind == KindArray {
		n.Items = append(n.Items, child)
	}
	return n
}

// FromValue converts an arbitrary Go value into a Node. Only JSON-shaped
// values (maps, slices, scalars) convert; cyclic references and unsupported
// leaf types become ErrorMarker string leaves rather than errors.
func FromValue(v any) *Node {
	return fromValue(v, make(map[uintptr]bool), 0)
}

// maxDepth caps pathological nesting; anything deeper becomes a marker.
const maxDepth = 64

func fromValue(v any, seen map[uintptr]bool, depth int) *Node {
	if depth > maxDepth {
		return String(ErrorMarker)
	}
	switch val := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(val)
	case string:
		return String(val)
	case float64:
		return Number(val)
	case float32:
		return Number(float64(val))
	case int:
		return Number(float64(val))
	case int32:
		return Number(float64(val))
	case int64:
		return Number(float64(val))
	case uint:
		return Number(float64(val))
	case uint64:
		return Number(float64(val))
	case *Node:
		if val == nil {
			return Null()
		}
		return val
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return String(ErrorMarker)
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		obj := Object()
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			obj.Set(k, fromValue(val[k], seen, depth+1))
		}
		return obj
	case []any:
		if len(val) > 0 {
			ptr := reflect.ValueOf(val).Pointer()
			if seen[ptr] {
				return String(ErrorMarker)
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		arr := Array()
		for _, item := range val {
			arr.Append(fromValue(item, seen, depth+1))
		}
		return arr
	default:
		// Unknown leaf type: funcs, channels, structs, etc.
		return String(ErrorMarker)
	}
}

// Interface converts the node back to plain Go values (map[string]any,
// []any, scalars). The inverse of FromValue for JSON-shaped input.
func (n *Node) Interface() any {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case KindNull:
		return nil
	case KindBool:
		return n.Bool
	case KindNumber:
		return n.Number
	case KindString:
		return n.Str
	case KindArray:
		out := make([]any, len(n.Items))
		for i, item := range n.Items {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(n.Keys))
		for _, k := range n.Keys {
			out[k] = n.Fields[k].Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports deep equality of two trees. Object key order is ignored;
// only the key/value sets matter.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindNumber:
		return a.Number == b.Number
	case KindString:
		return a.Str == b.Str
	case KindArray:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for k, av := range a.Fields {
			bv, ok := b.Fields[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy of the tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, Bool: n.Bool, Number: n.Number, Str: n.Str}
	if n.Items != nil {
		out.Items = make([]*Node, len(n.Items))
		for i, item := range n.Items {
			out.Items[i] = item.Clone()
		}
	}
	if n.Fields != nil {
		out.Keys = append([]string(nil), n.Keys...)
		out.Fields = make(map[string]*Node, len(n.Fields))
		for k, v := range n.Fields {
			out.Fields[k] = v.Clone()
		}
	}
	return out
}
