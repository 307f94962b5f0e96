package codec

import (
	"strconv"
	"strings"

	"agora/internal/tree"
)

const toonIndent = "  "

// encodeTOON serializes a tree to TOON text. A scalar root is emitted bare;
// objects and arrays become named blocks rooted at root.
func encodeTOON(n *tree.Node, root string) string {
	if isScalar(n) {
		return scalarText(n)
	}
	e := &toonEncoder{}
	e.block(root, n, 0)
	return strings.Join(e.lines, "\n")
}

type toonEncoder struct {
	lines []string
}

func (e *toonEncoder) emit(depth int, s string) {
	e.lines = append(e.lines, strings.Repeat(toonIndent, depth)+s)
}

// block writes one named object or array block.
func (e *toonEncoder) block(name string, n *tree.Node, depth int) {
	switch n.Kind {
	case tree.KindObject:
		e.object(name, n, depth)
	case tree.KindArray:
		e.array(name, n, depth)
	default:
		e.emit(depth, quoteKey(name)+": "+scalarText(n))
	}
}

func (e *toonEncoder) object(name string, n *tree.Node, depth int) {
	schema := make([]string, len(n.Keys))
	for i, k := range n.Keys {
		schema[i] = quoteKey(k)
	}
	header := quoteKey(name) + "{" + strings.Join(schema, ",") + "}:"

	if len(n.Keys) == 0 {
		e.emit(depth, header)
		return
	}

	if allScalarFields(n) {
		vals := make([]string, len(n.Keys))
		for i, k := range n.Keys {
			vals[i] = scalarText(n.Fields[k])
		}
		e.emit(depth, header+" "+strings.Join(vals, ", "))
		return
	}

	e.emit(depth, header)
	for _, k := range n.Keys {
		e.block(k, n.Fields[k], depth+1)
	}
}

func (e *toonEncoder) array(name string, n *tree.Node, depth int) {
	count := strconv.Itoa(len(n.Items))

	if len(n.Items) == 0 {
		e.emit(depth, quoteKey(name)+"["+count+"]:")
		return
	}

	if allScalarItems(n) {
		vals := make([]string, len(n.Items))
		for i, item := range n.Items {
			vals[i] = scalarText(item)
		}
		e.emit(depth, quoteKey(name)+"["+count+"]: "+strings.Join(vals, ", "))
		return
	}

	if keys, ok := uniformSchema(n); ok {
		schema := make([]string, len(keys))
		for i, k := range keys {
			schema[i] = quoteKey(k)
		}
		e.emit(depth, quoteKey(name)+"["+count+"]{"+strings.Join(schema, ",")+"}:")
		for _, item := range n.Items {
			vals := make([]string, len(keys))
			for i, k := range keys {
				vals[i] = scalarText(item.Fields[k])
			}
			e.emit(depth+1, strings.Join(vals, ", "))
		}
		return
	}

	// Mixed or nested elements: one indexed block per element.
	e.emit(depth, quoteKey(name)+"["+count+"]:")
	for i, item := range n.Items {
		e.block(strconv.Itoa(i), item, depth+1)
	}
}

func isScalar(n *tree.Node) bool {
	switch n.Kind {
	case tree.KindObject, tree.KindArray:
		return false
	}
	return true
}

func allScalarFields(n *tree.Node) bool {
	for _, k := range n.Keys {
		if !isScalar(n.Fields[k]) {
			return false
		}
	}
	return true
}

func allScalarItems(n *tree.Node) bool {
	for _, item := range n.Items {
		if !isScalar(item) {
			return false
		}
	}
	return true
}

// uniformSchema reports whether every element is an all-scalar object with
// the same field list, enabling the schema-once row form.
func uniformSchema(n *tree.Node) ([]string, bool) {
	var keys []string
	for i, item := range n.Items {
		if item.Kind != tree.KindObject || !allScalarFields(item) || len(item.Keys) == 0 {
			return nil, false
		}
		if i == 0 {
			keys = item.Keys
			continue
		}
		if len(item.Keys) != len(keys) {
			return nil, false
		}
		for j, k := range item.Keys {
			if k != keys[j] {
				return nil, false
			}
		}
	}
	return keys, true
}

// scalarText renders a scalar node. Strings are quoted only when they would
// otherwise be ambiguous: empty, a reserved word, numeric-looking, or
// containing structural characters.
func scalarText(n *tree.Node) string {
	switch n.Kind {
	case tree.KindNull:
		return "null"
	case tree.KindBool:
		if n.Bool {
			return "true"
		}
		return "false"
	case tree.KindNumber:
		return strconv.FormatFloat(n.Number, 'g', -1, 64)
	default:
		return quoteString(n.Str)
	}
}

func quoteString(s string) string {
	if needsQuotes(s) {
		return `"` + escape(s) + `"`
	}
	return s
}

// quoteKey quotes a field name only when it contains structural characters;
// unlike values, bare keys may begin with digits.
func quoteKey(s string) string {
	if s == "" || strings.ContainsAny(s, ",{}[]:\"\n\t") || s[0] == ' ' || s[len(s)-1] == ' ' {
		return `"` + escape(s) + `"`
	}
	return s
}

func needsQuotes(s string) bool {
	if s == "" || s == "true" || s == "false" || s == "null" {
		return true
	}
	if s[0] >= '0' && s[0] <= '9' {
		return true
	}
	// Anything that would parse back as a number must be quoted.
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	if strings.ContainsAny(s, ",{}[]:\"\n\t") {
		return true
	}
	return s[0] == ' ' || s[len(s)-1] == ' '
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)
	return r.Replace(s)
}
