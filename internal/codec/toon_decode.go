package codec

import (
	"strconv"
	"strings"

	"agora/internal/tree"
)

type toonLine struct {
	num   int
	depth int
	text  string
}

type toonParser struct {
	lines []toonLine
	pos   int
}

func decodeTOON(text string) (*tree.Node, error) {
	lines, err := splitTOONLines(text)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, toonErr(0, "empty input")
	}

	// A lone line with no top-level colon is a bare scalar.
	if len(lines) == 1 && !hasStructure(lines[0].text) {
		return parseScalarToken(strings.TrimSpace(lines[0].text), lines[0].num)
	}

	p := &toonParser{lines: lines}
	_, node, err := p.parseBlock(0)
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.lines) {
		return nil, toonErr(p.lines[p.pos].num, "unexpected trailing content")
	}
	return node, nil
}

func toonErr(line int, msg string) *FormatError {
	return &FormatError{Format: FormatTOON, Line: line, Msg: msg}
}

// splitTOONLines drops blank lines and converts leading spaces to depth.
func splitTOONLines(text string) ([]toonLine, error) {
	var out []toonLine
	for i, raw := range strings.Split(text, "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		spaces := 0
		for _, r := range raw {
			if r == '\t' {
				return nil, toonErr(i+1, "tab in indentation")
			}
			if r != ' ' {
				break
			}
			spaces++
		}
		if spaces%len(toonIndent) != 0 {
			return nil, toonErr(i+1, "indentation is not a multiple of two spaces")
		}
		out = append(out, toonLine{num: i + 1, depth: spaces / len(toonIndent), text: raw[spaces:]})
	}
	return out, nil
}

// hasStructure reports whether a line contains an unquoted structural
// character, meaning it must be a block header rather than a bare scalar.
func hasStructure(s string) bool {
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote {
			if c == '\\' {
				i++
			} else if c == '"' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
		case '{', '[', ':':
			return true
		}
	}
	return false
}

// parseBlock consumes one named block at the given depth and returns its
// name and value.
func (p *toonParser) parseBlock(depth int) (string, *tree.Node, error) {
	if p.pos >= len(p.lines) {
		return "", nil, toonErr(0, "unexpected end of input")
	}
	ln := p.lines[p.pos]
	if ln.depth != depth {
		return "", nil, toonErr(ln.num, "unexpected indentation")
	}

	name, rest, err := scanName(ln.text, ln.num)
	if err != nil {
		return "", nil, err
	}
	if rest == "" {
		return "", nil, toonErr(ln.num, "missing ':' after "+strconv.Quote(name))
	}

	switch rest[0] {
	case '{':
		node, err := p.parseObjectHeader(ln, rest)
		return name, node, err
	case '[':
		node, err := p.parseArrayHeader(ln, rest)
		return name, node, err
	case ':':
		p.pos++
		val := strings.TrimSpace(rest[1:])
		if val == "" {
			return "", nil, toonErr(ln.num, "missing value for "+strconv.Quote(name))
		}
		toks, err := splitValues(val, ln.num)
		if err != nil {
			return "", nil, err
		}
		if len(toks) != 1 {
			return "", nil, toonErr(ln.num, "unexpected comma in scalar value")
		}
		node, err := parseScalarToken(toks[0], ln.num)
		return name, node, err
	default:
		return "", nil, toonErr(ln.num, "expected '{', '[' or ':' after "+strconv.Quote(name))
	}
}

// parseObjectHeader parses "{f1,f2}: ..." - either an inline all-scalar
// object or a multi-line object whose children re-state the schema fields.
func (p *toonParser) parseObjectHeader(ln toonLine, rest string) (*tree.Node, error) {
	fields, after, err := scanSchema(rest, ln.num)
	if err != nil {
		return nil, err
	}
	p.pos++
	inline := strings.TrimSpace(after)

	obj := tree.Object()
	if len(fields) == 0 {
		if inline != "" {
			return nil, toonErr(ln.num, "values after empty schema")
		}
		return obj, nil
	}

	if inline != "" {
		toks, err := splitValues(inline, ln.num)
		if err != nil {
			return nil, err
		}
		if len(toks) != len(fields) {
			return nil, toonErr(ln.num, "field/value count mismatch")
		}
		for i, f := range fields {
			v, err := parseScalarToken(toks[i], ln.num)
			if err != nil {
				return nil, err
			}
			obj.Set(f, v)
		}
		return obj, nil
	}

	for _, f := range fields {
		childName, child, err := p.parseBlock(ln.depth + 1)
		if err != nil {
			return nil, err
		}
		if childName != f {
			return nil, toonErr(ln.num, "child "+strconv.Quote(childName)+" does not match schema field "+strconv.Quote(f))
		}
		obj.Set(f, child)
	}
	return obj, nil
}

// parseArrayHeader parses "[N]..." in its three forms: schema rows, inline
// scalar list, or indexed element blocks.
func (p *toonParser) parseArrayHeader(ln toonLine, rest string) (*tree.Node, error) {
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return nil, toonErr(ln.num, "unterminated array length")
	}
	n, err := strconv.Atoi(rest[1:end])
	if err != nil || n < 0 {
		return nil, toonErr(ln.num, "bad array length")
	}
	rest = rest[end+1:]
	arr := tree.Array()

	if strings.HasPrefix(rest, "{") {
		fields, after, err := scanSchema(rest, ln.num)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(after) != "" {
			return nil, toonErr(ln.num, "values after array schema")
		}
		if len(fields) == 0 {
			return nil, toonErr(ln.num, "empty array schema")
		}
		p.pos++
		for i := 0; i < n; i++ {
			if p.pos >= len(p.lines) || p.lines[p.pos].depth != ln.depth+1 {
				return nil, toonErr(ln.num, "array length mismatch: expected "+strconv.Itoa(n)+" rows")
			}
			row := p.lines[p.pos]
			toks, err := splitValues(row.text, row.num)
			if err != nil {
				return nil, err
			}
			if len(toks) != len(fields) {
				return nil, toonErr(row.num, "field/value count mismatch in array row")
			}
			obj := tree.Object()
			for j, f := range fields {
				v, err := parseScalarToken(toks[j], row.num)
				if err != nil {
					return nil, err
				}
				obj.Set(f, v)
			}
			arr.Append(obj)
			p.pos++
		}
		return arr, nil
	}

	if !strings.HasPrefix(rest, ":") {
		return nil, toonErr(ln.num, "expected ':' after array length")
	}
	p.pos++
	inline := strings.TrimSpace(rest[1:])

	if inline != "" {
		toks, err := splitValues(inline, ln.num)
		if err != nil {
			return nil, err
		}
		if len(toks) != n {
			return nil, toonErr(ln.num, "array length mismatch")
		}
		for _, tok := range toks {
			v, err := parseScalarToken(tok, ln.num)
			if err != nil {
				return nil, err
			}
			arr.Append(v)
		}
		return arr, nil
	}

	for i := 0; i < n; i++ {
		_, child, err := p.parseBlock(ln.depth + 1)
		if err != nil {
			return nil, err
		}
		arr.Append(child)
	}
	return arr, nil
}

// scanName reads a quoted or bare field name, returning it and the
// remainder of the line starting at the structural character.
func scanName(s string, num int) (string, string, error) {
	if strings.HasPrefix(s, `"`) {
		name, n, err := scanQuoted(s, num)
		if err != nil {
			return "", "", err
		}
		return name, s[n:], nil
	}
	idx := strings.IndexAny(s, "{[:")
	if idx < 0 {
		return "", "", toonErr(num, "missing ':' in line")
	}
	return strings.TrimSpace(s[:idx]), s[idx:], nil
}

// scanSchema reads "{f1,f2,...}" and returns the field names plus the
// remainder of the line after the closing brace and required colon.
func scanSchema(s string, num int) ([]string, string, error) {
	if !strings.HasPrefix(s, "{") {
		return nil, "", toonErr(num, "expected '{'")
	}
	i := 1
	var fields []string
	for {
		if i >= len(s) {
			return nil, "", toonErr(num, "unterminated schema")
		}
		if s[i] == '}' {
			i++
			break
		}
		var f string
		if s[i] == '"' {
			var n int
			var err error
			f, n, err = scanQuoted(s[i:], num)
			if err != nil {
				return nil, "", err
			}
			i += n
		} else {
			j := i
			for j < len(s) && s[j] != ',' && s[j] != '}' {
				j++
			}
			f = strings.TrimSpace(s[i:j])
			i = j
		}
		fields = append(fields, f)
		if i < len(s) && s[i] == ',' {
			i++
		}
	}
	if i >= len(s) || s[i] != ':' {
		return nil, "", toonErr(num, "missing ':' after schema")
	}
	return fields, s[i+1:], nil
}

// scanQuoted reads a quoted string starting at s[0] == '"', returning the
// unescaped value and the number of bytes consumed.
func scanQuoted(s string, num int) (string, int, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			return b.String(), i + 1, nil
		case '\\':
			i++
			if i >= len(s) {
				return "", 0, toonErr(num, "unterminated escape")
			}
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, toonErr(num, "unterminated string")
}

// splitValues splits comma-joined scalar values, honoring quotes. Tokens
// keep their surrounding quotes for parseScalarToken.
func splitValues(s string, num int) ([]string, error) {
	var toks []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote {
			cur.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				cur.WriteByte(s[i])
			} else if c == '"' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
			cur.WriteByte(c)
		case ',':
			toks = append(toks, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuote {
		return nil, toonErr(num, "unterminated string")
	}
	toks = append(toks, strings.TrimSpace(cur.String()))
	return toks, nil
}

// parseScalarToken converts one trimmed token into a scalar node.
func parseScalarToken(tok string, num int) (*tree.Node, error) {
	if strings.HasPrefix(tok, `"`) {
		val, n, err := scanQuoted(tok, num)
		if err != nil {
			return nil, err
		}
		if n != len(tok) {
			return nil, toonErr(num, "trailing characters after string")
		}
		return tree.String(val), nil
	}
	switch tok {
	case "null":
		return tree.Null(), nil
	case "true":
		return tree.Bool(true), nil
	case "false":
		return tree.Bool(false), nil
	case "":
		return nil, toonErr(num, "empty value")
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return tree.Number(f), nil
	}
	if strings.ContainsAny(tok, `{}[]:"`) {
		return nil, toonErr(num, "unescaped structural character in "+strconv.Quote(tok))
	}
	return tree.String(tok), nil
}
