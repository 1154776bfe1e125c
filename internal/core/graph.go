package core

import "strings"

// Diagram lines are parsed into a small statement model and written back out
// deterministically. Lines the parser does not understand fall back to text
// cleanup so that normalization never fails.

type nodeShape struct {
	open, close string
}

// Longer delimiters first so "[[" is not read as "[".
var nodeShapes = []nodeShape{
	{"[[", "]]"},
	{"[(", ")]"},
	{"([", "])"},
	{"((", "))"},
	{"{{", "}}"},
	{"[", "]"},
	{"(", ")"},
	{"{", "}"},
}

type node struct {
	id    string
	shape int // index into nodeShapes, -1 for a bare reference
	label string
}

// statement is a node definition or a chain of connections: nodes[i] links
// to nodes[i+1] with edge label labels[i].
type statement struct {
	nodes  []node
	labels []string
}

type graphDialect struct {
	arrows      []string // accepted connector tokens, all written as -->
	quoteLabels bool
}

var connectors = []string{"-.->", "==>", "-->"}

var (
	flowchartDialect    = graphDialect{arrows: connectors}
	architectureDialect = graphDialect{arrows: connectors, quoteLabels: true}
)

func isIDByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func cleanLabel(s string) string {
	return strings.TrimSpace(stripQuotes(s))
}

func stripQuotes(s string) string {
	return strings.NewReplacer(`"`, "", `'`, "").Replace(s)
}

func (d graphDialect) parseNode(s string) (node, string, bool) {
	i := 0
	for i < len(s) && isIDByte(s[i]) {
		i++
	}
	if i == 0 {
		return node{}, s, false
	}
	n := node{id: s[:i], shape: -1}
	rest := s[i:]
	for idx, sh := range nodeShapes {
		if !strings.HasPrefix(rest, sh.open) {
			continue
		}
		body := rest[len(sh.open):]
		end := strings.Index(body, sh.close)
		if end < 0 {
			return node{}, s, false
		}
		n.shape = idx
		n.label = cleanLabel(body[:end])
		rest = body[end+len(sh.close):]
		break
	}
	return n, rest, true
}

func (d graphDialect) parseArrow(s string) (string, bool) {
	for _, a := range d.arrows {
		if strings.HasPrefix(s, a) {
			return s[len(a):], true
		}
	}
	return s, false
}

func (d graphDialect) parse(line string) (statement, bool) {
	s := strings.TrimSuffix(strings.TrimSpace(line), ";")
	var st statement

	n, rest, ok := d.parseNode(s)
	if !ok {
		return st, false
	}
	st.nodes = append(st.nodes, n)

	for {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			return st, true
		}
		if rest, ok = d.parseArrow(rest); !ok {
			return st, false
		}
		label := ""
		if strings.HasPrefix(rest, "|") {
			end := strings.Index(rest[1:], "|")
			if end < 0 {
				return st, false
			}
			label = cleanLabel(rest[1 : end+1])
			rest = rest[end+2:]
		}
		rest = strings.TrimLeft(rest, " \t")
		if n, rest, ok = d.parseNode(rest); !ok {
			return st, false
		}
		st.labels = append(st.labels, label)
		st.nodes = append(st.nodes, n)
	}
}

func (d graphDialect) writeNode(b *strings.Builder, n node) {
	b.WriteString(n.id)
	if n.shape < 0 {
		return
	}
	sh := nodeShapes[n.shape]
	b.WriteString(sh.open)
	if d.quoteLabels {
		b.WriteString(`"` + n.label + `"`)
	} else {
		b.WriteString(n.label)
	}
	b.WriteString(sh.close)
}

func (d graphDialect) serialize(st statement) string {
	var b strings.Builder
	d.writeNode(&b, st.nodes[0])
	for i, label := range st.labels {
		b.WriteString(" -->")
		if label != "" {
			b.WriteString("|" + label + "|")
		}
		b.WriteString(" ")
		d.writeNode(&b, st.nodes[i+1])
	}
	return b.String()
}

// stable parses line and returns its serialized form when that form parses
// back to itself.
func (d graphDialect) stable(line string) (string, bool) {
	st, ok := d.parse(line)
	if !ok {
		return "", false
	}
	out := d.serialize(st)
	again, ok := d.parse(out)
	if !ok || d.serialize(again) != out {
		return "", false
	}
	return out, true
}

// canonicalLine is idempotent as long as fallback is.
func (d graphDialect) canonicalLine(line string, fallback func(string) string) string {
	line = strings.TrimSpace(line)
	if out, ok := d.stable(line); ok {
		return out
	}
	cleaned := fallback(line)
	if out, ok := d.stable(cleaned); ok {
		return out
	}
	return cleaned
}
