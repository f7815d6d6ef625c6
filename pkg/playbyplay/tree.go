package playbyplay

import (
	"encoding/xml"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// strayLT matches a '<' that cannot open a tag, e.g. "1 < 2" in a narrative
var strayLT = regexp.MustCompile(`<([^A-Za-z_/!?]|$)`)

// node is a lowercase element tree built from provider markup
type node struct {
	name     string
	tag      string // element name as written, used to reopen it after a resync
	attrs    map[string]string
	children []*node
	text     strings.Builder
}

func (n *node) attr(keys ...string) string {
	for _, k := range keys {
		if v, ok := n.attrs[k]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func (n *node) intAttr(keys ...string) int {
	return toInt(n.attr(keys...))
}

func (n *node) flagAttr(keys ...string) bool {
	switch strings.ToLower(n.attr(keys...)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// child returns the first direct child with the given name
func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// findAll collects descendants named name in document order without
// descending into a match.
func (n *node) findAll(name string) []*node {
	var out []*node
	var walk func(*node)
	walk = func(cur *node) {
		for _, c := range cur.children {
			if c.name == name {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// find returns the first descendant named name, depth first
func (n *node) find(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
		if found := c.find(name); found != nil {
			return found
		}
	}
	return nil
}

// innerText is the whitespace-normalized text of n and its descendants
func (n *node) innerText() string {
	var b strings.Builder
	var walk func(*node)
	walk = func(cur *node) {
		b.WriteString(cur.text.String())
		b.WriteByte(' ')
		for _, c := range cur.children {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// parseTree tokenizes raw leniently. A syntax error does not end the parse:
// decoding resumes at the next tag with the open elements carried over, so
// only the text between the error and that tag is lost.
func parseTree(raw string) *node {
	raw = strayLT.ReplaceAllString(raw, "&lt;${1}")

	root := &node{name: "#document"}
	stack := []*node{root}

	for pos := 0; pos < len(raw); {
		// reopen the elements still open so their end tags match again
		var prefix strings.Builder
		for _, open := range stack[1:] {
			prefix.WriteString("<" + open.tag + ">")
		}

		d := newDecoder(prefix.String() + raw[pos:])
		var err error
		stack, err = decodeInto(d, stack, len(stack)-1)
		if err == nil {
			break
		}

		next := pos + int(d.InputOffset()) - prefix.Len()
		if next <= pos {
			next = pos + 1
		}
		if next >= len(raw) {
			break
		}
		i := strings.IndexByte(raw[next:], '<')
		if i < 0 {
			break
		}
		pos = next + i
	}
	return root
}

func newDecoder(input string) *xml.Decoder {
	d := xml.NewDecoder(strings.NewReader(input))
	d.Strict = false
	d.AutoClose = xml.HTMLAutoClose
	d.Entity = xml.HTMLEntity
	d.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	return d
}

// decodeInto appends the tokens of d to the tree under stack. The first
// reopened start elements re-create open nodes and are skipped. It returns
// nil at end of input and the decoder error otherwise.
func decodeInto(d *xml.Decoder, stack []*node, reopened int) ([]*node, error) {
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return stack, nil
		}
		if err != nil {
			return stack, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if reopened > 0 {
				reopened--
				continue
			}
			n := &node{
				name:  strings.ToLower(t.Name.Local),
				tag:   t.Name.Local,
				attrs: make(map[string]string, len(t.Attr)),
			}
			for _, a := range t.Attr {
				n.attrs[strings.ToLower(a.Name.Local)] = a.Value
			}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			name := strings.ToLower(t.Name.Local)
			// unwind to the nearest open element with this name; stray end tags are ignored
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].name == name {
					stack = stack[:i]
					break
				}
			}
		case xml.CharData:
			stack[len(stack)-1].text.Write(t)
		}
	}
}

func toInt(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
