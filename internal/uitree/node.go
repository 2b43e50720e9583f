// Package uitree is the host-side render tree produced by the sandbox and the fallback renderer,
// with an HTML preview writer.
package uitree

import (
	"sort"
	"strings"
)

const (
	// TextType marks a text leaf.
	TextType = "#text"
	// FragmentType groups children without a wrapper element.
	FragmentType = "Fragment"
)

// Node is one element of a rendered component. Type is an intrinsic tag ("div"), a catalog
// component name ("Card"), a namespaced name ("Icons.Sun", "motion.div"), TextType or
// FragmentType. Event handlers are recorded by prop name only.
type Node struct {
	Type     string         `json:"type"`
	Props    map[string]any `json:"props,omitempty"`
	Handlers []string       `json:"handlers,omitempty"`
	Children []*Node        `json:"children,omitempty"`
	Text     string         `json:"text,omitempty"`
}

// NewText returns a text leaf.
func NewText(s string) *Node { return &Node{Type: TextType, Text: s} }

// NewElement returns an element with the given children.
func NewElement(typ string, props map[string]any, children ...*Node) *Node {
	return &Node{Type: typ, Props: props, Children: children}
}

// IsText reports whether n is a text leaf.
func (n *Node) IsText() bool { return n != nil && n.Type == TextType }

// Append adds children, skipping nils.
func (n *Node) Append(children ...*Node) *Node {
	for _, c := range children {
		if c != nil {
			n.Children = append(n.Children, c)
		}
	}
	return n
}

// Walk visits n and its descendants depth-first. Returning false skips the children.
func (n *Node) Walk(fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Count returns the number of nodes in the tree.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(*Node) bool {
		total++
		return true
	})
	return total
}

// Find returns every node of the given type in document order.
func (n *Node) Find(typ string) []*Node {
	var out []*Node
	n.Walk(func(c *Node) bool {
		if c.Type == typ {
			out = append(out, c)
		}
		return true
	})
	return out
}

// TextContent concatenates every text leaf, separating adjacent blocks with a space.
func (n *Node) TextContent() string {
	var parts []string
	n.Walk(func(c *Node) bool {
		if c.IsText() && strings.TrimSpace(c.Text) != "" {
			parts = append(parts, strings.TrimSpace(c.Text))
		}
		return true
	})
	return strings.Join(parts, " ")
}

// PropKeys returns the prop names in sorted order.
func (n *Node) PropKeys() []string {
	keys := make([]string, 0, len(n.Props))
	for k := range n.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
