// Package jsx parses generated component source with tree-sitter and offers the small set of
// tree queries the validation gates and the safety transformer need.
package jsx

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
)

// Document is a parsed source unit. Callers must Close it.
type Document struct {
	Source []byte
	Root   *sitter.Node
	tree   *sitter.Tree
}

// Position is a 1-based line/column pair.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string { return fmt.Sprintf("line %d, column %d", p.Line, p.Column) }

// Parse builds a syntax tree using the JavaScript grammar, which accepts JSX.
// A fresh parser is used per call; parsers are not safe for concurrent use.
func Parse(ctx context.Context, code string) (*Document, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())

	src := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse failed: %w", err)
	}
	return &Document{Source: src, Root: tree.RootNode(), tree: tree}, nil
}

// Close releases the underlying tree.
func (d *Document) Close() {
	if d.tree != nil {
		d.tree.Close()
		d.tree = nil
	}
}

// Text returns the source text covered by n.
func (d *Document) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(d.Source[n.StartByte():n.EndByte()])
}

// PositionOf returns the 1-based start position of n.
func PositionOf(n *sitter.Node) Position {
	p := n.StartPoint()
	return Position{Line: int(p.Row) + 1, Column: int(p.Column) + 1}
}

// SyntaxError returns the position of the first ERROR or MISSING node.
func (d *Document) SyntaxError() (Position, bool) {
	if !d.Root.HasError() {
		return Position{}, false
	}
	var found *sitter.Node
	Walk(d.Root, func(n *sitter.Node) bool {
		if found != nil {
			return false
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			found = n
			return false
		}
		return n.HasError()
	})
	if found == nil {
		return PositionOf(d.Root), true
	}
	return PositionOf(found), true
}

// Walk visits n and its descendants in pre-order. Returning false skips the children.
func Walk(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		Walk(n.Child(i), fn)
	}
}

// Same reports whether a and b denote the same node.
func Same(a, b *sitter.Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// IsCapitalized reports whether name starts with an upper-case letter.
func IsCapitalized(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

// IsPascalCase reports a capitalized name that also has a lower-case letter, which separates
// component-like names from SCREAMING_CASE constants.
func IsPascalCase(name string) bool {
	if !IsCapitalized(name) {
		return false
	}
	return strings.IndexFunc(name, unicode.IsLower) >= 0
}

// IsFunctionNode reports whether n is a function-valued expression or declaration.
func IsFunctionNode(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case "arrow_function", "function", "function_expression", "function_declaration",
		"generator_function", "generator_function_declaration", "class", "class_declaration":
		return true
	}
	return false
}

// IsJSX reports whether n is a JSX element node.
func IsJSX(n *sitter.Node) bool {
	switch n.Type() {
	case "jsx_element", "jsx_self_closing_element", "jsx_fragment":
		return true
	}
	return false
}

// ContainsJSX reports whether any descendant of n is JSX.
func ContainsJSX(n *sitter.Node) bool {
	found := false
	Walk(n, func(c *sitter.Node) bool {
		if found {
			return false
		}
		if IsJSX(c) {
			found = true
			return false
		}
		return true
	})
	return found
}

// ContainsType reports whether any descendant of n has the given type.
func ContainsType(n *sitter.Node, typ string) bool {
	found := false
	Walk(n, func(c *sitter.Node) bool {
		if found {
			return false
		}
		if c.Type() == typ {
			found = true
			return false
		}
		return true
	})
	return found
}

// IsOptionalChain reports whether a member/subscript/call node uses ?. directly.
func IsOptionalChain(n *sitter.Node) bool {
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		c := n.Child(i)
		if c.Type() == "optional_chain" || c.Type() == "?." {
			return true
		}
	}
	return false
}

// Unparen strips any number of enclosing parentheses.
func Unparen(n *sitter.Node) *sitter.Node {
	for n != nil && n.Type() == "parenthesized_expression" && n.NamedChildCount() > 0 {
		n = n.NamedChild(0)
	}
	return n
}

// Operator returns the operator token of a binary expression.
func Operator(n *sitter.Node) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		return op.Type()
	}
	if n.ChildCount() == 3 {
		return n.Child(1).Type()
	}
	return ""
}
