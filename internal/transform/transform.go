// Package transform patches the null-unsafe patterns generated components most often contain.
// The rewrite is narrow and syntactic: it guards Object.keys/values/entries arguments,
// iteration receivers and bare object spreads, and nothing else.
package transform

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"genui/internal/jsx"
	"genui/internal/logging"
)

// Kind names a rewrite rule.
type Kind int

const (
	KindKeys      Kind = iota // Object.keys(X) -> Object.keys(X || {})
	KindIteration             // X.map(...) -> (X || []).map(...)
	KindSpread                // {...x} -> {...(x || {})}
)

func (k Kind) String() string {
	switch k {
	case KindKeys:
		return "keys"
	case KindIteration:
		return "iteration"
	case KindSpread:
		return "spread"
	default:
		return "unknown"
	}
}

// Rewrite records one applied guard.
type Rewrite struct {
	Kind     Kind
	Original string
	Pos      jsx.Position
}

// Result is the transformed code and the guards that produced it.
type Result struct {
	Code     string
	Rewrites []Rewrite
}

// Changed reports whether any guard was applied.
func (r Result) Changed() bool { return len(r.Rewrites) > 0 }

// unguardedRoots never need an iteration guard.
var unguardedRoots = map[string]bool{
	"Object": true, "Array": true, "Math": true, "JSON": true, "React": true,
	"Icons": true, "motion": true, "Number": true, "String": true,
}

type span struct {
	start, end uint32
	typ        string
}

func spanOf(n *sitter.Node) span { return span{n.StartByte(), n.EndByte(), n.Type()} }

type rewriter struct {
	doc      *jsx.Document
	wraps    map[span]Kind
	rewrites []Rewrite
}

// Transform returns code with every recognised unguarded access wrapped. Code that does not
// parse cleanly is returned unchanged. Transform(Transform(c)) == Transform(c).
func Transform(code string) string {
	return Apply(code).Code
}

// Apply is Transform with the list of applied rewrites.
func Apply(code string) Result {
	doc, err := jsx.Parse(context.Background(), code)
	if err != nil {
		return Result{Code: code}
	}
	defer doc.Close()
	if doc.Root.HasError() {
		logging.TransformDebug("skipping transform: source has syntax errors")
		return Result{Code: code}
	}

	r := &rewriter{doc: doc, wraps: make(map[span]Kind)}
	r.collect()
	if len(r.wraps) == 0 {
		return Result{Code: code}
	}
	src := doc.Source
	out := string(src[:doc.Root.StartByte()]) + r.emit(doc.Root) + string(src[doc.Root.EndByte():])
	logging.TransformDebug("applied %d guards", len(r.rewrites))
	return Result{Code: out, Rewrites: r.rewrites}
}

// collect marks every node that must be wrapped.
func (r *rewriter) collect() {
	doc := r.doc
	jsx.Walk(doc.Root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "call_expression":
			fn := n.ChildByFieldName("function")
			if fn == nil || fn.Type() != "member_expression" || jsx.IsOptionalChain(fn) {
				return true
			}
			obj, prop := fn.ChildByFieldName("object"), fn.ChildByFieldName("property")
			if obj == nil || prop == nil {
				return true
			}
			method := doc.Text(prop)
			if doc.Text(obj) == "Object" && jsx.KeyReaders[method] {
				if arg := jsx.FirstArgument(n); arg != nil && !jsx.IsGuardedMapping(arg) && arg.Type() != "spread_element" {
					r.mark(arg, KindKeys)
				}
				return true
			}
			if jsx.IterationMethods[method] && jsx.IsGuardableReceiver(obj) && !unguardedRoots[doc.RootName(obj)] {
				r.mark(obj, KindIteration)
			}
		case "spread_element":
			if p := n.Parent(); p != nil && p.Type() == "object" {
				if arg := n.NamedChild(0); arg != nil && arg.Type() == "identifier" {
					r.mark(arg, KindSpread)
				}
			}
		}
		return true
	})
}

func (r *rewriter) mark(n *sitter.Node, kind Kind) {
	key := spanOf(n)
	if _, ok := r.wraps[key]; ok {
		return
	}
	r.wraps[key] = kind
	r.rewrites = append(r.rewrites, Rewrite{Kind: kind, Original: r.doc.Text(n), Pos: jsx.PositionOf(n)})
}

// emit reprints n with its descendants rewritten first, then wraps n itself if marked.
func (r *rewriter) emit(n *sitter.Node) string {
	inner := r.splice(n)
	kind, ok := r.wraps[spanOf(n)]
	if !ok {
		return inner
	}
	switch kind {
	case KindKeys:
		switch n.Type() {
		case "identifier", "member_expression", "subscript_expression", "call_expression", "parenthesized_expression":
			return inner + " || {}"
		}
		return "(" + inner + ") || {}"
	case KindIteration:
		return "(" + inner + " || [])"
	case KindSpread:
		return "(" + inner + " || {})"
	}
	return inner
}

func (r *rewriter) splice(n *sitter.Node) string {
	src := r.doc.Source
	count := int(n.ChildCount())
	if count == 0 {
		return string(src[n.StartByte():n.EndByte()])
	}
	var b strings.Builder
	pos := n.StartByte()
	for i := 0; i < count; i++ {
		c := n.Child(i)
		b.Write(src[pos:c.StartByte()])
		b.WriteString(r.emit(c))
		pos = c.EndByte()
	}
	b.Write(src[pos:n.EndByte()])
	return b.String()
}
