package jsx

import sitter "github.com/smacker/go-tree-sitter"

// IterationMethods are the array methods that throw on undefined receivers.
var IterationMethods = map[string]bool{
	"map": true, "filter": true, "reduce": true, "forEach": true, "find": true,
	"some": true, "every": true, "flatMap": true, "findIndex": true,
}

// KeyReaders are the Object functions that throw on undefined arguments.
var KeyReaders = map[string]bool{"keys": true, "values": true, "entries": true}

// FirstArgument returns the first argument of a call, if any.
func FirstArgument(call *sitter.Node) *sitter.Node {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return nil
	}
	return args.NamedChild(0)
}

// IsGuardedMapping reports whether an Object.keys argument can never be nullish.
func IsGuardedMapping(arg *sitter.Node) bool {
	n := Unparen(arg)
	switch n.Type() {
	case "object", "array", "string", "template_string", "number":
		return true
	case "binary_expression":
		op := Operator(n)
		return op == "||" || op == "??"
	}
	return false
}

// IsGuardableReceiver reports receivers that can be wrapped as (X || []).
func IsGuardableReceiver(n *sitter.Node) bool {
	switch n.Type() {
	case "identifier":
		return true
	case "member_expression", "subscript_expression":
		_, optional := ChainShape(n)
		return !optional
	}
	return false
}

// ChainShape measures a member chain and whether any link is optional.
func ChainShape(n *sitter.Node) (depth int, optional bool) {
	for n != nil && (n.Type() == "member_expression" || n.Type() == "subscript_expression") {
		depth++
		if IsOptionalChain(n) {
			optional = true
		}
		n = n.ChildByFieldName("object")
	}
	return depth, optional
}

// RootName returns the identifier at the base of a member chain.
func (d *Document) RootName(n *sitter.Node) string {
	for n != nil {
		switch n.Type() {
		case "identifier":
			return d.Text(n)
		case "member_expression", "subscript_expression":
			n = n.ChildByFieldName("object")
		case "parenthesized_expression":
			n = Unparen(n)
		default:
			return ""
		}
	}
	return ""
}
