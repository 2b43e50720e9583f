package validate

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"genui/internal/catalog"
	"genui/internal/jsx"
)

// RuntimeSafetyOutcome is advisory.
type RuntimeSafetyOutcome struct {
	Safe     bool
	Warnings []Issue
}

const deepAccessDepth = 3

// CheckRuntimeSafety looks for null-unsafe reads of the injected data.
func CheckRuntimeSafety(code string, vc Context) RuntimeSafetyOutcome {
	doc, err := jsx.Parse(context.Background(), code)
	if err != nil {
		return RuntimeSafetyOutcome{Safe: true}
	}
	defer doc.Close()

	var warnings []Issue
	warn := func(rule Rule, subject, msg string, n *sitter.Node) {
		warnings = append(warnings, Issue{Rule: rule, Identifier: subject, Message: msg, Pos: jsx.PositionOf(n)})
	}

	jsx.Walk(doc.Root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "call_expression":
			fn := n.ChildByFieldName("function")
			if fn == nil || fn.Type() != "member_expression" {
				return true
			}
			obj, prop := fn.ChildByFieldName("object"), fn.ChildByFieldName("property")
			if obj == nil || prop == nil {
				return true
			}
			method := doc.Text(prop)
			if doc.Text(obj) == "Object" && jsx.KeyReaders[method] {
				if arg := jsx.FirstArgument(n); arg != nil && !jsx.IsGuardedMapping(arg) {
					warn(RuleUnguardedKeys, doc.Text(arg),
						fmt.Sprintf("Object.%s(%s) throws when %s is undefined", method, doc.Text(arg), doc.Text(arg)), n)
				}
				return true
			}
			if jsx.IterationMethods[method] && !jsx.IsOptionalChain(fn) && jsx.IsGuardableReceiver(obj) && doc.RootName(obj) == catalog.DataBinding {
				warn(RuleUnguardedIteration, doc.Text(obj),
					fmt.Sprintf("%s.%s(...) throws when %s is missing", doc.Text(obj), method, doc.Text(obj)), n)
			}
		case "spread_element":
			if p := n.Parent(); p != nil && p.Type() == "object" {
				if arg := n.NamedChild(0); arg != nil && arg.Type() == "identifier" {
					warn(RuleUnguardedSpread, doc.Text(arg),
						fmt.Sprintf("spreading %s fails when it is not an object", doc.Text(arg)), n)
				}
			}
		case "member_expression":
			if p := n.Parent(); p != nil && (p.Type() == "member_expression" || p.Type() == "subscript_expression") {
				if jsx.Same(p.ChildByFieldName("object"), n) {
					return true // only the outermost link of a chain is judged
				}
			}
			depth, optional := jsx.ChainShape(n)
			if depth >= deepAccessDepth && !optional && doc.RootName(n) == catalog.DataBinding {
				warn(RuleDeepAccess, doc.Text(n),
					fmt.Sprintf("%s assumes every intermediate field exists; use optional chaining", doc.Text(n)), n)
			}
		}
		return true
	})

	warnings = dedupe(warnings)
	return RuntimeSafetyOutcome{Safe: len(warnings) == 0, Warnings: warnings}
}

// Summary renders warnings for logging.
func (o RuntimeSafetyOutcome) Summary() string {
	return strings.Join(Messages(o.Warnings), "; ")
}
