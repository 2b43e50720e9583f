package validate

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"

	"genui/internal/jsx"
)

// HookUsageOutcome is advisory.
type HookUsageOutcome struct {
	Valid       bool
	Issues      []Issue
	Suggestions []string
}

var depHooks = map[string]bool{"useEffect": true, "useLayoutEffect": true, "useMemo": true, "useCallback": true}

var timerClears = map[string]string{"setInterval": "clearInterval", "setTimeout": "clearTimeout"}

// conditionalScopes are the node types that make a hook call order unstable.
var conditionalScopes = map[string]string{
	"if_statement":       "inside a condition",
	"for_statement":      "inside a loop",
	"for_in_statement":   "inside a loop",
	"while_statement":    "inside a loop",
	"do_statement":       "inside a loop",
	"switch_statement":   "inside a switch",
	"ternary_expression": "inside a conditional expression",
	"try_statement":      "inside a try block",
}

// CheckHookUsage flags leak-prone timers, effects without dependency lists, stale state
// captured inside timer callbacks and hooks called in unstable positions.
func CheckHookUsage(code string, vc Context) HookUsageOutcome {
	doc, err := jsx.Parse(context.Background(), code)
	if err != nil {
		return HookUsageOutcome{Valid: true}
	}
	defer doc.Close()

	out := HookUsageOutcome{}
	suggested := make(map[string]bool)
	add := func(issue Issue, suggestion string) {
		out.Issues = append(out.Issues, issue)
		if suggestion != "" && !suggested[suggestion] {
			suggested[suggestion] = true
			out.Suggestions = append(out.Suggestions, suggestion)
		}
	}

	var anchorFn *sitter.Node
	if decl, ok := doc.FindDeclaration(vc.Anchor); ok {
		anchorFn = jsx.Unparen(decl.Value)
	}

	setters := stateSetters(doc)
	called := make(map[string]bool)
	var timerCalls []*sitter.Node

	jsx.Walk(doc.Root, func(n *sitter.Node) bool {
		if n.Type() != "call_expression" {
			return true
		}
		name := hookCallee(doc, n)
		called[name] = true

		if _, isTimer := timerClears[name]; isTimer {
			timerCalls = append(timerCalls, n)
			return true
		}
		if !isHookName(name) {
			return true
		}
		if depHooks[name] && argCount(n) < 2 {
			add(Issue{Rule: RuleMissingDeps, Identifier: name, Pos: jsx.PositionOf(n),
				Message: fmt.Sprintf("%s without a dependency list runs on every render", name)},
				fmt.Sprintf("pass an explicit dependency array to %s, e.g. %s(() => {...}, [])", name, name))
		}
		if where := unstableScope(n, anchorFn); where != "" {
			add(Issue{Rule: RuleConditionalHook, Identifier: name, Pos: jsx.PositionOf(n),
				Message: fmt.Sprintf("%s is called %s", name, where)},
				"call hooks unconditionally at the top of "+vc.Anchor)
		}
		return true
	})

	for _, call := range timerCalls {
		name := hookCallee(doc, call)
		clearFn := timerClears[name]
		if !called[clearFn] {
			add(Issue{Rule: RuleTimerLeak, Identifier: name, Pos: jsx.PositionOf(call),
				Message: fmt.Sprintf("%s is never cleared with %s", name, clearFn)},
				fmt.Sprintf("keep the id from %s and return () => %s(id) from the effect", name, clearFn))
		}
		cb := jsx.FirstArgument(call)
		if cb == nil || !jsx.IsFunctionNode(cb) {
			continue
		}
		jsx.Walk(cb, func(n *sitter.Node) bool {
			if n.Type() != "call_expression" {
				return true
			}
			fn := n.ChildByFieldName("function")
			if fn == nil || fn.Type() != "identifier" {
				return true
			}
			setter := doc.Text(fn)
			state, ok := setters[setter]
			if !ok {
				return true
			}
			arg := jsx.FirstArgument(n)
			if arg == nil || jsx.IsFunctionNode(arg) || !mentions(doc, arg, state) {
				return true
			}
			add(Issue{Rule: RuleStaleClosure, Identifier: setter, Pos: jsx.PositionOf(n),
				Message: fmt.Sprintf("%s inside %s reads the captured %s, which never changes", setter, name, state)},
				fmt.Sprintf("use the functional form %s(prev => ...)", setter))
			return true
		})
	}

	out.Issues = dedupe(out.Issues)
	out.Valid = len(out.Issues) == 0
	return out
}

// hookCallee returns the called name, dropping a React. prefix.
func hookCallee(doc *jsx.Document, call *sitter.Node) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return doc.Text(fn)
	case "member_expression":
		if obj := fn.ChildByFieldName("object"); obj != nil && doc.Text(obj) == "React" {
			return doc.Text(fn.ChildByFieldName("property"))
		}
	}
	return ""
}

func isHookName(s string) bool {
	return len(s) > 3 && strings.HasPrefix(s, "use") && unicode.IsUpper(rune(s[3]))
}

func argCount(call *sitter.Node) int {
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return 0
	}
	return int(args.NamedChildCount())
}

// stateSetters maps setX to x for every const [x, setX] = useState(...).
func stateSetters(doc *jsx.Document) map[string]string {
	setters := make(map[string]string)
	jsx.Walk(doc.Root, func(n *sitter.Node) bool {
		if n.Type() != "variable_declarator" {
			return true
		}
		name, value := n.ChildByFieldName("name"), n.ChildByFieldName("value")
		if name == nil || value == nil || name.Type() != "array_pattern" || value.Type() != "call_expression" {
			return true
		}
		if callee := hookCallee(doc, value); callee != "useState" && callee != "useReducer" {
			return true
		}
		if name.NamedChildCount() < 2 {
			return true
		}
		state, setter := name.NamedChild(0), name.NamedChild(1)
		if state.Type() == "identifier" && setter.Type() == "identifier" {
			setters[doc.Text(setter)] = doc.Text(state)
		}
		return true
	})
	return setters
}

func mentions(doc *jsx.Document, n *sitter.Node, name string) bool {
	found := false
	jsx.Walk(n, func(c *sitter.Node) bool {
		if found {
			return false
		}
		if c.Type() == "identifier" && doc.Text(c) == name {
			found = true
		}
		return !found
	})
	return found
}

// unstableScope describes why a hook call position is unstable, or returns "".
func unstableScope(call, anchorFn *sitter.Node) string {
	for p := call.Parent(); p != nil; p = p.Parent() {
		if anchorFn != nil && jsx.Same(p, anchorFn) {
			return ""
		}
		if where, ok := conditionalScopes[p.Type()]; ok {
			return where
		}
		if op := p.Type(); op == "binary_expression" {
			if o := jsx.Operator(p); o == "&&" || o == "||" || o == "??" {
				return "behind a short-circuit condition"
			}
		}
		if jsx.IsFunctionNode(p) {
			return "inside a nested function"
		}
	}
	return "outside the component"
}
