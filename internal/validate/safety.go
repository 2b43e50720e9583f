package validate

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"genui/internal/jsx"
)

// SafetyOutcome is fatal when not Safe.
type SafetyOutcome struct {
	Safe   bool
	Issues []Issue
}

// forbiddenGlobals maps free identifiers to the escape they signal.
var forbiddenGlobals = map[string]Rule{
	"eval":           RuleDynamicEval,
	"Function":       RuleDynamicEval,
	"require":        RuleDynamicEval,
	"fetch":          RuleNetwork,
	"XMLHttpRequest": RuleNetwork,
	"WebSocket":      RuleNetwork,
	"EventSource":    RuleNetwork,
	"localStorage":   RuleStorage,
	"sessionStorage": RuleStorage,
	"indexedDB":      RuleStorage,
	"document":       RuleGlobalDOM,
	"window":         RuleGlobalDOM,
	"globalThis":     RuleGlobalDOM,
	"navigator":      RuleGlobalDOM,
	"location":       RuleGlobalDOM,
	"history":        RuleGlobalDOM,
}

// forbiddenProperties maps property names to the escape they signal wherever they appear.
var forbiddenProperties = map[string]Rule{
	"dangerouslySetInnerHTML": RuleHTMLInjection,
	"innerHTML":               RuleHTMLInjection,
	"outerHTML":               RuleHTMLInjection,
	"insertAdjacentHTML":      RuleHTMLInjection,
	"sendBeacon":              RuleNetwork,
}

var ruleAdvice = map[Rule]string{
	RuleDynamicEval:   "dynamic code evaluation is not available",
	RuleNetwork:       "network access is not available; use the provided data",
	RuleStorage:       "browser storage is not available; keep state in useState",
	RuleGlobalDOM:     "global DOM access is not available; render through JSX only",
	RuleHTMLInjection: "raw HTML injection is not allowed; render text through JSX",
}

// CheckSafety flags sandbox escape attempts. Locally bound names shadowing a forbidden
// global are not flagged.
func CheckSafety(code string, vc Context) SafetyOutcome {
	doc, err := jsx.Parse(context.Background(), code)
	if err != nil {
		return SafetyOutcome{Issues: []Issue{{Rule: RuleSyntax, Message: err.Error()}}}
	}
	defer doc.Close()

	bound := doc.BoundNames()
	var issues []Issue
	report := func(rule Rule, name string, n *sitter.Node) {
		issues = append(issues, Issue{
			Rule:       rule,
			Identifier: name,
			Message:    fmt.Sprintf("%s: %s", name, ruleAdvice[rule]),
			Pos:        jsx.PositionOf(n),
		})
	}

	jsx.Walk(doc.Root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "identifier", "shorthand_property_identifier":
			name := doc.Text(n)
			if rule, ok := forbiddenGlobals[name]; ok && !bound[name] {
				report(rule, name, n)
			}
		case "property_identifier":
			name := doc.Text(n)
			if rule, ok := forbiddenProperties[name]; ok {
				report(rule, name, n)
			}
		case "call_expression":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return true
			}
			if fn.Type() == "import" {
				report(RuleDynamicEval, "import()", n)
				return true
			}
			name := doc.Text(fn)
			if (name == "setTimeout" || name == "setInterval") && firstArgIsString(n) {
				report(RuleDynamicEval, name+"(string)", n)
			}
		}
		return true
	})

	issues = dedupe(issues)
	return SafetyOutcome{Safe: len(issues) == 0, Issues: issues}
}

func firstArgIsString(call *sitter.Node) bool {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return false
	}
	switch args.NamedChild(0).Type() {
	case "string", "template_string":
		return true
	}
	return false
}
