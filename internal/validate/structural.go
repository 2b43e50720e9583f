package validate

import (
	"context"
	"fmt"
	"strings"

	"genui/internal/jsx"
)

// StructuralOutcome is fatal when not Valid.
type StructuralOutcome struct {
	Valid  bool
	Error  string
	Issues []Issue
}

// CheckStructure verifies the anchor declaration exists, renders something, and that the
// unit has no imports, exports or syntax errors.
func CheckStructure(code string, vc Context) StructuralOutcome {
	if strings.TrimSpace(code) == "" {
		return StructuralOutcome{Error: "no code to validate", Issues: []Issue{{Rule: RuleMissingAnchor, Message: "no code to validate"}}}
	}
	doc, err := jsx.Parse(context.Background(), code)
	if err != nil {
		return StructuralOutcome{Error: err.Error(), Issues: []Issue{{Rule: RuleSyntax, Message: err.Error()}}}
	}
	defer doc.Close()

	var issues []Issue
	if pos, bad := doc.SyntaxError(); bad {
		issues = append(issues, Issue{Rule: RuleSyntax, Message: fmt.Sprintf("syntax error near %s", pos), Pos: pos})
	}

	count := int(doc.Root.NamedChildCount())
	for i := 0; i < count; i++ {
		stmt := doc.Root.NamedChild(i)
		switch stmt.Type() {
		case "import_statement":
			issues = append(issues, Issue{Rule: RuleImportExport, Identifier: "import",
				Message: "import statements are not allowed; every component is already in scope", Pos: jsx.PositionOf(stmt)})
		case "export_statement":
			issues = append(issues, Issue{Rule: RuleImportExport, Identifier: "export",
				Message: "export statements are not allowed; declare " + vc.Anchor + " without exporting it", Pos: jsx.PositionOf(stmt)})
		}
	}

	anchor, ok := doc.FindDeclaration(vc.Anchor)
	switch {
	case !ok:
		issues = append(issues, Issue{Rule: RuleMissingAnchor, Identifier: vc.Anchor,
			Message: fmt.Sprintf("%s is not declared at the top level", vc.Anchor)})
	case !anchor.IsFunction():
		issues = append(issues, Issue{Rule: RuleMissingAnchor, Identifier: vc.Anchor,
			Message: fmt.Sprintf("%s must be a function component", vc.Anchor), Pos: anchor.Pos})
	case !jsx.ContainsJSX(anchor.Value) && !jsx.ContainsType(anchor.Value, "return_statement"):
		issues = append(issues, Issue{Rule: RuleNoRender, Identifier: vc.Anchor,
			Message: fmt.Sprintf("%s never returns JSX", vc.Anchor), Pos: anchor.Pos})
	}

	return StructuralOutcome{Valid: len(issues) == 0, Error: joinIssues(issues), Issues: issues}
}
