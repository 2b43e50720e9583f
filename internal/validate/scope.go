package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"genui/internal/catalog"
	"genui/internal/jsx"
)

// ScopeOutcome lists names the sandbox cannot resolve. Suggestions are keyed by identifier.
type ScopeOutcome struct {
	Valid       bool
	Issues      []Issue
	Suggestions map[string]string
}

// SuggestionList returns suggestions ordered by identifier.
func (o ScopeOutcome) SuggestionList() []string {
	out := make([]string, 0, len(o.Suggestions))
	for _, k := range sortedKeys(o.Suggestions) {
		out = append(out, fmt.Sprintf("%s: %s", k, o.Suggestions[k]))
	}
	return out
}

// Identifiers returns the offending names in issue order.
func (o ScopeOutcome) Identifiers() []string {
	out := make([]string, 0, len(o.Issues))
	for _, i := range o.Issues {
		out = append(out, i.Identifier)
	}
	return out
}

// HelperComponents returns only the helper-declaration issues.
func (o ScopeOutcome) HelperComponents() []string {
	var out []string
	for _, i := range o.Issues {
		if i.Rule == RuleHelperComponent {
			out = append(out, i.Identifier)
		}
	}
	return out
}

// CheckScope flags every name the program reads that resolves neither to a local binding nor
// to a catalog name, unknown namespace members, and any top-level component other than the
// anchor.
func CheckScope(code string, vc Context) ScopeOutcome {
	out := ScopeOutcome{Suggestions: make(map[string]string)}
	doc, err := jsx.Parse(context.Background(), code)
	if err != nil {
		out.Issues = []Issue{{Rule: RuleSyntax, Message: err.Error()}}
		return out
	}
	defer doc.Close()

	cat := vc.catalog()
	helpers := make(map[string]bool)
	for _, decl := range doc.TopLevelDeclarations() {
		if decl.Name == vc.Anchor || !jsx.IsCapitalized(decl.Name) {
			continue
		}
		if !jsx.IsPascalCase(decl.Name) && !decl.IsFunction() {
			continue // SCREAMING_CASE constants are data, not components
		}
		helpers[decl.Name] = true
		out.Issues = append(out.Issues, Issue{
			Rule:       RuleHelperComponent,
			Identifier: decl.Name,
			Message: fmt.Sprintf("%s is declared as a separate top-level component; only %s may be declared",
				decl.Name, vc.Anchor),
			Pos: decl.Pos,
		})
		out.Suggestions[decl.Name] = fmt.Sprintf(
			"inline the markup of %s directly inside %s (map over the data inline or build a const element) instead of declaring a helper component",
			decl.Name, vc.Anchor)
	}

	bound := doc.BoundNames()
	for _, ref := range doc.References() {
		if ref.Root == "" || helpers[ref.Root] {
			continue
		}
		if bound[ref.Root] {
			continue
		}
		entry, known := cat.Lookup(ref.Root)
		if !known {
			out.Issues = append(out.Issues, Issue{
				Rule:       RuleUnknownIdentifier,
				Identifier: ref.Root,
				Message:    fmt.Sprintf("%s (%s) is not defined in the sandbox", ref.Root, ref.Kind),
				Pos:        ref.Pos,
			})
			out.Suggestions[ref.Root] = suggest(cat, ref.Root)
			continue
		}
		if ref.Member != "" && entry.Kind == catalog.KindNamespace && !cat.HasMember(ref.Root, ref.Member) {
			out.Issues = append(out.Issues, Issue{
				Rule:       RuleUnknownMember,
				Identifier: ref.Name,
				Message:    fmt.Sprintf("%s is not part of %s", ref.Name, ref.Root),
				Pos:        ref.Pos,
			})
			out.Suggestions[ref.Name] = suggestMember(entry, ref.Member)
		}
	}

	for _, ref := range doc.ValueReferences() {
		if bound[ref.Root] || helpers[ref.Root] || implicitNames[ref.Root] || cat.Has(ref.Root) {
			continue
		}
		out.Issues = append(out.Issues, Issue{
			Rule:       RuleUnknownIdentifier,
			Identifier: ref.Root,
			Message:    fmt.Sprintf("%s (%s) is not defined in the sandbox", ref.Root, ref.Kind),
			Pos:        ref.Pos,
		})
		if _, ok := out.Suggestions[ref.Root]; !ok {
			out.Suggestions[ref.Root] = suggest(cat, ref.Root)
		}
	}

	out.Issues = dedupe(out.Issues)
	out.Valid = len(out.Issues) == 0
	return out
}

// implicitNames resolve inside any function without a catalog entry.
var implicitNames = map[string]bool{"arguments": true}

// knownHallucinations covers names models reach for out of habit.
var knownHallucinations = map[string]string{
	"Intl":          "Intl is unavailable; use formatNumber(value), formatCurrency(value) or formatDate(value)",
	"CardBody":      "use CardContent",
	"Container":     "use Stack or Grid, or a <div> with className",
	"Box":           "use Stack or a <div> with className",
	"Flex":          "use Stack or a <div className=\"flex\">",
	"Row":           "use Stack or a <div className=\"flex\">",
	"Col":           "use Grid or a <div>",
	"Column":        "use Grid or a <div>",
	"Text":          "use a plain <p> or <span>",
	"Typography":    "use a plain <p> or <h2>",
	"Heading":       "use a plain <h2> or CardTitle",
	"Title":         "use CardTitle or a plain <h2>",
	"Image":         "use a plain <img>",
	"Link":          "use a plain <a>",
	"Icon":          "use a specific icon such as <Icons.Star />",
	"Spinner":       "use Skeleton",
	"Loader":        "use Skeleton",
	"Modal":         "use Card or Accordion; overlays are not available",
	"Dialog":        "use Card or Accordion; overlays are not available",
	"Chart":         "use LineChart, BarChart, AreaChart or PieChart inside ResponsiveContainer",
	"ReactDOM":      "do not mount anything; just return JSX",
	"useContext":    "context is unavailable; derive values from data or useState",
	"useId":         "use a stable string literal instead",
	"useQuery":      "data is already provided as `data`",
	"useFetch":      "data is already provided as `data`",
	"useEffectOnce": "use useEffect with an empty dependency list",
}

func suggest(cat *catalog.Catalog, name string) string {
	if s, ok := knownHallucinations[name]; ok {
		return s
	}
	if cat.IsIcon(name) {
		return fmt.Sprintf("icons live in a namespace; write <Icons.%s />", name)
	}
	if match := nearest(name, cat.Names()); match != "" {
		return fmt.Sprintf("did you mean %s?", match)
	}
	return "use only catalog components, plain HTML elements, or inline JSX"
}

func suggestMember(ns catalog.Entry, member string) string {
	if match := nearest(member, ns.Members); match != "" {
		return fmt.Sprintf("did you mean %s.%s?", ns.Name, match)
	}
	if ns.Name == "Icons" {
		var sameInitial []string
		for _, m := range ns.Members {
			if strings.HasPrefix(m, member[:1]) {
				sameInitial = append(sameInitial, m)
			}
		}
		if len(sameInitial) > 0 {
			return "available icons include " + strings.Join(sameInitial, ", ")
		}
	}
	return fmt.Sprintf("%s has no member %s", ns.Name, member)
}

// nearest returns the candidate within edit distance 2 (or equal ignoring case), else the
// best fuzzy match for abbreviated names.
func nearest(name string, candidates []string) string {
	best, bestDist := "", 3
	lower := strings.ToLower(name)
	for _, c := range candidates {
		if strings.ToLower(c) == lower {
			return c
		}
		if d := levenshtein(lower, strings.ToLower(c)); d < bestDist {
			best, bestDist = c, d
		}
	}
	if best != "" || len(name) < 3 {
		return best
	}
	if matches := fuzzy.Find(name, candidates); len(matches) > 0 {
		return matches[0].Str
	}
	return ""
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
