// Package extract recovers a single component declaration from raw engine output.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"genui/internal/logging"
)

// Default envelope markers.
const (
	OpenMarker  = "[[CODE]]"
	CloseMarker = "[[/CODE]]"
)

// Strategy identifies which heuristic recovered the code.
type Strategy int

const (
	StrategyNone         Strategy = iota
	StrategyMarkers               // envelope is the whole output
	StrategyMarkersProse          // envelope surrounded by prose or mangled markers
	StrategyOpenMarker            // opening marker only, anchor present
	StrategyFence                 // fenced block mentioning the anchor
	StrategyAnchorDecl            // bare anchor declaration returning JSX
	StrategyRenamedDecl           // some capitalized declaration, renamed to the anchor
)

func (s Strategy) String() string {
	switch s {
	case StrategyMarkers:
		return "markers"
	case StrategyMarkersProse:
		return "markers_with_prose"
	case StrategyOpenMarker:
		return "open_marker"
	case StrategyFence:
		return "fenced_block"
	case StrategyAnchorDecl:
		return "anchor_declaration"
	case StrategyRenamedDecl:
		return "renamed_declaration"
	default:
		return "none"
	}
}

// Diagnostics describes the raw input when nothing could be extracted.
type Diagnostics struct {
	InputLength    int
	HasOpenMarker  bool
	HasCloseMarker bool
	HasAnchor      bool
	HasFence       bool
}

func (d Diagnostics) String() string {
	return fmt.Sprintf("input length %d chars, open marker present: %t, close marker present: %t, %s present: %t, code fence present: %t",
		d.InputLength, d.HasOpenMarker, d.HasCloseMarker, "anchor", d.HasAnchor, d.HasFence)
}

// Result is the outcome of one extraction.
type Result struct {
	Code        string // empty when every strategy failed
	Strategy    Strategy
	Diagnostics Diagnostics
}

// OK reports whether code was recovered.
func (r Result) OK() bool { return r.Code != "" }

// Extractor applies the strategies in order. It holds no mutable state.
type Extractor struct {
	Anchor string
	Open   string
	Close  string

	lenient  *regexp.Regexp
	openOnly *regexp.Regexp
	anchorRe *regexp.Regexp
}

var (
	fenceRe     = regexp.MustCompile("(?s)```[A-Za-z0-9_+-]*[ \t]*\r?\n(.*?)```")
	capDeclRe   = regexp.MustCompile(`(?m)^[ \t]*(?:export[ \t]+(?:default[ \t]+)?)?((?:const|let|var|function)[ \t]+([A-Z][A-Za-z0-9_]*))\b`)
	jsxReturnRe = regexp.MustCompile(`(?:return|=>)\s*\(?\s*<`)
)

// New builds an extractor for the given anchor with the default markers.
func New(anchor string) *Extractor {
	return NewWithMarkers(anchor, OpenMarker, CloseMarker)
}

// NewWithMarkers builds an extractor with custom markers of the form [[NAME]] / [[/NAME]].
func NewWithMarkers(anchor, open, close string) *Extractor {
	word := strings.Trim(open, "[]")
	w := regexp.QuoteMeta(word)
	return &Extractor{
		Anchor:   anchor,
		Open:     open,
		Close:    close,
		lenient:  regexp.MustCompile(`(?is)\\?\[\\?\[\s*` + w + `\s*\\?\]\\?\](.*?)\\?\[\\?\[\s*/\s*` + w + `\s*\\?\]\\?\]`),
		openOnly: regexp.MustCompile(`(?i)\\?\[\\?\[\s*` + w + `\s*\\?\]\\?\]`),
		anchorRe: regexp.MustCompile(`(?m)^[ \t]*(?:export[ \t]+(?:default[ \t]+)?)?((?:const|let|var|function)[ \t]+` + regexp.QuoteMeta(anchor) + `)\b`),
	}
}

// Extract runs the strategies in order and stops at the first success. It never panics.
func (e *Extractor) Extract(raw string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			logging.ExtractWarn("extractor panic recovered: %v", r)
			res = Result{Diagnostics: e.diagnose(raw)}
		}
	}()

	strategies := []struct {
		s  Strategy
		fn func(string) string
	}{
		{StrategyMarkers, e.exactMarkers},
		{StrategyMarkersProse, e.lenientMarkers},
		{StrategyOpenMarker, e.openMarker},
		{StrategyFence, e.fenced},
		{StrategyAnchorDecl, e.anchorDeclaration},
		{StrategyRenamedDecl, e.renamedDeclaration},
	}
	for _, st := range strategies {
		if code := st.fn(raw); code != "" {
			logging.ExtractDebug("extracted %d chars with strategy %s", len(code), st.s)
			return Result{Code: code, Strategy: st.s}
		}
	}
	diag := e.diagnose(raw)
	logging.ExtractDebug("extraction failed: %s", diag)
	return Result{Diagnostics: diag}
}

func (e *Extractor) diagnose(raw string) Diagnostics {
	return Diagnostics{
		InputLength:    len(raw),
		HasOpenMarker:  e.openOnly.MatchString(raw),
		HasCloseMarker: strings.Contains(strings.ToUpper(raw), strings.ToUpper(e.Close)),
		HasAnchor:      strings.Contains(raw, e.Anchor),
		HasFence:       strings.Contains(raw, "```"),
	}
}

// exactMarkers: the trimmed output starts with the opening marker and ends with the closing one.
func (e *Extractor) exactMarkers(raw string) string {
	t := strings.TrimSpace(raw)
	if !strings.HasPrefix(t, e.Open) || !strings.HasSuffix(t, e.Close) || len(t) < len(e.Open)+len(e.Close) {
		return ""
	}
	inner := t[len(e.Open) : len(t)-len(e.Close)]
	if strings.Contains(inner, e.Open) {
		return ""
	}
	return unfence(inner)
}

func (e *Extractor) lenientMarkers(raw string) string {
	m := e.lenient.FindStringSubmatch(raw)
	if m == nil {
		return ""
	}
	return unfence(m[1])
}

func (e *Extractor) openMarker(raw string) string {
	loc := e.openOnly.FindStringIndex(raw)
	if loc == nil {
		return ""
	}
	rest := raw[loc[1]:]
	if !strings.Contains(rest, e.Anchor) {
		return ""
	}
	return unfenceOpen(rest)
}

func (e *Extractor) fenced(raw string) string {
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		if strings.Contains(m[1], e.Anchor) {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func (e *Extractor) anchorDeclaration(raw string) string {
	loc := e.anchorRe.FindStringSubmatchIndex(raw)
	if loc == nil {
		return ""
	}
	decl := declarationAt(raw, loc[2])
	if !jsxReturnRe.MatchString(decl) {
		return ""
	}
	return decl
}

func (e *Extractor) renamedDeclaration(raw string) string {
	matches := capDeclRe.FindAllStringSubmatchIndex(raw, -1)
	// The primary component usually comes last; helpers are declared before it.
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		name := raw[m[4]:m[5]]
		decl := declarationAt(raw, m[2])
		if !jsxReturnRe.MatchString(decl) {
			continue
		}
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
		return re.ReplaceAllString(decl, e.Anchor)
	}
	return ""
}

// unfence trims whitespace and strips a fence that wraps the whole text. Fences inside the
// code, such as markdown in a string literal, are left alone.
func unfence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return t
	}
	body := t[:len(t)-3]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "```")
	}
	return strings.TrimSpace(body)
}

// unfenceOpen handles the text after an unpaired opening marker, where a trailing fence
// (and prose after it) may follow the code.
func unfenceOpen(s string) string {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "```") {
		if nl := strings.IndexByte(t, '\n'); nl >= 0 {
			t = t[nl+1:]
		} else {
			t = strings.TrimPrefix(t, "```")
		}
	}
	if end := strings.LastIndex(t, "\n```"); end >= 0 {
		t = t[:end]
	}
	return strings.TrimSpace(t)
}

// continuation lists characters that, starting the next line, continue the statement.
const continuation = "{}.?:=([&|+-*/,>"

// declarationAt returns the statement starting at start, ending where brackets balance and
// the statement cannot continue. Brackets inside strings are counted too; JSX text routinely
// holds apostrophes that would derail a string-aware scan.
func declarationAt(raw string, start int) string {
	depth := 0
	seen := false
	i := start
	for i < len(raw) {
		switch raw[i] {
		case '{', '(', '[':
			depth++
			seen = true
		case '}', ')', ']':
			depth--
			if depth < 0 {
				return strings.TrimSpace(raw[start:i])
			}
			if depth == 0 && seen {
				if end, done := statementEnd(raw, i+1); done {
					return strings.TrimSpace(raw[start:end])
				}
			}
		}
		i++
	}
	if depth != 0 {
		return ""
	}
	return strings.TrimSpace(raw[start:])
}

// statementEnd decides whether the statement finishes at pos.
func statementEnd(raw string, pos int) (int, bool) {
	j := pos
	for j < len(raw) && (raw[j] == ' ' || raw[j] == '\t' || raw[j] == '\r') {
		j++
	}
	if j >= len(raw) {
		return j, true
	}
	switch raw[j] {
	case ';':
		return j + 1, true
	case '\n':
		k := j
		for k < len(raw) && strings.ContainsRune(" \t\r\n", rune(raw[k])) {
			k++
		}
		if k >= len(raw) || !strings.ContainsRune(continuation, rune(raw[k])) {
			return j, true
		}
	}
	return 0, false
}
