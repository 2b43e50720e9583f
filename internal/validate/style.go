package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// StyleOutcome is advisory.
type StyleOutcome struct {
	Safe     bool
	Warnings []Issue
}

type layoutHazard struct {
	label  string
	re     *regexp.Regexp
	advice string
	// accept reports whether a match is really a hazard; nil accepts every match.
	accept func(match []string) bool
}

var layoutHazards = []layoutHazard{
	{
		label:  "fixed positioning",
		re:     regexp.MustCompile(`(?i)position\s*:\s*['"]?fixed\b|\bclassName\s*=\s*\{?\s*["'` + "`" + `](?:[^"'` + "`" + `]*\s)?fixed[\s"'` + "`" + `]`),
		advice: "use relative or absolute positioning inside the card",
	},
	{
		label:  "viewport unit",
		re:     regexp.MustCompile(`(?i)['"\s:(\[]-?\d+(?:\.\d+)?(vw|vh|dvh|svh|lvh)\b`),
		advice: "size with percentages or fixed rem values; the component renders inside a container",
	},
	{
		label:  "full-screen utility",
		re:     regexp.MustCompile(`\b(?:h|w|min-h|min-w|max-h|max-w)-screen\b`),
		advice: "use h-full or an explicit height instead of the screen size",
	},
	{
		label:  "extreme z-index",
		re:     regexp.MustCompile(`(?i)z-?index\s*:\s*['"]?(\d+)|\bz-\[(\d+)\]`),
		advice: "keep z-index below 100",
		accept: func(m []string) bool {
			for _, g := range m[1:] {
				if n, err := strconv.Atoi(g); err == nil && n >= 1000 {
					return true
				}
			}
			return false
		},
	},
	{
		label:  "large negative margin",
		re:     regexp.MustCompile(`(?i)margin(?:Top|Left|Right|Bottom)?\s*:\s*['"]?-(\d+)|(?:^|[\s"'` + "`" + `])-m[trblxy]?-(\d+)\b`),
		advice: "avoid pulling content outside its container",
		accept: func(m []string) bool {
			for i, g := range m[1:] {
				n, err := strconv.Atoi(g)
				if err != nil {
					continue
				}
				if (i == 0 && n >= 50) || (i == 1 && n >= 12) {
					return true
				}
			}
			return false
		},
	},
	{
		label:  "oversized fixed width",
		re:     regexp.MustCompile(`(?i)(?:^|[^a-z-])(?:min-?)?width\s*:\s*['"]?(\d+)(?:px)?\b|\bw-\[(\d+)px\]`),
		advice: "use w-full or max-w-* so the component fits narrow layouts",
		accept: func(m []string) bool {
			for _, g := range m[1:] {
				if n, err := strconv.Atoi(g); err == nil && n >= 1000 {
					return true
				}
			}
			return false
		},
	},
}

// CheckStyle scans inline styles and utility classes for layout-breaking patterns.
func CheckStyle(code string, vc Context) StyleOutcome {
	var warnings []Issue
	for _, h := range layoutHazards {
		for _, m := range h.re.FindAllStringSubmatch(code, -1) {
			if h.accept != nil && !h.accept(m) {
				continue
			}
			snippet := strings.TrimSpace(strings.Trim(m[0], `"'{(:`+"`"))
			warnings = append(warnings, Issue{
				Rule:       RuleLayout,
				Identifier: h.label,
				Message:    fmt.Sprintf("%s (%s): %s", h.label, snippet, h.advice),
			})
			break
		}
	}
	return StyleOutcome{Safe: len(warnings) == 0, Warnings: warnings}
}
