package validate

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
)

// Verdict classifies a relevance score against the thresholds.
type Verdict int

const (
	VerdictPass     Verdict = iota // at or above the marginal band
	VerdictMarginal                // worth one feedback retry
	VerdictFail                    // below the hard floor
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictMarginal:
		return "marginal"
	default:
		return "fail"
	}
}

// RelevanceOutcome is fatal when not Relevant.
type RelevanceOutcome struct {
	Relevant        bool
	Score           int
	Verdict         Verdict
	Issues          []Issue
	MissingEntities []string
}

const (
	entityPenaltyBudget = 60.0
	placeholderPenalty  = 15
	idiomBonus          = 5
)

var placeholderPatterns = []struct {
	label string
	re    *regexp.Regexp
}{
	{"numbered example", regexp.MustCompile(`(?i)\bexample\s*#?\d+\b`)},
	{"sample data", regexp.MustCompile(`(?i)\bsample\s+data\b`)},
	{"lorem ipsum", regexp.MustCompile(`(?i)\blorem\s+ipsum\b`)},
	{"placeholder text", regexp.MustCompile(`(?i)\bplaceholder\s+(?:text|content|value|data)\b`)},
	{"numbered item", regexp.MustCompile(`\bItem\s+\d+\b`)},
	{"stock name", regexp.MustCompile(`\b(?:John|Jane)\s+Doe\b`)},
}

var (
	interactivityIdiom = regexp.MustCompile(`\b(?:useState|useReducer)\b|\bon(?:Click|Change|Submit|ValueChange|CheckedChange)\s*=`)
	dataIdiom          = regexp.MustCompile(`\bdata\s*(?:\?\.|\.|\[)|\}\s*=\s*data\b`)
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true, "into": true,
	"what": true, "how": true, "show": true, "about": true, "vs": true,
}

// CheckRelevance scores how well the code reflects the request's key entities.
func CheckRelevance(code string, vc Context) RelevanceOutcome {
	score := 100.0
	out := RelevanceOutcome{}
	lower := strings.ToLower(code)

	if n := len(vc.KeyEntities); n > 0 {
		penalty := entityPenaltyBudget / float64(n)
		for _, entity := range vc.KeyEntities {
			if entityPresent(lower, entity) {
				continue
			}
			score -= penalty
			out.MissingEntities = append(out.MissingEntities, entity)
			out.Issues = append(out.Issues, Issue{
				Rule:       RuleMissingEntity,
				Identifier: entity,
				Message:    fmt.Sprintf("the component never mentions %q", entity),
			})
		}
	}

	for _, p := range placeholderPatterns {
		if m := p.re.FindString(code); m != "" {
			score -= placeholderPenalty
			out.Issues = append(out.Issues, Issue{
				Rule:       RulePlaceholder,
				Identifier: m,
				Message:    fmt.Sprintf("generic %s %q instead of real content", p.label, m),
			})
		}
	}

	if interactivityIdiom.MatchString(code) {
		score += idiomBonus
	}
	if dataIdiom.MatchString(code) {
		score += idiomBonus
	}

	out.Score = int(math.Round(math.Max(0, math.Min(100, score))))
	switch {
	case out.Score < vc.RelevanceFloor:
		out.Verdict = VerdictFail
	case out.Score < vc.RelevanceMarginal:
		out.Verdict = VerdictMarginal
	default:
		out.Verdict = VerdictPass
	}
	out.Relevant = out.Verdict != VerdictFail
	return out
}

// entityPresent accepts the whole phrase or any significant word of it.
func entityPresent(lowerCode, entity string) bool {
	e := strings.ToLower(strings.TrimSpace(entity))
	if e == "" || strings.Contains(lowerCode, e) {
		return true
	}
	words := strings.FieldsFunc(e, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
	for _, w := range words {
		if len([]rune(w)) < 3 || stopwords[w] {
			continue
		}
		if strings.Contains(lowerCode, w) {
			return true
		}
	}
	return false
}
