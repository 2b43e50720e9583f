package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/kaptinlin/jsonrepair"

	"genui/internal/extract"
	"genui/internal/logging"
)

// Intent is the kind of answer a request calls for.
type Intent string

const (
	IntentFact        Intent = "fact"
	IntentComparison  Intent = "comparison"
	IntentList        Intent = "list"
	IntentTimeline    Intent = "timeline"
	IntentChart       Intent = "chart"
	IntentCalculator  Intent = "calculator"
	IntentExplanation Intent = "explanation"
	IntentOther       Intent = "other"
)

var intents = map[Intent]bool{
	IntentFact: true, IntentComparison: true, IntentList: true, IntentTimeline: true,
	IntentChart: true, IntentCalculator: true, IntentExplanation: true, IntentOther: true,
}

// InteractivityType is how much state the component needs.
type InteractivityType string

const (
	InteractivityStatic      InteractivityType = "static"
	InteractivityInteractive InteractivityType = "interactive"
	InteractivityStateful    InteractivityType = "stateful"
)

// Plan is the parsed output of the planning phase. It is not mutated after parsing.
type Plan struct {
	Intent              Intent            `json:"intent"`
	ContentContext      string            `json:"contentContext"`
	KeyEntities         []string          `json:"keyEntities"`
	NeedsWebSearch      bool              `json:"needsWebSearch"`
	SearchQuery         *string           `json:"searchQuery,omitempty"`
	SuggestedComponents []string          `json:"suggestedComponents"`
	InteractivityType   InteractivityType `json:"interactivityType"`

	// Heuristic is set when the engine's plan could not be parsed.
	Heuristic bool `json:"-"`
}

// Query returns the search query, falling back to the prompt.
func (p *Plan) Query(prompt string) string {
	if p.SearchQuery != nil && strings.TrimSpace(*p.SearchQuery) != "" {
		return strings.TrimSpace(*p.SearchQuery)
	}
	return strings.TrimSpace(prompt)
}

// Confidence levels reported with acquired data.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// DataResult is the data acquired for a request.
type DataResult struct {
	Data       any     `json:"data"`
	Source     *string `json:"source,omitempty"`
	Confidence string  `json:"confidence"`
}

// CodeArtifact is one generation's reply and what was extracted from it.
type CodeArtifact struct {
	RawText       string
	ExtractedCode string // empty when extraction failed
	Strategy      extract.Strategy
}

var jsonFence = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")

// jsonCandidate cuts the most likely JSON value out of an engine reply: a fenced block when
// there is one, otherwise the span from the first brace or bracket to the last matching one.
func jsonCandidate(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := jsonFence.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(m[1])
	}
	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return raw
	}
	closer := byte('}')
	if raw[start] == '[' {
		closer = ']'
	}
	if end := strings.LastIndexByte(raw, closer); end > start {
		return raw[start : end+1]
	}
	return raw[start:]
}

// decodeJSON decodes raw into v, repairing trailing commas, single quotes, comments and other
// common damage when the strict decode fails.
func decodeJSON(raw string, v any) error {
	candidate := jsonCandidate(raw)
	if candidate == "" {
		return fmt.Errorf("no JSON value in reply")
	}
	err := json.Unmarshal([]byte(candidate), v)
	if err == nil {
		return nil
	}
	repaired, repairErr := jsonrepair.JSONRepair(candidate)
	if repairErr != nil {
		return fmt.Errorf("invalid JSON (%v) and repair failed: %w", err, repairErr)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("repaired JSON still invalid: %w", err)
	}
	return nil
}

// parsePlan decodes the planning reply and normalizes it.
func parsePlan(raw string) (*Plan, error) {
	var p Plan
	if err := decodeJSON(raw, &p); err != nil {
		return nil, err
	}
	p.normalize()
	return &p, nil
}

func (p *Plan) normalize() {
	p.Intent = Intent(strings.ToLower(strings.TrimSpace(string(p.Intent))))
	if !intents[p.Intent] {
		p.Intent = IntentOther
	}
	switch InteractivityType(strings.ToLower(string(p.InteractivityType))) {
	case InteractivityInteractive:
		p.InteractivityType = InteractivityInteractive
	case InteractivityStateful:
		p.InteractivityType = InteractivityStateful
	default:
		p.InteractivityType = InteractivityStatic
	}
	p.KeyEntities = trimAll(p.KeyEntities)
	p.SuggestedComponents = dedupeStrings(trimAll(p.SuggestedComponents))
	if p.SearchQuery != nil && strings.TrimSpace(*p.SearchQuery) == "" {
		p.SearchQuery = nil
	}
}

var entityStopwords = map[string]bool{
	"what": true, "whats": true, "what's": true, "show": true, "tell": true, "give": true,
	"the": true, "and": true, "for": true, "with": true, "how": true, "much": true, "many": true,
	"is": true, "are": true, "was": true, "me": true, "in": true, "of": true, "a": true, "an": true,
	"today": true, "now": true, "current": true, "please": true, "about": true, "does": true,
}

// heuristicPlan is used when the planning reply is unusable: a fact lookup keyed on the
// prompt's significant words.
func heuristicPlan(prompt string) *Plan {
	var entities []string
	for _, w := range strings.FieldsFunc(prompt, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	}) {
		w = strings.Trim(w, "'")
		if len([]rune(w)) < 3 || entityStopwords[strings.ToLower(w)] {
			continue
		}
		entities = append(entities, w)
		if len(entities) == 5 {
			break
		}
	}
	return &Plan{
		Intent:            IntentFact,
		ContentContext:    strings.TrimSpace(prompt),
		KeyEntities:       dedupeStrings(entities),
		InteractivityType: InteractivityStatic,
		Heuristic:         true,
	}
}

// parseData decodes the acquisition reply. A reply that is an object with a "data" field is
// taken as the DataResult envelope; anything else is the data itself.
func parseData(raw string) (*DataResult, error) {
	var v any
	if err := decodeJSON(raw, &v); err != nil {
		return nil, err
	}
	res := &DataResult{Data: v, Confidence: ConfidenceMedium}
	obj, ok := v.(map[string]any)
	if !ok {
		if _, list := v.([]any); !list {
			return nil, fmt.Errorf("acquired data is a %T, not an object or array", v)
		}
		return res, nil
	}
	inner, ok := obj["data"]
	if !ok {
		return res, nil
	}
	res.Data = inner
	if s, ok := obj["source"].(string); ok && strings.TrimSpace(s) != "" {
		s = strings.TrimSpace(s)
		res.Source = &s
	}
	switch c, _ := obj["confidence"].(string); strings.ToLower(c) {
	case ConfidenceHigh:
		res.Confidence = ConfidenceHigh
	case ConfidenceLow:
		res.Confidence = ConfidenceLow
	}
	if res.Data == nil {
		logging.PipelineWarn("acquired data envelope carried null data")
	}
	return res, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
