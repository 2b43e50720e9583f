package pipeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genui/internal/engine"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Plan
	}{
		{
			name: "plain",
			raw:  `{"intent":"chart","keyEntities":["GDP","Japan"],"needsWebSearch":true,"searchQuery":"Japan GDP","interactivityType":"stateful"}`,
			want: Plan{Intent: IntentChart, KeyEntities: []string{"GDP", "Japan"}, NeedsWebSearch: true,
				SearchQuery: strptr("Japan GDP"), SuggestedComponents: []string{}, InteractivityType: InteractivityStateful},
		},
		{
			name: "fenced with prose",
			raw:  "Sure!\n```json\n{\"intent\": \"LIST\", \"suggestedComponents\": [\"Table\", \"Table\", \" Badge \"]}\n```\nDone.",
			want: Plan{Intent: IntentList, KeyEntities: []string{}, SuggestedComponents: []string{"Table", "Badge"},
				InteractivityType: InteractivityStatic},
		},
		{
			name: "trailing commas repaired",
			raw:  `{"intent": "timeline", "keyEntities": ["Edo", "Meiji",],}`,
			want: Plan{Intent: IntentTimeline, KeyEntities: []string{"Edo", "Meiji"}, SuggestedComponents: []string{},
				InteractivityType: InteractivityStatic},
		},
		{
			name: "unknown intent and blank query",
			raw:  `{"intent":"poem","searchQuery":"  "}`,
			want: Plan{Intent: IntentOther, KeyEntities: []string{}, SuggestedComponents: []string{},
				InteractivityType: InteractivityStatic},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePlan(tt.raw)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, *got); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParsePlan_Garbage(t *testing.T) {
	_, err := parsePlan("")
	assert.Error(t, err)
}

func TestHeuristicPlan(t *testing.T) {
	p := heuristicPlan("What's the weather in Tokyo?")
	assert.Equal(t, IntentFact, p.Intent)
	assert.Equal(t, []string{"weather", "Tokyo"}, p.KeyEntities)
	assert.True(t, p.Heuristic)
	assert.Nil(t, p.SearchQuery)
}

func TestPlanQuery(t *testing.T) {
	p := &Plan{SearchQuery: strptr(" tokyo rain ")}
	assert.Equal(t, "tokyo rain", p.Query("prompt"))
	assert.Equal(t, "prompt", (&Plan{}).Query(" prompt "))
}

func TestParseData(t *testing.T) {
	res, err := parseData(`{"data":{"city":"Tokyo"},"source":"https://example.com","confidence":"HIGH"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"city": "Tokyo"}, res.Data)
	require.NotNil(t, res.Source)
	assert.Equal(t, "https://example.com", *res.Source)
	assert.Equal(t, ConfidenceHigh, res.Confidence)

	res, err = parseData(`[{"ward":"Shibuya"},{"ward":"Minato"}]`)
	require.NoError(t, err)
	assert.Len(t, res.Data, 2)
	assert.Nil(t, res.Source)
	assert.Equal(t, ConfidenceMedium, res.Confidence)

	res, err = parseData(`{"temperature": 18}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"temperature": 18.0}, res.Data)

	_, err = parseData("nothing here")
	assert.Error(t, err)
}

func TestParseCritique_ClampsScore(t *testing.T) {
	c, err := parseCritique(`{"score": -5, "issues": ["", "too dense"], "summary": " ok "}`)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Score)
	assert.Equal(t, []string{"too dense"}, c.Issues)
	assert.Equal(t, "ok", c.Summary)
}

func TestRetryState(t *testing.T) {
	s := NewRetryState(2)
	require.NoError(t, s.Advance("first"))
	require.NoError(t, s.Advance("second"))
	err := s.Advance("third")
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	assert.Equal(t, 2, s.Attempt)
	assert.Equal(t, "third", s.LastError)

	neg := NewRetryState(-1)
	assert.False(t, neg.CanRetry())

	scope := NewScopeRetryState(1)
	require.NoError(t, scope.Advance([]string{"StatRow"}))
	assert.ErrorIs(t, scope.Advance([]string{"Chart"}), ErrAttemptsExhausted)
	assert.Equal(t, 1, scope.Retries)
	assert.Equal(t, []string{"Chart"}, scope.Identifiers)
}

func TestProgressTracker(t *testing.T) {
	var got []ProgressEvent
	tr := NewProgressTracker(func(ev ProgressEvent) { got = append(got, ev) })

	tr.Detail(engine.Event{Type: engine.EventProgress, Message: "too early"})
	assert.True(t, tr.Enter(PhasePlanning, ""))
	assert.False(t, tr.Enter(PhasePlanning, ""), "phases are announced once")
	assert.True(t, tr.Enter(PhaseRendering, ""))
	assert.False(t, tr.Enter(PhaseAcquiring, ""), "phases never go backwards")

	assert.True(t, tr.Retrying(1, "scope"))
	assert.False(t, tr.Retrying(1, "scope"))
	assert.True(t, tr.Retrying(2, "compile"))

	tr.Detail(engine.Event{Type: engine.EventToolCallStarted, Tool: "WebSearch"})
	tr.Detail(engine.Event{Type: engine.EventResult})
	assert.Equal(t, PhaseRendering, tr.Current())

	assert.True(t, tr.Complete(false, "success"))
	assert.False(t, tr.Complete(true, "again"))
	assert.False(t, tr.Enter(PhaseCritiquing, ""))
	tr.Detail(engine.Event{Type: engine.EventProgress, Message: "too late"})

	var kinds []string
	for _, ev := range got {
		kinds = append(kinds, string(ev.Kind)+":"+ev.Name+":"+ev.Detail)
	}
	assert.Equal(t, []string{
		"phase:planning:",
		"phase:rendering:",
		"retrying:rendering:scope",
		"retrying:rendering:compile",
		"detail:rendering:tool: WebSearch",
		"phase:complete:success",
	}, kinds)
	assert.Len(t, tr.Events(), len(got))
}

func TestErrorRetryable(t *testing.T) {
	assert.True(t, (&Error{Kind: FailureEngine, Phase: PhaseRendering}).Retryable())
	assert.False(t, (&Error{Kind: FailureEngine, Phase: PhasePlanning}).Retryable())
	assert.True(t, (&Error{Kind: FailureCompilation, Phase: PhaseRendering}).Retryable())
	assert.False(t, (&Error{Kind: FailureRuntime, Phase: PhaseValidating}).Retryable())
	assert.Equal(t, "validation", FailureValidation.String())
}

func strptr(s string) *string { return &s }
