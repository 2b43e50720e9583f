package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"genui/internal/engine"
	"genui/internal/search"
	"genui/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	matchPlan     = "Plan a small"
	matchData     = "Produce the data"
	matchSearch   = "current information from the web"
	matchGenerate = "Write GeneratedComponent"
)

const tokyoComponent = `const GeneratedComponent = () => {
  const [unit, setUnit] = useState('C');
  const temp = data?.temperature ?? 0;
  return (
    <Card>
      <CardHeader>
        <CardTitle>Tokyo weather</CardTitle>
      </CardHeader>
      <CardContent>
        <Icons.Cloud className="h-6 w-6" />
        <p>{formatNumber(temp)}°{unit} and {data?.condition}</p>
        <Button onClick={() => setUnit(unit === 'C' ? 'F' : 'C')}>Toggle</Button>
      </CardContent>
    </Card>
  );
};`

func envelope(code string) string {
	return "[[CODE]]\n" + code + "\n[[/CODE]]"
}

type fakeSearcher struct {
	queries []string
	results []search.Result
}

func (f *fakeSearcher) Search(_ context.Context, query string) ([]search.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, nil
}

func newPipeline(t *testing.T, eng engine.Engine, mutate func(*Options)) *Pipeline {
	t.Helper()
	opts := DefaultOptions()
	opts.Engine = eng
	opts.EngineTimeout = 2 * time.Second
	if mutate != nil {
		mutate(&opts)
	}
	p, err := New(opts)
	require.NoError(t, err)
	return p
}

func phaseNames(events []ProgressEvent) []string {
	var out []string
	for _, ev := range events {
		if ev.Kind == EventPhase {
			out = append(out, ev.Name)
		}
	}
	return out
}

func countPrompts(reqs []engine.Request, match string) int {
	n := 0
	for _, r := range reqs {
		if strings.Contains(r.Prompt, match) {
			n++
		}
	}
	return n
}

func TestRun_TokyoWeather(t *testing.T) {
	eng := engine.NewScriptedEngine(
		engine.Step{Match: matchPlan, Text: `{"intent":"fact","contentContext":"current weather in Tokyo",
			"keyEntities":["Tokyo","temperature"],"needsWebSearch":true,"searchQuery":"Tokyo weather today",
			"suggestedComponents":["Card","Card","Badge"],"interactivityType":"interactive"}`},
		engine.Step{Match: matchSearch, Text: "```json\n" +
			`{"data":{"city":"Tokyo","temperature":18,"condition":"Cloudy"},"source":"https://example.com/tokyo","confidence":"high"}` +
			"\n```"},
		engine.Step{Match: matchGenerate, Text: "Here you go:\n" + envelope(tokyoComponent)},
	)
	searcher := &fakeSearcher{results: []search.Result{{Title: "Tokyo", URL: "https://weather.example.org/tokyo"}}}
	p := newPipeline(t, eng, func(o *Options) { o.Searcher = searcher })

	var events []ProgressEvent
	resp := p.Run(context.Background(), "What's the weather in Tokyo?", func(ev ProgressEvent) { events = append(events, ev) })

	require.True(t, resp.OK(), resp.Text())
	s := resp.Success()
	require.NotNil(t, s.Source)
	assert.Equal(t, "https://example.com/tokyo", *s.Source)
	assert.Equal(t, "fact component", s.Summary)
	assert.False(t, s.Fallback)
	assert.Contains(t, s.ComponentCode, "const GeneratedComponent")
	require.NotNil(t, s.Rendered)
	titles := s.Rendered.Find("CardTitle")
	require.Len(t, titles, 1)
	assert.Equal(t, "Tokyo weather", titles[0].TextContent())
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, []string{"Tokyo weather today"}, searcher.queries)
	assert.Equal(t, []string{"Card", "Badge"}, resp.Plan.SuggestedComponents)

	assert.Equal(t, []string{"planning", "acquiring", "rendering", "validating", "complete"}, phaseNames(events))
	for _, ev := range events {
		if ev.Kind == EventPhase && ev.Phase == PhaseAcquiring {
			assert.Equal(t, "web_search", ev.Detail)
		}
	}

	reqs := eng.Requests()
	require.Len(t, reqs, 3)
	assert.True(t, reqs[1].ForceExecutionAllowed, "search synthesis may use engine tools")
	assert.Contains(t, reqs[1].Prompt, "https://weather.example.org/tokyo")
	assert.Contains(t, reqs[2].Prompt, `"city": "Tokyo"`)
	assert.Contains(t, reqs[2].SystemPrompt, "[[CODE]]")
}

func TestRun_HelperComponentRetriesWithinScopeBudget(t *testing.T) {
	helper := `const StatRow = ({ label, value }) => (
  <div className="flex justify-between"><span>{label}</span><span>{value}</span></div>
);

const GeneratedComponent = () => (
  <Card>
    <StatRow label="Tokyo" value={data.temperature} />
  </Card>
);`

	traces, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { traces.Close() })

	eng := engine.NewScriptedEngine(
		engine.Step{Match: matchPlan, Text: `{"intent":"fact","keyEntities":["Tokyo"],"needsWebSearch":false}`},
		engine.Step{Match: matchData, Text: `{"data":{"temperature":18},"confidence":"medium"}`},
		engine.Step{Match: matchGenerate, Text: envelope(helper)},
		engine.Step{Match: matchGenerate, Text: envelope(tokyoComponent)},
	)
	p := newPipeline(t, eng, func(o *Options) { o.Traces = traces })

	resp := p.Run(context.Background(), "Tokyo temperature", nil)
	require.True(t, resp.OK(), resp.Text())
	assert.Equal(t, 1, resp.Attempts, "scope retries do not consume attempts")

	reqs := eng.Requests()
	require.Equal(t, 2, countPrompts(reqs, matchGenerate))
	retry := reqs[len(reqs)-1].Prompt
	assert.True(t, strings.HasPrefix(retry, "Your previous attempt was rejected"))
	assert.Contains(t, retry, "StatRow")
	assert.Contains(t, retry, "inline")

	attempts, err := traces.Attempts(context.Background(), resp.RequestID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "fail", attempts[0].Verdicts["scope"])
	assert.Equal(t, "pass", attempts[1].Verdicts["scope"])
	assert.Equal(t, "pass", attempts[1].Verdicts["compile"])

	recent, err := traces.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Success)
	assert.Equal(t, "fact", recent[0].Intent)
}

func TestRun_HelperComponentExhaustsBothBudgets(t *testing.T) {
	helper := `const StatRow = ({ value }) => <p>{value}</p>;

const GeneratedComponent = () => <Card><StatRow value={data.temperature} /></Card>;`

	traces, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { traces.Close() })

	eng := engine.NewScriptedEngine(
		engine.Step{Match: matchPlan, Text: `{"intent":"fact","keyEntities":["Tokyo"],"needsWebSearch":false}`},
		engine.Step{Match: matchData, Text: `{"data":{"temperature":18}}`},
		engine.Step{Match: matchGenerate, Text: envelope(helper), Repeat: true},
	)
	p := newPipeline(t, eng, func(o *Options) {
		o.MaxAttempts = 1
		o.MaxScopeRetries = 1
		o.Traces = traces
	})

	resp := p.Run(context.Background(), "Tokyo temperature", nil)
	require.False(t, resp.OK())
	assert.Equal(t, 2, resp.Attempts)
	assert.Contains(t, resp.Text(), "working component after 2 attempts")

	// One scope regeneration inside the first attempt, none left for the second.
	reqs := eng.Requests()
	assert.Equal(t, 3, countPrompts(reqs, matchGenerate))

	attempts, err := traces.Attempts(context.Background(), resp.RequestID)
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	for _, a := range attempts {
		assert.Equal(t, "fail", a.Verdicts["scope"])
	}
}

func TestRun_RuntimeFailureShowsFallback(t *testing.T) {
	throws := `const GeneratedComponent = () => {
  const days = data.forecast.days;
  return <Card><CardTitle>Tokyo</CardTitle><p>{days.length}</p></Card>;
};`
	eng := engine.NewScriptedEngine(
		engine.Step{Match: matchPlan, Text: `{"intent":"fact","keyEntities":["Tokyo"]}`},
		engine.Step{Match: matchData, Text: `{"data":{"city":"Tokyo","temperature":18}}`},
		engine.Step{Match: matchGenerate, Text: envelope(throws)},
	)
	p := newPipeline(t, eng, nil)

	resp := p.Run(context.Background(), "Tokyo forecast", nil)
	require.True(t, resp.OK(), resp.Text())
	s := resp.Success()
	assert.True(t, s.Fallback)
	assert.NotEmpty(t, s.RenderError)
	require.NotNil(t, s.Rendered)
	assert.Equal(t, "fallback", s.Rendered.Props["variant"])
	assert.Contains(t, s.Rendered.TextContent(), "Tokyo")
	assert.Equal(t, 1, resp.Attempts, "runtime failures are not retried")
	assert.Equal(t, 1, countPrompts(eng.Requests(), matchGenerate))
}

func TestRun_EngineTimeoutIsFatal(t *testing.T) {
	eng := engine.NewScriptedEngine(
		engine.Step{Match: matchPlan, Text: `{}`, Delay: time.Second},
	)
	p := newPipeline(t, eng, func(o *Options) { o.EngineTimeout = 20 * time.Millisecond })

	var events []ProgressEvent
	resp := p.Run(context.Background(), "Tokyo weather", func(ev ProgressEvent) { events = append(events, ev) })

	require.False(t, resp.OK())
	f := resp.Failure()
	assert.True(t, f.Error)
	assert.Contains(t, f.TextResponse, "did not respond in time")
	assert.Nil(t, f.Fallback, "no data was obtained")
	require.NotNil(t, resp.Kind)
	assert.Equal(t, FailureEngine, *resp.Kind)
	assert.Len(t, eng.Requests(), 1)

	last := events[len(events)-1]
	assert.Equal(t, "complete", last.Name)
	assert.True(t, last.Error)
}

func TestRun_AttemptBound(t *testing.T) {
	eng := engine.NewScriptedEngine(
		engine.Step{Match: matchPlan, Text: `{"intent":"list","keyEntities":["Tokyo"]}`},
		engine.Step{Match: matchData, Text: `{"data":[1,2,3]}`},
		engine.Step{Match: matchGenerate, Text: "I would rather describe it in words.", Repeat: true},
	)
	p := newPipeline(t, eng, func(o *Options) { o.MaxAttempts = 2 })

	var retrying []int
	resp := p.Run(context.Background(), "Tokyo wards", func(ev ProgressEvent) {
		if ev.Kind == EventRetrying {
			retrying = append(retrying, ev.Attempt)
		}
	})

	require.False(t, resp.OK())
	require.NotNil(t, resp.Kind)
	assert.Equal(t, FailureExtraction, *resp.Kind)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, []int{1, 2}, retrying)

	reqs := eng.Requests()
	assert.Equal(t, 3, countPrompts(reqs, matchGenerate))
	assert.Contains(t, reqs[len(reqs)-1].Prompt, "no component could be found")
	assert.NotNil(t, resp.Failure().Fallback, "data was obtained")
}

func TestRun_RelevanceBelowFloorFails(t *testing.T) {
	off := `const GeneratedComponent = () => <Card><p>Sample data</p></Card>;`
	eng := engine.NewScriptedEngine(
		engine.Step{Match: matchPlan, Text: `{"intent":"comparison","keyEntities":["Osaka"]}`},
		engine.Step{Match: matchData, Text: `{"data":{"population":2700000}}`},
		engine.Step{Match: matchGenerate, Text: envelope(off), Repeat: true},
	)
	p := newPipeline(t, eng, func(o *Options) { o.MaxAttempts = 1 })

	resp := p.Run(context.Background(), "Osaka population", nil)
	require.False(t, resp.OK())
	assert.Equal(t, FailureValidation, *resp.Kind)
	assert.Contains(t, resp.Failure().TextResponse, "relevance")
	assert.Equal(t, 2, countPrompts(eng.Requests(), matchGenerate))
	assert.Contains(t, eng.Requests()[3].Prompt, "It must show: Osaka")
}

func TestRun_MarginalRelevanceRetriesOnce(t *testing.T) {
	vague := `const GeneratedComponent = () => <Card><p>Forecast</p></Card>;`
	eng := engine.NewScriptedEngine(
		engine.Step{Match: matchPlan, Text: `{"intent":"fact","keyEntities":["Osaka"]}`},
		engine.Step{Match: matchData, Text: `{"data":{"sky":"clear"}}`},
		engine.Step{Match: matchGenerate, Text: envelope(vague), Repeat: true},
	)
	p := newPipeline(t, eng, nil)

	resp := p.Run(context.Background(), "Osaka forecast", nil)
	require.True(t, resp.OK(), resp.Text())
	assert.Equal(t, 2, resp.Attempts)
	assert.Equal(t, 2, countPrompts(eng.Requests(), matchGenerate))
}

func TestRun_UnparseablePlanUsesHeuristic(t *testing.T) {
	eng := engine.NewScriptedEngine(
		engine.Step{Match: matchPlan, Text: "I think this is about weather."},
		engine.Step{Match: matchData, Text: `{"data":{"city":"Tokyo","temperature":18}}`},
		engine.Step{Match: matchGenerate, Text: envelope(tokyoComponent)},
	)
	p := newPipeline(t, eng, nil)

	resp := p.Run(context.Background(), "What's the weather in Tokyo?", nil)
	require.True(t, resp.OK(), resp.Text())
	assert.True(t, resp.Plan.Heuristic)
	assert.Equal(t, IntentFact, resp.Plan.Intent)
}

func TestRun_UnreadableDataIsFatal(t *testing.T) {
	eng := engine.NewScriptedEngine(
		engine.Step{Match: matchPlan, Text: `{"intent":"fact","keyEntities":["Tokyo"]}`},
		engine.Step{Match: matchData, Text: "no data today"},
	)
	p := newPipeline(t, eng, nil)

	resp := p.Run(context.Background(), "Tokyo weather", nil)
	require.False(t, resp.OK())
	assert.Equal(t, FailureData, *resp.Kind)
}

func TestRun_Critique(t *testing.T) {
	eng := engine.NewScriptedEngine(
		engine.Step{Match: matchPlan, Text: `{"intent":"fact","keyEntities":["Tokyo"]}`},
		engine.Step{Match: matchData, Text: `{"data":{"temperature":18,"condition":"Cloudy"}}`},
		engine.Step{Match: matchGenerate, Text: envelope(tokyoComponent)},
		engine.Step{Match: "Rate how well", Text: `{"score": 140, "issues": [" no units "], "summary": "Good"}`},
	)
	p := newPipeline(t, eng, func(o *Options) { o.Critique = true })

	var phases []string
	resp := p.Run(context.Background(), "Tokyo weather", func(ev ProgressEvent) {
		if ev.Kind == EventPhase {
			phases = append(phases, ev.Name)
		}
	})
	require.True(t, resp.OK(), resp.Text())
	require.NotNil(t, resp.Critique)
	assert.Equal(t, 100, resp.Critique.Score)
	assert.Equal(t, []string{"no units"}, resp.Critique.Issues)
	assert.Contains(t, phases, "critiquing")
}

func TestRun_EmptyPrompt(t *testing.T) {
	eng := engine.NewScriptedEngine()
	p := newPipeline(t, eng, nil)
	resp := p.Run(context.Background(), "   ", nil)
	require.False(t, resp.OK())
	assert.Empty(t, eng.Requests())
}

func TestNew_RequiresEngine(t *testing.T) {
	_, err := New(DefaultOptions())
	require.Error(t, err)
}

func TestResponse_JSON(t *testing.T) {
	src := "https://example.com"
	ok := NewSuccess(Success{ComponentCode: "const GeneratedComponent = () => null;", Summary: "fact component", Source: &src, Data: map[string]any{"a": 1.0}})
	b, err := json.Marshal(ok)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "fact component", m["summary"])
	assert.Equal(t, src, m["source"])
	assert.NotContains(t, m, "textResponse")
	assert.NotContains(t, m, "error")

	fail := NewFailure("Sorry.", nil)
	b, err = json.Marshal(fail)
	require.NoError(t, err)
	assert.JSONEq(t, `{"textResponse":"Sorry.","error":true}`, string(b))

	var back Response
	require.NoError(t, json.Unmarshal(b, &back))
	assert.False(t, back.OK())
	assert.Equal(t, "Sorry.", back.Text())
}
