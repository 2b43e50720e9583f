package validate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weatherComponent = `const GeneratedComponent = () => {
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

func TestCheckStructure(t *testing.T) {
	vc := DefaultContext()
	tests := []struct {
		name  string
		code  string
		valid bool
		rule  Rule
	}{
		{"valid component", weatherComponent, true, 0},
		{"function declaration", "function GeneratedComponent() { return <div>hi</div>; }", true, 0},
		{"empty", "   ", false, RuleMissingAnchor},
		{"missing anchor", "const Other = () => <div />;", false, RuleMissingAnchor},
		{"not a function", "const GeneratedComponent = 42;", false, RuleMissingAnchor},
		{"import", "import React from 'react';\n" + weatherComponent, false, RuleImportExport},
		{"export", "export " + weatherComponent, false, RuleImportExport},
		{"no render", "const GeneratedComponent = () => { const x = 1; };", false, RuleNoRender},
		{"syntax error", "const GeneratedComponent = () => { return <div>; };", false, RuleSyntax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := CheckStructure(tt.code, vc)
			assert.Equal(t, tt.valid, out.Valid, out.Error)
			if tt.valid {
				assert.Empty(t, out.Error)
				return
			}
			require.NotEmpty(t, out.Issues)
			assert.NotEmpty(t, out.Error)
			assert.True(t, hasRule(out.Issues, tt.rule), "expected a %s issue, got %v", tt.rule, out.Issues)
		})
	}
}

func TestCheckSafety(t *testing.T) {
	vc := DefaultContext()
	tests := []struct {
		name string
		code string
		safe bool
		rule Rule
		id   string
	}{
		{"clean", weatherComponent, true, 0, ""},
		{"fetch", `const GeneratedComponent = () => { fetch('/api'); return <div />; };`, false, RuleNetwork, "fetch"},
		{"eval", `const GeneratedComponent = () => { eval('1'); return <div />; };`, false, RuleDynamicEval, "eval"},
		{"new Function", `const GeneratedComponent = () => { const f = new Function('return 1'); return <div />; };`, false, RuleDynamicEval, "Function"},
		{"storage", `const GeneratedComponent = () => { localStorage.setItem('a', 1); return <div />; };`, false, RuleStorage, "localStorage"},
		{"window", `const GeneratedComponent = () => { const w = window.innerWidth; return <div>{w}</div>; };`, false, RuleGlobalDOM, "window"},
		{"innerHTML", `const GeneratedComponent = () => { const ref = useRef(null); ref.current.innerHTML = 'x'; return <div ref={ref} />; };`, false, RuleHTMLInjection, "innerHTML"},
		{"dynamic import", `const GeneratedComponent = () => { import('./x'); return <div />; };`, false, RuleDynamicEval, "import()"},
		{"string timer", `const GeneratedComponent = () => { setTimeout("alert(1)", 10); return <div />; };`, false, RuleDynamicEval, "setTimeout(string)"},
		{"shadowed name", `const GeneratedComponent = () => { const history = data.history || []; return <div>{history.length}</div>; };`, true, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := CheckSafety(tt.code, vc)
			assert.Equal(t, tt.safe, out.Safe, "issues: %v", out.Issues)
			if tt.safe {
				return
			}
			require.True(t, hasRule(out.Issues, tt.rule), "expected %s, got %v", tt.rule, out.Issues)
			assert.Contains(t, identifiers(out.Issues), tt.id)
		})
	}
}

func TestCheckScope_UnknownIdentifiersAreNamed(t *testing.T) {
	vc := DefaultContext()
	tests := []struct {
		name       string
		code       string
		identifier string
		suggestion string
	}{
		{
			name:       "unknown JSX tag",
			code:       `const GeneratedComponent = () => <FancyPanel title="x" />;`,
			identifier: "FancyPanel",
		},
		{
			name:       "known hallucination",
			code:       `const GeneratedComponent = () => <Card><CardBody>hi</CardBody></Card>;`,
			identifier: "CardBody",
			suggestion: "CardContent",
		},
		{
			name:       "unknown hook",
			code:       `const GeneratedComponent = () => { const q = useQuery('x'); return <div>{q}</div>; };`,
			identifier: "useQuery",
			suggestion: "data",
		},
		{
			name:       "Intl constructor",
			code:       `const GeneratedComponent = () => { const f = new Intl.NumberFormat('en'); return <div>{f.format(1)}</div>; };`,
			identifier: "Intl",
			suggestion: "formatNumber",
		},
		{
			name:       "bare icon",
			code:       `const GeneratedComponent = () => <div><Sun /></div>;`,
			identifier: "Sun",
			suggestion: "Icons.Sun",
		},
		{
			name:       "builtin read as a value",
			code:       "const GeneratedComponent = () => {\n  const R = Reflect;\n  return <div>{R.ownKeys(data).length}</div>;\n};",
			identifier: "Reflect",
		},
		{
			name:       "lowercase free call",
			code:       `const GeneratedComponent = () => <div>{escape("a b")}</div>;`,
			identifier: "escape",
		},
		{
			name:       "misspelled helper",
			code:       `const GeneratedComponent = () => <div>{formatNum(data.temperature)}</div>;`,
			identifier: "formatNum",
			suggestion: "formatNumber",
		},
		{
			name:       "free name in an attribute",
			code:       `const GeneratedComponent = () => <Progress value={percent} />;`,
			identifier: "percent",
		},
		{
			name:       "misspelled icon member",
			code:       `const GeneratedComponent = () => <div><Icons.Sunn /></div>;`,
			identifier: "Icons.Sunn",
			suggestion: "Icons.Sun",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := CheckScope(tt.code, vc)
			require.False(t, out.Valid)
			assert.Contains(t, out.Identifiers(), tt.identifier)
			assert.Contains(t, out.Suggestions, tt.identifier)
			if tt.suggestion != "" {
				assert.Contains(t, out.Suggestions[tt.identifier], tt.suggestion)
			}
		})
	}
}

func TestCheckScope_AcceptsCatalogAndLocalNames(t *testing.T) {
	code := `const COLUMNS = ['City', 'Temp'];

const GeneratedComponent = () => {
  const [open, setOpen] = React.useState(false);
  const Icon = open ? Icons.ChevronDown : Icons.ChevronRight;
  const rows = (data.rows || []).map((row) => (
    <TableRow key={row.city}><TableCell>{row.city}</TableCell></TableRow>
  ));
  return (
    <Card className={cn('p-4', open && 'ring')}>
      <Button onClick={() => setOpen(!open)}><Icon /></Button>
      <Table><TableBody>{rows}</TableBody></Table>
      <p>{Math.round(clamp(data.total, 0, 100))} {COLUMNS.join(', ')}</p>
    </Card>
  );
};`
	out := CheckScope(code, DefaultContext())
	assert.True(t, out.Valid, "issues: %v", out.Issues)
	assert.Empty(t, out.Suggestions)
}

func TestCheckScope_HelperComponent(t *testing.T) {
	code := `const StatRow = ({ label, value }) => (
  <div className="flex justify-between"><span>{label}</span><span>{value}</span></div>
);

const GeneratedComponent = () => (
  <Card>
    <StatRow label="Temp" value={data.temperature} />
  </Card>
);`
	out := CheckScope(code, DefaultContext())
	require.False(t, out.Valid)
	assert.Equal(t, []string{"StatRow"}, out.HelperComponents())
	assert.Contains(t, out.Suggestions["StatRow"], "inline")
	assert.Contains(t, out.Suggestions["StatRow"], "GeneratedComponent")
	assert.Len(t, out.Issues, 1, "a helper's own tags must not be reported twice")
}

func TestCheckScope_ConstantsAreNotHelpers(t *testing.T) {
	code := `const MAX_ITEMS = 5;
const GeneratedComponent = () => <div>{MAX_ITEMS}</div>;`
	out := CheckScope(code, DefaultContext())
	assert.True(t, out.Valid, "issues: %v", out.Issues)
}

func TestNearest(t *testing.T) {
	candidates := []string{"Badge", "Statistic", "Progress"}
	assert.Equal(t, "Progress", nearest("Progres", candidates))
	assert.Equal(t, "Badge", nearest("badge", candidates))
	assert.Equal(t, "Statistic", nearest("Stat", candidates))
	assert.Equal(t, "", nearest("Xyzzy", candidates))
}

func TestCheckRelevance(t *testing.T) {
	base := DefaultContext()
	tests := []struct {
		name     string
		code     string
		entities []string
		score    int
		verdict  Verdict
		missing  []string
	}{
		{
			name:     "all entities present",
			code:     weatherComponent,
			entities: []string{"Tokyo", "temperature"},
			score:    100,
			verdict:  VerdictPass,
		},
		{
			name:     "partial word match",
			code:     weatherComponent,
			entities: []string{"Tokyo weather forecast"},
			score:    100,
			verdict:  VerdictPass,
		},
		{
			name:     "single entity missing",
			code:     `const GeneratedComponent = () => <Card><p>Forecast</p></Card>;`,
			entities: []string{"Osaka"},
			score:    40,
			verdict:  VerdictMarginal,
			missing:  []string{"Osaka"},
		},
		{
			name:     "missing entity and placeholder",
			code:     `const GeneratedComponent = () => <Card><p>Sample data</p></Card>;`,
			entities: []string{"Osaka"},
			score:    25,
			verdict:  VerdictFail,
			missing:  []string{"Osaka"},
		},
		{
			name:     "half the entities missing",
			code:     `const GeneratedComponent = () => <Card><p>Tokyo</p></Card>;`,
			entities: []string{"Tokyo", "Osaka"},
			score:    70,
			verdict:  VerdictPass,
			missing:  []string{"Osaka"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vc := base
			vc.KeyEntities = tt.entities
			out := CheckRelevance(tt.code, vc)
			assert.Equal(t, tt.score, out.Score)
			assert.Equal(t, tt.verdict, out.Verdict)
			assert.Equal(t, tt.verdict != VerdictFail, out.Relevant)
			assert.Equal(t, tt.missing, out.MissingEntities)
		})
	}
}

func TestCheckRuntimeSafety(t *testing.T) {
	vc := DefaultContext()
	tests := []struct {
		name string
		code string
		rule Rule
	}{
		{"unguarded keys", `const GeneratedComponent = () => <ul>{Object.keys(data.stats).map(k => <li key={k}>{k}</li>)}</ul>;`, RuleUnguardedKeys},
		{"unguarded iteration", `const GeneratedComponent = () => <ul>{data.items.map(i => <li key={i}>{i}</li>)}</ul>;`, RuleUnguardedIteration},
		{"bare spread", `const GeneratedComponent = () => { const s = { ...extra, a: 1 }; return <div>{s.a}</div>; };`, RuleUnguardedSpread},
		{"deep access", `const GeneratedComponent = () => <p>{data.city.weather.today}</p>;`, RuleDeepAccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := CheckRuntimeSafety(tt.code, vc)
			assert.False(t, out.Safe)
			assert.True(t, hasRule(out.Warnings, tt.rule), "got %v", out.Warnings)
			assert.NotEmpty(t, out.Summary())
		})
	}

	guarded := `const GeneratedComponent = () => (
  <ul>
    {Object.keys(data.stats || {}).map(k => <li key={k}>{k}</li>)}
    {(data.items || []).map(i => <li key={i}>{i}</li>)}
    {data.items?.map(i => <li key={i}>{i}</li>)}
    <p>{data.city?.weather?.today}</p>
  </ul>
);`
	out := CheckRuntimeSafety(guarded, vc)
	assert.True(t, out.Safe, "warnings: %v", out.Warnings)
}

func TestCheckHookUsage(t *testing.T) {
	vc := DefaultContext()
	tests := []struct {
		name string
		code string
		rule Rule
	}{
		{
			name: "effect without deps",
			code: `const GeneratedComponent = () => { useEffect(() => { document.title = 'x'; }); return <div />; };`,
			rule: RuleMissingDeps,
		},
		{
			name: "interval never cleared",
			code: `const GeneratedComponent = () => { useEffect(() => { setInterval(() => {}, 1000); }, []); return <div />; };`,
			rule: RuleTimerLeak,
		},
		{
			name: "stale closure",
			code: `const GeneratedComponent = () => {
  const [count, setCount] = useState(0);
  useEffect(() => {
    const id = setInterval(() => setCount(count + 1), 1000);
    return () => clearInterval(id);
  }, []);
  return <div>{count}</div>;
};`,
			rule: RuleStaleClosure,
		},
		{
			name: "hook in condition",
			code: `const GeneratedComponent = () => { if (data.live) { useEffect(() => {}, []); } return <div />; };`,
			rule: RuleConditionalHook,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := CheckHookUsage(tt.code, vc)
			assert.False(t, out.Valid)
			assert.True(t, hasRule(out.Issues, tt.rule), "got %v", out.Issues)
			assert.NotEmpty(t, out.Suggestions)
		})
	}

	clean := `const GeneratedComponent = () => {
  const [count, setCount] = useState(0);
  useEffect(() => {
    const id = setInterval(() => setCount(c => c + 1), 1000);
    return () => clearInterval(id);
  }, []);
  return <div>{count}</div>;
};`
	out := CheckHookUsage(clean, vc)
	assert.True(t, out.Valid, "issues: %v", out.Issues)
}

func TestCheckStyle(t *testing.T) {
	vc := DefaultContext()
	tests := []struct {
		name  string
		code  string
		label string
	}{
		{"fixed style", `<div style={{ position: 'fixed', top: 0 }} />`, "fixed positioning"},
		{"fixed class", `<div className="fixed inset-0" />`, "fixed positioning"},
		{"viewport height", `<div style={{ height: '100vh' }} />`, "viewport unit"},
		{"screen utility", `<div className="h-screen" />`, "full-screen utility"},
		{"z-index", `<div style={{ zIndex: 9999 }} />`, "extreme z-index"},
		{"negative margin", `<div className="p-2 -mt-24" />`, "large negative margin"},
		{"wide", `<div style={{ width: 1600 }} />`, "oversized fixed width"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := CheckStyle(tt.code, vc)
			assert.False(t, out.Safe)
			assert.Contains(t, identifiers(out.Warnings), tt.label)
		})
	}

	out := CheckStyle(`<div className="relative z-10 w-full max-w-md -mt-1 table-fixed" style={{ maxWidth: 1200, zIndex: 20 }} />`, vc)
	assert.True(t, out.Safe, "warnings: %v", out.Warnings)
}

const bannedWordGate = `package main

import "strings"

func Check(code string) []string {
	var out []string
	if strings.Contains(code, "TODO") {
		out = append(out, "leftover TODO marker")
	}
	return out
}
`

func TestExtensionGate(t *testing.T) {
	g, err := CompileExtensionGate("todo", bannedWordGate)
	require.NoError(t, err)

	out := g.Run(context.Background(), "const GeneratedComponent = () => <div>TODO</div>;")
	require.NoError(t, out.Err)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, RuleExtension, out.Issues[0].Rule)
	assert.Equal(t, "todo: leftover TODO marker", out.Issues[0].Message)

	out = g.Run(context.Background(), weatherComponent)
	assert.NoError(t, out.Err)
	assert.Empty(t, out.Issues)
}

const spinningGate = `package main

func Check(code string) []string {
	n := 0
	for n >= 0 {
		n++
	}
	return nil
}
`

func TestExtensionGate_Timeout(t *testing.T) {
	spin, err := CompileExtensionGate("spin", spinningGate)
	require.NoError(t, err)
	spin.Timeout = 50 * time.Millisecond
	todo, err := CompileExtensionGate("todo", bannedWordGate)
	require.NoError(t, err)

	start := time.Now()
	report := RunAdvisory(context.Background(), "const GeneratedComponent = () => <div>TODO</div>;", DefaultContext(), []*ExtensionGate{spin, todo})
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, report.Extensions, 2)
	require.Error(t, report.Extensions[0].Err)
	assert.Contains(t, report.Extensions[0].Err.Error(), "timed out")
	assert.Empty(t, report.Extensions[0].Issues)
	require.NoError(t, report.Extensions[1].Err)
	assert.Len(t, report.Extensions[1].Issues, 1)

	spin.Timeout = 20 * time.Millisecond
	out := spin.Run(context.Background(), weatherComponent)
	assert.Error(t, out.Err)
}

func TestCompileExtensionGate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"forbidden import", "package main\n\nimport \"os\"\n\nfunc Check(code string) []string { os.Exit(1); return nil }\n", "forbidden imports"},
		{"missing Check", "package main\n\nfunc Other() {}\n", "Check function not found"},
		{"wrong signature", "package main\n\nfunc Check(code string) string { return code }\n", "incorrect signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileExtensionGate("bad", tt.src)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadExtensionGates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_todo.go"), []byte(bannedWordGate), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_length.go"), []byte(`package main

func Check(code string) []string {
	if len(code) > 20000 {
		return []string{"component is unusually long"}
	}
	return nil
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	gates, err := LoadExtensionGates(dir)
	require.NoError(t, err)
	require.Len(t, gates, 2)
	assert.Equal(t, "a_length", gates[0].Name)
	assert.Equal(t, "b_todo", gates[1].Name)

	none, err := LoadExtensionGates(filepath.Join(dir, "missing"))
	assert.NoError(t, err)
	assert.Empty(t, none)
}

func TestRunAdvisory(t *testing.T) {
	g, err := CompileExtensionGate("todo", bannedWordGate)
	require.NoError(t, err)

	code := `const GeneratedComponent = () => {
  useEffect(() => {});
  return <div className="h-screen">{data.items.map(i => <p key={i}>{i} TODO</p>)}</div>;
};`
	report := RunAdvisory(context.Background(), code, DefaultContext(), []*ExtensionGate{g})
	assert.False(t, report.RuntimeSafety.Safe)
	assert.False(t, report.HookUsage.Valid)
	assert.False(t, report.Style.Safe)
	require.Len(t, report.Extensions, 1)
	assert.Len(t, report.Extensions[0].Issues, 1)
	assert.Equal(t, len(report.Warnings()), report.Count())
	assert.GreaterOrEqual(t, report.Count(), 4)
}

func hasRule(issues []Issue, rule Rule) bool {
	for _, i := range issues {
		if i.Rule == rule {
			return true
		}
	}
	return false
}

func identifiers(issues []Issue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Identifier)
	}
	return out
}

func TestIssueString(t *testing.T) {
	i := Issue{Rule: RuleNetwork, Message: "fetch: network access is not available"}
	assert.Equal(t, "fetch: network access is not available", i.String())
	i.Pos.Line = 3
	assert.True(t, strings.HasPrefix(i.String(), "line 3: "))
}
