package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"genui/internal/config"
	"genui/internal/engine"
	"genui/internal/pipeline"
)

const weatherComponent = `const GeneratedComponent = () => {
  return (
    <Card>
      <CardHeader>
        <CardTitle>Weather in {data?.city}</CardTitle>
      </CardHeader>
      <CardContent>
        <p>{data?.temperature} degrees</p>
      </CardContent>
    </Card>
  );
};`

func TestReadPrompts(t *testing.T) {
	in := "# header\nweather in Tokyo\n\n   \nbitcoin price  \n"
	got, err := readPrompts(strings.NewReader(in))
	if err != nil {
		t.Fatalf("readPrompts failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(got))
	}
	if got[0].line != 2 || got[0].text != "weather in Tokyo" {
		t.Fatalf("unexpected first prompt: %+v", got[0])
	}
	if got[1].line != 5 || got[1].text != "bitcoin price" {
		t.Fatalf("unexpected second prompt: %+v", got[1])
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yaml")
	script := `steps:
  - match: "Plan a small"
    text: '{"intent":"fact"}'
    repeat: true
  - fail: "quota exceeded"
    delay: 10ms
`
	if err := os.WriteFile(path, []byte(script), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	eng, err := loadScript(path)
	if err != nil {
		t.Fatalf("loadScript failed: %v", err)
	}
	if eng.Remaining() != 2 {
		t.Fatalf("expected 2 steps, got %d", eng.Remaining())
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("steps: []\n"), 0644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if _, err := loadScript(empty); err == nil {
		t.Fatal("expected an error for a script without steps")
	}
}

func TestGeminiModel(t *testing.T) {
	if got := geminiModel("gemini-2.5-flash"); got != "gemini-2.5-flash" {
		t.Fatalf("unexpected model: %s", got)
	}
	if got := geminiModel("sonnet"); got != "" {
		t.Fatalf("expected CLI model names to be dropped, got %s", got)
	}
}

func TestRunPrompts(t *testing.T) {
	eng := engine.NewScriptedEngine(
		engine.Step{Match: "Plan a small", Repeat: true, Text: `{"intent":"fact","contentContext":"weather",
			"keyEntities":["weather"],"needsWebSearch":false,"interactivityType":"static"}`},
		engine.Step{Match: "Produce the data", Repeat: true, Text: `{"city":"Tokyo","temperature":18}`},
		engine.Step{Match: "Write GeneratedComponent", Repeat: true, Text: "[[CODE]]\n" + weatherComponent + "\n[[/CODE]]"},
	)
	opts := pipeline.DefaultOptions()
	opts.Engine = eng
	opts.EngineTimeout = 2 * time.Second
	p, err := pipeline.New(opts)
	if err != nil {
		t.Fatalf("pipeline.New failed: %v", err)
	}

	prompts := []numberedPrompt{{line: 1, text: "weather in Tokyo"}, {line: 3, text: "weather in Osaka"}, {line: 4, text: "weather in Kyoto"}}
	var out bytes.Buffer
	failed, err := runPrompts(context.Background(), p, prompts, 2, &out)
	if err != nil {
		t.Fatalf("runPrompts failed: %v", err)
	}
	if failed != 0 {
		t.Fatalf("expected no failures, got %d:\n%s", failed, out.String())
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 JSON lines, got %d", len(lines))
	}
	seen := map[int]bool{}
	for _, l := range lines {
		var bl struct {
			Line      int             `json:"line"`
			RequestID string          `json:"requestId"`
			Response  json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal([]byte(l), &bl); err != nil {
			t.Fatalf("bad JSON line %q: %v", l, err)
		}
		if bl.RequestID == "" {
			t.Fatalf("missing request id in %q", l)
		}
		if !bytes.Contains(bl.Response, []byte("componentCode")) {
			t.Fatalf("expected a success response, got %s", bl.Response)
		}
		seen[bl.Line] = true
	}
	for _, n := range []int{1, 3, 4} {
		if !seen[n] {
			t.Fatalf("missing result for line %d", n)
		}
	}
}

func TestCheckComponent(t *testing.T) {
	report := checkComponent(context.Background(), "[[CODE]]\n"+weatherComponent+"\n[[/CODE]]", validationContext([]string{"weather"}), nil)
	if !report.OK() {
		t.Fatalf("expected the component to pass: %+v", report.Gates)
	}
	if report.Strategy == "" || report.Transformed == "" {
		t.Fatalf("expected strategy and transformed code, got %+v", report)
	}

	helper := `const Row = () => <p>row</p>;
const GeneratedComponent = () => <Card><Row /></Card>;`
	report = checkComponent(context.Background(), "[[CODE]]\n"+helper+"\n[[/CODE]]", validationContext(nil), nil)
	if report.OK() {
		t.Fatal("expected a helper component to be rejected")
	}
	var scopeFailed bool
	for _, g := range report.Gates {
		if g.Gate == "scope" && !g.Passed {
			scopeFailed = true
		}
	}
	if !scopeFailed {
		t.Fatalf("expected the scope gate to fail: %+v", report.Gates)
	}

	report = checkComponent(context.Background(), "no code here", validationContext(nil), nil)
	if report.OK() || len(report.Gates) != 1 || report.Gates[0].Gate != "extract" {
		t.Fatalf("expected an extraction failure, got %+v", report.Gates)
	}
}

func TestRenderComponent(t *testing.T) {
	c := config.DefaultConfig()
	data := map[string]any{"city": "Tokyo", "temperature": 18}

	out, err := renderComponent(context.Background(), c, weatherComponent, data)
	if err != nil {
		t.Fatalf("renderComponent failed: %v", err)
	}
	if out.Fallback {
		t.Fatalf("unexpected fallback: %v", out.Err)
	}
	titles := out.Tree.Find("CardTitle")
	if len(titles) != 1 || !strings.Contains(titles[0].TextContent(), "Tokyo") {
		t.Fatalf("unexpected title nodes: %+v", titles)
	}

	throwing := `[[CODE]]
const GeneratedComponent = () => {
  const label = data.city.toFixed(2);
  return <div>{label}</div>;
};
[[/CODE]]`
	out, err = renderComponent(context.Background(), c, throwing, data)
	if err != nil {
		t.Fatalf("renderComponent failed: %v", err)
	}
	if !out.Fallback || out.Err == nil {
		t.Fatal("expected the data view for a throwing component")
	}

	preview := filepath.Join(t.TempDir(), "out", "preview.html")
	if err := writePage(preview, "Tokyo", out.Tree); err != nil {
		t.Fatalf("writePage failed: %v", err)
	}
	html, err := os.ReadFile(preview)
	if err != nil {
		t.Fatalf("read preview: %v", err)
	}
	if !strings.Contains(string(html), "Tokyo") {
		t.Fatalf("preview does not mention the data: %s", html)
	}
}

func TestCatalogListing(t *testing.T) {
	var out bytes.Buffer
	catalogCmd.SetOut(&out)
	catalogJSON = true
	defer func() { catalogJSON = false }()
	if err := catalogCmd.RunE(catalogCmd, nil); err != nil {
		t.Fatalf("catalog failed: %v", err)
	}
	var doc catalogDoc
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("bad catalog JSON: %v", err)
	}
	var hasCard bool
	for _, e := range doc.Entries {
		if e.Name == "Card" && e.Kind == "component" {
			hasCard = true
		}
	}
	if !hasCard {
		t.Fatal("expected Card in the catalog listing")
	}
	if !strings.Contains(doc.Prompt, "Card") {
		t.Fatal("expected the prompt description to list Card")
	}
}

func TestFormatVerdicts(t *testing.T) {
	got := formatVerdicts(map[string]string{"scope": "fail", "extract": "markers"})
	if got != "extract=markers scope=fail" {
		t.Fatalf("unexpected verdicts: %s", got)
	}
}
