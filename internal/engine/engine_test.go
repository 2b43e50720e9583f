package engine

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/genai"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAwait_Result(t *testing.T) {
	eng := NewScriptedEngine(Step{
		Notes: []Event{
			{Type: EventProgress, Message: "thinking"},
			{Type: EventToolCallStarted, Tool: "web_search"},
			{Type: EventTextChunk, Text: "partial"},
		},
		Text: "final answer",
	})

	var notices []Event
	res, err := Await(context.Background(), eng, Request{Prompt: "hi"}, time.Second, func(ev Event) {
		notices = append(notices, ev)
	})
	require.NoError(t, err)
	assert.Equal(t, "final answer", res.Text)
	assert.Equal(t, 1, res.Chunks)
	require.Len(t, notices, 3)
	assert.Equal(t, EventToolCallStarted, notices[1].Type)
	assert.Equal(t, 0, eng.Remaining())
}

func TestAwait_Failure(t *testing.T) {
	tests := []struct {
		name        string
		fail        string
		rateLimited bool
	}{
		{"plain failure", "model overloaded", false},
		{"rate limit", "429 Too Many Requests", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := NewScriptedEngine(Step{Fail: tt.fail})
			_, err := Await(context.Background(), eng, Request{Prompt: "x"}, time.Second, nil)

			var fe *FailureError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.fail, fe.Message)
			assert.Equal(t, tt.rateLimited, fe.RateLimited)
			assert.False(t, IsTimeout(err))
		})
	}
}

func TestAwait_Timeout(t *testing.T) {
	eng := NewScriptedEngine(Step{Text: "too late", Delay: 5 * time.Second})
	start := time.Now()
	_, err := Await(context.Background(), eng, Request{Prompt: "x"}, 30*time.Millisecond, nil)

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 30*time.Millisecond, te.After)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAwait_NoScriptedReply(t *testing.T) {
	eng := NewScriptedEngine(Step{Match: "planning", Text: "{}"})
	_, err := Await(context.Background(), eng, Request{Prompt: "generate"}, time.Second, nil)

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Message, "no scripted reply")
}

type closedEngine struct{}

func (closedEngine) Name() string { return "closed" }

func (closedEngine) Stream(context.Context, Request) (<-chan Event, error) {
	ch := make(chan Event)
	close(ch)
	return ch, nil
}

func TestAwait_StreamWithoutResult(t *testing.T) {
	_, err := Await(context.Background(), closedEngine{}, Request{}, time.Second, nil)
	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Error(), "stream ended without a result")
}

func TestScriptedEngine_MatchAndRepeat(t *testing.T) {
	eng := NewScriptedEngine(
		Step{Match: "plan", Text: "plan reply"},
		Step{Match: "code", Text: "code reply", Repeat: true},
	)
	ctx := context.Background()

	res, err := Await(ctx, eng, Request{Prompt: "write code"}, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "code reply", res.Text)

	res, err = Await(ctx, eng, Request{Prompt: "make a plan"}, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "plan reply", res.Text)

	res, err = Await(ctx, eng, Request{Prompt: "more code"}, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "code reply", res.Text)

	assert.Equal(t, 1, eng.Remaining())
	reqs := eng.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "make a plan", reqs[1].Prompt)
}

func TestParseCLILine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []Event
	}{
		{
			name: "system",
			line: `{"type":"system","subtype":"init"}`,
			want: []Event{{Type: EventProgress, Message: "session init"}},
		},
		{
			name: "assistant blocks",
			line: `{"type":"assistant","message":{"content":[{"type":"text","text":"hi"},{"type":"tool_use","name":"WebSearch"}]}}`,
			want: []Event{{Type: EventTextChunk, Text: "hi"}, {Type: EventToolCallStarted, Tool: "WebSearch"}},
		},
		{
			name: "success",
			line: `{"type":"result","subtype":"success","result":"done","duration_ms":42}`,
			want: []Event{{Type: EventResult, FinalText: "done", DurationMs: 42}},
		},
		{
			name: "error result",
			line: `{"type":"result","subtype":"error_max_turns","is_error":true}`,
			want: []Event{{Type: EventError, Error: "error_max_turns"}},
		},
		{
			name: "not json",
			line: `warming up`,
			want: []Event{{Type: EventProgress, Message: "warming up"}},
		},
		{
			name: "unknown record",
			line: `{"type":"user"}`,
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseCLILine([]byte(tt.line)))
		})
	}
}

func shellEngine(t *testing.T, script string) *CLIEngine {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return &CLIEngine{Command: "sh", Args: []string{"-c", script}}
}

func TestCLIEngine_Stream(t *testing.T) {
	eng := shellEngine(t, `cat > /dev/null
echo '{"type":"system","subtype":"init"}'
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"hello "},{"type":"tool_use","name":"WebSearch"}]}}'
echo '{"type":"result","subtype":"success","result":"hello world","duration_ms":12}'`)

	var notices []Event
	res, err := Await(context.Background(), eng, Request{Prompt: "say hello"}, 10*time.Second, func(ev Event) {
		notices = append(notices, ev)
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, 12*time.Millisecond, res.Duration)
	assert.Len(t, notices, 3)
}

func TestCLIEngine_ExitWithoutResult(t *testing.T) {
	eng := shellEngine(t, `cat > /dev/null; echo boom >&2; exit 3`)
	_, err := Await(context.Background(), eng, Request{Prompt: "x"}, 10*time.Second, nil)

	var fe *FailureError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, fe.Message, "exit status 3")
	assert.Contains(t, fe.Message, "boom")
}

func TestCLIEngine_MissingCommand(t *testing.T) {
	eng := &CLIEngine{Command: "genui-no-such-binary"}
	assert.True(t, errors.Is(eng.LookPath(), ErrNoCommand))
	_, err := eng.Stream(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}

func TestResponseEvents(t *testing.T) {
	seen := make(map[string]bool)
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			GroundingMetadata: &genai.GroundingMetadata{WebSearchQueries: []string{"tokyo weather"}},
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "reasoning", Thought: true},
				{ExecutableCode: &genai.ExecutableCode{Code: "print(1)"}},
				{Text: "Tokyo is 18C"},
			}},
		}},
	}

	got := responseEvents(resp, seen)
	assert.Equal(t, []Event{
		{Type: EventToolCallStarted, Tool: "google_search: tokyo weather"},
		{Type: EventToolCallStarted, Tool: "code_execution"},
		{Type: EventTextChunk, Text: "Tokyo is 18C"},
	}, got)

	again := responseEvents(resp, seen)
	assert.Len(t, again, 2, "search queries are reported once")
	assert.Nil(t, responseEvents(nil, seen))
}
