package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"genui/internal/logging"
)

// GeminiEngine streams completions from the Gemini API.
type GeminiEngine struct {
	client *genai.Client
	model  string
}

// NewGeminiEngine creates a Gemini engine. The API key may be empty when GEMINI_API_KEY or
// GOOGLE_API_KEY is set.
func NewGeminiEngine(ctx context.Context, apiKey, model string) (*GeminiEngine, error) {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiEngine{client: client, model: model}, nil
}

// Name implements Engine.
func (g *GeminiEngine) Name() string { return "gemini" }

// Stream implements Engine. Requests that allow execution get Google Search grounding.
func (g *GeminiEngine) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	cfg := &genai.GenerateContentConfig{}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.ForceExecutionAllowed {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}

	out := make(chan Event)
	go func() {
		defer close(out)
		start := time.Now()
		var text strings.Builder
		searched := make(map[string]bool)

		if !send(ctx, out, Event{Type: EventProgress, Message: "requesting " + model}) {
			return
		}
		for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logging.EngineWarn("gemini stream failed: %v", err)
				send(ctx, out, Event{Type: EventError, Error: err.Error()})
				return
			}
			for _, ev := range responseEvents(resp, searched) {
				if ev.Type == EventTextChunk {
					text.WriteString(ev.Text)
				}
				if !send(ctx, out, ev) {
					return
				}
			}
		}
		send(ctx, out, Event{
			Type:       EventResult,
			FinalText:  text.String(),
			DurationMs: time.Since(start).Milliseconds(),
		})
	}()
	return out, nil
}

// responseEvents converts one streamed response. seen de-duplicates search queries, which
// are repeated in every chunk's grounding metadata.
func responseEvents(resp *genai.GenerateContentResponse, seen map[string]bool) []Event {
	var events []Event
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil {
			continue
		}
		if gm := cand.GroundingMetadata; gm != nil {
			for _, q := range gm.WebSearchQueries {
				if !seen[q] {
					seen[q] = true
					events = append(events, Event{Type: EventToolCallStarted, Tool: "google_search: " + q})
				}
			}
		}
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			switch {
			case part == nil || part.Thought:
			case part.ExecutableCode != nil:
				events = append(events, Event{Type: EventToolCallStarted, Tool: "code_execution"})
			case part.Text != "":
				events = append(events, Event{Type: EventTextChunk, Text: part.Text})
			}
		}
	}
	return events
}
