package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestTraceStore_StoreAndRetrieve(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "traces", "test.db")

	ts, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer ts.Close()

	base := time.Now().Add(-time.Minute)
	first := &RequestTrace{
		ID:         "req-1",
		Prompt:     "weather in Tokyo",
		Intent:     "fact",
		Success:    true,
		Attempts:   1,
		DurationMs: 1200,
		CreatedAt:  base,
	}
	second := &RequestTrace{
		ID:          "req-2",
		Prompt:      "compare GDP",
		Success:     false,
		FailureKind: "validation",
		Message:     "gave up after 2 attempts",
		Attempts:    2,
		Fallback:    true,
		CreatedAt:   base.Add(time.Second),
	}
	for _, tr := range []*RequestTrace{first, second} {
		if err := ts.RecordRequest(ctx, tr); err != nil {
			t.Fatalf("Failed to record request: %v", err)
		}
	}

	recent, err := ts.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Failed to list requests: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(recent))
	}
	if recent[0].ID != "req-2" {
		t.Errorf("Expected newest request first, got %s", recent[0].ID)
	}
	if recent[0].FailureKind != "validation" || !recent[0].Fallback {
		t.Errorf("Failure fields not round-tripped: %+v", recent[0])
	}
	if recent[1].Intent != "fact" || !recent[1].Success {
		t.Errorf("Success fields not round-tripped: %+v", recent[1])
	}
	if recent[1].CreatedAt.UnixMilli() != base.UnixMilli() {
		t.Errorf("Expected created_at %v, got %v", base, recent[1].CreatedAt)
	}

	limited, err := ts.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Failed to list requests: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(limited))
	}
}

func TestTraceStore_Attempts(t *testing.T) {
	ctx := context.Background()
	ts, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer ts.Close()

	attempts := []*AttemptTrace{
		{RequestID: "req-1", Attempt: 1, Strategy: "paired_markers", Verdicts: map[string]string{"scope": "fail"}, Error: "unknown identifier StatRow"},
		{RequestID: "req-1", Attempt: 0, Strategy: "fenced_block", Verdicts: map[string]string{"structure": "pass"}},
		{RequestID: "req-2", Attempt: 0},
	}
	for _, a := range attempts {
		if err := ts.RecordAttempt(ctx, a); err != nil {
			t.Fatalf("Failed to record attempt: %v", err)
		}
	}

	got, err := ts.Attempts(ctx, "req-1")
	if err != nil {
		t.Fatalf("Failed to list attempts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(got))
	}
	if got[0].Attempt != 0 || got[1].Attempt != 1 {
		t.Errorf("Attempts out of order: %d, %d", got[0].Attempt, got[1].Attempt)
	}
	if got[1].Verdicts["scope"] != "fail" {
		t.Errorf("Expected scope verdict to round-trip, got %v", got[1].Verdicts)
	}
	if got[1].Error != "unknown identifier StatRow" {
		t.Errorf("Unexpected error text %q", got[1].Error)
	}

	other, err := ts.Attempts(ctx, "req-2")
	if err != nil {
		t.Fatalf("Failed to list attempts: %v", err)
	}
	if len(other) != 1 || other[0].Verdicts != nil {
		t.Errorf("Expected one attempt without verdicts, got %+v", other)
	}
}

func TestTraceStore_Stats(t *testing.T) {
	ctx := context.Background()
	ts, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer ts.Close()

	empty, err := ts.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to aggregate empty store: %v", err)
	}
	if empty.Requests != 0 {
		t.Errorf("Expected no requests, got %d", empty.Requests)
	}

	for i, tr := range []*RequestTrace{
		{ID: "a", Prompt: "a", Success: true, Attempts: 1},
		{ID: "b", Prompt: "b", Success: true, Attempts: 2, Fallback: true},
		{ID: "c", Prompt: "c", Success: false, Attempts: 3},
	} {
		tr.CreatedAt = time.Unix(int64(i), 0)
		if err := ts.RecordRequest(ctx, tr); err != nil {
			t.Fatalf("Failed to record request: %v", err)
		}
	}

	s, err := ts.Stats(ctx)
	if err != nil {
		t.Fatalf("Failed to aggregate: %v", err)
	}
	want := Stats{Requests: 3, Successes: 2, Failures: 1, Fallbacks: 1, AvgAttempts: 2}
	if s != want {
		t.Errorf("Expected %+v, got %+v", want, s)
	}
}
