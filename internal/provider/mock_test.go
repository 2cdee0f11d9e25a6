package provider

import (
	"context"
	"testing"
)

func TestMockCompleteQueuesInOrder(t *testing.T) {
	m := NewMock("mock").
		WithRateLimited(1).
		WithRateLimited(1).
		WithTextResponse("done")

	ctx := context.Background()
	req := CompletionRequest{Model: "mock-model"}

	if _, err := m.Complete(ctx, req); err == nil {
		t.Fatal("expected first call to return rate-limited error")
	}
	if _, err := m.Complete(ctx, req); err == nil {
		t.Fatal("expected second call to return rate-limited error")
	}
	resp, err := m.Complete(ctx, req)
	if err != nil {
		t.Fatalf("expected third call to succeed, got %v", err)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "done" {
		t.Fatalf("unexpected response content: %+v", resp.Content)
	}
	if m.CallCount() != 3 {
		t.Fatalf("expected 3 calls, got %d", m.CallCount())
	}
}

func TestMockCompleteStreamEmitsDeltasInOrder(t *testing.T) {
	m := NewMock("mock").WithTextResponse("hello world")
	ch, err := m.CompleteStream(context.Background(), CompletionRequest{Model: "mock-model"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	var sawStop bool
	for ev := range ch {
		switch ev.Type {
		case EventContentBlockDelta:
			text += ev.DeltaText
		case EventMessageStop:
			sawStop = true
		}
	}
	if text != "hello world" {
		t.Fatalf("expected concatenated deltas to equal %q, got %q", "hello world", text)
	}
	if !sawStop {
		t.Fatal("expected a MessageStop event")
	}
}

func TestMockRepeatsLastStepWhenExhausted(t *testing.T) {
	m := NewMock("mock").WithTextResponse("only")
	ctx := context.Background()
	req := CompletionRequest{}
	for i := 0; i < 3; i++ {
		resp, err := m.Complete(ctx, req)
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if resp.Content[0].Text != "only" {
			t.Fatalf("call %d: expected repeated response, got %q", i, resp.Content[0].Text)
		}
	}
}
