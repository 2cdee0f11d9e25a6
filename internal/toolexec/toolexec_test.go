package toolexec

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/corewright/agentcore/internal/loopdetect"
)

type echoHandler struct{ name string }

func (h echoHandler) Name() string                     { return h.name }
func (h echoHandler) Description() string              { return "echoes input" }
func (h echoHandler) InputSchema() json.RawMessage      { return json.RawMessage(`{}`) }
func (h echoHandler) Execute(ctx context.Context, id string, input json.RawMessage, tc ToolContext) Output {
	return Success(string(input))
}

func TestExecuteUnknownTool(t *testing.T) {
	e := NewExecutor()
	res := e.Execute(context.Background(), "t1", "nope", json.RawMessage(`{}`), ToolContext{})
	if !res.Output.IsError || res.Output.Text != "Unknown tool: nope" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecutePermissionDenied(t *testing.T) {
	e := NewExecutor()
	e.Register(echoHandler{name: "shell"})
	e.SetPermissions([]string{"file_read"})

	res := e.Execute(context.Background(), "t1", "shell", json.RawMessage(`{}`), ToolContext{})
	if !res.Output.IsError || res.Output.Text != "Tool shell not allowed" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExecuteNeverPanics(t *testing.T) {
	e := NewExecutor()
	e.Register(panicHandler{})
	res := e.Execute(context.Background(), "t1", "boom", json.RawMessage(`{}`), ToolContext{})
	if !res.Output.IsError {
		t.Fatalf("expected panic to surface as an error result, got %+v", res)
	}
}

type panicHandler struct{}

func (panicHandler) Name() string                { return "boom" }
func (panicHandler) Description() string         { return "" }
func (panicHandler) InputSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (panicHandler) Execute(ctx context.Context, id string, input json.RawMessage, tc ToolContext) Output {
	panic("kaboom")
}

func TestExecuteBatchPreservesRequestOrderWithLoopDetection(t *testing.T) {
	e := NewExecutor()
	e.Register(echoHandler{name: "file_read"})

	d := loopdetect.New(2, 10)
	input := json.RawMessage(`{"path":"/a"}`)
	calls := []BatchCall{
		{ID: "c1", Name: "file_read", Input: input},
		{ID: "c2", Name: "file_read", Input: input},
		{ID: "c3", Name: "file_read", Input: input},
	}

	results := ExecuteBatch(context.Background(), e, calls, d, ToolContext{}, nil, nil)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ToolUseID != "c1" || results[1].ToolUseID != "c2" || results[2].ToolUseID != "c3" {
		t.Fatalf("expected request order preserved, got %+v", results)
	}
	if !results[2].Output.IsError {
		t.Fatal("expected the third identical call to be the loop-detected error")
	}
}

func TestExecuteBatchSynthesizesCancellation(t *testing.T) {
	e := NewExecutor()
	e.Register(echoHandler{name: "tool_b"})

	strategy := func(ctx context.Context, e *Executor, calls []BatchCall, tc ToolContext) ([]Result, []string) {
		var results []Result
		var cancelled []string
		for _, c := range calls {
			if c.ID == "tool_a" {
				cancelled = append(cancelled, c.ID)
				continue
			}
			results = append(results, e.Execute(ctx, c.ID, c.Name, c.Input, tc))
		}
		return results, cancelled
	}

	calls := []BatchCall{
		{ID: "tool_a", Name: "tool_a", Input: json.RawMessage(`{}`)},
		{ID: "tool_b", Name: "tool_b", Input: json.RawMessage(`{}`)},
	}
	results := ExecuteBatch(context.Background(), e, calls, nil, ToolContext{}, strategy, nil)

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ToolUseID != "tool_a" || !results[0].Output.IsError || results[0].Output.Text != "Cancelled by user" {
		t.Fatalf("expected tool_a cancelled first, got %+v", results[0])
	}
	if results[1].ToolUseID != "tool_b" || results[1].Output.IsError {
		t.Fatalf("expected tool_b to succeed second, got %+v", results[1])
	}
}
