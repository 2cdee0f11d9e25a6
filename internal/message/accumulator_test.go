package message

import (
	"testing"

	"github.com/corewright/agentcore/internal/provider"
)

func TestAccumulatorTextDeltaOrderMatchesFinish(t *testing.T) {
	a := NewAccumulator()
	textBlock := provider.ContentBlock{Type: provider.BlockText}

	var observed string
	feed := func(ev provider.StreamEvent) { a.Feed(ev, func(_ int, text string) { observed += text }) }

	feed(provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 0, Block: &textBlock})
	feed(provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 0, DeltaType: provider.DeltaText, DeltaText: "hello "})
	feed(provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 0, DeltaType: provider.DeltaText, DeltaText: "world"})
	feed(provider.StreamEvent{Type: provider.EventContentBlockStop, Index: 0})

	stopReason := provider.StopEndTurn
	feed(provider.StreamEvent{Type: provider.EventMessageDelta, StopReason: &stopReason})

	blocks, sr := a.Finish()
	if sr != provider.StopEndTurn {
		t.Fatalf("expected StopEndTurn, got %v", sr)
	}
	if len(blocks) != 1 || blocks[0].Text != "hello world" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
	if observed != blocks[0].Text {
		t.Fatalf("observer text %q does not match final block text %q", observed, blocks[0].Text)
	}
}

func TestAccumulatorToolUseJSONFragments(t *testing.T) {
	a := NewAccumulator()
	toolBlock := provider.ContentBlock{Type: provider.BlockToolUse, ToolUseID: "tool_1", ToolName: "file_read"}

	a.Feed(provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 0, Block: &toolBlock}, nil)
	a.Feed(provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 0, DeltaType: provider.DeltaInputJSON, DeltaJSON: `{"path":`}, nil)
	a.Feed(provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 0, DeltaType: provider.DeltaInputJSON, DeltaJSON: `"/tmp/a"}`}, nil)
	a.Feed(provider.StreamEvent{Type: provider.EventContentBlockStop, Index: 0}, nil)

	blocks, _ := a.Finish()
	if len(blocks) != 1 || blocks[0].ToolName != "file_read" {
		t.Fatalf("unexpected blocks: %+v", blocks)
	}
	if string(blocks[0].ToolInput) != `{"path":"/tmp/a"}` {
		t.Fatalf("unexpected tool input: %s", blocks[0].ToolInput)
	}
}

func TestAccumulatorEmptyToolInputFallsBackToEmptyObject(t *testing.T) {
	a := NewAccumulator()
	toolBlock := provider.ContentBlock{Type: provider.BlockToolUse, ToolUseID: "tool_1", ToolName: "noop"}
	a.Feed(provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 0, Block: &toolBlock}, nil)
	a.Feed(provider.StreamEvent{Type: provider.EventContentBlockStop, Index: 0}, nil)

	blocks, _ := a.Finish()
	if string(blocks[0].ToolInput) != "{}" {
		t.Fatalf("expected fallback to {}, got %s", blocks[0].ToolInput)
	}
}

func TestAccumulatorSurfacesTerminalError(t *testing.T) {
	a := NewAccumulator()
	a.Feed(provider.StreamEvent{Type: provider.EventError, Err: &provider.Error{Kind: provider.ErrStreamError, Message: "boom"}}, nil)
	if a.Err() == nil {
		t.Fatal("expected a terminal error to be recorded")
	}
}

func TestAccumulatorBlockOrderIsByIndexNotArrival(t *testing.T) {
	a := NewAccumulator()
	b1 := provider.ContentBlock{Type: provider.BlockText}
	b0 := provider.ContentBlock{Type: provider.BlockText}

	a.Feed(provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 1, Block: &b1}, nil)
	a.Feed(provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 1, DeltaType: provider.DeltaText, DeltaText: "second"}, nil)
	a.Feed(provider.StreamEvent{Type: provider.EventContentBlockStart, Index: 0, Block: &b0}, nil)
	a.Feed(provider.StreamEvent{Type: provider.EventContentBlockDelta, Index: 0, DeltaType: provider.DeltaText, DeltaText: "first"}, nil)

	blocks, _ := a.Finish()
	if len(blocks) != 2 || blocks[0].Text != "first" || blocks[1].Text != "second" {
		t.Fatalf("expected blocks ordered by index, got %+v", blocks)
	}
}
