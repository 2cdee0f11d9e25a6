package message

import "testing"

func TestRollbackToTruncates(t *testing.T) {
	c := New("")
	c.Append(NewUserText("hi"))
	n := c.Len()
	c.Append(NewAssistant([]ContentBlock{Text("reply")}))
	c.Append(NewUserText("more"))

	c.RollbackTo(n)

	if c.Len() != n {
		t.Fatalf("expected length %d after rollback, got %d", n, c.Len())
	}
}

func TestPendingToolUseIDsReportsUnresolved(t *testing.T) {
	c := New("")
	c.Append(NewUserText("go"))
	c.Append(NewAssistant([]ContentBlock{
		ToolUse("tool_a", "file_read", []byte(`{}`)),
		ToolUse("tool_b", "file_read", []byte(`{}`)),
	}))

	pending := c.PendingToolUseIDs()
	if len(pending) != 2 || pending[0] != "tool_a" || pending[1] != "tool_b" {
		t.Fatalf("expected both tool uses pending, got %v", pending)
	}
}

func TestPendingToolUseIDsEmptyOncePaired(t *testing.T) {
	c := New("")
	c.Append(NewUserText("go"))
	c.Append(NewAssistant([]ContentBlock{ToolUse("tool_a", "file_read", []byte(`{}`))}))
	c.Append(NewToolResults([]ContentBlock{ToolResultText("tool_a", "ok", false)}))

	// PendingToolUseIDs only looks at the last message; after the pairing
	// message is appended, the assistant message is no longer "last", so
	// there is nothing pending from it.
	if pending := c.PendingToolUseIDs(); len(pending) != 0 {
		t.Fatalf("expected no pending tool uses, got %v", pending)
	}
}

func TestTrimToFitKeepsRecentSuffix(t *testing.T) {
	c := New("")
	c.Config.CharsPerToken = 4
	c.Config.ResponseReserve = 0
	c.Config.PerMessageOverhead = 0

	for i := 0; i < 10; i++ {
		// ~700 chars each, matching scenario C in spec §8.
		c.Append(NewUserText(string(make([]byte, 700))))
	}

	// All 10 messages (10 x 175 = 1750 tokens) fit in 2000, so trim to
	// 0.7 x a 2000-token window as the agent loop does: 8 messages remain.
	removed := c.TrimToFit(1400)
	if removed == 0 {
		t.Fatal("expected some messages to be removed")
	}
	if c.Len() >= 10 {
		t.Fatalf("expected conversation to shrink below 10, got %d", c.Len())
	}
	if total := c.EstimateTotalTokens(); total > 1400 {
		t.Fatalf("expected remaining suffix to fit target, got %d tokens", total)
	}
}

func TestTrimToFitIsDeterministicAboutWhichSuffixSurvives(t *testing.T) {
	c := New("")
	c.Config.CharsPerToken = 1
	c.Config.ResponseReserve = 0
	c.Config.PerMessageOverhead = 0

	c.Append(NewUserText("aaaaaaaaaa")) // 10 tokens, oldest: dropped
	c.Append(NewUserText("bbbbb"))      // 5 tokens: kept
	c.Append(NewUserText("ccccc"))      // 5 tokens: kept

	removed := c.TrimToFit(10)
	if removed != 1 {
		t.Fatalf("expected exactly the oldest message removed, got %d removed", removed)
	}
	if c.Messages[0].Text() != "bbbbb" {
		t.Fatalf("expected surviving suffix to start at the second message, got %q", c.Messages[0].Text())
	}
}

func TestCancelledToolResultIsByteExact(t *testing.T) {
	b := CancelledToolResult("tool_a")
	if !b.ToolResultError {
		t.Fatal("expected cancelled result to be an error")
	}
	if got := joinResultParts(b.ToolResultParts); got != "Cancelled by user" {
		t.Fatalf("expected byte-exact cancellation text, got %q", got)
	}
}
