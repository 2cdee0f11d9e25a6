package agentloop

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/corewright/agentcore/internal/loopdetect"
	"github.com/corewright/agentcore/internal/message"
	"github.com/corewright/agentcore/internal/provider"
	"github.com/corewright/agentcore/internal/toolexec"
)

type recordingObserver struct {
	NoopObserver
	rateLimited     []float64
	contextTooLong  [][2]int
	contextTrimmed  []int
	toolInvocations []string
	loopDetections  []loopdetect.Detection
	completed       bool
}

func (o *recordingObserver) OnRateLimited(d float64)            { o.rateLimited = append(o.rateLimited, d) }
func (o *recordingObserver) OnContextTooLong(c, l int)          { o.contextTooLong = append(o.contextTooLong, [2]int{c, l}) }
func (o *recordingObserver) OnContextTrimmed(n int)             { o.contextTrimmed = append(o.contextTrimmed, n) }
func (o *recordingObserver) OnToolInvocation(name string, _ []byte) { o.toolInvocations = append(o.toolInvocations, name) }
func (o *recordingObserver) OnLoopDetected(d loopdetect.Detection) { o.loopDetections = append(o.loopDetections, d) }
func (o *recordingObserver) OnAgentComplete()                   { o.completed = true }

func fastSettings() Settings {
	s := DefaultSettings()
	s.BaseRetryDelaySecs = 0 // pow(0, n) == 0, keeps retry tests instant
	return s
}

type echoTool struct{ name string }

func (h echoTool) Name() string                { return h.name }
func (h echoTool) Description() string         { return "echo" }
func (h echoTool) InputSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (h echoTool) Execute(ctx context.Context, id string, input json.RawMessage, tc toolexec.ToolContext) toolexec.Output {
	return toolexec.Success(`{"ok":true}`)
}

func newConv(systemPrompt, userText string) *message.Conversation {
	c := message.New(systemPrompt)
	c.Append(message.NewUserText(userText))
	return c
}

// Scenario A: simple completion with no tool use.
func TestRunAgentLoopSimpleCompletion(t *testing.T) {
	p := provider.NewMock("mock").WithTextResponse("hello there")
	conv := newConv("sys", "hi")
	exec := toolexec.NewExecutor()
	obs := &recordingObserver{}

	completed, err := RunAgentLoop(context.Background(), p, "mock-model", conv, exec, fastSettings(), nil, false, nil, &atomic.Bool{}, toolexec.ToolContext{}, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !completed {
		t.Fatal("expected the loop to report completion")
	}
	if !obs.completed {
		t.Fatal("expected OnAgentComplete to fire")
	}
	if conv.Len() != 2 {
		t.Fatalf("expected 2 messages (user + assistant), got %d", conv.Len())
	}
	if conv.Messages[1].Text() != "hello there" {
		t.Fatalf("unexpected assistant text: %q", conv.Messages[1].Text())
	}
}

// Scenario B: rate-limited twice, then success.
func TestRunAgentLoopRetriesOnRateLimit(t *testing.T) {
	p := provider.NewMock("mock").
		WithRateLimited(0).
		WithRateLimited(0).
		WithTextResponse("done")
	conv := newConv("sys", "hi")
	exec := toolexec.NewExecutor()
	obs := &recordingObserver{}

	completed, err := RunAgentLoop(context.Background(), p, "mock-model", conv, exec, fastSettings(), nil, false, nil, &atomic.Bool{}, toolexec.ToolContext{}, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !completed {
		t.Fatal("expected eventual completion")
	}
	if len(obs.rateLimited) != 2 {
		t.Fatalf("expected exactly 2 rate-limit retries, got %d", len(obs.rateLimited))
	}
	if p.CallCount() != 3 {
		t.Fatalf("expected 3 provider calls, got %d", p.CallCount())
	}
}

// A non-rate-limit provider error propagates and rolls back the
// conversation (spec §8 invariant 1).
func TestRunAgentLoopRollsBackOnError(t *testing.T) {
	p := provider.NewMock("mock").WithError(&provider.Error{Kind: provider.ErrAuthenticationFailed})
	conv := newConv("sys", "hi")
	initialLen := conv.Len()
	exec := toolexec.NewExecutor()

	completed, err := RunAgentLoop(context.Background(), p, "mock-model", conv, exec, fastSettings(), nil, false, nil, &atomic.Bool{}, toolexec.ToolContext{}, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if completed {
		t.Fatal("expected completed=false on error")
	}
	if conv.Len() != initialLen {
		t.Fatalf("expected conversation rolled back to %d messages, got %d", initialLen, conv.Len())
	}
}

// Scenario C: context overflow, trim, and retry.
func TestRunAgentLoopTrimsOnContextOverflow(t *testing.T) {
	p := provider.NewMock("mock").WithContextWindow(2000).
		WithContextTooLong(9000, 2000).
		WithTextResponse("trimmed ok")

	conv := newConv("sys", "first")
	for i := 0; i < 10; i++ {
		conv.Append(message.NewUserText(repeatChar('a', 700)))
	}
	exec := toolexec.NewExecutor()
	obs := &recordingObserver{}

	completed, err := RunAgentLoop(context.Background(), p, "mock-model", conv, exec, fastSettings(), nil, false, nil, &atomic.Bool{}, toolexec.ToolContext{}, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !completed {
		t.Fatal("expected completion after trim+retry")
	}
	if len(obs.contextTooLong) != 1 || obs.contextTooLong[0] != [2]int{9000, 2000} {
		t.Fatalf("expected exactly one on_context_too_long(9000,2000), got %+v", obs.contextTooLong)
	}
	if len(obs.contextTrimmed) != 1 || obs.contextTrimmed[0] <= 0 {
		t.Fatalf("expected exactly one on_context_trimmed with removed>0, got %+v", obs.contextTrimmed)
	}
}

func repeatChar(c byte, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = c
	}
	return string(b)
}

// Scenario D: tool use then completion; asserts the exact final message
// sequence (spec §4.5 steps 4-6).
func TestRunAgentLoopToolUseThenCompletion(t *testing.T) {
	p := provider.NewMock("mock").
		WithToolUseResponse("call1", "echo", json.RawMessage(`{"x":1}`)).
		WithTextResponse("final answer")

	conv := newConv("sys", "please use the tool")
	exec := toolexec.NewExecutor()
	exec.Register(echoTool{name: "echo"})
	obs := &recordingObserver{}

	completed, err := RunAgentLoop(context.Background(), p, "mock-model", conv, exec, fastSettings(), nil, false, []string{"echo"}, &atomic.Bool{}, toolexec.ToolContext{}, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !completed {
		t.Fatal("expected completion")
	}
	if conv.Len() != 4 {
		t.Fatalf("expected user, assistant(tool_use), user(tool_result), assistant(final) = 4 messages, got %d", conv.Len())
	}
	if conv.Messages[0].Role != message.RoleUser {
		t.Fatalf("message 0 should be the original user prompt, got role %v", conv.Messages[0].Role)
	}
	asst := conv.Messages[1]
	if asst.Role != message.RoleAssistant || len(asst.ToolUseIDs()) != 1 {
		t.Fatalf("message 1 should be the assistant tool_use, got %+v", asst)
	}
	toolResultMsg := conv.Messages[2]
	if toolResultMsg.Role != message.RoleUser || len(toolResultMsg.Content) != 1 || toolResultMsg.Content[0].Kind != message.BlockToolResult {
		t.Fatalf("message 2 should be the single tool-result message, got %+v", toolResultMsg)
	}
	if toolResultMsg.Content[0].ToolResultForID != "call1" {
		t.Fatalf("expected the tool result to pair with call1, got %+v", toolResultMsg.Content[0])
	}
	final := conv.Messages[3]
	if final.Role != message.RoleAssistant || final.Text() != "final answer" {
		t.Fatalf("message 3 should be the final assistant text, got %+v", final)
	}
	if len(obs.toolInvocations) != 1 || obs.toolInvocations[0] != "echo" {
		t.Fatalf("expected exactly one tool invocation recorded, got %+v", obs.toolInvocations)
	}
}

// Scenario E: loop detection surfaces through the full loop as a tool
// result rather than aborting the turn.
func TestRunAgentLoopSurfacesLoopDetection(t *testing.T) {
	repeated := json.RawMessage(`{"path":"/a"}`)
	p := provider.NewMock("mock").
		WithToolUseResponse("c1", "echo", repeated).
		WithToolUseResponse("c2", "echo", repeated).
		WithToolUseResponse("c3", "echo", repeated).
		WithTextResponse("gave up, trying something else")

	conv := newConv("sys", "loop please")
	exec := toolexec.NewExecutor()
	exec.Register(echoTool{name: "echo"})
	obs := &recordingObserver{}

	completed, err := RunAgentLoop(context.Background(), p, "mock-model", conv, exec, fastSettings(), nil, false, []string{"echo"}, &atomic.Bool{}, toolexec.ToolContext{}, obs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !completed {
		t.Fatal("expected eventual completion after loop recovery")
	}
	if len(obs.loopDetections) != 1 {
		t.Fatalf("expected exactly one loop detection, got %d", len(obs.loopDetections))
	}
}

// Invariant 2: with the interrupted flag set on entry, the loop returns
// completed=false and leaves the conversation at its initial length.
func TestRunAgentLoopInterruptedOnEntryRollsBack(t *testing.T) {
	p := provider.NewMock("mock").WithToolUseResponse("call1", "echo", json.RawMessage(`{}`))
	conv := newConv("sys", "start")
	initialLen := conv.Len()
	exec := toolexec.NewExecutor()
	exec.Register(echoTool{name: "echo"})

	interrupted := &atomic.Bool{}
	interrupted.Store(true)

	completed, err := RunAgentLoop(context.Background(), p, "mock-model", conv, exec, fastSettings(), nil, false, []string{"echo"}, interrupted, toolexec.ToolContext{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if completed {
		t.Fatal("expected completed=false on interrupt")
	}
	if conv.Len() != initialLen {
		t.Fatalf("expected rollback to initial length %d, got %d", initialLen, conv.Len())
	}
}

// matchesBuilderIntent heuristic, spec §4.5.4.
func TestMatchesBuilderIntentSentinelsAndConjunction(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"[new project - empty directory]", true},
		{"please call file_write now", true},
		{"build me a dashboard", true},
		{"scaffold a new website", true},
		{"what does this function do?", false},
		{"build a sandwich", false},
	}
	for _, c := range cases {
		if got := matchesBuilderIntent(c.text); got != c.want {
			t.Errorf("matchesBuilderIntent(%q) = %v, want %v", c.text, got, c.want)
		}
	}
}
