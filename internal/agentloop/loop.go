// Package agentloop drives request/response/tool turns with retry,
// rollback, and cancellation — spec §4.5. It generalizes the teacher's
// internal/llm.ProcessTurn (a single-provider, MCP-specific loop) into the
// full provider-agnostic contract: context-overflow retry, rate-limit
// retry, builder-intent fallback, and the observer contract.
package agentloop

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/corewright/agentcore/internal/loopdetect"
	"github.com/corewright/agentcore/internal/message"
	"github.com/corewright/agentcore/internal/provider"
	"github.com/corewright/agentcore/internal/toolexec"
)

// Settings configures retry behavior and pacing.
type Settings struct {
	MaxRateLimitRetries int
	BaseRetryDelaySecs  float64
	PostToolDelay       time.Duration
	MaxTokens           int
	Temperature         float64
}

// DefaultSettings mirrors the teacher's conservative defaults, aligned to
// spec §4.5.3's stated defaults (max_retries=3, base=2) and §4.5's stated
// post-tool delay (500ms).
func DefaultSettings() Settings {
	return Settings{
		MaxRateLimitRetries: 3,
		BaseRetryDelaySecs:  2,
		PostToolDelay:       500 * time.Millisecond,
		MaxTokens:           4096,
		Temperature:         0.7,
	}
}

// ContextManager is the narrow interface the loop uses to record turn
// activity for recall (spec §4.5 steps 3 and 5). The indexer's recall bus
// is a natural implementation; passing nil disables recording.
type ContextManager interface {
	RecordAssistantText(text string)
	RecordToolCall(name string, input []byte, output toolexec.Output)
}

// Observer receives the hooks named in spec §4.5.5. All are optional; embed
// NoopObserver to satisfy the interface without implementing every method.
type Observer interface {
	OnResponsePrefix(text string)
	OnTextDelta(text string)
	OnStreamTick()
	OnRateLimited(delaySeconds float64)
	OnContextTooLong(current, limit int)
	OnContextTrimmed(removed int)
	OnTurn()
	OnToolPhaseStart()
	OnToolInvocation(name string, input []byte)
	OnToolResult(name string, output toolexec.Output)
	OnLoopDetected(d loopdetect.Detection)
	OnLoopRecovery()
	OnAgentComplete()
}

// NoopObserver implements Observer with no-ops for every hook.
type NoopObserver struct{}

func (NoopObserver) OnResponsePrefix(string)                 {}
func (NoopObserver) OnTextDelta(string)                      {}
func (NoopObserver) OnStreamTick()                           {}
func (NoopObserver) OnRateLimited(float64)                   {}
func (NoopObserver) OnContextTooLong(int, int)                {}
func (NoopObserver) OnContextTrimmed(int)                    {}
func (NoopObserver) OnTurn()                                 {}
func (NoopObserver) OnToolPhaseStart()                       {}
func (NoopObserver) OnToolInvocation(string, []byte)         {}
func (NoopObserver) OnToolResult(string, toolexec.Output)    {}
func (NoopObserver) OnLoopDetected(loopdetect.Detection)     {}
func (NoopObserver) OnLoopRecovery()                          {}
func (NoopObserver) OnAgentComplete()                         {}

// builderIntentBuildWords and builderIntentTargetWords implement spec
// §4.5.4's "local provider" builder-intent heuristic.
var builderIntentBuildWords = []string{"build", "create", "make", "scaffold", "generate", "implement"}
var builderIntentTargetWords = []string{"app", "application", "project", "site", "website", "blog", "dashboard", "api", "tool"}
var builderIntentSentinels = []string{"[new project - empty directory]", "file_write", "create files", "start creating files"}

func matchesBuilderIntent(text string) bool {
	lower := strings.ToLower(text)
	for _, s := range builderIntentSentinels {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	hasBuild, hasTarget := false, false
	for _, w := range builderIntentBuildWords {
		if strings.Contains(lower, w) {
			hasBuild = true
			break
		}
	}
	for _, w := range builderIntentTargetWords {
		if strings.Contains(lower, w) {
			hasTarget = true
			break
		}
	}
	return hasBuild && hasTarget
}

func lastUserText(conv *message.Conversation) string {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == message.RoleUser {
			return conv.Messages[i].Text()
		}
	}
	return ""
}

// RunAgentLoop implements spec §4.5's public contract.
//
//	Ok(true)  -> (true, nil)
//	Ok(false) -> (false, nil)
//	Err(e)    -> (false, err)
func RunAgentLoop(
	ctx context.Context,
	p provider.Provider,
	model string,
	conv *message.Conversation,
	executor *toolexec.Executor,
	settings Settings,
	cm ContextManager,
	streamEnabled bool,
	activeCaps []string,
	interrupted *atomic.Bool,
	tc toolexec.ToolContext,
	observer Observer,
) (bool, error) {
	if observer == nil {
		observer = NoopObserver{}
	}

	initialCount := conv.Len()
	executor.SetPermissions(activeCaps)
	detector := loopdetect.New(loopdetect.DefaultMaxConsecutive, loopdetect.DefaultWindow)

	for {
		if interrupted.Load() {
			synthesizeCancelledResults(conv)
			conv.RollbackTo(initialCount)
			return false, nil
		}

		blocks, stopReason, err := requestTurn(ctx, p, model, conv, executor, settings, streamEnabled, observer)
		if err != nil {
			conv.RollbackTo(initialCount)
			return false, err
		}

		text := textOfBlocks(blocks)
		if cm != nil {
			cm.RecordAssistantText(text)
		}

		conv.Append(message.NewAssistant(blocks))
		observer.OnTurn()

		toolUses := toolUseBlocks(blocks)
		if len(toolUses) == 0 && stopReason != provider.StopToolUse {
			observer.OnAgentComplete()
			return true, nil
		}

		observer.OnToolPhaseStart()

		calls := make([]toolexec.BatchCall, 0, len(toolUses))
		for _, b := range toolUses {
			observer.OnToolInvocation(b.ToolName, b.ToolInput)
			calls = append(calls, toolexec.BatchCall{ID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInput})
		}

		batchCtx, stopWatch := watchInterrupt(ctx, interrupted)
		var sawLoopDetection bool
		results := toolexec.ExecuteBatch(batchCtx, executor, calls, detector, tc, nil, func(d loopdetect.Detection) {
			sawLoopDetection = true
			observer.OnLoopDetected(d)
		})
		stopWatch()

		resultBlocks := make([]message.ContentBlock, 0, len(results))
		for _, r := range results {
			observer.OnToolResult(toolNameFor(calls, r.ToolUseID), r.Output)
			if cm != nil {
				cm.RecordToolCall(toolNameFor(calls, r.ToolUseID), inputFor(calls, r.ToolUseID), r.Output)
			}
			resultBlocks = append(resultBlocks, message.ToolResultText(r.ToolUseID, r.Output.Text, r.Output.IsError))
		}
		conv.Append(message.NewToolResults(resultBlocks))

		if sawLoopDetection {
			observer.OnLoopRecovery()
		}

		if interrupted.Load() {
			conv.RollbackTo(initialCount)
			return false, nil
		}

		sleepCtx(ctx, settings.PostToolDelay)
	}
}

// synthesizeCancelledResults satisfies spec §4.5.1: before rollback, every
// tool-use id in the latest assistant message that lacks a real result
// gets a synthesized "Cancelled by user" result appended.
func synthesizeCancelledResults(conv *message.Conversation) {
	pending := conv.PendingToolUseIDs()
	if len(pending) == 0 {
		return
	}
	blocks := make([]message.ContentBlock, 0, len(pending))
	for _, id := range pending {
		blocks = append(blocks, message.CancelledToolResult(id))
	}
	conv.Append(message.NewToolResults(blocks))
}

func requestTurn(
	ctx context.Context,
	p provider.Provider,
	model string,
	conv *message.Conversation,
	executor *toolexec.Executor,
	settings Settings,
	streamEnabled bool,
	observer Observer,
) ([]message.ContentBlock, provider.StopReason, error) {
	tools := toProviderTools(executor.Tools())

	if p.Name() == "local" && len(tools) > 0 && matchesBuilderIntent(lastUserText(conv)) {
		return runBuilderIntentFlow(ctx, p, model, conv, tools, settings, observer)
	}

	return requestWithRateLimitRetry(ctx, p, model, conv, tools, provider.ToolChoice{Policy: provider.ToolChoiceAuto}, conv.SystemPrompt, streamEnabled, settings, observer)
}

// requestWithRateLimitRetry implements spec §4.5.3.
func requestWithRateLimitRetry(
	ctx context.Context,
	p provider.Provider,
	model string,
	conv *message.Conversation,
	tools []provider.Tool,
	choice provider.ToolChoice,
	systemPrompt string,
	streamEnabled bool,
	settings Settings,
	observer Observer,
) ([]message.ContentBlock, provider.StopReason, error) {
	attempt := 0
	for {
		blocks, stopReason, err := requestWithOverflowRetry(ctx, p, model, conv, tools, choice, systemPrompt, streamEnabled, settings, observer)
		if err == nil {
			return blocks, stopReason, nil
		}
		if retryAfter, ok := provider.AsRateLimited(err); ok {
			if attempt >= settings.MaxRateLimitRetries {
				return nil, "", err
			}
			delay := retryAfter
			if delay <= 0 {
				delay = math.Pow(settings.BaseRetryDelaySecs, float64(attempt+1))
			}
			observer.OnRateLimited(delay)
			if !sleepCtx(ctx, time.Duration(delay*float64(time.Second))) {
				return nil, "", ctx.Err()
			}
			attempt++
			continue
		}
		return nil, "", err
	}
}

// requestWithOverflowRetry implements spec §4.5.2.
func requestWithOverflowRetry(
	ctx context.Context,
	p provider.Provider,
	model string,
	conv *message.Conversation,
	tools []provider.Tool,
	choice provider.ToolChoice,
	systemPrompt string,
	streamEnabled bool,
	settings Settings,
	observer Observer,
) ([]message.ContentBlock, provider.StopReason, error) {
	req := buildRequest(conv, model, tools, choice, systemPrompt, settings)
	blocks, stopReason, err := doRequest(ctx, p, req, streamEnabled, observer)
	current, limit, ok := provider.AsContextTooLong(err)
	if !ok {
		return blocks, stopReason, err
	}

	observer.OnContextTooLong(current, limit)
	window := limit
	if models, merr := p.AvailableModels(ctx); merr == nil {
		for _, m := range models {
			if m.ID == model {
				window = m.ContextWindow
			}
		}
	}
	target := int(0.7 * float64(window))
	removed := conv.TrimToFit(target)
	observer.OnContextTrimmed(removed)
	if removed == 0 {
		return nil, "", err
	}

	req = buildRequest(conv, model, tools, choice, systemPrompt, settings)
	return doRequest(ctx, p, req, streamEnabled, observer)
}

const (
	builderIntentSystemSuffix         = "\n\nThe user wants you to scaffold a new project. Respond with tool calls only; do not describe what you would do."
	builderIntentStrictSystemSuffix   = "\n\nYou MUST call at least one tool in this response. Do not reply with text alone."
	builderIntentFilteredToolsMissing = "local provider builder-intent tool set is empty"
)

var builderIntentToolNames = []string{"file_write", "file_edit", "file_read", "glob", "grep", "shell"}

// runBuilderIntentFlow implements spec §4.5.4: a "local"-provider-only
// heuristic that forces tool-only output when the latest user text reads
// as a scaffold-a-new-project request.
func runBuilderIntentFlow(
	ctx context.Context,
	p provider.Provider,
	model string,
	conv *message.Conversation,
	allTools []provider.Tool,
	settings Settings,
	observer Observer,
) ([]message.ContentBlock, provider.StopReason, error) {
	filtered := filterTools(allTools, builderIntentToolNames)
	choice := provider.ToolChoice{Policy: provider.ToolChoiceRequired}

	attempt := func(suffix string) ([]message.ContentBlock, provider.StopReason, error) {
		req := buildRequest(conv, model, filtered, choice, conv.SystemPrompt+suffix, settings)
		return doRequest(ctx, p, req, false, observer)
	}

	blocks, stopReason, err := attempt(builderIntentSystemSuffix)
	if err != nil || hasToolUse(blocks) || stopReason == provider.StopToolUse {
		return blocks, stopReason, err
	}

	blocks, stopReason, err = attempt(builderIntentSystemSuffix)
	if err != nil || hasToolUse(blocks) || stopReason == provider.StopToolUse {
		return blocks, stopReason, err
	}

	return attempt(builderIntentStrictSystemSuffix)
}

func hasToolUse(blocks []message.ContentBlock) bool {
	return len(toolUseBlocks(blocks)) > 0
}

func filterTools(tools []provider.Tool, names []string) []provider.Tool {
	allow := make(map[string]bool, len(names))
	for _, n := range names {
		allow[n] = true
	}
	var out []provider.Tool
	for _, t := range tools {
		if allow[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

func buildRequest(conv *message.Conversation, model string, tools []provider.Tool, choice provider.ToolChoice, systemPrompt string, settings Settings) provider.CompletionRequest {
	return provider.CompletionRequest{
		Model:        model,
		Messages:     conv.ToProviderMessages(),
		SystemPrompt: systemPrompt,
		MaxTokens:    settings.MaxTokens,
		Temperature:  settings.Temperature,
		Tools:        tools,
		ToolChoice:   choice,
	}
}

func doRequest(ctx context.Context, p provider.Provider, req provider.CompletionRequest, streamEnabled bool, observer Observer) ([]message.ContentBlock, provider.StopReason, error) {
	if !streamEnabled {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, "", err
		}
		return providerBlocksToMessage(resp.Content), resp.StopReason, nil
	}

	ch, err := p.CompleteStream(ctx, req)
	if err != nil {
		return nil, "", err
	}

	acc := message.NewAccumulator()
	for ev := range ch {
		observer.OnStreamTick()
		acc.Feed(ev, func(_ int, text string) { observer.OnTextDelta(text) })
	}
	if perr := acc.Err(); perr != nil {
		return nil, "", perr
	}
	blocks, stopReason := acc.Finish()
	return blocks, stopReason, nil
}

func providerBlocksToMessage(blocks []provider.ContentBlock) []message.ContentBlock {
	out := make([]message.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case provider.BlockText:
			out = append(out, message.Text(b.Text))
		case provider.BlockToolUse:
			out = append(out, message.ToolUse(b.ToolUseID, b.ToolName, b.ToolInput))
		}
	}
	return out
}

func toProviderTools(defs []toolexec.ToolDef) []provider.Tool {
	out := make([]provider.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, provider.Tool{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return out
}

func textOfBlocks(blocks []message.ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Kind == message.BlockText {
			out += b.Text
		}
	}
	return out
}

func toolUseBlocks(blocks []message.ContentBlock) []message.ContentBlock {
	var out []message.ContentBlock
	for _, b := range blocks {
		if b.Kind == message.BlockToolUse {
			out = append(out, b)
		}
	}
	return out
}

func toolNameFor(calls []toolexec.BatchCall, id string) string {
	for _, c := range calls {
		if c.ID == id {
			return c.Name
		}
	}
	return ""
}

func inputFor(calls []toolexec.BatchCall, id string) []byte {
	for _, c := range calls {
		if c.ID == id {
			return c.Input
		}
	}
	return nil
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// watchInterrupt derives a context that is cancelled shortly after
// interrupted flips true, letting toolexec.Sequential observe cancellation
// mid-batch (spec §4.5.1, §5 cancellation). The caller must invoke the
// returned stop func once the batch completes.
func watchInterrupt(parent context.Context, interrupted *atomic.Bool) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if interrupted.Load() {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, func() { close(done) }
}
