// Package runner specializes the agent loop for spawned sub-agents: a
// task-type-derived permission set, iteration/token budgets, and a final
// AgentResult rather than a live conversation (spec §4.7). Grounded on the
// teacher's internal/subagent package, generalized from its single
// fixed-prompt shape into a task-type table and observable budgets.
package runner

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/corewright/agentcore/internal/agentloop"
	"github.com/corewright/agentcore/internal/message"
	"github.com/corewright/agentcore/internal/provider"
	"github.com/corewright/agentcore/internal/toolexec"
)

// Default budgets mirror the teacher's MaxSubAgentIterations/MaxAllowedIterations.
const (
	DefaultMaxIterations = 5
	MaxAllowedIterations = 20
)

// permissionTable maps a task type to its allowed tool names, per spec
// §4.7's "task description + type mapped to a permission set". Grounded
// on the teacher's FilterTools (which only ever strips the SubAgent tool);
// generalized here into a real per-type table since spec.md names
// specific task types.
var permissionTable = map[string][]string{
	"explore":   {"file_read", "glob", "grep"},
	"implement": {"file_read", "file_write", "file_edit", "glob", "grep", "shell"},
	"review":    {"file_read", "glob", "grep"},
}

// PermissionsFor returns the permission set for a task type, or nil (all
// tools allowed) for an unrecognized type.
func PermissionsFor(taskType string) []string {
	return permissionTable[taskType]
}

// Config configures one sub-agent run.
type Config struct {
	TaskDescription string
	TaskType        string
	MaxIterations   int
	TokenBudget     int
	BeadID          *string
	WorkingDir      string
	ProjectRoot     string
	SessionID       string
	SystemPrompt    func(taskType string) string // defaults to BasePrompt(taskType)

	// AllowedTools overrides PermissionsFor(TaskType) when set, for callers
	// (e.g. mcptools.SubAgentHandler) that derive the permission set from
	// the caller's own registered tool names rather than a task type.
	AllowedTools []string
}

// AgentResult is the outcome of one sub-agent run (spec §4.7).
type AgentResult struct {
	Success    bool
	Output     string
	Errors     []string
	Iterations int
	Tokens     int
	FilesRead  []string
	BeadID     *string
}

// budgetObserver wraps an agentloop.Observer, tracking iterations and
// tokens, and recording files read from tool invocations so FilesRead can
// be populated without a separate recall subscription.
type budgetObserver struct {
	agentloop.NoopObserver
	inner         agentloop.Observer
	iterations    int32
	tokenBudget   int
	maxIterations int
	filesRead     []string
	budgetMessage string // set to the violated-budget message once tripped

	conv        *message.Conversation
	interrupted *atomic.Bool
}

// Exceeded-budget messages, byte-exact per spec §4.7.
const (
	msgExceededIterations = "Exceeded maximum iterations"
	msgExceededTokens     = "Exceeded token budget"
)

// OnTurn fires once per agent round regardless of whether that round used a
// tool, so a plain-text completion still counts as one iteration (spec §4.7:
// AgentResult.iterations is the number of rounds the sub-agent took). A
// round that reaches maxIterations and still requests tools trips the
// budget here, before another provider call is made, so a run makes at
// most maxIterations calls.
func (o *budgetObserver) OnTurn() {
	n := atomic.AddInt32(&o.iterations, 1)
	last := o.conv.Messages[len(o.conv.Messages)-1]
	if o.maxIterations > 0 && int(n) >= o.maxIterations && len(last.ToolUseIDs()) > 0 && o.budgetMessage == "" {
		o.budgetMessage = msgExceededIterations
		o.interrupted.Store(true)
	}
	if o.inner != nil {
		o.inner.OnTurn()
	}
}

func (o *budgetObserver) OnToolPhaseStart() {
	if o.inner != nil {
		o.inner.OnToolPhaseStart()
	}
}

func (o *budgetObserver) OnToolInvocation(name string, input []byte) {
	if name == "file_read" {
		if path, ok := extractPath(input); ok {
			o.filesRead = append(o.filesRead, path)
		}
	}
	if o.inner != nil {
		o.inner.OnToolInvocation(name, input)
	}
}

func (o *budgetObserver) OnToolResult(name string, output toolexec.Output) {
	if o.tokenBudget > 0 && o.budgetMessage == "" && o.conv.EstimateTotalTokens() > o.tokenBudget {
		o.budgetMessage = msgExceededTokens
		o.interrupted.Store(true)
	}
	if o.inner != nil {
		o.inner.OnToolResult(name, output)
	}
}

func (o *budgetObserver) OnAgentComplete() {
	if o.inner != nil {
		o.inner.OnAgentComplete()
	}
}

func extractPath(input []byte) (string, bool) {
	const key = `"path"`
	idx := strings.Index(string(input), key)
	if idx < 0 {
		return "", false
	}
	rest := string(input)[idx+len(key):]
	start := strings.Index(rest, `"`)
	if start < 0 {
		return "", false
	}
	rest = rest[start+1:]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// Run executes a sub-agent turn under budget and returns its AgentResult.
// Grounded on the teacher's subagent.Run: build a system+user history,
// drive it through the turn loop, and extract the final assistant text.
func Run(ctx context.Context, p provider.Provider, model string, executor *toolexec.Executor, cfg Config, tc toolexec.ToolContext, observer agentloop.Observer) AgentResult {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	if maxIter > MaxAllowedIterations {
		return AgentResult{Success: false, Errors: []string{fmt.Sprintf("max_iterations too large (max: %d)", MaxAllowedIterations)}, BeadID: cfg.BeadID}
	}

	systemPromptFn := cfg.SystemPrompt
	if systemPromptFn == nil {
		systemPromptFn = BasePrompt
	}
	conv := message.New(systemPromptFn(cfg.TaskType))
	conv.Append(message.NewUserText(cfg.TaskDescription))

	perms := cfg.AllowedTools
	if perms == nil {
		perms = PermissionsFor(cfg.TaskType)
	}

	interrupted := &atomic.Bool{}
	bo := &budgetObserver{inner: observer, tokenBudget: cfg.TokenBudget, maxIterations: maxIter, conv: conv, interrupted: interrupted}

	// RunAgentLoop already owns the full multi-round turn loop (spec §4.5);
	// a sub-agent's iteration/token budget is enforced by tripping the same
	// interrupt flag the loop already polls at each round boundary (spec
	// §9's atomic-boolean cancellation design), rather than adding a
	// second, competing loop here.
	_, err := agentloop.RunAgentLoop(ctx, p, model, conv, executor, budgetedSettings(), nil, false, perms, interrupted, tc, bo)

	var errs []string
	if bo.budgetMessage != "" {
		errs = append(errs, bo.budgetMessage)
	} else if err != nil {
		log.Warn().Err(err).Str("task_type", cfg.TaskType).Msg("sub-agent turn failed")
		errs = append(errs, err.Error())
	}

	tokens := conv.EstimateTotalTokens()
	output := ""
	if len(errs) == 0 {
		output = lastAssistantText(conv)
	}

	return AgentResult{
		Success:    len(errs) == 0,
		Output:     output,
		Errors:     errs,
		Iterations: int(bo.iterations),
		Tokens:     tokens,
		FilesRead:  bo.filesRead,
		BeadID:     cfg.BeadID,
	}
}

func lastAssistantText(conv *message.Conversation) string {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == message.RoleAssistant {
			if t := strings.TrimSpace(conv.Messages[i].Text()); t != "" {
				return t
			}
		}
	}
	return ""
}

func budgetedSettings() agentloop.Settings {
	return agentloop.DefaultSettings()
}

// GenerateSummary implements spec §4.7's summary rule: the first paragraph
// (split on a blank line), trimmed; if that's shorter than the original,
// append "..."; the result is then capped at 200 characters plus "...".
func GenerateSummary(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	paragraph := trimmed
	if idx := strings.Index(trimmed, "\n\n"); idx >= 0 {
		paragraph = trimmed[:idx]
	}
	paragraph = strings.TrimSpace(paragraph)

	summary := paragraph
	if len(paragraph) < len(trimmed) {
		summary = paragraph + "..."
	}

	const maxLen = 200
	if len(summary) > maxLen {
		summary = summary[:maxLen] + "..."
	}
	return summary
}

// Handle is returned by SpawnBackground; callers await Join to obtain the
// AgentResult (spec §4.7: "Callers await the join to obtain the
// AgentResult").
type Handle struct {
	ID   string
	Name string

	done chan AgentResult
}

// Join blocks until the background agent finishes.
func (h *Handle) Join(ctx context.Context) (AgentResult, error) {
	select {
	case res := <-h.done:
		return res, nil
	case <-ctx.Done():
		return AgentResult{}, ctx.Err()
	}
}

// SpawnBackgroundAgent runs Run on a goroutine and returns a Handle whose
// Join delivers the AgentResult once the run completes.
func SpawnBackgroundAgent(ctx context.Context, name string, p provider.Provider, model string, executor *toolexec.Executor, cfg Config, tc toolexec.ToolContext, observer agentloop.Observer) *Handle {
	h := &Handle{ID: uuid.NewString(), Name: name, done: make(chan AgentResult, 1)}
	go func() {
		h.done <- Run(ctx, p, model, executor, cfg, tc, observer)
	}()
	return h
}
