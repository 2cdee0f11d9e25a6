package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corewright/agentcore/internal/agentloop"
	"github.com/corewright/agentcore/internal/provider"
	"github.com/corewright/agentcore/internal/runner"
	"github.com/corewright/agentcore/internal/toolexec"
)

const (
	// MaxSubAgentDepth is the maximum recursion depth for sub-agents.
	// Depth 0 = root agent, depth 1 = sub-agent spawned by root.
	MaxSubAgentDepth = 1

	// MaxSubAgentIterations is the default max tool rounds for sub-agents.
	MaxSubAgentIterations = runner.DefaultMaxIterations

	// MaxAllowedIterations is the upper bound for user-specified max_iterations.
	MaxAllowedIterations = runner.MaxAllowedIterations
)

// SubAgentArgs represents arguments for the SubAgent tool.
type SubAgentArgs struct {
	Prompt        string `json:"prompt"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// SubAgentHandler handles SubAgent tool calls by delegating to internal/runner,
// running a nested turn against the same executor with the SubAgent tool
// itself excluded from the allowed set (so a sub-agent cannot spawn further
// sub-agents).
type SubAgentHandler struct {
	provider provider.Provider
	model    string
	executor *toolexec.Executor
}

// NewSubAgentHandler creates a handler for the SubAgent tool.
func NewSubAgentHandler(prov provider.Provider, model string, executor *toolexec.Executor) *SubAgentHandler {
	if prov == nil {
		panic("SubAgentHandler: provider cannot be nil")
	}
	if executor == nil {
		panic("SubAgentHandler: executor cannot be nil")
	}
	return &SubAgentHandler{provider: prov, model: model, executor: executor}
}

func (*SubAgentHandler) Name() string { return "SubAgent" }

func (*SubAgentHandler) Description() string {
	return `Spawn a sub-agent to handle a focused task. The sub-agent runs with the same tools but cannot spawn further sub-agents. Use this to decompose complex tasks into smaller, manageable pieces. The sub-agent's work is returned as a summary.`
}

func (*SubAgentHandler) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt":         {"type": "string", "description": "Task description for the sub-agent. Be specific about what needs to be accomplished and the expected output format."},
			"max_iterations": {"type": "integer", "description": "Maximum tool rounds for the sub-agent (default: 5)"}
		},
		"required": ["prompt"]
	}`)
}

// Execute implements toolexec.Handler.
func (h *SubAgentHandler) Execute(ctx context.Context, toolUseID string, input json.RawMessage, tc toolexec.ToolContext) toolexec.Output {
	if err := ctx.Err(); err != nil {
		return toolError("Sub-agent cancelled: %v", err)
	}

	var args SubAgentArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return toolError("Invalid arguments: %v", err)
	}
	if args.Prompt == "" {
		return toolError("prompt is required")
	}

	maxIter := MaxSubAgentIterations
	if args.MaxIterations > 0 {
		if args.MaxIterations > MaxAllowedIterations {
			return toolError("max_iterations too large (max: %d)", MaxAllowedIterations)
		}
		maxIter = args.MaxIterations
	}

	allowed := filterSubAgentTool(h.executor.Tools())

	result := runner.Run(ctx, h.provider, h.model, h.executor, runner.Config{
		TaskDescription: args.Prompt,
		MaxIterations:   maxIter,
		WorkingDir:      tc.WorkingDir,
		ProjectRoot:     tc.ProjectRoot,
		SessionID:       tc.SessionID,
		AllowedTools:    allowed,
	}, tc, agentloop.NoopObserver{})

	if !result.Success {
		return toolError("Sub-agent failed: %s", joinErrors(result.Errors))
	}
	if result.Output == "" {
		return toolError("Sub-agent produced no final response")
	}

	text := fmt.Sprintf("Sub-agent completed.\n\n%s\n\n---\nToken usage: %d, iterations: %d",
		result.Output, result.Tokens, result.Iterations)
	return toolText(text)
}

// filterSubAgentTool returns every registered tool name except SubAgent
// itself, so a sub-agent cannot recurse into spawning further sub-agents.
func filterSubAgentTool(tools []toolexec.ToolDef) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if t.Name != "SubAgent" {
			names = append(names, t.Name)
		}
	}
	return names
}

func joinErrors(errs []string) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	out := errs[0]
	for _, e := range errs[1:] {
		out += "; " + e
	}
	return out
}
