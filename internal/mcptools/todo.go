package mcptools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/corewright/agentcore/internal/toolexec"
)

// Scratchpad holds the agent's current plan/notes. It is safe for concurrent
// access. Content returns the stored text; nothing in this module inserts
// it into the LLM context.
type Scratchpad struct {
	mu      sync.RWMutex
	content string
}

// Content returns the current scratchpad text.
func (s *Scratchpad) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content
}

// TodoWriteArgs represents arguments for the TodoWrite tool.
type TodoWriteArgs struct {
	Content string `json:"content"`
}

// TodoWriteHandler stores content in a Scratchpad.
type TodoWriteHandler struct {
	pad *Scratchpad
}

// NewTodoWriteHandler returns a handler writing into pad.
func NewTodoWriteHandler(pad *Scratchpad) *TodoWriteHandler {
	return &TodoWriteHandler{pad: pad}
}

func (TodoWriteHandler) Name() string { return "TodoWrite" }

func (TodoWriteHandler) Description() string {
	return `Write or update your working plan/scratchpad. The content replaces any previous plan; it is stored, not automatically shown back to you. Use this to track goals, progress, and next steps for tasks with 3+ steps. Rewrite it as you complete steps to stay focused. Skip for simple single-step tasks.`
}

func (TodoWriteHandler) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string", "description": "Your current plan, todo list, or working notes. This replaces the previous content entirely."}
		},
		"required": ["content"]
	}`)
}

func (h *TodoWriteHandler) Execute(_ context.Context, toolUseID string, input json.RawMessage, tc toolexec.ToolContext) toolexec.Output {
	var args TodoWriteArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return toolexec.Failure("invalid arguments: " + err.Error())
	}
	if args.Content == "" {
		return toolexec.Failure("content cannot be empty")
	}

	h.pad.mu.Lock()
	h.pad.content = args.Content
	h.pad.mu.Unlock()

	return toolexec.Success("Plan updated.")
}
