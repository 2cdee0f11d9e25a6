package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// basePrompt is the sub-agent's base system prompt, adapted from the
// teacher's SubAgentBasePrompt — a short statement of the runner contract
// rather than the interactive-session prompt the root agent gets.
const basePrompt = `You are a sub-agent spawned to complete one bounded task. You do not have
access to the interactive session; work only from the task description
you were given, and produce a final answer as plain text once done.`

// taskTypePrompts supplements basePrompt with task-type-specific guidance,
// adapted from the teacher's SubAgentPrompt (a single fixed prompt) into a
// per-task-type table matching spec §4.7's "task description + type".
var taskTypePrompts = map[string]string{
	"explore":   "Your task type is exploration: read and search the codebase to answer the question. Do not modify files.",
	"implement": "Your task type is implementation: make the requested code changes using the available file tools.",
	"review":    "Your task type is review: read the relevant files and report findings. Do not modify files.",
}

// BasePrompt composes the sub-agent system prompt for a task type: the
// base contract, the task-type prompt (if known), and any AGENTS.md
// instructions found in the working directory hierarchy, joined the way
// the teacher's subagent.SystemPrompt joins its parts.
func BasePrompt(taskType string) string {
	parts := []string{basePrompt}
	if p, ok := taskTypePrompts[taskType]; ok {
		parts = append(parts, p)
	}
	if instructions := loadAgentInstructions(); instructions != "" {
		parts = append(parts, instructions)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n---\n\n"))
}

// loadAgentInstructions searches AGENTS.md files from the working
// directory up to the filesystem root, adapted from the teacher's
// internal/llm.LoadAgentInstructions (project-level instructions take
// precedence, so they're placed last after reversing the walk order).
func loadAgentInstructions() string {
	var instructions []string

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		path := filepath.Join(dir, "AGENTS.md")
		if content := readFileIfExists(path); content != "" {
			instructions = append(instructions, fmt.Sprintf("Instructions from: %s", path)+"\n"+content)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	for i, j := 0, len(instructions)-1; i < j; i, j = i+1, j-1 {
		instructions[i], instructions[j] = instructions[j], instructions[i]
	}

	return strings.Join(instructions, "\n\n")
}

func readFileIfExists(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
