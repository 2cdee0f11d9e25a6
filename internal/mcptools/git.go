package mcptools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/corewright/agentcore/internal/toolexec"
)

// GitStatusArgs represents arguments for the GitStatus tool.
type GitStatusArgs struct {
	Long bool `json:"long,omitempty"` // Use long format (default: false, short format)
}

// GitDiffArgs represents arguments for the GitDiff tool.
type GitDiffArgs struct {
	File   string `json:"file,omitempty"`   // Optional: specific file to diff
	Staged bool   `json:"staged,omitempty"` // Diff staged changes instead of unstaged
}

// runGit executes a git command and returns stdout, or an error Output.
func runGit(ctx context.Context, dir string, args ...string) (string, *toolexec.Output) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// git diff returns exit code 1 when there are differences — that's not an error.
		if cmd.ProcessState != nil && cmd.ProcessState.ExitCode() == 1 && stderr.Len() == 0 {
			return stdout.String(), nil
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		out := toolexec.Failure(fmt.Sprintf("git error: %s", msg))
		return "", &out
	}
	return stdout.String(), nil
}

// GitStatusHandler implements the GitStatus tool.
type GitStatusHandler struct{}

func (GitStatusHandler) Name() string        { return "GitStatus" }
func (GitStatusHandler) Description() string {
	return "Show the working tree status. Returns modified, staged, and untracked files."
}

func (GitStatusHandler) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"long": {"type": "boolean", "description": "Use long format output. Default: false (short format)"}
		}
	}`)
}

func (GitStatusHandler) Execute(ctx context.Context, toolUseID string, input json.RawMessage, tc toolexec.ToolContext) toolexec.Output {
	var args GitStatusArgs
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return toolexec.Failure(fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	gitArgs := []string{"status"}
	if !args.Long {
		gitArgs = append(gitArgs, "--short")
	}

	out, errOut := runGit(ctx, tc.WorkingDir, gitArgs...)
	if errOut != nil {
		return *errOut
	}
	if strings.TrimSpace(out) == "" {
		out = "nothing to commit, working tree clean"
	}
	return toolexec.Success(out)
}

// GitDiffHandler implements the GitDiff tool.
type GitDiffHandler struct{}

func (GitDiffHandler) Name() string { return "GitDiff" }

func (GitDiffHandler) Description() string {
	return "Show changes between working tree and index (unstaged), or between index and HEAD (staged). Returns unified diff output."
}

func (GitDiffHandler) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file":   {"type": "string", "description": "Optional: specific file path to diff. If omitted, diffs all changed files."},
			"staged": {"type": "boolean", "description": "If true, show staged (cached) changes. Default: false (unstaged changes)"}
		}
	}`)
}

func (GitDiffHandler) Execute(ctx context.Context, toolUseID string, input json.RawMessage, tc toolexec.ToolContext) toolexec.Output {
	var args GitDiffArgs
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return toolexec.Failure(fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	gitArgs := []string{"diff"}
	if args.Staged {
		gitArgs = append(gitArgs, "--cached")
	}
	if args.File != "" {
		gitArgs = append(gitArgs, "--", args.File)
	}

	out, errOut := runGit(ctx, tc.WorkingDir, gitArgs...)
	if errOut != nil {
		return *errOut
	}
	if strings.TrimSpace(out) == "" {
		label := "unstaged"
		if args.Staged {
			label = "staged"
		}
		out = fmt.Sprintf("no %s changes", label)
	}
	return toolexec.Success(out)
}
