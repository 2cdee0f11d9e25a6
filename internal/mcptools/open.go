package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/corewright/agentcore/internal/hashline"
	"github.com/corewright/agentcore/internal/indexer"
	"github.com/corewright/agentcore/internal/toolexec"
	"github.com/corewright/agentcore/internal/treesitter"
)

// ReadArgs represents arguments for the Read tool.
type ReadArgs struct {
	File  string `json:"file"`
	Start int    `json:"start,omitempty"` // Optional: start line (1-indexed)
	End   int    `json:"end,omitempty"`   // Optional: end line (1-indexed)
}

// ReadHandler handles Read tool calls.
type ReadHandler struct {
	tracker *FileReadTracker
	tsIndex *treesitter.Index
}

// NewReadHandler creates a handler for the Read tool.
func NewReadHandler(tracker *FileReadTracker) *ReadHandler {
	return &ReadHandler{tracker: tracker}
}

// SetTSIndex sets the tree-sitter index for incremental updates on read.
func (h *ReadHandler) SetTSIndex(idx *treesitter.Index) { h.tsIndex = idx }

func (*ReadHandler) Name() string { return "Read" }

func (*ReadHandler) Description() string {
	return `Reads a file and returns hashline-tagged content. Each line is returned as "linenum:hash|content". You MUST Read a file before editing it with Edit. Use start/end for line ranges.`
}

func (*ReadHandler) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file":  {"type": "string", "description": "Path to the file to read"},
			"start": {"type": "integer", "description": "Optional: starting line number (1-indexed, inclusive)"},
			"end":   {"type": "integer", "description": "Optional: ending line number (1-indexed, inclusive)"}
		},
		"required": ["file"]
	}`)
}

// Execute implements toolexec.Handler.
func (h *ReadHandler) Execute(_ context.Context, toolUseID string, input json.RawMessage, tc toolexec.ToolContext) toolexec.Output {
	var args ReadArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return toolError("Invalid arguments: %v", err)
	}
	if args.File == "" {
		return toolError("File path cannot be empty")
	}

	absPath, err := validatePath(args.File)
	if err != nil {
		return toolError("%v", err)
	}

	content, err := os.ReadFile(absPath)
	if err != nil {
		return toolError("Failed to read file: %v", err)
	}

	h.tracker.MarkRead(absPath)
	if h.tsIndex != nil {
		go h.tsIndex.UpdateFile(absPath)
	}
	if tc.RecallSender != nil {
		tc.RecallSender.Send(indexer.FileReadEvent(absPath))
	}

	lines := strings.Split(string(content), "\n")
	selectedContent, startLine, err := extractRange(lines, string(content), args.Start, args.End)
	if err != nil {
		return toolError("%v", err)
	}

	tagged := hashline.TagLines(selectedContent, startLine)
	taggedOutput := hashline.FormatTagged(tagged)

	rangeInfo := ""
	if args.Start > 0 || args.End > 0 {
		end := args.End
		if end <= 0 || end > len(lines) {
			end = len(lines)
		}
		rangeInfo = fmt.Sprintf(" (lines %d-%d)", startLine, end)
	}

	return toolText(fmt.Sprintf("Read %s%s (%d lines):\n\n%s", args.File, rangeInfo, len(tagged), taggedOutput))
}

// extractRange returns the selected content and start line number for a line range.
func extractRange(lines []string, full string, start, end int) (string, int, error) {
	if start <= 0 && end <= 0 {
		return full, 1, nil
	}
	if start <= 0 {
		start = 1
	}
	if start < 1 || start > len(lines) {
		return "", 0, fmt.Errorf("start line %d out of range (file has %d lines)", start, len(lines))
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", 0, fmt.Errorf("invalid range: start (%d) > end (%d)", start, end)
	}
	return strings.Join(lines[start-1:end], "\n"), start, nil
}
