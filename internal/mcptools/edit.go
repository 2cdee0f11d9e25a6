package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/corewright/agentcore/internal/delta"
	"github.com/corewright/agentcore/internal/hashline"
	"github.com/corewright/agentcore/internal/indexer"
	"github.com/corewright/agentcore/internal/toolexec"
	"github.com/corewright/agentcore/internal/treesitter"
)

// EditArgs represents arguments for the Edit tool.
// Exactly one of the operation fields (Replace, Insert, Delete, Create) must be set.
type EditArgs struct {
	File    string     `json:"file"`
	Replace *ReplaceOp `json:"replace,omitempty"`
	Insert  *InsertOp  `json:"insert,omitempty"`
	Delete  *DeleteOp  `json:"delete,omitempty"`
	Create  *CreateOp  `json:"create,omitempty"`
}

// ReplaceOp replaces lines between start and end (inclusive) with new content.
type ReplaceOp struct {
	Start   hashline.Anchor `json:"start"`   // anchor for first line to replace
	End     hashline.Anchor `json:"end"`     // anchor for last line to replace
	Content string          `json:"content"` // replacement text (may be multiple lines)
}

// InsertOp inserts new lines after the anchored line.
type InsertOp struct {
	After   hashline.Anchor `json:"after"`   // anchor for the line to insert after
	Content string          `json:"content"` // text to insert (may be multiple lines)
}

// DeleteOp deletes lines between start and end (inclusive).
type DeleteOp struct {
	Start hashline.Anchor `json:"start"` // anchor for first line to delete
	End   hashline.Anchor `json:"end"`   // anchor for last line to delete
}

// CreateOp creates a new file with the given content.
type CreateOp struct {
	Content string `json:"content"` // full file content
}

// anchorSchema is the JSON schema fragment for a hashline anchor object.
const anchorSchema = `{"type": "object", "properties": {"line": {"type": "integer", "description": "1-indexed line number"}, "hash": {"type": "string", "description": "2-char hex hash from Read output"}}, "required": ["line", "hash"]}`

// EditHandler handles Edit tool calls.
type EditHandler struct {
	tracker      *FileReadTracker
	tsIndex      *treesitter.Index
	deltaTracker *delta.Tracker
}

// NewEditHandler creates a handler for the Edit tool.
func NewEditHandler(tracker *FileReadTracker, dt *delta.Tracker) *EditHandler {
	return &EditHandler{tracker: tracker, deltaTracker: dt}
}

// SetTSIndex sets the tree-sitter index for incremental updates on edit.
func (h *EditHandler) SetTSIndex(idx *treesitter.Index) { h.tsIndex = idx }

func (*EditHandler) Name() string { return "Edit" }

func (*EditHandler) Description() string {
	return `Edit a file using hash-anchored operations. You MUST Read the file first to get line hashes.
Each line from Read is tagged as "linenum:hash|content". Use the line number and hash as anchors.
Exactly one operation per call: replace, insert, delete, or create.
If a hash does not match, the file changed since you read it — re-Read and retry.
After each edit you receive fresh hashes — use those for subsequent edits, not the old ones.`
}

func (*EditHandler) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"file": {"type": "string", "description": "Path to the file to edit"},
			"replace": {
				"type": "object",
				"description": "Replace lines from start to end (inclusive) with new content",
				"properties": {
					"start":   ` + anchorSchema + `,
					"end":     ` + anchorSchema + `,
					"content": {"type": "string", "description": "Replacement text (may be multiple lines)"}
				},
				"required": ["start", "end", "content"]
			},
			"insert": {
				"type": "object",
				"description": "Insert new lines after the anchored line",
				"properties": {
					"after":   ` + anchorSchema + `,
					"content": {"type": "string", "description": "Text to insert (may be multiple lines)"}
				},
				"required": ["after", "content"]
			},
			"delete": {
				"type": "object",
				"description": "Delete lines from start to end (inclusive)",
				"properties": {
					"start": ` + anchorSchema + `,
					"end":   ` + anchorSchema + `
				},
				"required": ["start", "end"]
			},
			"create": {
				"type": "object",
				"description": "Create a new file (fails if file already exists)",
				"properties": {
					"content": {"type": "string", "description": "Full file content"}
				},
				"required": ["content"]
			}
		},
		"required": ["file"]
	}`)
}

// Execute implements toolexec.Handler.
func (h *EditHandler) Execute(ctx context.Context, toolUseID string, input json.RawMessage, tc toolexec.ToolContext) toolexec.Output {
	var args EditArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return toolError("Invalid arguments: %v", err)
	}
	if args.File == "" {
		return toolError("File path cannot be empty")
	}
	if err := validateEditOps(args); err != nil {
		return toolError("%v", err)
	}

	absPath, err := validatePath(args.File)
	if err != nil {
		return toolError("%v", err)
	}

	if args.Create != nil {
		return h.handleCreate(absPath, args.File, args.Create, tc)
	}

	if !h.tracker.WasRead(absPath) {
		return toolError("You must Read the file before editing it. Use Read on %s first — you need the line hashes.", args.File)
	}

	return h.applyEdit(absPath, args, tc)
}

// validateEditOps ensures exactly one operation is specified.
func validateEditOps(args EditArgs) error {
	ops := 0
	if args.Replace != nil {
		ops++
	}
	if args.Insert != nil {
		ops++
	}
	if args.Delete != nil {
		ops++
	}
	if args.Create != nil {
		ops++
	}
	if ops != 1 {
		return fmt.Errorf("exactly one operation (replace, insert, delete, or create) must be specified")
	}
	return nil
}

// applyEdit reads the file, applies the edit operation, writes it back, and returns fresh hashes.
func (h *EditHandler) applyEdit(absPath string, args EditArgs, tc toolexec.ToolContext) toolexec.Output {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return toolError("Failed to read file: %v", err)
	}
	lines := strings.Split(string(content), "\n")

	var result string
	switch {
	case args.Replace != nil:
		result, err = applyReplace(lines, args.Replace)
	case args.Insert != nil:
		result, err = applyInsert(lines, args.Insert)
	case args.Delete != nil:
		result, err = applyDelete(lines, args.Delete)
	}
	if err != nil {
		return toolError("%v", err)
	}

	if h.deltaTracker != nil {
		h.deltaTracker.RecordModify(absPath, content)
	}

	if err := os.WriteFile(absPath, []byte(result), 0600); err != nil {
		return toolError("Failed to write file: %v", err)
	}

	tagged := hashline.TagLines(result, 1)
	text := fmt.Sprintf("Edited %s (%d lines):\n\n%s", args.File, len(tagged), hashline.FormatTagged(tagged))

	if h.tsIndex != nil {
		h.tsIndex.UpdateFile(absPath)
	}
	if tc.RecallSender != nil {
		tc.RecallSender.Send(indexer.FileEditEvent(absPath))
	}

	return toolText(text)
}

func (h *EditHandler) handleCreate(absPath, displayPath string, op *CreateOp, tc toolexec.ToolContext) toolexec.Output {
	// Fail if file already exists
	if _, err := os.Stat(absPath); err == nil {
		return toolError("File already exists: %s (use replace/insert/delete to modify)", displayPath)
	}

	// Create parent directories
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return toolError("Failed to create directories: %v", err)
	}

	if h.deltaTracker != nil {
		h.deltaTracker.RecordCreate(absPath)
	}

	if err := os.WriteFile(absPath, []byte(op.Content), 0600); err != nil {
		return toolError("Failed to create file: %v", err)
	}

	tagged := hashline.TagLines(op.Content, 1)
	taggedOutput := hashline.FormatTagged(tagged)

	text := fmt.Sprintf("Created %s (%d lines):\n\n%s", displayPath, len(tagged), taggedOutput)

	if h.tsIndex != nil {
		h.tsIndex.UpdateFile(absPath)
	}
	if tc.RecallSender != nil {
		tc.RecallSender.Send(indexer.FileWriteEvent(absPath))
	}

	return toolText(text)
}

func applyReplace(lines []string, op *ReplaceOp) (string, error) {
	if err := hashline.ValidateRange(op.Start, op.End, lines); err != nil {
		return "", fmt.Errorf("replace: %w", err)
	}

	newLines := make([]string, 0, len(lines))
	newLines = append(newLines, lines[:op.Start.Num-1]...)
	newLines = append(newLines, strings.Split(op.Content, "\n")...)
	newLines = append(newLines, lines[op.End.Num:]...)

	return strings.Join(newLines, "\n"), nil
}

func applyInsert(lines []string, op *InsertOp) (string, error) {
	if err := op.After.Validate(lines); err != nil {
		return "", fmt.Errorf("insert: after anchor: %w", err)
	}

	newLines := make([]string, 0, len(lines)+1)
	newLines = append(newLines, lines[:op.After.Num]...)
	newLines = append(newLines, strings.Split(op.Content, "\n")...)
	newLines = append(newLines, lines[op.After.Num:]...)

	return strings.Join(newLines, "\n"), nil
}

func applyDelete(lines []string, op *DeleteOp) (string, error) {
	if err := hashline.ValidateRange(op.Start, op.End, lines); err != nil {
		return "", fmt.Errorf("delete: %w", err)
	}

	newLines := make([]string, 0, len(lines))
	newLines = append(newLines, lines[:op.Start.Num-1]...)
	newLines = append(newLines, lines[op.End.Num:]...)

	return strings.Join(newLines, "\n"), nil
}
