package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corewright/agentcore/internal/filesearch"
	"github.com/corewright/agentcore/internal/toolexec"
)

// GrepArgs represents arguments for the Grep tool.
type GrepArgs struct {
	Pattern       string `json:"pattern"`                  // Pattern to search for (regex)
	ContentSearch bool   `json:"content_search,omitempty"` // Search file contents (default: false, searches filenames)
	MaxResults    int    `json:"max_results,omitempty"`    // Max results to return (default: 100)
	CaseSensitive bool   `json:"case_sensitive,omitempty"` // Case-sensitive matching (default: false)
}

// GrepHandler handles Grep tool calls.
type GrepHandler struct{}

// NewGrepHandler creates a handler for the Grep tool.
func NewGrepHandler() *GrepHandler { return &GrepHandler{} }

func (*GrepHandler) Name() string { return "Grep" }

func (*GrepHandler) Description() string {
	return "Search for files by name (regex) or search file contents (grep). Respects .gitignore. Use content_search=false for finding files, content_search=true for searching content."
}

func (*GrepHandler) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"pattern":        {"type": "string", "description": "Pattern to search for (regex). For filenames: matches against basename or path. For content: matches line contents."},
			"content_search": {"type": "boolean", "description": "If true, search file contents (grep); if false, search filenames (find). Default: false"},
			"max_results":    {"type": "integer", "description": "Maximum number of results to return. Default: 100"},
			"case_sensitive": {"type": "boolean", "description": "Enable case-sensitive matching. Default: false (case-insensitive)"}
		},
		"required": ["pattern"]
	}`)
}

// Execute implements toolexec.Handler.
func (*GrepHandler) Execute(ctx context.Context, toolUseID string, input json.RawMessage, tc toolexec.ToolContext) toolexec.Output {
	var args GrepArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return toolError("Invalid arguments: %v", err)
	}
	if args.Pattern == "" {
		return toolError("Pattern cannot be empty")
	}
	if args.MaxResults <= 0 {
		args.MaxResults = 100
	}

	root := tc.WorkingDir
	if root == "" {
		root = tc.ProjectRoot
	}

	searcher, err := filesearch.NewSearcher(root)
	if err != nil {
		return toolError("Failed to create searcher: %v", err)
	}

	results, err := searcher.Search(ctx, filesearch.Options{
		Pattern:       args.Pattern,
		ContentSearch: args.ContentSearch,
		MaxResults:    args.MaxResults,
		CaseSensitive: args.CaseSensitive,
		RootDir:       root,
	})
	if err != nil {
		return toolError("Search failed: %v", err)
	}

	var output strings.Builder
	if len(results) == 0 {
		output.WriteString("No matches found")
	} else {
		if args.ContentSearch {
			output.WriteString(fmt.Sprintf("Found %d match(es):\n\n", len(results)))
			for _, r := range results {
				output.WriteString(fmt.Sprintf("%s:%d:%s\n", r.Path, r.Line, r.Content))
			}
		} else {
			output.WriteString(fmt.Sprintf("Found %d file(s):\n\n", len(results)))
			for _, r := range results {
				output.WriteString(fmt.Sprintf("%s\n", r.Path))
			}
		}

		if len(results) >= args.MaxResults {
			output.WriteString(fmt.Sprintf("\n(Limited to %d results. Use max_results parameter to see more)", args.MaxResults))
		}
	}

	return toolText(output.String())
}
